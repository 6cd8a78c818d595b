// Package genericstrategy implements the one concrete Strategy this module
// ships: a tool-agnostic strategy good enough to exercise the wrapper
// framework end-to-end without depending on a real compiler.
// Compiler-specific argument parsers are out of scope; a production
// deployment supplies its own Strategy per compiler family (GCC-like,
// MSVC-like, GHS, script-hosted).
package genericstrategy

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/buildcache-go/buildcache/wrapper"
)

// Strategy hashes argv minus its output-path and include-path flags (see
// RelevantArguments) and the raw contents of any source files it finds on
// the command line, and declares one required output file derived from an
// -o/--output flag.
type Strategy struct {
	wrapper.DefaultStrategy

	// SourceExtensions lists file extensions (with the leading dot) that
	// count as translation inputs to be read and hashed by
	// PreprocessSource. Defaults to a conservative C-family list if unset.
	SourceExtensions []string
}

var _ wrapper.Strategy = Strategy{}

func (s Strategy) sourceExtensions() []string {
	if len(s.SourceExtensions) > 0 {
		return s.SourceExtensions
	}
	return []string{".c", ".cc", ".cpp", ".cxx", ".h", ".hpp"}
}

// Capabilities honors hard links and target-directory creation; it has no
// direct-mode support since it doesn't know how to short-circuit a build
// system's expectations about side effects beyond the declared output.
func (Strategy) Capabilities() wrapper.CapabilitySet {
	return wrapper.NewCapabilitySet(wrapper.CapabilityHardLinks, wrapper.CapabilityCreateTargetDirs)
}

// PreprocessSource concatenates the contents of every argument that looks
// like a source file, which is a conservative stand-in for "preprocess"
// appropriate for any tool, not just a C-family compiler: it doesn't
// resolve #include, but it does capture the only inputs this strategy
// knows how to find.
func (s Strategy) PreprocessSource(ctx context.Context, argv []string) ([]byte, error) {
	_ = wrapper.AccuracyFromContext(ctx) // no preprocessor of its own to vary by accuracy level
	var buf bytes.Buffer
	for _, arg := range argv {
		if !s.looksLikeSourceFile(arg) {
			continue
		}
		data, err := os.ReadFile(arg) //nolint:gosec // arg comes from the wrapped invocation's own argv
		if err != nil {
			return nil, fmt.Errorf("genericstrategy: read source file %q: %w", arg, err)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func (s Strategy) looksLikeSourceFile(arg string) bool {
	if strings.HasPrefix(arg, "-") {
		return false
	}
	for _, ext := range s.sourceExtensions() {
		if strings.HasSuffix(arg, ext) {
			return true
		}
	}
	return false
}

// RelevantArguments drops the output-path flag and include-path flags,
// since neither affects the bytes of the output: -o/--output only names
// where the result is written, and an -I search path only changes where
// headers are found on disk, not what ends up in the preprocessed source
// this strategy already hashes directly.
func (s Strategy) RelevantArguments(argv []string) []string {
	out := make([]string, 0, len(argv))
	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "-o" || arg == "--output":
			i++ // skip its value too
			continue
		case arg == "-I":
			i++ // skip its value too
			continue
		case strings.HasPrefix(arg, "-I") && len(arg) > 2:
			continue
		}
		out = append(out, arg)
	}
	return out
}

// BuildFiles scans argv for -o/--output and declares its value as the one
// required output file.
func (Strategy) BuildFiles(argv []string) ([]wrapper.ExpectedFile, error) {
	for i, arg := range argv {
		if (arg == "-o" || arg == "--output") && i+1 < len(argv) {
			return []wrapper.ExpectedFile{{FileID: "output", Path: argv[i+1], Required: true}}, nil
		}
		if strings.HasPrefix(arg, "-o") && len(arg) > 2 {
			return []wrapper.ExpectedFile{{FileID: "output", Path: arg[2:], Required: true}}, nil
		}
	}
	return nil, nil
}
