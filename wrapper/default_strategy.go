package wrapper

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/buildcache-go/buildcache/osutil"
)

// DefaultStrategy implements every Strategy hook with a sensible default.
// Concrete strategies embed it and override only the hooks that differ for
// their tool family; Go's embedding stands in for a virtual-method base
// class.
type DefaultStrategy struct {
	// Prefix is prepended to argv when RunForMiss spawns the real command,
	// letting a deployment route execution through e.g. a sandboxing
	// launcher without every concrete strategy reimplementing RunForMiss.
	Prefix []string

	// ClearEnv names environment variables to clear for the duration of
	// RunForMiss only; the prior values (or absence) are restored once the
	// spawned command exits, win or lose.
	ClearEnv []string
}

var _ Strategy = DefaultStrategy{}

// ResolveArgs is a no-op: argv is returned unchanged.
func (DefaultStrategy) ResolveArgs(_ context.Context, argv []string) ([]string, error) {
	return argv, nil
}

// Capabilities returns the empty set.
func (DefaultStrategy) Capabilities() CapabilitySet {
	return CapabilitySet{}
}

// PreprocessSource returns an empty preprocessed representation.
func (DefaultStrategy) PreprocessSource(_ context.Context, _ []string) ([]byte, error) {
	return nil, nil
}

// RelevantArguments returns the full, unfiltered argv.
func (DefaultStrategy) RelevantArguments(argv []string) []string {
	return argv
}

// RelevantEnv returns the empty map.
func (DefaultStrategy) RelevantEnv(_ []string) map[string]string {
	return map[string]string{}
}

// ProgramID hashes the executable file named by program. A deployment
// with access to `program --version` output should override this with
// something stable across patch releases.
func (DefaultStrategy) ProgramID(_ context.Context, program string) (string, error) {
	path, err := exec.LookPath(program)
	if err != nil {
		return "", fmt.Errorf("wrapper: locate program %q: %w", program, err)
	}
	f, err := os.Open(path) //nolint:gosec // path resolved via exec.LookPath, not user-controlled text
	if err != nil {
		return "", fmt.Errorf("wrapper: open program %q: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("wrapper: hash program %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BuildFiles returns no expected files.
func (DefaultStrategy) BuildFiles(_ []string) ([]ExpectedFile, error) {
	return nil, nil
}

// RunForMiss spawns argv (prefixed by Prefix, if set) and captures its
// outcome.
func (d DefaultStrategy) RunForMiss(ctx context.Context, argv []string) (RunResult, error) {
	if len(argv) == 0 {
		return RunResult{}, fmt.Errorf("wrapper: RunForMiss: empty argv")
	}

	if len(d.ClearEnv) > 0 {
		env := osutil.NewEnv()
		for _, key := range d.ClearEnv {
			env.Unset(key)
		}
		defer env.Pop()
	}

	full := append(append([]string{}, d.Prefix...), argv...)
	cmd := exec.CommandContext(ctx, full[0], full[1:]...) //nolint:gosec // full is the invocation's own argv, not attacker-controlled input

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		result.ReturnCode = 0
	case asExitError(runErr, &exitErr):
		result.ReturnCode = int32(exitErr.ExitCode())
	default:
		return result, fmt.Errorf("wrapper: spawn %q: %w", full[0], runErr)
	}
	return result, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError) //nolint:errorlint // exec.Command errors are concrete, not wrapped chains
	if !ok {
		return false
	}
	*target = ee
	return true
}
