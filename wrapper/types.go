// Package wrapper implements the program-wrapper framework: an abstract
// Strategy describing how to fingerprint and replay one family of compiler
// invocations, and a Pipeline that drives the nine-step lookup/run/insert
// algorithm around it.
package wrapper

import (
	"context"

	"github.com/buildcache-go/buildcache/cachefacade"
)

// ExpectedFile is an alias of cachefacade.ExpectedFile: the facade owns the
// type since both Facade.Lookup and Facade.Insert operate on it directly,
// but callers implementing a Strategy interact with it through this
// package.
type ExpectedFile = cachefacade.ExpectedFile

// RunResult is the outcome of actually executing a wrapped command.
type RunResult struct {
	Stdout     []byte
	Stderr     []byte
	ReturnCode int32
}

// Capability names one optional behavior a Strategy opts into.
type Capability string

const (
	CapabilityHardLinks        Capability = "hard_links"
	CapabilityCreateTargetDirs Capability = "create_target_dirs"
	CapabilityDirectMode       Capability = "direct_mode"
)

// CapabilitySet is the subset of capabilities a Strategy honors.
type CapabilitySet map[Capability]bool

// Has reports whether c is present in the set.
func (s CapabilitySet) Has(c Capability) bool {
	return s[c]
}

// NewCapabilitySet builds a CapabilitySet from a list of capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = true
	}
	return s
}

// Strategy describes how to fingerprint and replay one family of
// invocations (a compiler, a linker, a code generator). Every hook has a
// defaulted fallback in DefaultStrategy; concrete strategies embed it and
// override only what differs.
type Strategy interface {
	// ResolveArgs expands response files and normalizes argv in place,
	// idempotently.
	ResolveArgs(ctx context.Context, argv []string) ([]string, error)

	// Capabilities returns the capability tags this strategy honors.
	Capabilities() CapabilitySet

	// PreprocessSource produces the canonical, path-independent
	// representation of every translation input.
	PreprocessSource(ctx context.Context, argv []string) ([]byte, error)

	// RelevantArguments returns the filtered flag list that can affect
	// output given a fixed preprocessed input.
	RelevantArguments(argv []string) []string

	// RelevantEnv returns the environment variables known to influence
	// this tool's output.
	RelevantEnv(environ []string) map[string]string

	// ProgramID returns a string that changes when the tool's observable
	// behavior changes.
	ProgramID(ctx context.Context, program string) (string, error)

	// BuildFiles returns the declared expected output files.
	BuildFiles(argv []string) ([]ExpectedFile, error)

	// RunForMiss executes the real command, capturing its outcome.
	RunForMiss(ctx context.Context, argv []string) (RunResult, error)
}
