package wrapper

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/buildcache-go/buildcache/cachefacade"
	"github.com/buildcache-go/buildcache/entry"
	"github.com/buildcache-go/buildcache/hash"
	"github.com/buildcache-go/buildcache/osutil"
)

// ExitInternalError is returned by Pipeline.Run when a Strategy hook
// panics or when RunForMiss (including the direct run after a fallback)
// fails without yielding an exit status; nothing is cached in those cases.
// cmd/buildcache also exits with it when its own configuration or cache
// setup fails. A wrapped command may itself exit with 2, so the value alone
// does not tell the two apart.
const ExitInternalError = 2

// Config holds the invocation-independent settings a Pipeline needs:
// whether the deployment allows hard links and compression, and whether
// misses should terminate immediately instead of running the real command
// (used by build systems that want to precompute cache hits without
// actually compiling).
type Config struct {
	AllowHardLinks    bool
	CompressArtifacts bool
	TerminateOnMiss   bool
	Accuracy          Accuracy
}

// Pipeline drives the lookup/run/insert algorithm around one Strategy and
// one cachefacade.Facade.
type Pipeline struct {
	Strategy Strategy
	Facade   *cachefacade.Facade
	Config   Config
	Logger   hclog.Logger

	// FileTracker is suspended around every RunForMiss call so a platform
	// build that hooks filesystem-event tracking doesn't record the
	// wrapped command's own writes as something the wrapper itself did.
	// Defaults to osutil.NoopFileTracker{}.
	FileTracker osutil.FileTracker
}

// New builds a Pipeline. A nil Logger defaults to a discard logger.
func New(strategy Strategy, facade *cachefacade.Facade, cfg Config) *Pipeline {
	return &Pipeline{
		Strategy:    strategy,
		Facade:      facade,
		Config:      cfg,
		Logger:      hclog.NewNullLogger(),
		FileTracker: osutil.NoopFileTracker{},
	}
}

// Run executes the nine-step lookup/run/insert algorithm and returns the
// exit code the caller's process should use. Any FallbackError or
// HashError from a hook demotes the whole invocation to "run argv
// directly, don't cache." A panic from any hook (an internal programming
// error, not a fallback condition) is recovered and reported as
// ExitInternalError without ever touching the cache.
func (p *Pipeline) Run(ctx context.Context, argv []string) (exitCode int) {
	defer func() {
		if r := recover(); r != nil {
			p.Logger.Error("internal error in wrapper pipeline, not caching this invocation", "panic", r)
			exitCode = ExitInternalError
		}
	}()

	if p.Logger == nil {
		p.Logger = hclog.NewNullLogger()
	}
	if p.FileTracker == nil {
		p.FileTracker = osutil.NoopFileTracker{}
	}
	perf := osutil.StartPerfCounters()
	defer func() { p.Logger.Debug("invocation complete", "wall_time", perf.WallTime()) }()

	ctx = WithAccuracy(ctx, p.Config.Accuracy)

	resolved, err := p.Strategy.ResolveArgs(ctx, argv)
	if err != nil {
		return p.fallback(ctx, argv, fmt.Errorf("resolve_args: %w", err))
	}

	caps := p.Strategy.Capabilities()

	h, err := p.computeHash(ctx, resolved)
	if err != nil {
		return p.fallback(ctx, resolved, err)
	}

	expected, err := p.Strategy.BuildFiles(resolved)
	if err != nil {
		return p.fallback(ctx, resolved, fmt.Errorf("get_build_files: %w", err))
	}

	allowHardLinks := p.Config.AllowHardLinks && caps.Has(CapabilityHardLinks)
	createTargetDirs := caps.Has(CapabilityCreateTargetDirs)

	result, err := p.Facade.Lookup(ctx, h, expected, allowHardLinks, createTargetDirs)
	if err != nil {
		// A cache I/O failure demotes this lookup to a miss rather than
		// falling all the way back to an uncached run: the cache being
		// unreadable doesn't mean it's also unwritable, so a run+insert
		// is still worth attempting.
		cacheErr := &CacheIOError{Op: "lookup", Err: err}
		p.Logger.Info("cache lookup failed, treating as a miss", "error", cacheErr)
	} else if result.Hit {
		os.Stdout.Write(result.Stdout) //nolint:errcheck // best-effort relay of captured output
		os.Stderr.Write(result.Stderr) //nolint:errcheck
		return int(result.ReturnCode)
	}

	if p.Config.TerminateOnMiss {
		for _, ef := range expected {
			fmt.Fprintln(os.Stdout, ef.Path) //nolint:errcheck
		}
		return 0
	}

	runResult, err := p.runForMissTracked(ctx, resolved)
	if err != nil {
		// Unlike every other hook above, RunForMiss may have already
		// spawned the wrapped command before failing (a non-exec.ExitError
		// failure after partial execution in a custom Strategy). Routing
		// this into fallback would invoke RunForMiss a second time with
		// the same argv, risking a double run of the real compiler; relay
		// an internal error instead.
		p.Logger.Error("run_for_miss failed, not retrying to avoid a duplicate invocation", "error", err)
		return ExitInternalError
	}

	os.Stdout.Write(runResult.Stdout) //nolint:errcheck
	os.Stderr.Write(runResult.Stderr) //nolint:errcheck

	if runResult.ReturnCode == 0 {
		p.insert(ctx, h, runResult, expected)
	}
	return int(runResult.ReturnCode)
}

// runForMissTracked suspends the file tracker for the duration of the
// wrapped command, so a platform build's filesystem-event tracking
// attributes the command's own writes to the command, not to the wrapper
// process running it.
func (p *Pipeline) runForMissTracked(ctx context.Context, argv []string) (RunResult, error) {
	resume, err := p.FileTracker.Suspend()
	if err != nil {
		p.Logger.Warn("failed to suspend file tracker, proceeding without suspension", "error", err)
	} else {
		defer resume()
	}
	return p.Strategy.RunForMiss(ctx, argv)
}

func (p *Pipeline) computeHash(ctx context.Context, argv []string) (hash.Hash, error) {
	source, err := p.Strategy.PreprocessSource(ctx, argv)
	if err != nil {
		return hash.Hash{}, &HashError{Err: fmt.Errorf("preprocess_source: %w", err)}
	}

	program := ""
	if len(argv) > 0 {
		program = argv[0]
	}
	programID, err := p.Strategy.ProgramID(ctx, program)
	if err != nil {
		return hash.Hash{}, &HashError{Err: fmt.Errorf("get_program_id: %w", err)}
	}

	h := hash.New()
	h.Write(source) //nolint:errcheck // hash.Hasher.Write never fails
	for _, arg := range p.Strategy.RelevantArguments(argv) {
		h.WriteString(arg)
		h.Write([]byte{0}) //nolint:errcheck
	}
	h.WriteMap(p.Strategy.RelevantEnv(os.Environ()))
	h.WriteString(programID)
	return h.Final(), nil
}

func (p *Pipeline) insert(ctx context.Context, h hash.Hash, result RunResult, expected []ExpectedFile) {
	compression := entry.CompressionNone
	if p.Config.CompressArtifacts {
		compression = entry.CompressionAll
	}
	e := entry.Entry{
		Compression: compression,
		Stdout:      result.Stdout,
		Stderr:      result.Stderr,
		ReturnCode:  result.ReturnCode,
	}
	files := make(map[string]ExpectedFile, len(expected))
	for _, ef := range expected {
		if _, err := os.Stat(ef.Path); err != nil {
			if ef.Required {
				p.Logger.Warn("required output missing after a successful run, skipping cache insert", "file_id", ef.FileID, "path", ef.Path)
				return
			}
			continue
		}
		e.FileIDs = append(e.FileIDs, ef.FileID)
		files[ef.FileID] = ef
	}
	if err := p.Facade.Insert(ctx, h, e, files); err != nil {
		p.Logger.Info("cache insert failed", "error", err)
	}
}

// fallback logs why the pipeline is bypassing the cache entirely and runs
// argv directly: any exception from any hook falls through to running the
// command directly, never caching.
func (p *Pipeline) fallback(ctx context.Context, argv []string, cause error) int {
	p.Logger.Info("falling back to a direct run, not caching", "reason", cause, "argv", strings.Join(argv, " "))
	result, err := p.runForMissTracked(ctx, argv)
	if err != nil {
		p.Logger.Error("direct run also failed", "error", err)
		return ExitInternalError
	}
	os.Stdout.Write(result.Stdout) //nolint:errcheck
	os.Stderr.Write(result.Stderr) //nolint:errcheck
	return int(result.ReturnCode)
}
