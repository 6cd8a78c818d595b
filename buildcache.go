// Package buildcache wires the hash, localcache, remotecache, cachefacade,
// workerpool, and wrapper packages into the single entrypoint a CLI (or an
// embedding build daemon) drives: construct a Wrapper from a Config, then
// call Run once per compiler invocation.
package buildcache

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/buildcache-go/buildcache/cachefacade"
	"github.com/buildcache-go/buildcache/entry"
	"github.com/buildcache-go/buildcache/hash"
	"github.com/buildcache-go/buildcache/localcache"
	"github.com/buildcache-go/buildcache/remotecache"
	"github.com/buildcache-go/buildcache/remotecache/redisprovider"
	"github.com/buildcache-go/buildcache/workerpool"
	"github.com/buildcache-go/buildcache/wrapper"
)

// Hash and Entry are re-exported for callers that only need the data
// model, not the full cache machinery (e.g. an external tool inspecting a
// cache directory).
type Hash = hash.Hash
type Entry = entry.Entry

// Config holds everything needed to construct a Wrapper. Environment
// variable parsing into a Config happens in cmd/buildcache, not here: this
// package takes already-validated values so it's usable without a CLI.
type Config struct {
	Dir               string
	RemoteURL         string // empty disables the remote cache
	Namespace         string
	MaxSizeBytes      int64 // 0 disables maintenance
	AllowHardLinks    bool
	CompressArtifacts bool
	TerminateOnMiss   bool
	Accuracy          wrapper.Accuracy
	Logger            hclog.Logger
}

func (c Config) logger() hclog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return hclog.NewNullLogger()
}

// maintenanceSampleBytes scales how much must be inserted before
// maintenance is guaranteed to run: roughly 1% of the budget, so a cache
// with a larger budget tolerates proportionally larger bursts of inserts
// between maintenance passes.
func maintenanceSampleBytes(budgetBytes int64) int64 {
	sample := budgetBytes / 100
	if sample < 1<<20 {
		sample = 1 << 20
	}
	return sample
}

func (c Config) namespace() remotecache.Namespace {
	if c.Namespace == "" {
		return remotecache.Namespace("buildcache")
	}
	return remotecache.Namespace(c.Namespace)
}

// Wrapper is a fully constructed cache: a local store, an optional remote
// provider, and the facade/pool glue the wrapper.Pipeline needs.
type Wrapper struct {
	cfg    Config
	local  *localcache.Store
	remote *redisprovider.Provider // nil if no remote is configured
	pool   *workerpool.Pool
	facade *cachefacade.Facade
}

// New constructs a Wrapper from cfg. If cfg.RemoteURL is set, it connects
// to the remote backend; a failed connection is logged and treated as "no
// remote for this process" rather than a construction error. Remote
// failures never fail the overall invocation.
func New(cfg Config) (*Wrapper, error) {
	local, err := localcache.New(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("buildcache: open local cache: %w", err)
	}

	pool := workerpool.Default()
	logger := cfg.logger()
	facadeOpts := []cachefacade.Option{cachefacade.WithLogger(logger)}
	if cfg.MaxSizeBytes > 0 {
		facadeOpts = append(facadeOpts, cachefacade.WithMaintenanceBudget(cfg.MaxSizeBytes, maintenanceSampleBytes(cfg.MaxSizeBytes)))
	}

	var remote *redisprovider.Provider
	if cfg.RemoteURL != "" {
		remote, err = redisprovider.New(cfg.RemoteURL, cfg.namespace())
		if err != nil {
			logger.Warn("failed to construct remote cache provider, continuing local-only", "error", err)
			remote = nil
		} else if err := remote.Connect(context.Background()); err != nil {
			logger.Warn("remote cache unreachable, continuing local-only", "error", err)
			remote = nil
		} else {
			facadeOpts = append(facadeOpts,
				cachefacade.WithRemote(remote),
				cachefacade.WithRemoteErrorHandler(func(op string, remoteErr error) {
					logger.Debug("remote cache error", "error", &wrapper.RemoteError{Op: op, Err: remoteErr})
				}),
			)
		}
	}

	facade := cachefacade.New(local, pool, facadeOpts...)
	return &Wrapper{cfg: cfg, local: local, remote: remote, pool: pool, facade: facade}, nil
}

// Run executes one invocation through the wrapper pipeline built from
// strategy and this Wrapper's configuration.
func (w *Wrapper) Run(ctx context.Context, strategy wrapper.Strategy, argv []string) int {
	p := wrapper.New(strategy, w.facade, wrapper.Config{
		AllowHardLinks:    w.cfg.AllowHardLinks,
		CompressArtifacts: w.cfg.CompressArtifacts,
		TerminateOnMiss:   w.cfg.TerminateOnMiss,
		Accuracy:          w.cfg.Accuracy,
	})
	p.Logger = w.cfg.logger()
	return p.Run(ctx, argv)
}

// Stats reports the local cache's current size and entry count, plus the
// process-local hit/miss counts accumulated by this Wrapper's facade.
type Stats struct {
	localcache.Stats
	cachefacade.Counters
}

// Stats reports the local cache's current size, entry count, and this
// process's hit/miss counts so far.
func (w *Wrapper) Stats(ctx context.Context) (Stats, error) {
	local, err := w.local.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Stats: local, Counters: w.facade.Counters()}, nil
}

// Clear removes every entry from the local cache.
func (w *Wrapper) Clear(ctx context.Context) error {
	return w.local.Clear(ctx)
}

// PerformMaintenance evicts local entries until the cache fits within
// cfg.MaxSizeBytes. It is a no-op if MaxSizeBytes is 0.
func (w *Wrapper) PerformMaintenance(ctx context.Context) error {
	return w.local.PerformMaintenance(ctx, w.cfg.MaxSizeBytes)
}

// RemoteConfigured reports whether a remote cache provider is active.
func (w *Wrapper) RemoteConfigured() bool {
	return w.remote != nil
}

// Close drains any in-flight background remote pushes and releases the
// local store and remote provider's resources.
func (w *Wrapper) Close() error {
	_ = w.pool.Wait() //nolint:errcheck // fire-and-forget pushes already log their own failures
	w.local.Close()
	if w.remote != nil {
		return w.remote.Close()
	}
	return nil
}
