// Package cachefacade combines the local and remote caches into the single
// lookup/insert surface the program-wrapper pipeline drives. It owns replay
// (materializing cached artifacts into their target paths) and the
// local-first, remote-second lookup order.
package cachefacade

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/buildcache-go/buildcache/entry"
	"github.com/buildcache-go/buildcache/hash"
	"github.com/buildcache-go/buildcache/localcache"
	"github.com/buildcache-go/buildcache/remotecache"
	"github.com/buildcache-go/buildcache/workerpool"

	"github.com/hashicorp/go-hclog"
)

// defaultMaintenanceSampleBytes is the insert volume at which maintenance
// is triggered with certainty; smaller inserts trigger it proportionally
// less often. See WithMaintenanceBudget.
const defaultMaintenanceSampleBytes = 64 << 20 // 64MiB

// ExpectedFile names one artifact a compiler invocation may produce.
// wrapper.ExpectedFile is an alias of this type: the wrapper pipeline is
// the layer callers interact with, but the shape is owned here since both
// Facade.Lookup and Facade.Insert operate on it directly.
type ExpectedFile struct {
	FileID   string
	Path     string
	Required bool
}

// Result is the outcome of a cache lookup.
type Result struct {
	Hit        bool
	Stdout     []byte
	Stderr     []byte
	ReturnCode int32
}

// Facade combines a local cache store with an optional remote provider.
type Facade struct {
	local  *localcache.Store
	remote remotecache.Provider // nil if no remote is configured
	logger hclog.Logger
	pool   *workerpool.Pool
	dedup  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64

	maintenanceBudgetBytes int64
	maintenanceSampleBytes int64

	// onRemoteError, if set, is called with every remote-tier failure in
	// addition to the facade's own logging: it lets a caller above this
	// package (which knows about remote-failure classification) attach its
	// own error kind without this package needing to know what that kind
	// is.
	onRemoteError func(op string, err error)
}

// Counters is a snapshot of a Facade's process-local hit/miss counts.
type Counters struct {
	Hits   int64
	Misses int64
}

// Counters reports the number of Lookup calls that resolved as a hit
// (local or remote) versus a miss, since this Facade was constructed.
func (f *Facade) Counters() Counters {
	return Counters{Hits: f.hits.Load(), Misses: f.misses.Load()}
}

// Option configures a Facade.
type Option func(*Facade)

// WithRemote attaches a remote provider. Without this option the facade
// operates local-only.
func WithRemote(p remotecache.Provider) Option {
	return func(f *Facade) { f.remote = p }
}

// WithLogger overrides the default discard logger.
func WithLogger(l hclog.Logger) Option {
	return func(f *Facade) { f.logger = l }
}

// WithRemoteErrorHandler registers fn to be called whenever a remote
// lookup, download, or push fails. The facade itself always degrades a
// remote failure to local-only and never returns it to the caller; fn is
// how a caller above this package can still classify and surface that
// failure (for example as a typed error kind) without this package
// depending on that caller's types.
func WithRemoteErrorHandler(fn func(op string, err error)) Option {
	return func(f *Facade) { f.onRemoteError = fn }
}

// WithMaintenanceBudget enables opportunistic eviction: after an Insert,
// the local store's PerformMaintenance is run with probability
// min(1, insertedBytes/sampleBytes), evicting once the cache exceeds
// budgetBytes (down to the store's low-water mark below it). A
// budgetBytes of 0 leaves maintenance disabled, matching localcache.Store's
// own "0 disables maintenance" contract.
func WithMaintenanceBudget(budgetBytes, sampleBytes int64) Option {
	return func(f *Facade) {
		f.maintenanceBudgetBytes = budgetBytes
		f.maintenanceSampleBytes = sampleBytes
	}
}

// New builds a Facade over local, using pool to run asynchronous remote
// pushes.
func New(local *localcache.Store, pool *workerpool.Pool, opts ...Option) *Facade {
	f := &Facade{
		local:                  local,
		pool:                   pool,
		logger:                 hclog.NewNullLogger(),
		maintenanceSampleBytes: defaultMaintenanceSampleBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Lookup tries the local cache first, then the remote cache on a local
// miss, with remote hits backfilled into the local store.
// createTargetDirs controls whether materialized files' parent directories
// are created as needed.
func (f *Facade) Lookup(ctx context.Context, h hash.Hash, expected []ExpectedFile, allowHardLinks, createTargetDirs bool) (Result, error) {
	v, err, _ := f.dedup.Do(h.String(), func() (any, error) {
		return f.lookupUncached(ctx, h, expected, allowHardLinks, createTargetDirs)
	})
	if err != nil {
		return Result{}, err
	}
	result := v.(Result) //nolint:forcetypeassert // Do always returns what lookupUncached produced
	if result.Hit {
		f.hits.Add(1)
	} else {
		f.misses.Add(1)
	}
	return result, nil
}

func (f *Facade) lookupUncached(ctx context.Context, h hash.Hash, expected []ExpectedFile, allowHardLinks, createTargetDirs bool) (Result, error) {
	e, hit, err := f.local.Lookup(ctx, h)
	if err != nil {
		return Result{}, fmt.Errorf("cachefacade: local lookup: %w", err)
	}
	if hit {
		if corrupt := f.replayLocal(ctx, h, *e, expected, allowHardLinks, createTargetDirs); corrupt {
			f.logger.Warn("local entry missing a required file, evicting and treating as miss", "hash", h.String())
			if err := f.local.Evict(ctx, h); err != nil {
				f.logger.Info("failed to evict corrupt entry", "hash", h.String(), "error", err)
			}
			return f.lookupRemote(ctx, h, expected, createTargetDirs)
		}
		return Result{Hit: true, Stdout: e.Stdout, Stderr: e.Stderr, ReturnCode: e.ReturnCode}, nil
	}
	return f.lookupRemote(ctx, h, expected, createTargetDirs)
}

// replayLocal materializes expected files from a local hit. It returns true
// if a required file was missing from the entry, meaning the caller should
// treat this as corrupt and fall through to remote/miss.
func (f *Facade) replayLocal(ctx context.Context, h hash.Hash, e entry.Entry, expected []ExpectedFile, allowHardLinks, createTargetDirs bool) (corrupt bool) {
	for _, ef := range expected {
		if !e.HasFile(ef.FileID) {
			if ef.Required {
				return true
			}
			os.Remove(ef.Path) //nolint:errcheck // best-effort: ensure no stale file lingers
			continue
		}
		compressed := e.Compression == entry.CompressionAll
		if err := f.local.GetFile(ctx, h, ef.FileID, ef.Path, compressed, allowHardLinks, createTargetDirs); err != nil {
			f.logger.Warn("replay of cached file failed, falling back to a rebuild", "file_id", ef.FileID, "error", err)
			return true
		}
	}
	return false
}

func (f *Facade) reportRemoteError(op string, err error) {
	f.logger.Info("remote operation failed, continuing local-only", "op", op, "error", err)
	if f.onRemoteError != nil {
		f.onRemoteError(op, err)
	}
}

func (f *Facade) lookupRemote(ctx context.Context, h hash.Hash, expected []ExpectedFile, createTargetDirs bool) (Result, error) {
	if f.remote == nil {
		return Result{}, nil
	}
	e, hit, err := f.remote.Lookup(ctx, h)
	if err != nil {
		f.reportRemoteError("lookup", err)
		return Result{}, nil
	}
	if !hit {
		return Result{}, nil
	}

	localFiles := make(map[string]localcache.StagedFile, len(expected))
	for _, ef := range expected {
		if !e.HasFile(ef.FileID) {
			if ef.Required {
				f.logger.Warn("remote entry missing a required file, treating as miss", "hash", h.String())
				return Result{}, nil
			}
			continue
		}
		if err := f.remote.GetFile(ctx, h, ef.FileID, ef.Path, e.Compression == entry.CompressionAll); err != nil {
			f.reportRemoteError("get_file", err)
			return Result{}, nil
		}
		localFiles[ef.FileID] = localcache.StagedFile{SourcePath: ef.Path, Compress: e.Compression == entry.CompressionAll}
	}

	// Backfill the local store so subsequent invocations on this host hit
	// locally instead of going back to the remote tier.
	if err := f.local.Add(ctx, h, *e, localFiles); err != nil {
		f.logger.Info("failed to backfill local cache from remote hit", "error", err)
	}

	return Result{Hit: true, Stdout: e.Stdout, Stderr: e.Stderr, ReturnCode: e.ReturnCode}, nil
}

// Insert records a successful run's outputs. It writes the local store
// synchronously and, if a remote provider is configured, pushes to remote
// asynchronously via the facade's worker pool: failures are logged, never
// surfaced.
func (f *Facade) Insert(ctx context.Context, h hash.Hash, e entry.Entry, files map[string]ExpectedFile) error {
	if e.ReturnCode != 0 {
		return fmt.Errorf("cachefacade: refusing to insert an entry for a non-zero return code %d", e.ReturnCode)
	}

	localFiles := make(map[string]localcache.StagedFile, len(files))
	for id, ef := range files {
		localFiles[id] = localcache.StagedFile{SourcePath: ef.Path, Compress: e.Compression == entry.CompressionAll}
	}
	if err := f.local.Add(ctx, h, e, localFiles); err != nil {
		return fmt.Errorf("cachefacade: local insert: %w", err)
	}
	f.maybePerformMaintenance(ctx, insertedBytes(files))

	if f.remote == nil {
		return nil
	}
	remotePaths := make(map[string]string, len(files))
	for id, ef := range files {
		remotePaths[id] = ef.Path
	}
	f.pool.Go(func() error {
		pushCtx := context.Background()
		if err := f.remote.Add(pushCtx, h, e, remotePaths); err != nil {
			f.reportRemoteError("add", fmt.Errorf("hash %s: %w", h, err))
		}
		return nil
	})
	return nil
}

// insertedBytes sums the on-disk size of every file about to be inserted,
// used to scale the probability of triggering maintenance.
func insertedBytes(files map[string]ExpectedFile) int64 {
	var total int64
	for _, ef := range files {
		if info, err := os.Stat(ef.Path); err == nil {
			total += info.Size()
		}
	}
	return total
}

// maybePerformMaintenance runs local eviction with probability proportional
// to how much was just inserted, rather than on every single Insert: a
// budget check on every call would mean every insert pays a full shard-tree
// walk, while gating it on a coin flip spreads that cost out.
func (f *Facade) maybePerformMaintenance(ctx context.Context, justInserted int64) {
	if f.maintenanceBudgetBytes <= 0 || f.maintenanceSampleBytes <= 0 {
		return
	}
	probability := float64(justInserted) / float64(f.maintenanceSampleBytes)
	if probability < 1 && rand.Float64() >= probability { //nolint:gosec // sampling decision, not security-sensitive
		return
	}
	if err := f.local.PerformMaintenance(ctx, f.maintenanceBudgetBytes); err != nil {
		f.logger.Info("opportunistic maintenance failed", "error", err)
	}
}
