// Package localcache implements a directory-sharded, content-addressed,
// process-safe local cache store: an entry directory per fingerprint,
// atomic rename-based insertion, advisory cross-process locking, and
// size-budgeted LRU-style eviction.
//
// The on-disk layout uses a two-level hex-prefix shard tree, a staging
// directory created outside that tree and renamed into place, and
// "stat first, discard and return nil on a lost race" as the at-most-one
// insertion semantics for concurrent inserts of the same fingerprint.
package localcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/buildcache-go/buildcache/compress"
	"github.com/buildcache-go/buildcache/entry"
	"github.com/buildcache-go/buildcache/hash"
	"github.com/buildcache-go/buildcache/workerpool"
)

// stagingIOQueueDepth bounds how many staged-file closes can be queued on
// the background worker before Add starts blocking on it again.
const stagingIOQueueDepth = 32

const (
	defaultShardLevelLen = 2
	defaultDirPerm       = 0o700
	defaultFilePerm      = 0o600
	entryFileName        = "entry.bin"
	lockFileName         = "buildcache.lock"
	stagingDirName       = ".staging"
)

// Store is a directory-sharded, content-addressed local cache rooted at a
// single directory. A Store value is safe for concurrent use by multiple
// goroutines and multiple processes.
type Store struct {
	dir           string
	shardLevelLen int
	lock          *fileLock
	codecs        *compress.Pool

	// closer serializes staged-file Close calls onto a background
	// goroutine, so Add doesn't pay each file's flush latency inline on
	// the caller's hot path.
	closer *workerpool.IOWorker
}

// Option configures a Store.
type Option func(*Store)

// WithShardLevelLen sets the number of hex characters used for each of the
// two shard levels. Use 0 to disable sharding entirely. Defaults to 2,
// producing a tree shaped like "aa/bb/<rest-of-hash>".
func WithShardLevelLen(n int) Option {
	return func(s *Store) { s.shardLevelLen = n }
}

// New creates (if necessary) and opens a local cache store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("localcache: dir is empty")
	}
	s := &Store{
		dir:           dir,
		shardLevelLen: defaultShardLevelLen,
		codecs:        compress.NewPool(),
		closer:        workerpool.NewIOWorker(stagingIOQueueDepth),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardLevelLen < 0 {
		return nil, errors.New("localcache: shard level length must be >= 0")
	}
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return nil, fmt.Errorf("localcache: create cache dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, stagingDirName), defaultDirPerm); err != nil {
		return nil, fmt.Errorf("localcache: create staging dir: %w", err)
	}
	s.lock = newFileLock(filepath.Join(dir, lockFileName))
	return s, nil
}

// Close drains any pending staged-file closes and releases the Store's
// pooled resources. It does not touch the on-disk cache.
func (s *Store) Close() {
	s.closer.Close() //nolint:errcheck // IOWorker.Close never returns a non-nil error
	s.codecs.Close()
}

// entryDir returns the two-level sharded directory for h, e.g.
// "<dir>/aa/bb/<remaining-hex>" for a shardLevelLen of 2. Each level peels
// off the next shardLevelLen hex characters, and the leaf is whatever's
// left, so two hashes sharing a first-level shard still spread across the
// second level rather than colliding into one directory.
func (s *Store) entryDir(h hash.Hash) string {
	hex := h.String()
	if s.shardLevelLen <= 0 || 2*s.shardLevelLen > len(hex) {
		return filepath.Join(s.dir, hex)
	}
	level1 := hex[:s.shardLevelLen]
	level2 := hex[s.shardLevelLen : 2*s.shardLevelLen]
	rest := hex[2*s.shardLevelLen:]
	return filepath.Join(s.dir, level1, level2, rest)
}

// Lookup looks up the entry for h. It returns (nil, false, nil) on a clean
// miss, and bumps the entry's last-access time on a hit.
func (s *Store) Lookup(ctx context.Context, h hash.Hash) (*entry.Entry, bool, error) {
	unlock, err := s.lock.lockShared(ctx)
	if err != nil {
		return nil, false, err
	}
	defer unlock() //nolint:errcheck // advisory lock; release failure isn't actionable

	dir := s.entryDir(h)
	data, err := os.ReadFile(filepath.Join(dir, entryFileName)) //nolint:gosec // path derived from hash, not user input
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("localcache: read entry: %w", err)
	}

	e, err := entry.Decode(data)
	if err != nil {
		// An unrecognized version or corrupt descriptor is a miss, not a
		// crash.
		return nil, false, nil //nolint:nilerr // decode failure is always treated as a cache miss
	}

	touch(dir)
	return &e, true, nil
}

// Evict removes the entry for h, if any. It is a no-op if h is not present.
func (s *Store) Evict(ctx context.Context, h hash.Hash) error {
	unlock, err := s.lock.lockExclusive(ctx)
	if err != nil {
		return err
	}
	defer unlock() //nolint:errcheck

	if err := os.RemoveAll(s.entryDir(h)); err != nil {
		return fmt.Errorf("localcache: evict %s: %w", h, err)
	}
	return nil
}

// touch bumps an entry directory's mtime for LRU purposes. Failure is not
// propagated: losing a touch only makes eviction slightly less accurate,
// never incorrect.
func touch(dir string) {
	now := timeNow()
	_ = os.Chtimes(dir, now, now) //nolint:errcheck // best-effort LRU bookkeeping
}

// GetFile materializes the stored file identified by fileID within the
// entry for h into targetPath, decompressing on the fly if compressed is
// true. If createDirs is true, targetPath's parent directories are created
// as needed.
func (s *Store) GetFile(ctx context.Context, h hash.Hash, fileID, targetPath string, compressed, allowHardLink, createDirs bool) error {
	if fileID == "" {
		return ErrEmptyFileID
	}
	unlock, err := s.lock.lockShared(ctx)
	if err != nil {
		return err
	}
	defer unlock() //nolint:errcheck

	srcPath := filepath.Join(s.entryDir(h), fileID)
	if createDirs {
		if err := os.MkdirAll(filepath.Dir(targetPath), defaultDirPerm); err != nil {
			return fmt.Errorf("localcache: create target dir: %w", err)
		}
	}

	if !compressed && allowHardLink && sameDevice(srcPath, filepath.Dir(targetPath)) {
		if err := os.Link(srcPath, targetPath); err == nil {
			return nil
		}
		// Any failure (cross-device, existing target, unsupported fs)
		// falls back to a copy.
	}

	return s.copyOrDecompress(srcPath, targetPath, compressed)
}

func (s *Store) copyOrDecompress(srcPath, targetPath string, compressed bool) error {
	src, err := os.Open(srcPath) //nolint:gosec // path derived from hash+file id, not user input
	if err != nil {
		return fmt.Errorf("localcache: open stored file: %w", err)
	}
	defer src.Close() //nolint:errcheck

	tmp, err := os.CreateTemp(filepath.Dir(targetPath), ".buildcache-replay-*")
	if err != nil {
		return fmt.Errorf("localcache: create replay temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // no-op once renamed into place

	if compressed {
		codec, release, err := s.codecs.Get()
		if err != nil {
			tmp.Close() //nolint:errcheck
			return fmt.Errorf("localcache: acquire codec: %w", err)
		}
		defer release()
		if err := codec.DecompressStream(tmp, src, maxReplaySize); err != nil {
			tmp.Close() //nolint:errcheck
			return fmt.Errorf("localcache: decompress replay: %w", err)
		}
	} else if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("localcache: copy replay: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("localcache: close replay temp file: %w", err)
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		return fmt.Errorf("localcache: finalize replay: %w", err)
	}
	return nil
}

// maxReplaySize bounds decompression during replay against a corrupted
// entry claiming an implausibly large original size.
const maxReplaySize = 4 << 30 // 4GiB
