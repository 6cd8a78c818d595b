package localcache

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Stats summarizes the current state of a local cache.
type Stats struct {
	EntryCount int
	TotalBytes int64
}

// Stats walks the cache tree and reports its size. It takes a shared lock
// for the duration of the walk, so a concurrent Add or PerformMaintenance
// blocks until Stats finishes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	unlock, err := s.lock.lockShared(ctx)
	if err != nil {
		return Stats{}, err
	}
	defer unlock() //nolint:errcheck

	entries, err := s.listEntries()
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, e := range entries {
		st.EntryCount++
		st.TotalBytes += e.size
	}
	return st, nil
}

// Clear removes every entry from the cache. The lock file and staging
// directory themselves are recreated, not removed, so concurrent holders of
// a *Store remain valid afterward.
func (s *Store) Clear(ctx context.Context) error {
	unlock, err := s.lock.lockExclusive(ctx)
	if err != nil {
		return err
	}
	defer unlock() //nolint:errcheck

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("localcache: read cache dir: %w", err)
	}
	for _, de := range dirEntries {
		if de.Name() == lockFileName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, de.Name())); err != nil {
			return fmt.Errorf("localcache: remove %s: %w", de.Name(), err)
		}
	}
	return os.MkdirAll(filepath.Join(s.dir, stagingDirName), defaultDirPerm)
}

type entryDirInfo struct {
	path    string
	modTime int64
	size    int64
}

// listEntries walks the shard tree and returns one entryDirInfo per cache
// entry directory (identified by containing an entry.bin file), with its
// total on-disk size and last-access time. Callers must hold at least a
// shared lock.
func (s *Store) listEntries() ([]entryDirInfo, error) {
	var out []entryDirInfo
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == s.dir {
			return nil
		}
		if d.Name() == stagingDirName {
			return fs.SkipDir
		}
		entryPath := filepath.Join(path, entryFileName)
		info, statErr := os.Stat(entryPath)
		if statErr != nil {
			return nil // not an entry directory; keep walking into it for nested shards
		}
		var size int64
		walkErr := filepath.WalkDir(path, func(_ string, fd fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if fd.IsDir() {
				return nil
			}
			fi, err := fd.Info()
			if err != nil {
				return err
			}
			size += fi.Size()
			return nil
		})
		if walkErr != nil {
			return walkErr
		}
		out = append(out, entryDirInfo{path: path, modTime: info.ModTime().UnixNano(), size: size})
		return fs.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("localcache: walk cache dir: %w", err)
	}
	return out, nil
}

// PerformMaintenance does nothing while the cache's total size is at or
// below budgetBytes. Once it is above, it evicts the least-recently-used
// entries until the total is at or below a low-water mark of 90% of
// budgetBytes. Eviction proceeds oldest first by entry directory mtime,
// bumped on every Lookup hit. A budgetBytes
// of 0 or less disables maintenance entirely: the caller must opt in to a
// real budget.
func (s *Store) PerformMaintenance(ctx context.Context, budgetBytes int64) error {
	if budgetBytes <= 0 {
		return nil
	}

	unlock, err := s.lock.lockExclusive(ctx)
	if err != nil {
		return err
	}
	defer unlock() //nolint:errcheck

	entries, err := s.listEntries()
	if err != nil {
		return err
	}

	var total int64
	for _, e := range entries {
		total += e.size
	}
	if total <= budgetBytes {
		return nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime < entries[j].modTime })

	lowWater := budgetBytes * 9 / 10
	for _, e := range entries {
		if total <= lowWater {
			break
		}
		if err := os.RemoveAll(e.path); err != nil {
			return fmt.Errorf("localcache: evict %s: %w", e.path, err)
		}
		total -= e.size
	}
	return nil
}
