package localcache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/buildcache-go/buildcache/entry"
	"github.com/buildcache-go/buildcache/hash"
)

// timeNow supplies the time touch writes as an entry's last-access mtime.
var timeNow = time.Now

// StagedFile describes one file to be added alongside an entry. SourcePath
// names a file that already exists on disk (typically a compiler output);
// Compress requests that it be stored zstd-compressed.
type StagedFile struct {
	SourcePath string
	Compress   bool
}

// Add inserts a new entry atomically: every file is staged in a temporary
// directory outside the shard tree, then the whole staged directory is
// renamed into place in one step. If another process wins the race and
// inserts the same hash first, the staged directory is discarded and Add
// returns nil: at-most-one-insert-wins, never an error. An entry with a
// non-zero ReturnCode is refused with an error.
func (s *Store) Add(ctx context.Context, h hash.Hash, e entry.Entry, files map[string]StagedFile) error {
	if e.ReturnCode != 0 {
		return fmt.Errorf("localcache: add: refusing an entry with non-zero return code %d", e.ReturnCode)
	}
	for _, fileID := range e.FileIDs {
		if _, ok := files[fileID]; !ok {
			return fmt.Errorf("localcache: add: missing staged file for id %q", fileID)
		}
	}

	stagingRoot := filepath.Join(s.dir, stagingDirName)
	stageDir, err := os.MkdirTemp(stagingRoot, h.String()+"-*")
	if err != nil {
		return fmt.Errorf("localcache: create staging dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(stageDir) //nolint:errcheck
		}
	}()

	for fileID, sf := range files {
		if err := s.stageFile(stageDir, fileID, sf); err != nil {
			return err
		}
	}
	if err := os.WriteFile(filepath.Join(stageDir, entryFileName), entry.Encode(e), defaultFilePerm); err != nil {
		return fmt.Errorf("localcache: write staged entry: %w", err)
	}

	finalDir := s.entryDir(h)
	unlock, err := s.lock.lockExclusive(ctx)
	if err != nil {
		return err
	}
	defer unlock() //nolint:errcheck

	if _, err := os.Stat(finalDir); err == nil {
		// Another process already inserted this hash; ours is redundant.
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(finalDir), defaultDirPerm); err != nil {
		return fmt.Errorf("localcache: create shard dir: %w", err)
	}
	if err := os.Rename(stageDir, finalDir); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("localcache: commit entry: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) stageFile(stageDir, fileID string, sf StagedFile) error {
	src, err := os.Open(sf.SourcePath) //nolint:gosec // source is a compiler-produced artifact path, not user input
	if err != nil {
		return fmt.Errorf("localcache: open %s for staging: %w", sf.SourcePath, err)
	}
	defer src.Close() //nolint:errcheck

	dstPath := filepath.Join(stageDir, fileID)
	dst, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, defaultFilePerm)
	if err != nil {
		return fmt.Errorf("localcache: create staged file %s: %w", fileID, err)
	}
	// dst's Close is deferred onto the store's background IO worker: every
	// byte has already reached the OS via Write/CompressStream by the time
	// we get here, so closing the fd off the hot path doesn't risk the
	// rename that follows seeing a short write.
	defer s.closer.DeferClose(dst)

	if sf.Compress {
		codec, release, err := s.codecs.Get()
		if err != nil {
			return fmt.Errorf("localcache: acquire codec: %w", err)
		}
		defer release()
		if err := codec.CompressStream(dst, src); err != nil {
			return fmt.Errorf("localcache: compress staged file %s: %w", fileID, err)
		}
		return nil
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("localcache: copy staged file %s: %w", fileID, err)
	}
	return nil
}
