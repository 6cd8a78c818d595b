package localcache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryInterval is how often a blocked lock acquisition attempt is
// retried while waiting for a context to be canceled. Grounded on
// adrien-f-tf-data-client's cache/locker.go, which uses the same 100ms
// polling interval with gofrs/flock's context-aware TryLock variants.
const lockRetryInterval = 100 * time.Millisecond

// fileLock is the cross-process advisory lock guarding one cache root,
// taken in shared mode for lookups and exclusive mode for insert and
// maintenance (spec invariant: lock order is never pool-mutex-then-file-lock,
// only the reverse or file-lock-alone).
//
// A fresh *flock.Flock is created per acquisition rather than reused across
// goroutines, matching adrien-f-tf-data-client's cache/locker.go: a Flock
// value is cheap (it just remembers a path until Lock/RLock opens an fd) and
// is not meant to be shared across concurrent lock attempts.
type fileLock struct {
	path string
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path}
}

// lockShared blocks (subject to ctx) until a shared lock is held, and
// returns a function that releases it.
func (l *fileLock) lockShared(ctx context.Context) (unlock func() error, err error) {
	fl := flock.New(l.path)
	ok, err := fl.TryRLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("localcache: acquire shared lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("localcache: acquire shared lock: %w", ctx.Err())
	}
	return fl.Unlock, nil
}

// lockExclusive blocks (subject to ctx) until an exclusive lock is held,
// and returns a function that releases it.
func (l *fileLock) lockExclusive(ctx context.Context) (unlock func() error, err error) {
	fl := flock.New(l.path)
	ok, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("localcache: acquire exclusive lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("localcache: acquire exclusive lock: %w", ctx.Err())
	}
	return fl.Unlock, nil
}
