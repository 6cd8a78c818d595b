package workerpool

import (
	"io"
)

// IOWorker serializes deferred io.Closer.Close calls off the caller's hot
// path, onto a single background goroutine. localcache.Store enqueues
// closes for staged files it's done writing and moves on immediately,
// rather than paying Close's flush/fsync latency inline.
type IOWorker struct {
	jobs chan io.Closer
	done chan struct{}
}

// NewIOWorker starts an IOWorker with the given queue depth. A depth of 0
// means every DeferClose blocks until the background goroutine catches up.
func NewIOWorker(queueDepth int) *IOWorker {
	w := &IOWorker{
		jobs: make(chan io.Closer, queueDepth),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *IOWorker) run() {
	defer close(w.done)
	for c := range w.jobs {
		if c == nil {
			continue
		}
		_ = c.Close() //nolint:errcheck // close errors from deferred work are unobservable by design
	}
}

// DeferClose enqueues c to be closed by the background goroutine. If w is
// nil, DeferClose closes c synchronously instead, so callers can use a nil
// *IOWorker as a "no background worker configured" default without a
// separate nil check at every call site.
func (w *IOWorker) DeferClose(c io.Closer) {
	if w == nil {
		if c != nil {
			_ = c.Close() //nolint:errcheck
		}
		return
	}
	w.jobs <- c
}

// Close stops accepting new work and blocks until every already-enqueued
// Close call has completed.
func (w *IOWorker) Close() error {
	close(w.jobs)
	<-w.done
	return nil
}
