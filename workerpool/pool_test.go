package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRunsFireAndForgetWork(t *testing.T) {
	p := New(2)
	var n atomic.Int32
	done := make(chan struct{})
	p.Go(func() error {
		n.Add(1)
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Go()'d function never ran")
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if n.Load() != 1 {
		t.Fatalf("n = %d, want 1", n.Load())
	}
}

func TestGoRespectsLimit(t *testing.T) {
	p := New(1)
	var running atomic.Int32
	var maxObserved atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 3; i++ {
		p.Go(func() error {
			cur := running.Add(1)
			for {
				if m := maxObserved.Load(); cur > m {
					if maxObserved.CompareAndSwap(m, cur) {
						break
					}
					continue
				}
				break
			}
			<-release
			running.Add(-1)
			return nil
		})
	}
	close(release)
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if maxObserved.Load() > 1 {
		t.Fatalf("observed %d concurrent goroutines, want <= 1", maxObserved.Load())
	}
}

func TestRunReturnsFirstError(t *testing.T) {
	p := New(4)
	wantErr := errors.New("boom")
	err := p.Run(context.Background(),
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return wantErr },
	)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want %v", err, wantErr)
	}
}

func TestDefaultPoolSizeIsAtLeastFour(t *testing.T) {
	p := Default()
	if p.limit < 4 {
		t.Fatalf("Default() limit = %d, want >= 4", p.limit)
	}
}
