package localcache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/buildcache-go/buildcache/entry"
)

func addEntryWithSize(t *testing.T, s *Store, seed string, size int) {
	t.Helper()
	srcDir := t.TempDir()
	objPath := writeTempFile(t, srcDir, "o.o", string(make([]byte, size)))
	h := testHash(t, seed)
	e := entry.Entry{FileIDs: []string{"o.o"}}
	if err := s.Add(context.Background(), h, e, map[string]StagedFile{"o.o": {SourcePath: objPath}}); err != nil {
		t.Fatalf("Add(%q) error = %v", seed, err)
	}
}

func TestPerformMaintenanceEvictsLeastRecentlyUsedFirst(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	const entrySize = 1000
	addEntryWithSize(t, s, "oldest", entrySize)
	addEntryWithSize(t, s, "middle", entrySize)
	addEntryWithSize(t, s, "newest", entrySize)

	// Force a strict mtime ordering: newer inserts otherwise race within
	// the filesystem's mtime resolution.
	setEntryMTime(t, s, "oldest", time.Now().Add(-3*time.Hour))
	setEntryMTime(t, s, "middle", time.Now().Add(-2*time.Hour))
	setEntryMTime(t, s, "newest", time.Now().Add(-1*time.Hour))

	// Budget for roughly one and a half entries worth of content.
	if err := s.PerformMaintenance(context.Background(), entrySize+entrySize/2); err != nil {
		t.Fatalf("PerformMaintenance() error = %v", err)
	}

	_, oldestHit, _ := s.Lookup(context.Background(), testHash(t, "oldest"))
	_, middleHit, _ := s.Lookup(context.Background(), testHash(t, "middle"))
	_, newestHit, _ := s.Lookup(context.Background(), testHash(t, "newest"))

	if oldestHit {
		t.Error("oldest entry survived maintenance, want evicted")
	}
	if !newestHit {
		t.Error("newest entry evicted, want survived")
	}
	_ = middleHit
}

func TestPerformMaintenanceNoopUnderBudget(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	addEntryWithSize(t, s, "small", 10)

	if err := s.PerformMaintenance(context.Background(), 1<<30); err != nil {
		t.Fatalf("PerformMaintenance() error = %v", err)
	}
	_, hit, err := s.Lookup(context.Background(), testHash(t, "small"))
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !hit {
		t.Fatal("entry evicted despite being under budget")
	}
}

func TestPerformMaintenanceZeroBudgetDisabled(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	addEntryWithSize(t, s, "untouched", 10)

	if err := s.PerformMaintenance(context.Background(), 0); err != nil {
		t.Fatalf("PerformMaintenance() error = %v", err)
	}
	_, hit, _ := s.Lookup(context.Background(), testHash(t, "untouched"))
	if !hit {
		t.Fatal("entry evicted despite budgetBytes <= 0 meaning disabled")
	}
}

func setEntryMTime(t *testing.T, s *Store, seed string, mtime time.Time) {
	t.Helper()
	dir := s.entryDir(testHash(t, seed))
	if err := os.Chtimes(dir, mtime, mtime); err != nil {
		t.Fatalf("Chtimes(%s): %v", dir, err)
	}
}
