package genericstrategy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPreprocessSourceConcatenatesSourceFiles(t *testing.T) {
	dir := t.TempDir()
	src1 := filepath.Join(dir, "a.c")
	src2 := filepath.Join(dir, "b.c")
	if err := os.WriteFile(src1, []byte("int a;"), 0o600); err != nil {
		t.Fatalf("write a.c: %v", err)
	}
	if err := os.WriteFile(src2, []byte("int b;"), 0o600); err != nil {
		t.Fatalf("write b.c: %v", err)
	}

	s := Strategy{}
	got, err := s.PreprocessSource(context.Background(), []string{"cc", "-c", src1, src2, "-Wall"})
	if err != nil {
		t.Fatalf("PreprocessSource() error = %v", err)
	}
	if string(got) != "int a;int b;" {
		t.Fatalf("PreprocessSource() = %q, want %q", got, "int a;int b;")
	}
}

func TestBuildFilesFindsDashOFlag(t *testing.T) {
	s := Strategy{}
	files, err := s.BuildFiles([]string{"cc", "-c", "foo.c", "-o", "foo.o"})
	if err != nil {
		t.Fatalf("BuildFiles() error = %v", err)
	}
	if len(files) != 1 || files[0].Path != "foo.o" || !files[0].Required {
		t.Fatalf("BuildFiles() = %+v, want one required file at foo.o", files)
	}
}

func TestBuildFilesFindsJoinedDashOFlag(t *testing.T) {
	s := Strategy{}
	files, err := s.BuildFiles([]string{"cc", "-c", "foo.c", "-ofoo.o"})
	if err != nil {
		t.Fatalf("BuildFiles() error = %v", err)
	}
	if len(files) != 1 || files[0].Path != "foo.o" {
		t.Fatalf("BuildFiles() = %+v, want one file at foo.o", files)
	}
}

func TestBuildFilesNoOutputFlag(t *testing.T) {
	s := Strategy{}
	files, err := s.BuildFiles([]string{"cc", "-c", "foo.c"})
	if err != nil {
		t.Fatalf("BuildFiles() error = %v", err)
	}
	if files != nil {
		t.Fatalf("BuildFiles() = %+v, want nil", files)
	}
}

func TestRelevantArgumentsDropsOutputFlag(t *testing.T) {
	s := Strategy{}
	got := s.RelevantArguments([]string{"cc", "-c", "foo.c", "-o", "foo.o", "-Wall"})
	want := []string{"cc", "-c", "foo.c", "-Wall"}
	if len(got) != len(want) {
		t.Fatalf("RelevantArguments() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RelevantArguments() = %v, want %v", got, want)
		}
	}
}

func TestRelevantArgumentsDropsIncludePathFlags(t *testing.T) {
	s := Strategy{}
	got := s.RelevantArguments([]string{"cc", "-I", "/abs/a", "-c", "foo.c", "-o", "foo.o"})
	want := []string{"cc", "-c", "foo.c"}
	if len(got) != len(want) {
		t.Fatalf("RelevantArguments() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RelevantArguments() = %v, want %v", got, want)
		}
	}
}

func TestRelevantArgumentsDropsJoinedIncludePathFlag(t *testing.T) {
	s := Strategy{}
	got := s.RelevantArguments([]string{"cc", "-I/abs/a", "-c", "foo.c"})
	want := []string{"cc", "-c", "foo.c"}
	if len(got) != len(want) {
		t.Fatalf("RelevantArguments() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RelevantArguments() = %v, want %v", got, want)
		}
	}
}

// TestRelevantArgumentsFlagThatMattersProducesDistinctSets covers S2: an
// optimization flag is never filtered, so two otherwise-identical
// invocations differing only in -O2 vs -O0 must still differ after
// filtering, which is what keeps their fingerprints distinct.
func TestRelevantArgumentsFlagThatMattersProducesDistinctSets(t *testing.T) {
	s := Strategy{}
	o2 := s.RelevantArguments([]string{"cc", "-O2", "-c", "foo.c", "-o", "foo.o"})
	o0 := s.RelevantArguments([]string{"cc", "-O0", "-c", "foo.c", "-o", "foo.o"})

	eq := len(o2) == len(o0)
	if eq {
		for i := range o2 {
			if o2[i] != o0[i] {
				eq = false
				break
			}
		}
	}
	if eq {
		t.Fatalf("RelevantArguments(-O2) = %v and RelevantArguments(-O0) = %v, want distinct sets", o2, o0)
	}
}

// TestRelevantArgumentsPathThatDoesNotMatterProducesEqualSets covers S3:
// two invocations differing only in an -I search path's absolute prefix
// must filter down to the same relevant-args set, so their fingerprints
// agree whenever the rest of the invocation (including the preprocessed
// source this strategy hashes separately) is identical.
func TestRelevantArgumentsPathThatDoesNotMatterProducesEqualSets(t *testing.T) {
	s := Strategy{}
	a := s.RelevantArguments([]string{"cc", "-I/abs/a", "-c", "foo.c", "-o", "foo.o"})
	b := s.RelevantArguments([]string{"cc", "-I/other/a", "-c", "foo.c", "-o", "foo.o"})

	if len(a) != len(b) {
		t.Fatalf("RelevantArguments() = %v, RelevantArguments() = %v, want equal sets", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("RelevantArguments() = %v, RelevantArguments() = %v, want equal sets", a, b)
		}
	}
}

func TestCapabilitiesHonored(t *testing.T) {
	s := Strategy{}
	caps := s.Capabilities()
	for _, want := range []string{"hard_links", "create_target_dirs"} {
		found := false
		for c := range caps {
			if string(c) == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("Capabilities() missing %q: %v", want, caps)
		}
	}
}
