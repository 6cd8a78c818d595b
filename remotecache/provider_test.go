package remotecache

import (
	"testing"

	"github.com/buildcache-go/buildcache/hash"
)

func TestNamespaceKeysAreDistinctAndStable(t *testing.T) {
	ns := Namespace("buildcache")
	h := hash.New()
	h.WriteString("cc -c foo.c")
	hv := h.Final()

	entryKey := ns.EntryKey(hv)
	fileKey := ns.FileKey(hv, "foo.o")

	if entryKey == fileKey {
		t.Fatalf("entry key and file key collide: %q", entryKey)
	}
	if entryKey != ns.EntryKey(hv) {
		t.Fatal("EntryKey() is not stable across calls")
	}
	if fileKey != ns.FileKey(hv, "foo.o") {
		t.Fatal("FileKey() is not stable across calls")
	}
}

func TestNamespaceKeysDifferAcrossNamespaces(t *testing.T) {
	h := hash.New()
	h.WriteString("cc -c foo.c")
	hv := h.Final()

	a := Namespace("a").EntryKey(hv)
	b := Namespace("b").EntryKey(hv)
	if a == b {
		t.Fatalf("different namespaces produced the same key: %q", a)
	}
}
