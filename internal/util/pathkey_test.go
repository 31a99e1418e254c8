package util

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSortPathKeys(t *testing.T) {
	t.Parallel()

	keys := []string{"/a", "/a/b/c", "/b", "/a/b", "/zz", "/", "/a/c"}
	SortPathKeys(keys)

	want := []string{"/a/b/c", "/a/c", "/a/b", "/zz", "/b", "/a", "/"}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("SortPathKeys mismatch (-want +got):\n%s", diff)
	}
}

func TestPathKeyLess_Irreflexive(t *testing.T) {
	t.Parallel()

	for _, k := range []string{"", "/", "/a/b"} {
		if PathKeyLess(k, k) {
			t.Errorf("PathKeyLess(%q, %q) = true", k, k)
		}
	}
}
