package cache

import (
	"strings"
	"testing"
)

// Fuzz basic Add/Find/Remove semantics under arbitrary string inputs.
// Guards against panics and ensures core invariants hold.
func FuzzCache_AddFindRemove(f *testing.F) {
	f.Add("", "")
	f.Add("/", "1")
	f.Add("/a/b", "2")
	f.Add("/αβγ", "δ")
	f.Add("/long", strings.Repeat("x", 1024))

	f.Fuzz(func(t *testing.T, k, v string) {
		const limit = 1 << 12
		if len(k) > limit {
			k = k[:limit]
		}
		if len(v) > limit {
			v = v[:limit]
		}

		c := New[string, string](Options[string, string]{MaxEntries: 16})
		t.Cleanup(func() { _ = c.Close() })

		if !c.Add(k, v) {
			t.Fatalf("first Add must report a new key")
		}
		got, ok := c.Find(k)
		if !ok || got != v {
			t.Fatalf("after Add/Find: want %q, got %q ok=%v", v, got, ok)
		}

		if c.Add(k, v+"!") {
			t.Fatalf("overwrite reported a new key")
		}
		if got2, ok := c.Find(k); !ok || got2 != v+"!" {
			t.Fatalf("after overwrite: want %q, got %q ok=%v", v+"!", got2, ok)
		}

		if !c.Remove(k) {
			t.Fatalf("Remove must return true")
		}
		if _, ok := c.Find(k); ok {
			t.Fatalf("key must be absent after Remove")
		}
		if c.Len() != 0 {
			t.Fatalf("Len after Remove = %d", c.Len())
		}
	})
}
