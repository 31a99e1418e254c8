package control

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sys/unix"

	"github.com/IvanBrykalov/autohttpfs/attr"
	"github.com/IvanBrykalov/autohttpfs/cache"
	"github.com/IvanBrykalov/autohttpfs/logging"
)

type fixture struct {
	ns    *Namespace
	cache cache.Cache[string, attr.Record]
	level *logging.Verbosity
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	c := cache.New[string, attr.Record](cache.Options[string, attr.Record]{
		TTL:        60 * time.Second,
		MaxEntries: 2000,
	})
	t.Cleanup(func() { _ = c.Close() })

	lvl, err := logging.NewVerbosity(logging.DefaultLevel)
	if err != nil {
		t.Fatal(err)
	}
	core, logs := observer.New(zapcore.InfoLevel)
	ns := New("/.proc", zap.New(core))
	ns.MountCache(c, lvl)
	return fixture{ns: ns, cache: c, level: lvl, logs: logs}
}

func readAll(t *testing.T, f *File) string {
	t.Helper()
	buf := make([]byte, 64)
	n := f.Read(buf, 0)
	return string(buf[:n])
}

func TestNamespace_Readdir_MountOrder(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	names := func(p string) []string {
		entries, err := fx.ns.Readdir(p)
		if err != nil {
			t.Fatalf("Readdir(%s): %v", p, err)
		}
		var out []string
		for _, e := range entries {
			out = append(out, e.Name)
		}
		return out
	}

	if diff := cmp.Diff([]string{"cache"}, names("/.proc")); diff != "" {
		t.Fatalf("root (-want +got):\n%s", diff)
	}
	want := []string{"enable", "entries", "max_entries", "expire", "loglevel"}
	if diff := cmp.Diff(want, names("/.proc/cache")); diff != "" {
		t.Fatalf("cache dir (-want +got):\n%s", diff)
	}
	if fx.ns.Name() != ".proc" {
		t.Fatalf("Name() = %q", fx.ns.Name())
	}
}

func TestNamespace_Stat(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	rec, err := fx.ns.Stat("/.proc/cache")
	if err != nil || !rec.IsDir() || rec.Perm() != 0o555 {
		t.Fatalf("dir stat: %v err=%v", rec, err)
	}

	rec, err = fx.ns.Stat("/.proc/cache/expire")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsRegular() || rec.Perm() != 0o644 || rec.Size != uint64(len("60\n")) {
		t.Fatalf("expire stat: %v", rec)
	}

	rec, _ = fx.ns.Stat("/.proc/cache/entries")
	if rec.Perm()&unix.S_IWUSR != 0 {
		t.Fatalf("read-only file must not be writable: %v", rec)
	}

	for p, want := range map[string]error{
		"/.proc/nope":           ErrNotFound,
		"/.proc/cache/expire/x": ErrNotDir,
		"/elsewhere":            ErrNotFound,
	} {
		if _, err := fx.ns.Stat(p); !errors.Is(err, want) {
			t.Errorf("Stat(%s): want %v, got %v", p, want, err)
		}
	}
}

func TestFile_WriteAppliesOnRelease(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	f, err := fx.ns.Open("/.proc/cache/expire", true)
	if err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, f); got != "60\n" {
		t.Fatalf("snapshot want %q, got %q", "60\n", got)
	}

	if _, err := f.Write([]byte("1"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("0\n"), 1); err != nil {
		t.Fatal(err)
	}
	if fx.cache.TTL() != 60*time.Second {
		t.Fatal("value must not apply before release")
	}

	if err := f.Release(); err != nil {
		t.Fatal(err)
	}
	if fx.cache.TTL() != 10*time.Second {
		t.Fatalf("TTL want 10s, got %v", fx.cache.TTL())
	}

	entries := fx.logs.FilterMessage("control updated").All()
	if len(entries) != 1 {
		t.Fatalf("want one mutation log, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["param"] != "cache.expire" || fields["old"] != int64(60) || fields["new"] != int64(10) {
		t.Fatalf("log fields: %v", fields)
	}
}

func TestFile_WriteOffsets(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	f, err := fx.ns.Open("/.proc/cache/max_entries", true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("12"), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("x"), 1); !errors.Is(err, ErrInvalidOffset) {
		t.Fatalf("overwrite inside buffer: want ErrInvalidOffset, got %v", err)
	}
	if _, err := f.Write([]byte("x"), 5); !errors.Is(err, ErrInvalidOffset) {
		t.Fatalf("write past end: want ErrInvalidOffset, got %v", err)
	}
	if got := readAll(t, f); got != "12" {
		t.Fatalf("buffer want %q, got %q", "12", got)
	}
	if err := f.Truncate(1); err != nil {
		t.Fatal(err)
	}
	if err := f.Release(); err != nil {
		t.Fatal(err)
	}
	if fx.cache.MaxEntries() != 1 {
		t.Fatalf("MaxEntries want 1, got %d", fx.cache.MaxEntries())
	}
}

func TestFile_RejectsBadValues(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	cases := []struct {
		path, text string
		want       error
	}{
		{"/.proc/cache/expire", "soon\n", ErrInvalidValue},
		{"/.proc/cache/loglevel", "9\n", logging.ErrLevelRange},
	}
	for _, tc := range cases {
		f, err := fx.ns.Open(tc.path, true)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.Write([]byte(tc.text), 0); err != nil {
			t.Fatal(err)
		}
		if err := f.Release(); !errors.Is(err, tc.want) {
			t.Errorf("%s=%q: want %v, got %v", tc.path, tc.text, tc.want, err)
		}
	}

	f, _ := fx.ns.Open("/.proc/cache/enable", true)
	_, _ = f.Write([]byte("2"), 0)
	if err := f.Release(); err == nil {
		t.Fatal("enable accepts only 0 or 1")
	}

	if fx.cache.TTL() != 60*time.Second || fx.level.Get() != logging.DefaultLevel || !fx.cache.Enabled() {
		t.Fatal("rejected writes must not change state")
	}
}

// An emptied buffer, as left by "truncate then close", changes nothing.
func TestFile_EmptyBufferIsNoChange(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	for _, text := range []string{"", " \n", "\x00\x00"} {
		f, err := fx.ns.Open("/.proc/cache/expire", true)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.Truncate(0); err != nil {
			t.Fatal(err)
		}
		if text != "" {
			if _, err := f.Write([]byte(text), 0); err != nil {
				t.Fatal(err)
			}
		}
		if err := f.Release(); err != nil {
			t.Fatalf("%q: want no error, got %v", text, err)
		}
	}
	if fx.cache.TTL() != 60*time.Second {
		t.Fatalf("TTL must be unchanged, got %v", fx.cache.TTL())
	}
	if fx.logs.Len() != 0 {
		t.Fatalf("no mutation, no log: %v", fx.logs.All())
	}
}

func TestFile_ReadOnlyAndNoWrite(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	if _, err := fx.ns.Open("/.proc/cache/entries", true); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("write-open of entries: want ErrReadOnly, got %v", err)
	}
	if _, err := fx.ns.Open("/.proc/cache", false); !errors.Is(err, ErrIsDir) {
		t.Fatalf("open of a directory: want ErrIsDir, got %v", err)
	}

	fx.cache.Add("/a", attr.Dir())
	f, err := fx.ns.Open("/.proc/cache/entries", false)
	if err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, f); got != "1\n" {
		t.Fatalf("entries want %q, got %q", "1\n", got)
	}
	if _, err := f.Write([]byte("5"), 0); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("write to entries: want ErrReadOnly, got %v", err)
	}
	if err := f.Release(); err != nil {
		t.Fatalf("release without writes must be a no-op, got %v", err)
	}
	if fx.logs.Len() != 0 {
		t.Fatalf("no mutation, no log: %v", fx.logs.All())
	}
}

func TestFile_LogLevel(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	f, _ := fx.ns.Open("/.proc/cache/loglevel", true)
	_, _ = f.Write([]byte("7\n"), 0)
	if err := f.Release(); err != nil {
		t.Fatal(err)
	}
	if fx.level.Get() != logging.LevelDebug {
		t.Fatalf("level want %d, got %d", logging.LevelDebug, fx.level.Get())
	}
}

func TestFile_DisableDropsCache(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	fx.cache.Add("/a", attr.Dir())
	f, _ := fx.ns.Open("/.proc/cache/enable", true)
	_, _ = f.Write([]byte("0\n"), 0)
	if err := f.Release(); err != nil {
		t.Fatal(err)
	}
	if fx.cache.Enabled() || fx.cache.Len() != 0 {
		t.Fatal("writing 0 to enable must disable and empty the cache")
	}
}
