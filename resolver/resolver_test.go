package resolver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/IvanBrykalov/autohttpfs/attr"
	"github.com/IvanBrykalov/autohttpfs/cache"
	"github.com/IvanBrykalov/autohttpfs/internal/origintest"
	"github.com/IvanBrykalov/autohttpfs/remote"
)

// fakeProber answers HEAD probes from two status tables.
type fakeProber struct {
	mu       sync.Mutex
	dirs     map[string]remote.Response
	files    map[string]remote.Response
	fail     error
	heads    atomic.Int64
	gate     chan struct{} // when set, Head blocks until closed
	received []string
}

func (p *fakeProber) Head(ctx context.Context, path string, opt remote.HeadOptions) (remote.Response, error) {
	p.heads.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return remote.Response{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	form := path
	if opt.Dir {
		form += "/"
	}
	p.received = append(p.received, form)
	if p.fail != nil {
		return remote.Response{}, p.fail
	}
	table := p.files
	if opt.Dir {
		table = p.dirs
	}
	if res, ok := table[path]; ok {
		return res, nil
	}
	return remote.Response{StatusCode: http.StatusNotFound, ContentLength: -1}, nil
}

func (p *fakeProber) GetRange(context.Context, string, []byte, int64) (int, int, error) {
	return 0, 0, errors.New("not used")
}

func (p *fakeProber) GetText(context.Context, string, string) (remote.Response, []byte, error) {
	return remote.Response{}, nil, errors.New("not used")
}

func newResolver(t *testing.T, p remote.Prober) *Resolver {
	t.Helper()
	c := cache.New[string, attr.Record](cache.Options[string, attr.Record]{TTL: time.Minute})
	t.Cleanup(func() { _ = c.Close() })
	return New(Options{Cache: c, Prober: p})
}

func TestGetAttr_RootNeverProbes(t *testing.T) {
	t.Parallel()

	p := &fakeProber{}
	r := newResolver(t, p)

	rec, err := r.GetAttr(context.Background(), "/")
	if err != nil || !rec.IsDir() {
		t.Fatalf("root: want dir, got %v err=%v", rec, err)
	}
	if p.heads.Load() != 0 {
		t.Fatalf("root must not probe, got %d probes", p.heads.Load())
	}
	if r.Cache().Len() != 0 {
		t.Fatal("root must not be cached")
	}
}

func TestGetAttr_HiddenAndControlNeverProbe(t *testing.T) {
	t.Parallel()

	p := &fakeProber{}
	r := newResolver(t, p)

	for _, path := range []string{"/.proc", "/.proc/cache/expire", "/.git", "/.hidden/x"} {
		if _, err := r.GetAttr(context.Background(), path); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: want ErrNotFound, got %v", path, err)
		}
	}
	if p.heads.Load() != 0 {
		t.Fatalf("hidden paths must not probe, got %d probes", p.heads.Load())
	}
	if !r.IsControl("/.proc/cache") || r.IsControl("/.procfs") {
		t.Fatal("IsControl must match the prefix as a path component")
	}
}

func TestGetAttr_MissingIsNotFound(t *testing.T) {
	t.Parallel()

	p := &fakeProber{}
	r := newResolver(t, p)

	if _, err := r.GetAttr(context.Background(), "/missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if p.heads.Load() != 2 {
		t.Fatalf("want exactly two probes, got %d", p.heads.Load())
	}
	if got := p.received; len(got) != 2 || got[0] != "/missing/" || got[1] != "/missing" {
		t.Fatalf("probe order: %v", got)
	}
}

// A name that answers both probes is a directory.
func TestGetAttr_DirectoryWins(t *testing.T) {
	t.Parallel()

	p := &fakeProber{
		dirs:  map[string]remote.Response{"/both": {StatusCode: http.StatusOK}},
		files: map[string]remote.Response{"/both": {StatusCode: http.StatusOK, ContentLength: 10}},
	}
	r := newResolver(t, p)

	rec, err := r.GetAttr(context.Background(), "/both")
	if err != nil || !rec.IsDir() {
		t.Fatalf("want dir, got %v err=%v", rec, err)
	}
	if p.heads.Load() != 1 {
		t.Fatalf("file probe must be skipped, got %d probes", p.heads.Load())
	}
}

func TestGetAttr_ForbiddenDirectory(t *testing.T) {
	t.Parallel()

	p := &fakeProber{dirs: map[string]remote.Response{"/private": {StatusCode: http.StatusForbidden}}}
	r := newResolver(t, p)

	rec, err := r.GetAttr(context.Background(), "/private")
	if err != nil || !rec.IsDir() {
		t.Fatalf("403 on the directory form must classify as dir, got %v err=%v", rec, err)
	}
}

func TestGetAttr_FileAndCache(t *testing.T) {
	t.Parallel()

	p := &fakeProber{files: map[string]remote.Response{"/f": {StatusCode: http.StatusOK, ContentLength: 100}}}
	r := newResolver(t, p)

	for i := 0; i < 3; i++ {
		rec, err := r.GetAttr(context.Background(), "/f")
		if err != nil {
			t.Fatal(err)
		}
		if !rec.IsRegular() || rec.Size != 100 {
			t.Fatalf("want regular 100, got %v", rec)
		}
	}
	if p.heads.Load() != 2 {
		t.Fatalf("hits must come from the cache, got %d probes", p.heads.Load())
	}

	if !r.Invalidate("/f") {
		t.Fatal("Invalidate must drop the cached record")
	}
	if _, err := r.GetAttr(context.Background(), "/f"); err != nil {
		t.Fatal(err)
	}
	if p.heads.Load() != 4 {
		t.Fatalf("invalidated path must be probed again, got %d probes", p.heads.Load())
	}
}

func TestGetAttr_StatHeaderEnriches(t *testing.T) {
	t.Parallel()

	stat := attr.Entry{Name: "d", Record: attr.Record{Mode: unix.S_IFDIR | 0o750, Mtime: 1234}}
	p := &fakeProber{dirs: map[string]remote.Response{
		"/d": {StatusCode: http.StatusOK, Stat: stat, HasStat: true},
	}}
	r := newResolver(t, p)

	rec, err := r.GetAttr(context.Background(), "/d")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Mode != unix.S_IFDIR|0o750 || rec.Mtime != 1234 {
		t.Fatalf("stat header ignored: %v mtime=%d", rec, rec.Mtime)
	}
}

func TestGetAttr_TransportError(t *testing.T) {
	t.Parallel()

	p := &fakeProber{fail: &remote.TransportError{Method: http.MethodHead, URL: "http://x/", Err: errors.New("refused")}}
	r := newResolver(t, p)

	_, err := r.GetAttr(context.Background(), "/x")
	var te *remote.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("want *remote.TransportError, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("transport failure must be distinct from not found")
	}
	if r.Cache().Len() != 0 {
		t.Fatal("failures must not be cached")
	}
}

// Concurrent misses for one path share a single pair of probes.
func TestGetAttr_Coalesces(t *testing.T) {
	t.Parallel()

	p := &fakeProber{
		files: map[string]remote.Response{"/f": {StatusCode: http.StatusOK, ContentLength: 1}},
		gate:  make(chan struct{}),
	}
	r := newResolver(t, p)

	const N = 32
	var g errgroup.Group
	var started sync.WaitGroup
	started.Add(N)
	for i := 0; i < N; i++ {
		g.Go(func() error {
			started.Done()
			_, err := r.GetAttr(context.Background(), "/f")
			return err
		})
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond) // let the callers pile up behind the flight
	close(p.gate)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if n := p.heads.Load(); n != 2 {
		t.Fatalf("want one pair of probes, got %d", n)
	}
}

// A caller that gives up must not take the shared lookup down with it.
func TestGetAttr_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	t.Parallel()

	p := &fakeProber{
		files: map[string]remote.Response{"/f": {StatusCode: http.StatusOK, ContentLength: 7}},
		gate:  make(chan struct{}),
	}
	r := newResolver(t, p)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := r.GetAttr(ctx, "/f")
		first <- err
	}()
	deadline := time.Now().Add(time.Second)
	for p.heads.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("lookup never started")
		}
		time.Sleep(time.Millisecond)
	}

	type result struct {
		rec attr.Record
		err error
	}
	second := make(chan result, 1)
	go func() {
		rec, err := r.GetAttr(context.Background(), "/f")
		second <- result{rec, err}
	}()
	time.Sleep(20 * time.Millisecond) // let the second caller join the flight

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: want context.Canceled, got %v", err)
	}

	close(p.gate)
	got := <-second
	if got.err != nil {
		t.Fatalf("waiter: want record, got %v", got.err)
	}
	if !got.rec.IsRegular() || got.rec.Size != 7 {
		t.Fatalf("want regular file of 7 bytes, got %v", got.rec)
	}
	if rec, ok := r.cache.Find("/f"); !ok || rec.Size != 7 {
		t.Fatalf("want record cached, got %v %v", rec, ok)
	}
}

// End to end against an HTTP origin.
func TestGetAttr_Origin(t *testing.T) {
	t.Parallel()

	srv := origintest.New(t)
	srv.AddFile("/pub/readme.txt", []byte("hello, world"))
	client, err := remote.New(remote.Options{Origin: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	r := newResolver(t, client)
	ctx := context.Background()

	rec, err := r.GetAttr(ctx, "/pub")
	if err != nil || !rec.IsDir() || rec.Perm() != 0o755 {
		t.Fatalf("/pub: %v err=%v", rec, err)
	}
	rec, err = r.GetAttr(ctx, "/pub/readme.txt")
	if err != nil || !rec.IsRegular() || rec.Size != 12 {
		t.Fatalf("/pub/readme.txt: %v err=%v", rec, err)
	}
	if rec.Mtime != origintest.Mtime.Unix() {
		t.Fatalf("mtime from stat header: want %d, got %d", origintest.Mtime.Unix(), rec.Mtime)
	}
	if _, err := r.GetAttr(ctx, "/pub/nothing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
