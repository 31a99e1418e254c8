// Package origintest runs an in-memory HTTP origin that speaks the autohttpfs
// protocol, for tests of the remote client, the resolver and the filesystem.
//
// Layout rules follow an ordinary static file server:
//   - "dir/" answers 200 for directories; JSON listings are served when the
//     Accept header starts with "text/json".
//   - "dir" (no slash) redirects to "dir/".
//   - files answer HEAD/GET with Range support through http.ServeContent.
//
// Every reply carries X-FileStat-Json describing the resource.
package origintest

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/IvanBrykalov/autohttpfs/attr"
	"github.com/IvanBrykalov/autohttpfs/listing"
)

// Mtime is stamped on every resource.
var Mtime = time.Date(2010, 6, 1, 12, 0, 0, 0, time.UTC)

type reply struct {
	status      int
	contentType string
	body        []byte
}

// Server is an httptest.Server with a mutable tree.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	files       map[string][]byte
	dirs        map[string]bool
	overrides   map[string]reply
	hits        map[string]int
	ignoreRange bool
}

// New starts a server holding only the root directory. It is closed by
// t.Cleanup.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		files:     map[string][]byte{},
		dirs:      map[string]bool{"/": true},
		overrides: map[string]reply{},
		hits:      map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AddDir creates a directory and its parents.
func (s *Server) AddDir(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addDirLocked(clean(p))
}

// AddFile creates a file and its parent directories.
func (s *Server) AddFile(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = clean(p)
	s.files[p] = data
	s.addDirLocked(path.Dir(p))
}

// Respond makes every request for the exact request path (trailing slash
// significant) answer with status, content type and body.
func (s *Server) Respond(requestPath string, status int, contentType string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[requestPath] = reply{status: status, contentType: contentType, body: body}
}

// IgnoreRange makes file GETs answer 200 with the whole body.
func (s *Server) IgnoreRange(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreRange = on
}

// Hits returns how many requests were made with method for requestPath.
func (s *Server) Hits(method, requestPath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+requestPath]
}

// Requests returns the total number of requests served.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.hits {
		n += v
	}
	return n
}

func (s *Server) addDirLocked(p string) {
	for {
		s.dirs[p] = true
		if p == "/" {
			return
		}
		p = path.Dir(p)
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.Method+" "+r.URL.Path]++
	ov, hasOverride := s.overrides[r.URL.Path]
	isDirForm := strings.HasSuffix(r.URL.Path, "/")
	p := clean(r.URL.Path)
	data, isFile := s.files[p]
	isDir := s.dirs[p]
	var children []attr.Entry
	if isDir && isDirForm {
		children = s.childrenLocked(p)
	}
	ignoreRange := s.ignoreRange
	s.mu.Unlock()

	switch {
	case hasOverride:
		if ov.contentType != "" {
			w.Header().Set("Content-Type", ov.contentType)
		}
		w.WriteHeader(ov.status)
		if r.Method != http.MethodHead {
			_, _ = w.Write(ov.body)
		}

	case isDirForm && isDir:
		w.Header().Set(listing.StatHeader, listing.EncodeStatHeader(attr.Entry{Name: path.Base(p), Record: dirRecord()}))
		if !strings.HasPrefix(r.Header.Get("Accept"), "text/json") {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusOK)
			return
		}
		body := listing.Encode(children)
		w.Header().Set("Content-Type", "text/json")
		w.WriteHeader(http.StatusOK)
		if r.Method != http.MethodHead {
			_, _ = w.Write(body)
		}

	case !isDirForm && isFile:
		w.Header().Set(listing.StatHeader, listing.EncodeStatHeader(attr.Entry{Name: path.Base(p), Record: fileRecord(data)}))
		if ignoreRange {
			r.Header.Del("Range")
		}
		http.ServeContent(w, r, path.Base(p), Mtime, bytes.NewReader(data))

	case !isDirForm && isDir:
		http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) childrenLocked(dir string) []attr.Entry {
	var out []attr.Entry
	for d := range s.dirs {
		if d != dir && path.Dir(d) == dir {
			out = append(out, attr.Entry{Name: path.Base(d), Record: dirRecord()})
		}
	}
	for f, data := range s.files {
		if path.Dir(f) == dir && !s.dirs[f] {
			out = append(out, attr.Entry{Name: path.Base(f), Record: fileRecord(data)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func dirRecord() attr.Record {
	return attr.Record{Mode: unix.S_IFDIR | 0o755, Size: 4096, Mtime: Mtime.Unix()}
}

func fileRecord(data []byte) attr.Record {
	return attr.Record{Mode: unix.S_IFREG | 0o644, Size: uint64(len(data)), Mtime: Mtime.Unix()}
}

func clean(p string) string { return path.Clean("/" + p) }
