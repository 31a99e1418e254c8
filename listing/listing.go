// Package listing decodes the JSON payloads an autohttpfs origin serves:
// directory listings (GET "dir/" with Accept "text/json;hash") and the
// single-entry X-FileStat-Json header attached to HEAD replies.
//
// Two listing shapes are understood:
//
//	["a", "b"]                                                      names only, all directories
//	{"a": {"mode": "drwxr-xr-x", "size": 4096, "mtime": "2010-..."}} name -> stat
//
// Parsing never panics; callers inspect Result.Status instead.
package listing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/IvanBrykalov/autohttpfs/attr"
)

// StatHeader is the response header carrying a single-entry stat object.
const StatHeader = "X-FileStat-Json"

// Status classifies a parsed payload.
type Status int

const (
	// OK: at least one entry was decoded.
	OK Status = iota
	// Empty: well-formed, but lists nothing.
	Empty
	// Malformed: not JSON, or neither an array of names nor an object of stats.
	Malformed
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Empty:
		return "empty"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of Parse. Err explains a Malformed status.
type Result struct {
	Status  Status
	Entries []attr.Entry
	Err     error
}

// stat is the wire form of one entry's metadata.
type stat struct {
	Mode  string   `json:"mode"`
	Size  *float64 `json:"size"`
	Mtime string   `json:"mtime"`
}

var errNotListing = errors.New("listing: payload is neither an array nor an object")

// Parse decodes a listing payload. Entries keep the order the origin sent.
func Parse(payload []byte) Result {
	body := bytes.TrimSpace(payload)
	if len(body) == 0 {
		return Result{Status: Empty}
	}

	var (
		entries []attr.Entry
		err     error
	)
	switch body[0] {
	case '[':
		entries, err = parseNames(body)
	case '{':
		entries, err = parseStats(body)
	default:
		err = errNotListing
	}
	if err != nil {
		return Result{Status: Malformed, Err: err}
	}
	if len(entries) == 0 {
		return Result{Status: Empty}
	}
	return Result{Status: OK, Entries: entries}
}

// ParseStatHeader decodes an X-FileStat-Json header value, which holds an
// object with exactly one name -> stat pair. It reports false when the value
// is absent or unusable.
func ParseStatHeader(value string) (attr.Entry, bool) {
	body := bytes.TrimSpace([]byte(value))
	if len(body) == 0 || body[0] != '{' {
		return attr.Entry{}, false
	}
	entries, err := parseStats(body)
	if err != nil || len(entries) == 0 {
		return attr.Entry{}, false
	}
	return entries[0], true
}

func parseNames(body []byte) ([]attr.Entry, error) {
	var names []string
	if err := json.Unmarshal(body, &names); err != nil {
		return nil, fmt.Errorf("listing: name array: %w", err)
	}
	entries := make([]attr.Entry, 0, len(names))
	for _, n := range names {
		if !validName(n) {
			continue
		}
		entries = append(entries, attr.Entry{Name: n, Record: attr.Dir()})
	}
	return entries, nil
}

// parseStats walks the object token by token so that entry order survives.
func parseStats(body []byte) ([]attr.Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	if _, err := dec.Token(); err != nil { // '{'
		return nil, fmt.Errorf("listing: stat object: %w", err)
	}

	var entries []attr.Entry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("listing: stat object: %w", err)
		}
		name, _ := tok.(string)

		var st stat
		if err := dec.Decode(&st); err != nil {
			return nil, fmt.Errorf("listing: stat for %q: %w", name, err)
		}
		if !validName(name) {
			continue
		}
		entries = append(entries, attr.Entry{Name: name, Record: st.record()})
	}
	if _, err := dec.Token(); err != nil { // '}'
		return nil, fmt.Errorf("listing: stat object: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("listing: trailing data after stat object")
	}
	return entries, nil
}

func (s stat) record() attr.Record {
	r := attr.Record{Mode: attr.ParsePerm(s.Mode)}
	if r.Type() == 0 {
		r.Mode |= unix.S_IFREG
	}
	if s.Size != nil && *s.Size > 0 && *s.Size < math.MaxUint64 {
		r.Size = uint64(*s.Size)
	}
	if t, ok := parseMtime(s.Mtime); ok {
		r.Mtime = t.Unix()
	}
	return r
}

// iso8601Basic is the strftime "%Y-%m-%dT%H:%M:%S%z" form, whose offset has
// no colon.
const iso8601Basic = "2006-01-02T15:04:05-0700"

func parseMtime(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, iso8601Basic} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// validName rejects names that cannot appear as a single path component.
func validName(n string) bool {
	return n != "" && n != "." && n != ".." && !strings.ContainsRune(n, '/')
}
