// Package remote talks to the HTTP origin behind an autohttpfs mount.
//
// Paths handed to the client are mount-relative ("/pub/file.txt"). With an
// origin base URL configured they resolve against it; without one the first
// path component names the host, so "/example.com/pub/" fetches
// "http://example.com/pub/".
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/autohttpfs/attr"
	"github.com/IvanBrykalov/autohttpfs/listing"
)

// Version is reported in the default User-Agent.
const Version = "0.3.0"

const (
	// AcceptStat asks the origin to describe directories in the stat header.
	AcceptStat = "text/json"
	// AcceptListing asks for a JSON listing with per-entry stats.
	AcceptListing = "text/json;hash"

	// maxTextBody caps listing bodies held in memory.
	maxTextBody = 16 << 20
)

// ErrNoHost is returned in auto-host mode for paths that name no host.
var ErrNoHost = errors.New("remote: path does not name a host")

// Prober is the subset of Client the resolver and the filesystem need.
type Prober interface {
	Head(ctx context.Context, path string, opt HeadOptions) (Response, error)
	GetRange(ctx context.Context, path string, dest []byte, off int64) (n int, status int, err error)
	GetText(ctx context.Context, path, accept string) (Response, []byte, error)
}

// HeadOptions selects the probe form.
type HeadOptions struct {
	// Dir appends a trailing slash to the request path.
	Dir bool
	// Accept is sent verbatim when non-empty.
	Accept string
}

// Response is the part of an HTTP reply the filesystem cares about.
type Response struct {
	StatusCode    int
	ContentLength int64 // -1 when unknown
	ContentType   string
	// Stat is the decoded listing.StatHeader; HasStat reports whether one
	// was sent.
	Stat    attr.Entry
	HasStat bool
}

// Metrics observes every request the client issues. status is 0 when the
// request failed before a status line arrived.
type Metrics interface {
	Request(method string, status int, elapsed time.Duration)
}

// NoopMetrics discards observations.
type NoopMetrics struct{}

func (NoopMetrics) Request(string, int, time.Duration) {}

// Options configures a Client. Zero values are safe.
type Options struct {
	// Origin is the base URL ("http://host:port/prefix"). Empty enables
	// auto-host mode.
	Origin string
	// Timeout bounds each request end to end; 0 means 30s.
	Timeout time.Duration
	// UserAgent defaults to "autohttpfs/<Version>".
	UserAgent string
	// Transport defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Metrics   Metrics
	Logger    *zap.Logger
}

// Client is a Prober over net/http.
type Client struct {
	base   *url.URL
	follow *http.Client
	// noFollow returns 3xx replies as-is; classification must not chase
	// redirects.
	noFollow *http.Client
	ua       string
	metrics  Metrics
	log      *zap.Logger
}

// New builds a Client.
func New(opt Options) (*Client, error) {
	c := &Client{
		ua:      opt.UserAgent,
		metrics: opt.Metrics,
		log:     opt.Logger,
	}
	if opt.Origin != "" {
		u, err := url.Parse(opt.Origin)
		if err != nil {
			return nil, fmt.Errorf("remote: origin: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("remote: origin %q must be an absolute http(s) URL", opt.Origin)
		}
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawQuery, u.Fragment = "", ""
		c.base = u
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 30 * time.Second
	}
	if c.ua == "" {
		c.ua = "autohttpfs/" + Version
	}
	if c.metrics == nil {
		c.metrics = NoopMetrics{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.log = c.log.Named("remote")

	c.follow = &http.Client{Transport: opt.Transport, Timeout: opt.Timeout}
	c.noFollow = &http.Client{
		Transport: opt.Transport,
		Timeout:   opt.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return c, nil
}

// AutoHost reports whether the client derives hosts from paths.
func (c *Client) AutoHost() bool { return c.base == nil }

// URL maps a mount-relative path onto the origin. dir forces a trailing slash.
func (c *Client) URL(p string, dir bool) (string, error) {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if dir && !strings.HasSuffix(p, "/") {
		p += "/"
	}

	if c.base != nil {
		u := *c.base
		u.Path = c.base.Path + p
		return u.String(), nil
	}

	host, rest, _ := strings.Cut(p[1:], "/")
	if host == "" {
		return "", fmt.Errorf("%w: %q", ErrNoHost, p)
	}
	u := url.URL{Scheme: "http", Host: host, Path: "/" + rest}
	return u.String(), nil
}

// Head issues a HEAD request without following redirects.
func (c *Client) Head(ctx context.Context, p string, opt HeadOptions) (Response, error) {
	res, err := c.do(ctx, c.noFollow, http.MethodHead, p, opt.Dir, func(r *http.Request) {
		if opt.Accept != "" {
			r.Header.Set("Accept", opt.Accept)
		}
	})
	if err != nil {
		return Response{}, err
	}
	defer res.Body.Close()
	return c.response(res), nil
}

// GetRange reads into dest starting at byte off. A server that ignores the
// Range header and replies 200 is handled by skipping the first off bytes.
// A short read at end of file is not an error.
func (c *Client) GetRange(ctx context.Context, p string, dest []byte, off int64) (int, int, error) {
	if len(dest) == 0 {
		return 0, http.StatusOK, nil
	}
	res, err := c.do(ctx, c.follow, http.MethodGet, p, false, func(r *http.Request) {
		r.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+int64(len(dest))-1))
	})
	if err != nil {
		return 0, 0, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		if off > 0 {
			if _, err := io.CopyN(io.Discard, res.Body, off); err != nil {
				if errors.Is(err, io.EOF) {
					return 0, res.StatusCode, nil
				}
				return 0, res.StatusCode, c.transportErr(http.MethodGet, res.Request.URL.String(), err)
			}
		}
	case http.StatusRequestedRangeNotSatisfiable:
		// Reading at or past EOF.
		return 0, res.StatusCode, nil
	default:
		return 0, res.StatusCode, AsStatusError(res.StatusCode, res.Status)
	}

	n, err := io.ReadFull(res.Body, dest)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return n, res.StatusCode, c.transportErr(http.MethodGet, res.Request.URL.String(), err)
	}
	return n, res.StatusCode, nil
}

// GetText fetches a directory-style resource (trailing slash added) with
// the given Accept header, following redirects. The body is returned only
// for 200 replies.
func (c *Client) GetText(ctx context.Context, p, accept string) (Response, []byte, error) {
	res, err := c.do(ctx, c.follow, http.MethodGet, p, true, func(r *http.Request) {
		if accept != "" {
			r.Header.Set("Accept", accept)
		}
	})
	if err != nil {
		return Response{}, nil, err
	}
	defer res.Body.Close()

	out := c.response(res)
	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxTextBody))
		return out, nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxTextBody))
	if err != nil {
		return out, nil, c.transportErr(http.MethodGet, res.Request.URL.String(), err)
	}
	return out, body, nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, p string, dir bool, setup func(*http.Request)) (*http.Response, error) {
	u, err := c.URL(p, dir)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: build %s %s: %w", method, u, err)
	}
	req.Header.Set("User-Agent", c.ua)
	setup(req)

	start := time.Now()
	res, err := hc.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.Request(method, 0, elapsed)
		return nil, c.transportErr(method, u, err)
	}
	c.metrics.Request(method, res.StatusCode, elapsed)
	c.log.Debug("request",
		zap.String("method", method),
		zap.String("url", u),
		zap.Int("status", res.StatusCode),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

func (c *Client) transportErr(method, u string, err error) error {
	c.log.Warn("transport failure",
		zap.String("method", method),
		zap.String("url", u),
		zap.Error(err))
	return &TransportError{Method: method, URL: u, Err: err}
}

func (c *Client) response(res *http.Response) Response {
	out := Response{
		StatusCode:    res.StatusCode,
		ContentLength: res.ContentLength,
		ContentType:   res.Header.Get("Content-Type"),
	}
	// HEAD replies report the length of the GET body in the header.
	if out.ContentLength < 0 {
		if v, err := strconv.ParseInt(res.Header.Get("Content-Length"), 10, 64); err == nil {
			out.ContentLength = v
		}
	}
	if h := res.Header.Get(listing.StatHeader); h != "" {
		out.Stat, out.HasStat = listing.ParseStatHeader(h)
	}
	return out
}

var _ Prober = (*Client)(nil)
