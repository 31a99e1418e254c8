package remote

import (
	"fmt"
	"io/fs"
	"net/http"
)

// TransportError reports that a request never produced an HTTP status:
// DNS, connect, TLS, timeout or a body read failure.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-success HTTP status. It unwraps to fs.ErrNotExist for
// 404/410, fs.ErrPermission for 401/403, and fs.ErrInvalid otherwise.
type StatusError struct {
	StatusCode int
	Status     string
	Err        error
}

// AsStatusError converts an HTTP status code to a StatusError. If the status
// code is 200 or 206 it returns nil.
func AsStatusError(statusCode int, status string) *StatusError {
	if status == "" {
		status = fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode))
	}
	switch statusCode {
	case http.StatusOK, http.StatusPartialContent:
		return nil
	case http.StatusNotFound, http.StatusGone:
		return &StatusError{StatusCode: statusCode, Status: status, Err: fs.ErrNotExist}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &StatusError{StatusCode: statusCode, Status: status, Err: fs.ErrPermission}
	default:
		return &StatusError{StatusCode: statusCode, Status: status, Err: fs.ErrInvalid}
	}
}

func (s *StatusError) Error() string {
	return fmt.Sprintf("%s: %s", s.Err, s.Status)
}

func (s *StatusError) Unwrap() error {
	return s.Err
}
