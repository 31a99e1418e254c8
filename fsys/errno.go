package fsys

import (
	"context"
	"errors"
	"io/fs"
	"syscall"

	"github.com/IvanBrykalov/autohttpfs/control"
	"github.com/IvanBrykalov/autohttpfs/handle"
	"github.com/IvanBrykalov/autohttpfs/remote"
	"github.com/IvanBrykalov/autohttpfs/resolver"
)

var (
	// ErrUnsupported is returned for mutations of remote-backed paths.
	ErrUnsupported = errors.New("fsys: operation not supported")
	ErrIsDir       = errors.New("fsys: is a directory")
	ErrNotDir      = errors.New("fsys: not a directory")
)

// ToErrno maps an error from Ops onto the errno returned to the kernel.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}

	var te *remote.TransportError
	switch {
	case errors.Is(err, resolver.ErrNotFound),
		errors.Is(err, control.ErrNotFound),
		errors.Is(err, remote.ErrNoHost),
		errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, handle.ErrInvalidHandle),
		errors.Is(err, control.ErrInvalidOffset),
		errors.Is(err, control.ErrInvalidValue):
		return syscall.EINVAL
	case errors.Is(err, ErrUnsupported):
		return syscall.ENOTSUP
	case errors.Is(err, ErrIsDir), errors.Is(err, control.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, ErrNotDir), errors.Is(err, control.ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, control.ErrReadOnly), errors.Is(err, fs.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, context.Canceled):
		return syscall.EINTR
	case errors.As(err, &te):
		return syscall.EIO
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}
