// Package attr defines the attribute records and directory entries shared by
// the attribute cache, the resolver and the filesystem adapter.
package attr

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Record is the cached metadata of one remote path.
//
// Mode carries a POSIX file-type tag (S_IFDIR, S_IFREG, ...) OR-ed with the
// permission bits, when the origin reported any. Size is meaningless for
// directories. Mtime is in epoch seconds; zero means "unknown".
type Record struct {
	Mode  uint32
	Size  uint64
	Mtime int64
}

// Dir returns a bare directory record.
func Dir() Record { return Record{Mode: unix.S_IFDIR} }

// Regular returns a bare regular-file record of the given size.
func Regular(size uint64) Record { return Record{Mode: unix.S_IFREG, Size: size} }

// Type returns the file-type tag of the record.
func (r Record) Type() uint32 { return r.Mode & unix.S_IFMT }

// Perm returns the permission bits of the record.
func (r Record) Perm() uint32 { return r.Mode &^ unix.S_IFMT }

// IsDir reports whether the record describes a directory.
func (r Record) IsDir() bool { return r.Type() == unix.S_IFDIR }

// IsRegular reports whether the record describes a regular file.
func (r Record) IsRegular() bool { return r.Type() == unix.S_IFREG }

// String renders the record the way `ls -l` prints a mode, followed by size.
func (r Record) String() string {
	return fmt.Sprintf("%s %d", FormatPerm(r.Mode), r.Size)
}

// Entry is one name produced by a directory listing. Entries are transient:
// listings are never cached, only per-path records are.
type Entry struct {
	Name string
	Record
}
