package attr

import "golang.org/x/sys/unix"

var typeChars = []struct {
	c   byte
	tag uint32
}{
	{'d', unix.S_IFDIR},
	{'l', unix.S_IFLNK},
	{'c', unix.S_IFCHR},
	{'b', unix.S_IFBLK},
	{'p', unix.S_IFIFO},
	{'s', unix.S_IFSOCK},
	{'-', unix.S_IFREG},
}

// permBits lists the permission bit for positions 1..9 of a mode string.
var permBits = [9]struct {
	c   byte
	bit uint32
}{
	{'r', unix.S_IRUSR}, {'w', unix.S_IWUSR}, {'x', unix.S_IXUSR},
	{'r', unix.S_IRGRP}, {'w', unix.S_IWGRP}, {'x', unix.S_IXGRP},
	{'r', unix.S_IROTH}, {'w', unix.S_IWOTH}, {'x', unix.S_IXOTH},
}

// ParsePerm converts an `ls -l` style mode string such as "drwxr-xr-x" into a
// mode word. The first character selects the file type (unknown characters
// mean a regular file); the remaining nine map bit-for-bit onto owner, group
// and other permissions. Strings that are not exactly ten characters long
// only contribute their file type. An empty string yields zero.
func ParsePerm(s string) uint32 {
	if s == "" {
		return 0
	}
	mode := uint32(unix.S_IFREG)
	for _, t := range typeChars {
		if s[0] == t.c {
			mode = t.tag
			break
		}
	}
	if len(s) != 10 {
		return mode
	}
	for i, p := range permBits {
		if s[i+1] == p.c {
			mode |= p.bit
		}
	}
	return mode
}

// FormatPerm is the inverse of ParsePerm.
func FormatPerm(mode uint32) string {
	b := make([]byte, 10)
	b[0] = '?'
	for _, t := range typeChars {
		if mode&unix.S_IFMT == t.tag {
			b[0] = t.c
			break
		}
	}
	for i, p := range permBits {
		if mode&p.bit != 0 {
			b[i+1] = p.c
		} else {
			b[i+1] = '-'
		}
	}
	return string(b)
}
