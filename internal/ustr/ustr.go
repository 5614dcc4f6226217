// Package ustr implements the immutable path/string type used throughout
// the VFS and path-resolution code, adapted from teacher_src/ustr/ustr.go.
package ustr

// Ustr is an immutable-by-convention byte string used for path components
// and whole paths.
type Ustr []byte

// Root is the canonical root path "/".
var Root = Ustr("/")

// Dot is the canonical "." path component.
var Dot = Ustr(".")

// DotDot is the canonical ".." path component.
var DotDot = Ustr("..")

// IsDot reports whether us is exactly ".".
func (us Ustr) IsDot() bool {
	return len(us) == 1 && us[0] == '.'
}

// IsDotDot reports whether us is exactly "..".
func (us Ustr) IsDotDot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq compares two Ustr values byte for byte.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// IsAbsolute reports whether the path begins with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

// Extend appends '/' and p to us, returning a new Ustr.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us), len(us)+1+len(p))
	copy(tmp, us)
	tmp = append(tmp, '/')
	return append(tmp, p...)
}

// ExtendStr is Extend with a string component.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// String converts us to a Go string.
func (us Ustr) String() string {
	return string(us)
}

// FromNulTerminated truncates buf at the first NUL byte, as produced by
// read_cstr (§4.10).
func FromNulTerminated(buf []byte) Ustr {
	for i, b := range buf {
		if b == 0 {
			return Ustr(buf[:i])
		}
	}
	return Ustr(buf)
}

// Split breaks an absolute or relative path into its '/'-separated,
// non-empty components.
func Split(p Ustr) []Ustr {
	var out []Ustr
	start := -1
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if start >= 0 {
				out = append(out, p[start:i])
			}
			start = -1
		} else if start < 0 {
			start = i
		}
	}
	return out
}
