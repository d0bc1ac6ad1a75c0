// Package ustr provides the byte-slice path string used across the
// directory and path-resolution layers. Kernel path components are fixed,
// NUL-padded byte arrays on disk (DIRSIZ-bounded); Ustr is the in-memory
// counterpart that avoids round-tripping through Go's UTF-8-aware string
// type for what is really just a byte sequence.
package ustr

// Ustr is an immutable-by-convention path or path-component string.
type Ustr []uint8

// MkUstr returns an empty Ustr.
func MkUstr() Ustr { return Ustr{} }

// MkUstrRoot returns the Ustr for "/".
func MkUstrRoot() Ustr { return Ustr("/") }

// MkUstrDot returns the Ustr for ".".
func MkUstrDot() Ustr { return Ustr(".") }

// DotDot is the reusable Ustr for "..".
var DotDot = Ustr{'.', '.'}

// MkUstrSlice truncates buf at the first NUL byte, the shape a fixed-size
// directory-entry name field or a copied-in C string arrives in.
func MkUstrSlice(buf []uint8) Ustr {
	for i, b := range buf {
		if b == 0 {
			return Ustr(buf[:i])
		}
	}
	return Ustr(buf)
}

// Isdot reports whether us is exactly ".".
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether us is exactly "..".
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq reports whether us and s contain identical bytes.
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

// IsAbsolute reports whether us begins with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

// Extend returns a new Ustr with '/' and p appended.
func (us Ustr) Extend(p Ustr) Ustr {
	r := make(Ustr, 0, len(us)+1+len(p))
	r = append(r, us...)
	r = append(r, '/')
	r = append(r, p...)
	return r
}

// ExtendStr is Extend for a Go string component.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// IndexByte returns the index of the first occurrence of b, or -1.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String converts us to a Go string, for printing and error messages only.
func (us Ustr) String() string {
	return string(us)
}

// Skipelem splits the first path element off a path, returning the
// element, the remaining path (with leading slashes collapsed), and
// whether an element was found. It is the building block `namex`'s
// component-by-component walk uses.
func Skipelem(path Ustr) (elem Ustr, rest Ustr, ok bool) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if len(path) == 0 {
		return nil, nil, false
	}
	i := 0
	for i < len(path) && path[i] != '/' {
		i++
	}
	elem = path[:i]
	rest = path[i:]
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	if len(elem) > 14 {
		elem = elem[:14]
	}
	return elem, rest, true
}
