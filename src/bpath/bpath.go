// Package bpath canonicalizes filesystem paths: collapsing "." and
// ".." components and duplicate slashes the way a shell's cwd-relative
// path must be flattened before namex ever sees it. Grounded on the
// Cwd_t.Canonicalpath contract the teacher's fd package calls out to
// but does not itself implement in the retrieved source.
package bpath

import "ustr"

// / Canonicalize flattens p into an absolute, slash-separated path with
// / no empty components, no "." components, and ".." components
// / resolved against the preceding component (a leading ".." at the
// / root is simply dropped, matching a shell's behavior for cd ..
// / past /).
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	var stack []ustr.Ustr
	rest := p
	for {
		var elem ustr.Ustr
		var ok bool
		elem, rest, ok = ustr.Skipelem(rest)
		if !ok {
			break
		}
		switch {
		case elem.Isdot():
		case elem.Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, elem)
		}
	}
	out := ustr.MkUstrRoot()
	for i, e := range stack {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, e...)
	}
	return out
}
