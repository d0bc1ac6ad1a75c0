package bpath

import (
	"testing"
	"ustr"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/a/b/c", "/a/b/c"},
		{"/a/./b", "/a/b"},
		{"/a/b/../c", "/a/c"},
		{"/../a", "/a"},
		{"/a//b", "/a/b"},
		{"/", "/"},
	}
	for _, c := range cases {
		got := Canonicalize(ustr.MkUstrSlice([]uint8(c.in)))
		if got.String() != c.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", c.in, got.String(), c.want)
		}
	}
}
