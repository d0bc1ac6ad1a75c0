package ustr

import "testing"

func TestSkipelem(t *testing.T) {
	cases := []struct {
		path string
		elem string
		rest string
		ok   bool
	}{
		{"/a/bb/ccc", "a", "bb/ccc", true},
		{"a/bb", "a", "bb", true},
		{"///a//b", "a", "b", true},
		{"", "", "", false},
		{"/", "", "", false},
	}
	for _, c := range cases {
		elem, rest, ok := Skipelem(Ustr(c.path))
		if ok != c.ok {
			t.Fatalf("Skipelem(%q) ok=%v want %v", c.path, ok, c.ok)
		}
		if !ok {
			continue
		}
		if elem.String() != c.elem || rest.String() != c.rest {
			t.Errorf("Skipelem(%q) = (%q,%q) want (%q,%q)", c.path, elem, rest, c.elem, c.rest)
		}
	}
}

func TestEqAndDot(t *testing.T) {
	if !Ustr(".").Isdot() {
		t.Error("Isdot false negative")
	}
	if !Ustr("..").Isdotdot() {
		t.Error("Isdotdot false negative")
	}
	if !Ustr("abc").Eq(Ustr("abc")) {
		t.Error("Eq false negative")
	}
	if Ustr("abc").Eq(Ustr("abd")) {
		t.Error("Eq false positive")
	}
}

func TestMkUstrSlice(t *testing.T) {
	buf := make([]uint8, 14)
	copy(buf, "foo")
	got := MkUstrSlice(buf)
	if got.String() != "foo" {
		t.Errorf("MkUstrSlice = %q, want foo", got)
	}
}
