package util

import "testing"

func TestRoundupRounddown(t *testing.T) {
	cases := []struct{ v, b, up, down int }{
		{0, 4096, 0, 0},
		{1, 4096, 4096, 0},
		{4096, 4096, 4096, 4096},
		{4097, 4096, 8192, 4096},
	}
	for _, c := range cases {
		if got := Roundup(c.v, c.b); got != c.up {
			t.Errorf("Roundup(%d,%d) = %d, want %d", c.v, c.b, got, c.up)
		}
		if got := Rounddown(c.v, c.b); got != c.down {
			t.Errorf("Rounddown(%d,%d) = %d, want %d", c.v, c.b, got, c.down)
		}
	}
}

func TestReadnWriten(t *testing.T) {
	buf := make([]uint8, 16)
	Writen(buf, 4, 0, 0xdeadbeef)
	Writen(buf, 2, 4, 0x1234)
	Writen(buf, 1, 6, 0x42)
	if got := Readn(buf, 4, 0); uint32(got) != 0xdeadbeef {
		t.Errorf("Readn 4 = %#x, want %#x", got, 0xdeadbeef)
	}
	if got := Readn(buf, 2, 4); got != 0x1234 {
		t.Errorf("Readn 2 = %#x, want %#x", got, 0x1234)
	}
	if got := Readn(buf, 1, 6); got != 0x42 {
		t.Errorf("Readn 1 = %#x, want %#x", got, 0x42)
	}
}

func TestMinMax(t *testing.T) {
	if Min(3, 5) != 3 || Max(3, 5) != 5 {
		t.Fatal("Min/Max wrong")
	}
}

func TestWritenOutOfBounds(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-bounds write")
		}
	}()
	buf := make([]uint8, 2)
	Writen(buf, 4, 0, 1)
}
