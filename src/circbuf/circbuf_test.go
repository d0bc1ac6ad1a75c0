package circbuf

import "testing"

func TestPushPop(t *testing.T) {
	cb := MkCircbuf(4)
	cb.PushByte('a')
	cb.PushByte('b')
	if cb.Used() != 2 {
		t.Fatalf("Used = %d want 2", cb.Used())
	}
	b, ok := cb.PopByte()
	if !ok || b != 'a' {
		t.Fatalf("PopByte = %v,%v want a,true", b, ok)
	}
}

func TestOverrunDropsOldest(t *testing.T) {
	cb := MkCircbuf(2)
	cb.PushByte(1)
	cb.PushByte(2)
	cb.PushByte(3) // overrun: drops 1
	var out [2]uint8
	n := cb.Read(out[:])
	if n != 2 || out[0] != 2 || out[1] != 3 {
		t.Fatalf("Read = %v (n=%d), want [2 3]", out, n)
	}
}

func TestReadWriteRoundtrip(t *testing.T) {
	cb := MkCircbuf(8)
	cb.Write([]uint8("hello"))
	out := make([]uint8, 5)
	n := cb.Read(out)
	if n != 5 || string(out) != "hello" {
		t.Fatalf("Read = %q (n=%d)", out, n)
	}
	if !cb.Empty() {
		t.Fatal("expected empty after full drain")
	}
}
