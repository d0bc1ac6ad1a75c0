package hashtable

import "testing"

func TestSetGetDel(t *testing.T) {
	ht := MkHash(4)
	if !ht.Set(1, "a") {
		t.Fatal("first set should succeed")
	}
	if ht.Set(1, "b") {
		t.Fatal("duplicate set should fail")
	}
	v, ok := ht.Get(1)
	if !ok || v != "a" {
		t.Fatalf("Get = %v, %v want a, true", v, ok)
	}
	ht.Del(1)
	if _, ok := ht.Get(1); ok {
		t.Fatal("key should be gone after Del")
	}
	if ht.Size() != 0 {
		t.Fatalf("Size = %d want 0", ht.Size())
	}
}

func TestCollisions(t *testing.T) {
	ht := MkHash(1) // force every key into the same bucket
	for i := 0; i < 50; i++ {
		if !ht.Set(i, i*2) {
			t.Fatalf("Set(%d) failed", i)
		}
	}
	if ht.Size() != 50 {
		t.Fatalf("Size = %d want 50", ht.Size())
	}
	for i := 0; i < 50; i++ {
		v, ok := ht.Get(i)
		if !ok || v.(int) != i*2 {
			t.Fatalf("Get(%d) = %v, %v", i, v, ok)
		}
	}
}
