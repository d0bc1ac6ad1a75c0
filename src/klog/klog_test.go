package klog

import "testing"

type sink struct{ got []string }

func (s *sink) WriteString(m string) { s.got = append(s.got, m) }

func TestThresholdsGateIndependently(t *testing.T) {
	Clear()
	s := &sink{}
	SetConsole(s)
	SetThreshold(LWARN, LFATAL)

	Logf(LINFO, "ignored everywhere")
	Logf(LWARN, "recorded only")
	Logf(LFATAL, "recorded and console")

	rec := Dump()
	if len(rec) != 2 {
		t.Fatalf("record len = %d, want 2: %v", len(rec), rec)
	}
	if len(s.got) != 1 {
		t.Fatalf("console writes = %d, want 1: %v", len(s.got), s.got)
	}
}

func TestClear(t *testing.T) {
	Clear()
	SetThreshold(LDEBUG, LFATAL)
	Logf(LDEBUG, "x")
	if len(Dump()) != 1 {
		t.Fatal("expected one record")
	}
	Clear()
	if len(Dump()) != 0 {
		t.Fatal("expected empty after Clear")
	}
}
