// Package uart defines the console byte-stream contract the kernel
// expects of the QEMU virt machine's 16550 UART at MMIO 0x1000_0000.
// The real MMIO driver and its interrupt handler are an external
// collaborator referenced only through this contract; this package
// additionally provides a circbuf-backed stub good enough to drive the
// kernel's console file descriptor in tests and in a hosted build.
package uart

import "circbuf"

// MMIOBase is the console device's physical base address on the QEMU
// virt machine.
const MMIOBase = 0x10000000

// / Console_i is what the rest of the kernel needs from a UART: put one
// / byte out, and drain whatever the input ring currently holds.
type Console_i interface {
	Putc(c uint8)
	Getc() (uint8, bool)
}

// / Stub is an in-memory console: writes go to Out, reads come from a
// / circbuf fed by PushInput (standing in for the interrupt handler that
// / would enqueue bytes as they arrive from the real 16550).
type Stub struct {
	Out []uint8
	in  *circbuf.Circbuf_t
}

// / MkStub constructs a console stub with a 256-byte input queue,
// / mirroring the depth of the teacher's console ring.
func MkStub() *Stub {
	return &Stub{in: circbuf.MkCircbuf(256)}
}

func (s *Stub) Putc(c uint8) {
	s.Out = append(s.Out, c)
}

func (s *Stub) Getc() (uint8, bool) {
	return s.in.PopByte()
}

// / PushInput feeds bytes into the input queue as though they arrived
// / from the UART's RX interrupt.
func (s *Stub) PushInput(b []uint8) {
	s.in.Write(b)
}

// / WriteString implements klog.Writer so klog's console sink can be a
// / Stub directly.
func (s *Stub) WriteString(str string) {
	s.Out = append(s.Out, []uint8(str)...)
}
