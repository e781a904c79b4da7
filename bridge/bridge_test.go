// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package bridge

import (
	"testing"

	"github.com/usbarmory/sixbridge/parallelbus"
	"github.com/usbarmory/sixbridge/ringbuf"
	"github.com/usbarmory/sixbridge/spislave"
)

type fakeClock struct {
	size      uint32
	remaining uint32
	epoch     uint32
}

func (c *fakeClock) Epoch() uint32     { return c.epoch }
func (c *fakeClock) Remaining() uint32 { return c.remaining }

func (c *fakeClock) push(buf []byte, b byte) {
	idx := (c.epoch*c.size + (c.size - c.remaining)) % c.size
	buf[idx] = b

	c.remaining--
	if c.remaining == 0 {
		c.remaining = c.size
		c.epoch++
	}
}

type fakePBHardware struct {
	buf   []byte
	clock *fakeClock

	txBusy bool
	txLast []byte
}

func newFakePBHardware(size uint32) *fakePBHardware {
	return &fakePBHardware{buf: make([]byte, size), clock: &fakeClock{size: size, remaining: size}}
}

func (h *fakePBHardware) RXBuf() []byte                  { return h.buf }
func (h *fakePBHardware) RXClock() ringbuf.ProducerClock { return h.clock }
func (h *fakePBHardware) TXBusy() bool                   { return h.txBusy }
func (h *fakePBHardware) ProgramTX(staging []byte) {
	h.txLast = append([]byte(nil), staging...)
}
func (h *fakePBHardware) push(bytes ...byte) {
	for _, b := range bytes {
		h.clock.push(h.buf, b)
	}
}

type fakeSPIHardware struct {
	buf   []byte
	clock *fakeClock

	csRisen bool
	txBusy  bool
	txLast  []byte

	haveData bool
	ready    bool
}

func newFakeSPIHardware(size uint32) *fakeSPIHardware {
	return &fakeSPIHardware{buf: make([]byte, size), clock: &fakeClock{size: size, remaining: size}}
}

func (h *fakeSPIHardware) RXBuf() []byte                  { return h.buf }
func (h *fakeSPIHardware) RXClock() ringbuf.ProducerClock { return h.clock }
func (h *fakeSPIHardware) ChipSelectRisen() bool {
	v := h.csRisen
	h.csRisen = false
	return v
}
func (h *fakeSPIHardware) TXBusy() bool { return h.txBusy }
func (h *fakeSPIHardware) ProgramTX(page []byte) {
	h.txLast = append([]byte(nil), page...)
}
func (h *fakeSPIHardware) SetHaveData(asserted bool) { h.haveData = asserted }
func (h *fakeSPIHardware) SetReady(asserted bool)    { h.ready = asserted }
func (h *fakeSPIHardware) Now() int64                { return 0 }
func (h *fakeSPIHardware) push(bytes ...byte) {
	for _, b := range bytes {
		h.clock.push(h.buf, b)
	}
}

type fakeIRQ struct {
	asserted      bool
	assertedCalls int
}

func (f *fakeIRQ) Assert(asserted bool) {
	f.asserted = asserted
	f.assertedCalls++
}

func TestParallelBusWriteReachesSPITXQueueAsTLV(t *testing.T) {
	pHW := newFakePBHardware(64)
	sHW := newFakeSPIHardware(64)
	p := parallelbus.New(pHW, parallelbus.DefaultConfig())
	p.Init()
	s := spislave.New(sHW, spislave.DefaultConfig())
	s.Init()
	irq := &fakeIRQ{}

	b := New(p, s, irq, DefaultConfig())
	b.Init()

	pHW.push(5, 3, 0x04, 0x02, 0x03)
	p.Task()

	// The SPI TX queue is observed through a REQUEST, which stages the
	// queued bytes into the payload of the next READ page.
	sHW.push(0x02)
	s.Task()

	if len(sHW.txLast) < 3 {
		t.Fatalf("no READ page staged after REQUEST: %v", sHW.txLast)
	}
	n := int(sHW.txLast[0])<<8 | int(sHW.txLast[1])
	drained := sHW.txLast[3 : 3+n]

	want := []byte{5, 3, 0x04, 0x02, 0x03}
	if len(drained) != len(want) {
		t.Fatalf("SPI TX queue contents = %v, want %v", drained, want)
	}
}

func TestSPIWriteReachesParallelBusDeviceBuffer(t *testing.T) {
	pHW := newFakePBHardware(64)
	sHW := newFakeSPIHardware(64)
	p := parallelbus.New(pHW, parallelbus.DefaultConfig())
	p.Init()
	s := spislave.New(sHW, spislave.DefaultConfig())
	s.Init()
	irq := &fakeIRQ{}

	b := New(p, s, irq, DefaultConfig())
	b.Init()

	// SPI WRITE frame carrying the TLV-encoded parallel-bus write
	// [device=7, length=2, 0xAA, 0xBB]
	tlv := []byte{7, 2, 0xAA, 0xBB}
	frame := append([]byte{0x01, byte(len(tlv) >> 8), byte(len(tlv) & 0xFF)}, tlv...)
	sHW.push(frame...)
	s.Task()

	pHW.push(7 | 0x80)
	p.Task()

	want := []byte{2, 0xAA, 0xBB}
	if len(pHW.txLast) != len(want) {
		t.Fatalf("parallel-bus TX staging = %v, want %v", pHW.txLast, want)
	}
	for i := range want {
		if pHW.txLast[i] != want[i] {
			t.Fatalf("parallel-bus TX staging = %v, want %v", pHW.txLast, want)
		}
	}
}

func TestIRQLineAssertedWhileDeviceBufferNonEmpty(t *testing.T) {
	pHW := newFakePBHardware(64)
	sHW := newFakeSPIHardware(64)
	p := parallelbus.New(pHW, parallelbus.DefaultConfig())
	p.Init()
	s := spislave.New(sHW, spislave.DefaultConfig())
	s.Init()
	irq := &fakeIRQ{}

	b := New(p, s, irq, DefaultConfig())
	b.Init()

	if irq.asserted {
		t.Fatal("IRQ must start deasserted")
	}

	p.DeviceWrite(3, []byte{0x01})
	b.Task()

	if !irq.asserted {
		t.Fatal("expected IRQ asserted once a device buffer is non-empty")
	}

	pHW.push(3 | 0x80)
	p.Task()
	b.Task()

	if irq.asserted {
		t.Fatal("expected IRQ deasserted once the device buffer drains")
	}
}

func TestInvalidDeviceByteTriggersFramingResync(t *testing.T) {
	pHW := newFakePBHardware(64)
	sHW := newFakeSPIHardware(64)
	p := parallelbus.New(pHW, parallelbus.DefaultConfig())
	p.Init()
	s := spislave.New(sHW, spislave.DefaultConfig())
	s.Init()
	irq := &fakeIRQ{}

	b := New(p, s, irq, DefaultConfig())
	b.Init()

	// invalid device byte (200), followed by a valid re-sync'd frame
	tlv := []byte{200, 7, 2, 0xAA, 0xBB}
	frame := append([]byte{0x01, byte(len(tlv) >> 8), byte(len(tlv) & 0xFF)}, tlv...)
	sHW.push(frame...)
	s.Task()

	if b.Stats().FramingResyncs != 1 {
		t.Fatalf("FramingResyncs = %d, want 1", b.Stats().FramingResyncs)
	}
}
