// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spislave

import (
	"testing"

	"github.com/usbarmory/sixbridge/ringbuf"
)

type fakeClock struct {
	size      uint32
	remaining uint32
	epoch     uint32
}

func (c *fakeClock) Epoch() uint32     { return c.epoch }
func (c *fakeClock) Remaining() uint32 { return c.remaining }

type fakeHardware struct {
	buf   []byte
	clock *fakeClock

	csRisen bool
	txBusy  bool
	txLast  []byte

	haveData bool
	ready    bool

	now int64
}

func newFakeHardware(size uint32) *fakeHardware {
	return &fakeHardware{
		buf:   make([]byte, size),
		clock: &fakeClock{size: size, remaining: size},
	}
}

func (h *fakeHardware) RXBuf() []byte                  { return h.buf }
func (h *fakeHardware) RXClock() ringbuf.ProducerClock { return h.clock }
func (h *fakeHardware) ChipSelectRisen() bool {
	v := h.csRisen
	h.csRisen = false
	return v
}
func (h *fakeHardware) TXBusy() bool { return h.txBusy }
func (h *fakeHardware) ProgramTX(page []byte) {
	h.txLast = append([]byte(nil), page...)
}
func (h *fakeHardware) SetHaveData(asserted bool) { h.haveData = asserted }
func (h *fakeHardware) SetReady(asserted bool)     { h.ready = asserted }
func (h *fakeHardware) Now() int64                 { return h.now }

func (h *fakeHardware) push(bytes ...byte) {
	for _, b := range bytes {
		idx := (h.clock.epoch*h.clock.size + (h.clock.size - h.clock.remaining)) % h.clock.size
		h.buf[idx] = b

		h.clock.remaining--
		if h.clock.remaining == 0 {
			h.clock.remaining = h.clock.size
			h.clock.epoch++
		}
	}
}

func TestWriteFrameDeliversPayload(t *testing.T) {
	hw := newFakeHardware(64)
	e := New(hw, DefaultConfig())
	e.Init()

	var got []byte
	e.SetRXCallback(func(payload []byte) {
		got = append([]byte(nil), payload...)
	})

	hw.push(cmdWrite, 0x00, 0x03, 0x04, 0x02, 0x03)
	e.Task()

	want := []byte{0x04, 0x02, 0x03}
	if len(got) != len(want) {
		t.Fatalf("payload = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("payload = %v, want %v", got, want)
		}
	}
}

func TestRequestBuildsEmptyPageWhenQueueEmpty(t *testing.T) {
	hw := newFakeHardware(64)
	e := New(hw, DefaultConfig())
	e.Init()

	hw.push(cmdRequest)
	e.Task() // consumes REQUEST and, in the same call, builds and arms the page
	e.Task() // no READ has completed yet: stays Ready

	if !hw.ready {
		t.Fatal("expected ready line asserted")
	}

	if hw.txLast[0] != 0 || hw.txLast[1] != 0 {
		t.Fatalf("page header = %v, want length 0", hw.txLast[:2])
	}
}

func TestRequestBuildsPageFromQueuedBytes(t *testing.T) {
	hw := newFakeHardware(64)
	e := New(hw, DefaultConfig())
	e.Init()

	if err := e.TXEnqueue([]byte{0x07, 0x02, 0xAA, 0xBB}); err != nil {
		t.Fatalf("TXEnqueue: %v", err)
	}

	hw.push(cmdRequest)
	e.Task()
	e.Task()

	if hw.txLast[0] != 0 || hw.txLast[1] != 4 {
		t.Fatalf("page length header = %v, want 4", hw.txLast[:2])
	}

	payload := hw.txLast[3:7]
	want := []byte{0x07, 0x02, 0xAA, 0xBB}
	for i := range want {
		if payload[i] != want[i] {
			t.Fatalf("page payload = %v, want %v", payload, want)
		}
	}
}

func TestReadCompletionReturnsToIdle(t *testing.T) {
	hw := newFakeHardware(64)
	e := New(hw, DefaultConfig())
	e.Init()

	hw.push(cmdRequest)
	e.Task()
	e.Task()

	if e.state != Ready {
		t.Fatalf("state = %v, want Ready", e.state)
	}

	hw.csRisen = true
	e.Task()

	if e.state != Idle {
		t.Fatalf("state = %v, want Idle after READ completion", e.state)
	}

	if hw.ready {
		t.Fatal("expected ready line deasserted after READ completion")
	}
}

func TestRequestTimeoutReturnsToIdle(t *testing.T) {
	hw := newFakeHardware(64)
	e := New(hw, DefaultConfig())
	e.Init()

	hw.push(cmdRequest)
	e.Task()
	e.Task()

	hw.now = requestTimeout + 1
	e.Task()

	if e.state != Idle {
		t.Fatalf("state = %v, want Idle after timeout", e.state)
	}

	if e.Stats().RequestTimeouts != 1 {
		t.Fatalf("RequestTimeouts = %d, want 1", e.Stats().RequestTimeouts)
	}
}

func TestTXEnqueueRefusedWhenFull(t *testing.T) {
	hw := newFakeHardware(64)
	cfg := Config{TXQueueBytes: 4}
	e := New(hw, cfg)
	e.Init()

	if err := e.TXEnqueue([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("TXEnqueue: %v", err)
	}

	if err := e.TXEnqueue([]byte{5}); err != ErrQueueFull {
		t.Fatalf("TXEnqueue err = %v, want ErrQueueFull", err)
	}
}

func TestOversizeWritePayloadCounted(t *testing.T) {
	hw := newFakeHardware(2048)
	e := New(hw, DefaultConfig())
	e.Init()

	e.SetRXCallback(func(payload []byte) {})

	length := PagePayloadBytes + 10
	frame := make([]byte, 0, 3+length)
	frame = append(frame, cmdWrite, byte(length>>8), byte(length&0xFF))
	frame = append(frame, make([]byte, length)...)

	hw.push(frame...)
	e.Task()

	if e.Stats().OversizePayloads != 1 {
		t.Fatalf("OversizePayloads = %d, want 1", e.Stats().OversizePayloads)
	}
}
