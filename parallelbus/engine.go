// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package parallelbus

import (
	"log"

	"github.com/usbarmory/sixbridge/ringbuf"
)

// TxnState is the parallel-bus engine's combined state: Idle/GotDevice/
// Receiving drive the RX byte-parser (spec §4.3), Sending tracks a
// one-shot TX DMA in flight for a read response.
type TxnState int

const (
	// Idle is waiting for a device-select byte.
	Idle TxnState = iota
	// GotDevice has a device byte and is waiting for a length byte. The
	// top bit of the device byte (0x80) instead starts a read-request,
	// handled inline without a parser state change.
	GotDevice
	// Receiving is accumulating a WRITE payload.
	Receiving
	// Sending names a one-shot TX DMA in flight answering a read
	// request. The Engine tracks it in a flag beside the parser state,
	// which itself only moves through Idle/GotDevice/Receiving. The TX
	// DMA stays armed until the CPU's reads drain it; no timeout
	// reclaims it.
	Sending
)

// Stats accumulates counters for diagnostics; nothing here ever gates
// protocol behavior (spec §9: hardware/protocol conditions are
// counters-only, never errors).
type Stats struct {
	BytesReceived       uint64
	BytesSent           uint64
	RXOverruns          uint64
	RXBankruptcies      uint64
	TXUnderflows        uint64
	InvalidDeviceWrites uint64
	Drops               []uint64 // per-device TX-buffer-full drop count
}

// Engine is the parallel-bus slave state machine: it turns a stream of
// bytes captured off the 6502 bus (via HardwareBinding's self-triggering
// RX DMA) into per-device WRITE payloads, and serves per-device
// read-requests from a per-device TX byte queue via a one-shot TX DMA.
type Engine struct {
	hw  HardwareBinding
	cfg Config

	rx *ringbuf.Ring

	parser  TxnState
	sending bool
	device  uint8
	wantLen uint8
	payload []byte
	scratch []byte

	txBufs []*txQueue

	pendingRead      uint8
	pendingReadValid bool

	callbacks []func(payload []byte)

	queryIntSrc func() (device uint8, ok bool)

	stats Stats
}

// txQueue is a minimal byte FIFO backing one device's outbound buffer.
// Bytes are read by the CPU one read-request response at a time, never
// concurrently with DeviceWrite (both only run from the main loop's
// Task), so no locking is needed.
type txQueue struct {
	buf  []byte
	head int
	len  int
}

func newTXQueue(capacity int) *txQueue {
	return &txQueue{buf: make([]byte, capacity)}
}

func (q *txQueue) push(data []byte) (written int) {
	free := len(q.buf) - q.len
	if len(data) > free {
		data = data[:free]
	}

	tail := (q.head + q.len) % len(q.buf)

	for _, b := range data {
		q.buf[tail] = b
		tail = (tail + 1) % len(q.buf)
	}

	q.len += len(data)

	return len(data)
}

func (q *txQueue) drain(max int) []byte {
	n := q.len
	if n > max {
		n = max
	}

	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}

	q.head = (q.head + n) % len(q.buf)
	q.len -= n

	return out
}

// New constructs an Engine bound to hw. The returned Engine is inert until
// Init and Start are called.
func New(hw HardwareBinding, cfg Config) *Engine {
	if cfg.MaxDevices == 0 {
		panic("parallelbus: MaxDevices must be non-zero")
	}

	txBufs := make([]*txQueue, cfg.MaxDevices)
	for i := range txBufs {
		txBufs[i] = newTXQueue(cfg.DeviceTXBufferBytes)
	}

	return &Engine{
		hw:        hw,
		cfg:       cfg,
		payload:   make([]byte, 0, MaxPayload),
		scratch:   make([]byte, MaxPayload+2),
		txBufs:    txBufs,
		callbacks: make([]func(payload []byte), cfg.MaxDevices),
		stats:     Stats{Drops: make([]uint64, cfg.MaxDevices)},
	}
}

// Init binds the RX ring to the hardware's self-triggering DMA buffer and
// clock. It must be called once before Start, after the hardware binding's
// own peripheral initialization has run.
func (e *Engine) Init() {
	e.rx = ringbuf.New(e.hw.RXBuf(), e.hw.RXClock())
}

// Start logs engine bring-up. The RX DMA itself is already free-running by
// the time Init returns (the hardware binding wires it at peripheral
// init); Start exists as the parallel to the other engines' lifecycle and
// as the place a real board package would unmask the wrap-completion
// interrupt.
func (e *Engine) Start() {
	log.Printf("parallelbus: starting, %d devices, %d byte RX ring", e.cfg.MaxDevices, e.rx.Size())
}

// RegisterRXCallback installs fn to be invoked, synchronously from Task,
// with each complete WRITE payload addressed to device. Passing a nil fn
// clears any previously registered callback.
func (e *Engine) RegisterRXCallback(device uint8, fn func(payload []byte)) {
	if device >= e.cfg.MaxDevices {
		panic("parallelbus: device out of range")
	}

	e.callbacks[device] = fn
}

// SetInterruptSourceQuery installs the callback consulted when the host
// reads InterruptSourceDevice: it should report the device (if any) whose
// TX buffer has data pending, so the 6502 side knows who to poll next
// (spec §4.3, §4.4).
func (e *Engine) SetInterruptSourceQuery(fn func() (device uint8, ok bool)) {
	e.queryIntSrc = fn
}

// Task drains every byte the RX DMA has produced since the last call,
// running the WRITE-parsing state machine, and — per spec §4.3's
// read-serving state machine — services any pending read request once
// the TX DMA from a previous response has completed. It should be called
// once per iteration of the firmware's main loop (spec §5).
func (e *Engine) Task() {
	if e.rx.CheckOverrun() {
		e.stats.RXOverruns++
		e.resetParser()
	}

	unread := e.rx.Unread()

	for unread > 0 {
		ok := e.rx.WithBankruptcyCheck(1, e.scratch[:1], func(view []byte) {
			e.consume(view[0])
		})

		if !ok {
			e.stats.RXBankruptcies++
			e.resetParser()
			return
		}

		e.rx.Advance(1)
		e.stats.BytesReceived++
		unread = e.rx.Unread()
	}

	if e.sending && !e.hw.TXBusy() {
		e.sending = false
	}

	if e.pendingReadValid && !e.sending {
		e.serveReadNow(e.pendingRead)
	}
}

// consume feeds a single captured bus byte through the RX parser state
// machine.
func (e *Engine) consume(b byte) {
	switch e.parser {
	case Idle:
		if b&0x80 != 0 {
			// read-request: top bit set, low 7 bits are the device ID.
			e.pendingRead = b &^ 0x80
			e.pendingReadValid = true
			return
		}

		e.device = b
		e.parser = GotDevice

	case GotDevice:
		// Length 0 has no meaning on the wire (spec §3): it returns
		// straight to Idle without ever invoking a device callback.
		if b == 0 {
			e.parser = Idle
			return
		}

		e.wantLen = b
		e.payload = e.payload[:0]
		e.parser = Receiving

	case Receiving:
		e.payload = append(e.payload, b)

		if len(e.payload) >= int(e.wantLen) {
			e.finishWrite()
		}
	}
}

func (e *Engine) finishWrite() {
	device, payload := e.device, e.payload
	e.parser = Idle

	if device >= e.cfg.MaxDevices {
		e.stats.InvalidDeviceWrites++
		return
	}

	if cb := e.callbacks[device]; cb != nil {
		cb(payload)
	}
}

func (e *Engine) resetParser() {
	e.parser = Idle
	e.payload = e.payload[:0]
}

// serveReadNow answers the pending read-request for device, per spec
// §4.3's "on the next task()" rule: if nothing is queued for device the
// TX FIFO stays empty and the CPU keeps observing the 0xFF sentinel, so
// pendingRead is left set and retried on every subsequent Task call.
// InterruptSourceDevice is special-cased: it never touches a device TX
// buffer, it consults the interrupt-source callback instead.
func (e *Engine) serveReadNow(device uint8) {
	if device == InterruptSourceDevice {
		e.serveInterruptSourceRead()
		e.pendingReadValid = false
		return
	}

	if int(device) >= len(e.txBufs) {
		e.pendingReadValid = false
		return
	}

	payload := e.txBufs[device].drain(MaxPayload)

	if len(payload) == 0 {
		e.stats.TXUnderflows++
		return
	}

	frame := make([]byte, 1+len(payload))
	frame[0] = byte(len(payload))
	copy(frame[1:], payload)

	e.hw.ProgramTX(frame)
	e.sending = true
	e.pendingReadValid = false
	e.stats.BytesSent += uint64(len(payload))
}

func (e *Engine) serveInterruptSourceRead() {
	var frame [2]byte

	if e.queryIntSrc == nil {
		frame[0] = 0
		frame[1] = NotReadySentinel
	} else if device, ok := e.queryIntSrc(); ok {
		frame[0] = 1
		frame[1] = device
	} else {
		frame[0] = 0
		frame[1] = NotReadySentinel
	}

	e.hw.ProgramTX(frame[:])
	e.sending = true
	e.stats.BytesSent += uint64(len(frame))
}

// DeviceWrite enqueues data for device's TX buffer, to be drained by a
// future read-request. It returns the number of bytes actually enqueued,
// which is less than len(data) if the buffer doesn't have room; the
// remainder is dropped and counted.
func (e *Engine) DeviceWrite(device uint8, data []byte) (written int) {
	if device >= e.cfg.MaxDevices {
		panic("parallelbus: device out of range")
	}

	n := e.txBufs[device].push(data)

	if n < len(data) {
		e.stats.Drops[device] += uint64(len(data) - n)
	}

	return n
}

// PendingDevice reports the lowest-numbered device (excluding
// InterruptSourceDevice) whose TX buffer currently holds data, for the
// bridge to expose via SetInterruptSourceQuery and to drive its
// 6502-facing interrupt line (spec §4.4: asserted whenever any device's
// TX buffer is non-empty).
func (e *Engine) PendingDevice() (device uint8, ok bool) {
	for i := 1; i < len(e.txBufs); i++ {
		if e.txBufs[i].len > 0 {
			return uint8(i), true
		}
	}

	return 0, false
}

// PendingInterruptSource reports what the query registered via
// SetInterruptSourceQuery returns right now (false if none is
// registered), i.e. what an InterruptSourceDevice read served at this
// moment would report. It is exposed for tests and diagnostics; the
// engine itself only calls the registered callback.
func (e *Engine) PendingInterruptSource() (device uint8, ok bool) {
	if e.queryIntSrc == nil {
		return 0, false
	}

	return e.queryIntSrc()
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.Drops = append([]uint64(nil), e.stats.Drops...)
	return s
}
