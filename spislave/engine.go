// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spislave

import (
	"log"

	"github.com/usbarmory/sixbridge/ringbuf"
)

// State is the REQUEST/READY session state (spec §4.2).
type State int

const (
	// Idle is waiting for a command byte.
	Idle State = iota
	// Requested has received a REQUEST and is waiting for a Task tick
	// to build and arm the staging page.
	Requested
	// Ready has armed the TX DMA and asserted "ready"; waiting for the
	// host's READ to complete (chip-select rising).
	Ready
)

// Stats accumulates counters for diagnostics; hardware/protocol
// conditions never gate behavior, they only increment a counter here
// (spec §9).
type Stats struct {
	BytesReceived    uint64
	BytesSent        uint64
	RXOverruns       uint64
	RXBankruptcies   uint64
	ProtocolErrors   uint64
	RequestTimeouts  uint64
	OversizePayloads uint64
}

// Engine is the SPI slave state machine: it parses the WRITE/REQUEST/READ
// command stream captured by a self-triggering RX DMA, invokes a
// registered callback once per complete WRITE, and answers REQUEST with
// a staged READ page built from a byte-granular TX queue.
type Engine struct {
	hw  HardwareBinding
	cfg Config

	rx *ringbuf.Ring

	rxCallback func(payload []byte)

	txQueue []byte
	txHead  int
	txLen   int

	state        State
	requestedAt  int64
	pageScratch  []byte
	byteScratch  [1]byte

	stats Stats
}

// New constructs an Engine bound to hw. The returned Engine is inert until
// Init is called.
func New(hw HardwareBinding, cfg Config) *Engine {
	if cfg.TXQueueBytes <= 0 {
		panic("spislave: TXQueueBytes must be positive")
	}

	return &Engine{
		hw:          hw,
		cfg:         cfg,
		txQueue:     make([]byte, cfg.TXQueueBytes),
		pageScratch: make([]byte, PageBytes),
	}
}

// Init binds the RX ring to the hardware's self-triggering DMA buffer and
// clock, and asserts "I have something" so the host's boot-time wait
// (spec §4.4 startup handshake) is satisfied even with nothing queued.
func (e *Engine) Init() {
	e.rx = ringbuf.New(e.hw.RXBuf(), e.hw.RXClock())
	e.hw.SetHaveData(true)

	log.Printf("spislave: starting, %d byte TX queue, %d byte RX ring", len(e.txQueue), e.rx.Size())
}

// SetRXCallback installs fn to be invoked, synchronously from Task, with
// each complete WRITE payload. Passing nil clears any previously
// registered callback.
func (e *Engine) SetRXCallback(fn func(payload []byte)) {
	e.rxCallback = fn
}

// TXEnqueue appends payload to the outbound byte queue that READ drains.
// It returns ErrQueueFull if there is not enough room, per spec §9's rule
// that caller-facing capacity failures are reported, not merely counted.
func (e *Engine) TXEnqueue(payload []byte) error {
	if len(payload) > len(e.txQueue)-e.txLen {
		return ErrQueueFull
	}

	tail := (e.txHead + e.txLen) % len(e.txQueue)

	for _, b := range payload {
		e.txQueue[tail] = b
		tail = (tail + 1) % len(e.txQueue)
	}

	e.txLen += len(payload)

	if e.state == Idle {
		e.hw.SetHaveData(true)
	}

	return nil
}

// FreeSpaceUnits reports inbound-queue headroom in 64-byte increments,
// saturating at 0xFF for >= 16KiB free, per spec §4.2's READ reply format.
func (e *Engine) FreeSpaceUnits() uint8 {
	free := len(e.txQueue) - e.txLen
	units := free / 64

	if units > 0xFF {
		units = 0xFF
	}

	return uint8(units)
}

// Task drains newly received command bytes, runs the REQUEST/READY
// session state machine, and retires a completed READ on chip-select
// rising. It should be called once per iteration of the firmware's main
// loop (spec §5).
func (e *Engine) Task() {
	if e.rx.CheckOverrun() {
		e.stats.RXOverruns++
	}

	e.drainRX()

	switch e.state {
	case Requested:
		e.buildAndArmPage()

	case Ready:
		if e.hw.ChipSelectRisen() {
			e.hw.SetReady(false)
			e.state = Idle

			if e.txLen > 0 {
				e.hw.SetHaveData(true)
			}
		} else if e.hw.Now()-e.requestedAt > requestTimeout {
			e.stats.RequestTimeouts++
			e.hw.SetReady(false)
			e.state = Idle
		}

	case Idle:
		if e.hw.ChipSelectRisen() {
			// no-op: a stray chip-select edge outside a tracked
			// session carries no state to retire.
		}
	}
}

func (e *Engine) drainRX() {
	unread := e.rx.Unread()

	for unread > 0 {
		var cmd byte

		ok := e.rx.WithBankruptcyCheck(1, e.byteScratch[:], func(view []byte) {
			cmd = view[0]
		})

		if !ok {
			e.stats.RXBankruptcies++
			return
		}

		// Advance past the command byte before dispatching, so
		// consumeCommand (and consumeWrite's length/payload Peeks)
		// read from the position just after it, not the command
		// byte itself.
		e.rx.Advance(1)
		e.stats.BytesReceived++

		e.consumeCommand(cmd)

		unread = e.rx.Unread()
	}
}

// consumeCommand dispatches on the leading command byte of a transaction,
// which drainRX has already advanced the ring past. WRITE's length/payload
// bytes are consumed here too, since a WRITE's bytes all land in the RX
// ring before chip-select rises and the whole frame is available in one
// pass (spec §4.2: "a contiguous view of the payload, assembling a copy if
// the ring wraps").
func (e *Engine) consumeCommand(cmd byte) {
	switch cmd {
	case cmdWrite:
		e.consumeWrite()

	case cmdRequest:
		if e.state != Idle {
			e.stats.ProtocolErrors++
			return
		}

		e.hw.SetHaveData(false)
		e.state = Requested
		e.requestedAt = e.hw.Now()

	case cmdRead:
		// While the one-shot TX DMA armed in Requested->Ready shifts
		// the page out on MISO, the master clocks PAGE-1 dummy bytes
		// on MOSI; they land in the RX ring behind the command byte
		// and carry nothing, so up to PAGE-1 of them are skipped here
		// rather than parsed as commands.
		skip := e.rx.Unread()
		if skip > PageBytes-1 {
			skip = PageBytes - 1
		}

		e.rx.Advance(uint32(skip))
		e.stats.BytesReceived += skip

	default:
		e.stats.ProtocolErrors++
	}
}

// consumeWrite reads the two-byte big-endian length and the payload that
// follows, relying on the RX ring already holding every byte of the
// in-flight transaction by the time the command byte is parsed.
func (e *Engine) consumeWrite() {
	if e.rx.Unread() < 2 {
		e.stats.ProtocolErrors++
		return
	}

	lenScratch := make([]byte, 2)
	view, _ := e.rx.Peek(2, lenScratch)
	length := int(view[0])<<8 | int(view[1])
	e.rx.Advance(2)
	e.stats.BytesReceived += 2

	if length > PagePayloadBytes {
		e.stats.OversizePayloads++
		length = PagePayloadBytes
	}

	if uint64(length) > e.rx.Unread() {
		e.stats.ProtocolErrors++
		return
	}

	scratch := make([]byte, length)
	ok := e.rx.WithBankruptcyCheck(uint32(length), scratch, func(view []byte) {
		if e.rxCallback != nil {
			e.rxCallback(view)
		}
	})

	if !ok {
		e.stats.RXBankruptcies++
		return
	}

	e.rx.Advance(uint32(length))
	e.stats.BytesReceived += uint64(length)
}

// buildAndArmPage drains up to PagePayloadBytes of the TX queue into the
// staging buffer, fills the 3-byte header, zero-pads the tail, arms the
// one-shot TX DMA, and asserts "ready" (spec §4.2 Requested->Ready
// transition).
func (e *Engine) buildAndArmPage() {
	if e.hw.TXBusy() {
		return
	}

	n := e.txLen
	if n > PagePayloadBytes {
		n = PagePayloadBytes
	}

	page := e.pageScratch
	page[0] = byte(n >> 8)
	page[1] = byte(n & 0xFF)
	page[2] = e.FreeSpaceUnits()

	for i := 0; i < n; i++ {
		page[3+i] = e.txQueue[(e.txHead+i)%len(e.txQueue)]
	}

	for i := 3 + n; i < PageBytes; i++ {
		page[i] = 0
	}

	e.txHead = (e.txHead + n) % len(e.txQueue)
	e.txLen -= n

	e.hw.ProgramTX(page)
	e.hw.SetReady(true)
	e.stats.BytesSent += uint64(n)
	e.state = Ready
}

// RXDrain is exposed for tests and diagnostics: it copies up to len(dst)
// unread RX bytes into dst without running them through the command
// parser, returning the number of bytes copied.
func (e *Engine) RXDrain(dst []byte) int {
	n := uint32(len(dst))
	unread := e.rx.Unread()

	if uint64(n) > unread {
		n = uint32(unread)
	}

	if n == 0 {
		return 0
	}

	scratch := make([]byte, n)
	view, _ := e.rx.Peek(n, scratch)
	copy(dst[:n], view)

	e.rx.Advance(n)
	e.stats.BytesReceived += uint64(n)

	return int(n)
}

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	return e.stats
}
