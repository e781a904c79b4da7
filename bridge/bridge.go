// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package bridge

import (
	"github.com/usbarmory/sixbridge/parallelbus"
	"github.com/usbarmory/sixbridge/spislave"
)

// tlvState is the SPI-RX-to-parallel-bus TLV parser state (spec §4.4),
// deliberately symmetric with parallelbus's own RX parser.
type tlvState int

const (
	tlvIdle tlvState = iota
	tlvGotDevice
	tlvReceiving
)

// Stats accumulates bridge-level counters; nothing here gates behavior.
type Stats struct {
	// TLVDrops counts complete TLV frames that parallelbus.DeviceWrite
	// could not fully deliver (short write: buffer didn't have room),
	// and parallel-bus WRITEs the SPI TX queue refused (ErrQueueFull).
	TLVDrops uint64
	// FramingResyncs counts single-byte discards while resynchronizing
	// after an invalid device byte in the TLV stream.
	FramingResyncs uint64
}

// Bridge owns the mapping between the parallel-bus engine (6502-facing)
// and the SPI engine (host-facing): every parallel-bus WRITE becomes a
// TLV frame on the SPI TX queue, and every TLV frame parsed out of the
// SPI RX stream becomes a parallel-bus DeviceWrite.
type Bridge struct {
	p   *parallelbus.Engine
	s   *spislave.Engine
	irq IRQLine
	cfg Config

	state   tlvState
	device  uint8
	wantLen uint8
	payload []byte

	irqAsserted bool

	stats Stats
}

// New constructs a Bridge wiring p and s together through irq. irq must
// already be configured as an output by the caller's board-init code
// (spec §4.4: direction is never toggled here, eliminating the
// initialize-before-direction glitch class by construction).
func New(p *parallelbus.Engine, s *spislave.Engine, irq IRQLine, cfg Config) *Bridge {
	return &Bridge{
		p:       p,
		s:       s,
		irq:     irq,
		cfg:     cfg,
		payload: make([]byte, 0, parallelbus.MaxPayload),
	}
}

// Init wires per-device callbacks on both engines and sets the IRQ line
// to its initial (deasserted) value. It must be called once, after both
// engines' own Init, before either engine's Task is called.
func (b *Bridge) Init() {
	for device := uint8(1); device < b.cfg.MaxDevices; device++ {
		d := device
		b.p.RegisterRXCallback(d, func(payload []byte) {
			b.encodeTLV(d, payload)
		})
	}

	b.p.SetInterruptSourceQuery(b.p.PendingDevice)
	b.s.SetRXCallback(b.consumeSPIByte)

	b.irq.Assert(false)
}

// encodeTLV is the parallel-bus-side callback: it frames a completed
// parallel-bus WRITE as [device, length, payload...] and enqueues it on
// the SPI TX queue (spec §4.4).
func (b *Bridge) encodeTLV(device uint8, payload []byte) {
	n := len(payload)
	if n > 255 {
		n = 255
	}

	frame := make([]byte, 2+n)
	frame[0] = device
	frame[1] = byte(n)
	copy(frame[2:], payload[:n])

	// A full SPI TX queue here is the one caller-facing capacity
	// failure this engine returns (spec §9); the bridge has no
	// upstream caller to propagate it to, so it is counted instead,
	// mirroring how other cross-transport drops are handled.
	if b.s.TXEnqueue(frame) != nil {
		b.stats.TLVDrops++
	}
}

// consumeSPIByte is the SPI-side callback: spislave.Engine invokes it once
// per complete WRITE frame's payload, and it feeds that payload byte by
// byte through the TLV parser, whose state carries over from one frame to
// the next.
func (b *Bridge) consumeSPIByte(payload []byte) {
	for _, bt := range payload {
		b.consumeTLVByte(bt)
	}
}

func (b *Bridge) consumeTLVByte(bt byte) {
	switch b.state {
	case tlvIdle:
		if bt >= b.cfg.MaxDevices {
			b.stats.FramingResyncs++
			return
		}

		b.device = bt
		b.state = tlvGotDevice

	case tlvGotDevice:
		// Length 0 has no meaning on the wire (spec §3): it returns
		// straight to Idle without ever calling DeviceWrite.
		if bt == 0 {
			b.state = tlvIdle
			return
		}

		b.wantLen = bt
		b.payload = b.payload[:0]
		b.state = tlvReceiving

	case tlvReceiving:
		b.payload = append(b.payload, bt)

		if len(b.payload) >= int(b.wantLen) {
			b.finishTLV()
		}
	}
}

func (b *Bridge) finishTLV() {
	device, payload := b.device, b.payload
	b.state = tlvIdle

	written := b.p.DeviceWrite(device, payload)

	if written < len(payload) {
		b.stats.TLVDrops++
	}
}

// Task recomputes the 6502-facing interrupt line once per main-loop
// iteration (spec §4.4, §5). The TLV parser itself runs as each SPI
// WRITE frame completes, via the callback Init registered with the SPI
// engine — by the time the caller's main loop reaches Bridge.Task, the
// SPI engine's own Task call (which must run first) has already
// delivered every TLV byte available this iteration.
func (b *Bridge) Task() {
	_, pending := b.p.PendingDevice()
	if pending != b.irqAsserted {
		b.irq.Assert(pending)
		b.irqAsserted = pending
	}
}

// Stats returns a snapshot of the bridge's counters.
func (b *Bridge) Stats() Stats {
	return b.stats
}
