// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package parallelbus

import "github.com/usbarmory/sixbridge/ringbuf"

// HardwareBinding is the seam between this engine and the PIO/DMA registers
// that actually implement it (see soc/raspberrypi/rp2040). It lets the
// state machine, framing, and accounting logic in this package be tested
// without silicon.
//
// The real binding programs a PIO state machine that, on every PHI2 clock
// edge, samples chip-select/R-W/data and either pushes a captured write
// byte into a DMA-fed RX FIFO or pulls a byte from a TX FIFO for a read
// cycle (driving 0xFF, via a pre-loaded all-ones output-shift register,
// when the FIFO is empty) — see spec §4.3.
type HardwareBinding interface {
	// RXBuf returns the backing array for the self-triggering RX DMA
	// ring: a power-of-two, naturally aligned buffer the PIO write-FIFO
	// continuously drains into.
	RXBuf() []byte

	// RXClock exposes the RX ring's epoch/remaining registers.
	RXClock() ringbuf.ProducerClock

	// TXBusy reports whether a previously armed one-shot TX DMA (a read
	// response) is still in flight.
	TXBusy() bool

	// ProgramTX arms a one-shot DMA transferring staging (a
	// [length, payload...] frame, length-prefixed per spec §4.3) to the
	// PIO read-FIFO. Callers only invoke this when TXBusy() is false.
	ProgramTX(staging []byte)
}
