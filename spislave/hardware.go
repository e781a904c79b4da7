// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package spislave

import "github.com/usbarmory/sixbridge/ringbuf"

// HardwareBinding is the seam between this engine and the SPI peripheral
// and its two side-band open-drain lines (see soc/raspberrypi/rp2040).
type HardwareBinding interface {
	// RXBuf returns the backing array for the self-triggering SPI RX
	// DMA ring.
	RXBuf() []byte

	// RXClock exposes the RX ring's epoch/remaining registers.
	RXClock() ringbuf.ProducerClock

	// ChipSelectRisen reports, and clears, a latched chip-select
	// rising-edge flag: the point at which a just-completed SPI
	// transaction's bytes are guaranteed to have landed in RXBuf.
	ChipSelectRisen() bool

	// TXBusy reports whether a previously armed one-shot TX DMA is
	// still in flight.
	TXBusy() bool

	// ProgramTX arms a one-shot DMA transferring a full PageBytes
	// frame to the SPI peripheral's TX FIFO.
	ProgramTX(page []byte)

	// SetHaveData drives the "I have something for you" open-drain
	// line. true asserts it (drives low), false releases it.
	SetHaveData(asserted bool)

	// SetReady drives the "ready" open-drain line in response to a
	// REQUEST, per the REQUEST/READY handshake of spec §4.2.
	SetReady(asserted bool)

	// Now returns a monotonic nanosecond timestamp, used for the
	// REQUEST timeout. Backed by the runtime's monotonic clock on real
	// hardware.
	Now() int64
}
