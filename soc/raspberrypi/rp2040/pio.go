// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rp2040

import "github.com/usbarmory/sixbridge/internal/reg"

// PIO register offsets, relative to a block's base: the SM0_* registers
// repeat every SM_STRIDE bytes per state machine, the FIFO registers
// every 4 bytes (RP2040 datasheet §3.7).
const (
	SM_STRIDE = 0x18

	SM0_CLKDIV = 0xc8
	SM0_EXECCTRL = 0xcc
	SM0_SHIFTCTRL = 0xd0

	TXF0 = 0x10 // + sm*4: transmit FIFO
	RXF0 = 0x20 // + sm*4: receive FIFO

	FSTAT = 0x04 // FIFO status: per-SM empty/full flags
)

// PIOStateMachine is one programmable-I/O state machine, loaded with the
// tiny PHI2-synchronous program described in spec §4.3: sample
// chip-select/read-write/data on the clock edge, push a captured write
// byte to RXF, or pull a byte from TXF for a read cycle — driving
// whatever the output-shift register holds (pre-loaded to 0xFFFF_FFFF
// after every serviced read) when TXF is empty.
//
// The instruction program itself is not modeled here: PIO assembly is
// loaded once at board init as a fixed instruction word array, out of
// scope for this package's register-level responsibilities (arming
// DMA against the FIFOs, reading FIFO status).
type PIOStateMachine struct {
	Base  uint32
	Index int
}

func (sm *PIOStateMachine) smBase() uint32 {
	return sm.Base + uint32(sm.Index)*SM_STRIDE
}

// TXFIFOAddr returns the peripheral address a one-shot TX DMA channel
// should target.
func (sm *PIOStateMachine) TXFIFOAddr() uint32 {
	return sm.Base + TXF0 + uint32(sm.Index)*4
}

// RXFIFOAddr returns the peripheral address a self-triggering RX DMA
// channel should source from.
func (sm *PIOStateMachine) RXFIFOAddr() uint32 {
	return sm.Base + RXF0 + uint32(sm.Index)*4
}

// TXFIFOEmpty reports whether the transmit FIFO has no byte queued,
// meaning a read cycle will fall through to the sentinel-loaded
// output-shift register (spec §4.3).
func (sm *PIOStateMachine) TXFIFOEmpty() bool {
	return reg.Get(sm.Base+FSTAT, 8+sm.Index, 1) == 1
}
