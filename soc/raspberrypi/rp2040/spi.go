// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rp2040

import (
	"sync/atomic"
)

// PL022-derived SPI register offsets (RP2040 datasheet §4.4), slave
// mode.
const (
	SSPDR  = 0x08
	SSPSR  = 0x0c
	SSPCR1 = 0x04

	sspsrTFE = 0 // transmit FIFO empty
	sspsrRNE = 2 // receive FIFO not empty
	sspcr1SOD = 3 // slave-mode output disable
	sspcr1MS  = 2 // master/slave select
)

// SPI is the RP2040 SPI peripheral configured in slave mode for the
// host-facing link.
type SPI struct {
	Base uint32

	csRisen int32 // set by the board package's GPIO rising-edge handler
}

// DataReg returns the peripheral address DMA channels transfer to/from.
func (s *SPI) DataReg() uint32 {
	return s.Base + SSPDR
}

// onChipSelectRise is invoked by the board package's GPIO IRQ handler on
// the rising edge of the external chip-select line (spec §5, interrupt
// handler 1): it only sets a flag, never allocates or blocks.
func (s *SPI) onChipSelectRise() {
	atomic.StoreInt32(&s.csRisen, 1)
}

// ChipSelectRisen implements spislave.HardwareBinding: it consumes the
// latched flag.
func (s *SPI) ChipSelectRisen() bool {
	return atomic.SwapInt32(&s.csRisen, 0) == 1
}
