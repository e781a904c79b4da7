// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rp2040

import (
	"time"

	"github.com/usbarmory/sixbridge/dma"
	"github.com/usbarmory/sixbridge/ringbuf"
)

// ParallelBus binds parallelbus.HardwareBinding to a PIO state machine
// and its pair of DMA channels.
type ParallelBus struct {
	SM    PIOStateMachine
	RX    DMAChannel
	TX    DMAChannel
	Ready *Pin // not used by this type; the board package leaves it nil ("I have something" is driven through SPIBridge.HaveData)

	rxBuf []byte
}

// NewParallelBus reserves a DMA-safe RX ring of rxSizeBytes (which must
// be a power of two) and wires it to sm's RX FIFO.
func NewParallelBus(sm PIOStateMachine, rx, tx DMAChannel, rxSizeBytes int) *ParallelBus {
	addr, buf := dma.Reserve(rxSizeBytes, rxSizeBytes)
	rx.InitSelfTriggeringRX(uint32(addr), sm.RXFIFOAddr(), uint32(rxSizeBytes))

	return &ParallelBus{SM: sm, RX: rx, TX: tx, rxBuf: buf}
}

// RXBuf implements parallelbus.HardwareBinding.
func (p *ParallelBus) RXBuf() []byte {
	return p.rxBuf
}

// RXClock implements parallelbus.HardwareBinding.
func (p *ParallelBus) RXClock() ringbuf.ProducerClock {
	return &p.RX
}

// TXBusy implements parallelbus.HardwareBinding.
func (p *ParallelBus) TXBusy() bool {
	return p.TX.Busy()
}

// ProgramTX implements parallelbus.HardwareBinding: it copies staging
// into a DMA-addressable buffer and arms the one-shot TX channel against
// the PIO's TX FIFO.
func (p *ParallelBus) ProgramTX(staging []byte) {
	addr := dma.Alloc(staging, 0)
	p.TX.ArmOneShot(uint32(addr), p.SM.TXFIFOAddr(), len(staging), true)
}

// SPIBridge binds spislave.HardwareBinding to the SPI peripheral, its
// pair of DMA channels, and the two side-band GPIO lines.
type SPIBridge struct {
	Peripheral SPI
	RX         DMAChannel
	TX         DMAChannel
	HaveData   *ActiveLowLine
	Ready      *ActiveLowLine

	rxBuf []byte
}

// NewSPIBridge reserves a DMA-safe RX ring of rxSizeBytes (power of two)
// and wires it to the SPI peripheral's RX path.
func NewSPIBridge(spi SPI, rx, tx DMAChannel, haveData, ready *ActiveLowLine, rxSizeBytes int) *SPIBridge {
	addr, buf := dma.Reserve(rxSizeBytes, rxSizeBytes)
	rx.InitSelfTriggeringRX(uint32(addr), spi.DataReg(), uint32(rxSizeBytes))

	return &SPIBridge{
		Peripheral: spi,
		RX:         rx,
		TX:         tx,
		HaveData:   haveData,
		Ready:      ready,
		rxBuf:      buf,
	}
}

// RXBuf implements spislave.HardwareBinding.
func (s *SPIBridge) RXBuf() []byte {
	return s.rxBuf
}

// RXClock implements spislave.HardwareBinding.
func (s *SPIBridge) RXClock() ringbuf.ProducerClock {
	return &s.RX
}

// ChipSelectRisen implements spislave.HardwareBinding.
func (s *SPIBridge) ChipSelectRisen() bool {
	return s.Peripheral.ChipSelectRisen()
}

// TXBusy implements spislave.HardwareBinding.
func (s *SPIBridge) TXBusy() bool {
	return s.TX.Busy()
}

// ProgramTX implements spislave.HardwareBinding.
func (s *SPIBridge) ProgramTX(page []byte) {
	addr := dma.Alloc(page, 0)
	s.TX.ArmOneShot(uint32(addr), s.Peripheral.DataReg(), len(page), true)
}

// SetHaveData implements spislave.HardwareBinding.
func (s *SPIBridge) SetHaveData(asserted bool) {
	s.HaveData.Assert(asserted)
}

// SetReady implements spislave.HardwareBinding.
func (s *SPIBridge) SetReady(asserted bool) {
	s.Ready.Assert(asserted)
}

// clockStart anchors SPIBridge.Now's monotonic readings.
var clockStart = time.Now()

// Now implements spislave.HardwareBinding using the runtime's monotonic
// clock (nanoseconds since package initialization), the same time source
// the teacher's reg.WaitFor busy-loops use.
func (s *SPIBridge) Now() int64 {
	return int64(time.Since(clockStart))
}
