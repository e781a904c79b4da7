// Raspberry Pi Pico bridge board support for tamago/arm
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package picobridge provides hardware initialization, automatically on
// import, for a Raspberry Pi Pico (RP2040) wired as a 6502 parallel-bus
// to SPI host bridge.
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm` as
// supported by the TamaGo framework for bare metal Go on ARM SoCs, see
// https://github.com/usbarmory/tamago.
package picobridge

import (
	"github.com/usbarmory/sixbridge/soc/raspberrypi/rp2040"

	_ "unsafe"
)

// Pin assignments. The parallel-bus data/control lines occupy GPIO0-12,
// the SPI peripheral and its side-band lines GPIO16-21, matching a
// single Pico's available header pins without sharing with the onboard
// LED (GPIO25, left unused here).
const (
	pinParallelBusIRQ = 13 // 6502-facing interrupt, active-low

	pinSPIHaveData = 20 // "I have something", active-low
	pinSPIReady    = 21 // "ready", active-low
)

// Peripheral instances wiring this board's two engines to the SoC
// package's register-level support.
var (
	ParallelBus *rp2040.ParallelBus
	SPI         *rp2040.SPIBridge
	IRQ         *rp2040.ActiveLowLine
)

// Init takes care of the lower level SoC initialization triggered early
// in runtime setup: it arms both self-triggering RX DMA rings and
// configures the three GPIO lines this board exposes to the bridge.
//
//go:linkname Init runtime.hwinit
func Init() {
	irqPin := rp2040.NewPin(pinParallelBusIRQ)
	IRQ = rp2040.NewActiveLowLine(irqPin)
	// Level set before direction, matching the startup handshake
	// of spec §6: the 6502 side sees its interrupt line at a known
	// level (deasserted) the instant this pin becomes an output.
	IRQ.Assert(false)
	irqPin.Out()

	haveDataPin := rp2040.NewPin(pinSPIHaveData)
	haveDataPin.Out()
	readyPin := rp2040.NewPin(pinSPIReady)
	readyPin.Out()

	haveData := rp2040.NewActiveLowLine(haveDataPin)
	ready := rp2040.NewActiveLowLine(readyPin)

	sm := rp2040.PIOStateMachine{Base: rp2040.PIO0Base, Index: 0}
	pbRX := rp2040.DMAChannel{Base: rp2040.DMABase + 0*0x40}
	pbTX := rp2040.DMAChannel{Base: rp2040.DMABase + 1*0x40}
	ParallelBus = rp2040.NewParallelBus(sm, pbRX, pbTX, 8192)

	spi := rp2040.SPI{Base: rp2040.SPI0Base}
	spiRX := rp2040.DMAChannel{Base: rp2040.DMABase + 2*0x40}
	spiTX := rp2040.DMAChannel{Base: rp2040.DMABase + 3*0x40}
	SPI = rp2040.NewSPIBridge(spi, spiRX, spiTX, haveData, ready, 8192)
}
