// Raspberry Pi RP2040 support
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package rp2040 provides the PIO, DMA, GPIO and SPI register-level
// support the parallelbus and spislave engines program: a programmable
// I/O block samples the 6502 parallel bus and shifts it into a
// self-triggering RX DMA ring (and a one-shot TX ring for read
// responses); the SPI peripheral runs in slave mode, likewise backed by
// a self-triggering RX ring and one-shot TX transfers; two GPIOs carry
// the "I have something"/"ready" side-band lines and one drives the
// 6502-facing interrupt line.
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm` as
// supported by the TamaGo framework for bare metal Go on ARM SoCs, see
// https://github.com/usbarmory/tamago.
package rp2040

// Peripheral base addresses (RP2040 datasheet §2.2, APB bridge map).
const (
	PIO0Base = 0x50200000
	PIO1Base = 0x50300000
	DMABase  = 0x50000000
	SIOBase  = 0xd0000000
	SPI0Base = 0x4003c000
)

// RP2040 is a single-core handle to the peripherals this firmware uses.
// It has no per-core selection (this firmware only ever runs on one of
// the two Cortex-M0+ cores).
type RP2040 struct {
	// PIOParallelBus is the PIO block (and state machine index) wired
	// to the 6502 parallel bus.
	PIOParallelBus PIOStateMachine
	// DMAParallelBusRX/TX are the DMA channels feeding/draining the
	// parallel-bus PIO FIFOs.
	DMAParallelBusRX, DMAParallelBusTX DMAChannel
	// DMASPIRX/TX are the DMA channels feeding/draining the SPI
	// peripheral's FIFOs.
	DMASPIRX, DMASPITX DMAChannel
}
