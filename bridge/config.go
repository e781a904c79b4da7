// Bridge multiplexer between the parallel-bus and SPI transports
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package bridge owns the mapping between the 6502-facing parallel-bus
// engine and the host-facing SPI engine: it encodes parallel-bus WRITEs
// into TLV frames on the SPI TX queue, decodes TLV frames off the SPI RX
// queue back into parallel-bus device_write calls, and drives the
// 6502-facing interrupt line.
//
// This package is only meant to be used with `GOOS=tamago` as supported by
// the TamaGo framework for bare metal Go, see
// https://github.com/usbarmory/tamago.
package bridge

// IRQLine is the 6502-facing interrupt output pin. It is active-low and,
// per spec §4.4, must never glitch: New requires the pin already be
// configured as an output (direction fixed once at board init), so
// Assert is the only operation this package performs on it.
type IRQLine interface {
	// Assert drives the line's logical state: true means "asserted"
	// (interrupt pending), regardless of the line's electrical polarity.
	Assert(asserted bool)
}

// Config holds the compile-time parameters of a Bridge.
type Config struct {
	// MaxDevices bounds the device ID space shared by both transports.
	MaxDevices uint8
}

// DefaultConfig matches the current deployment's constants.
func DefaultConfig() Config {
	return Config{MaxDevices: 8}
}
