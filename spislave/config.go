// SPI host bridge slave engine
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package spislave implements the SPI slave side of the 6502-to-host
// bridge: a full-duplex SPI peripheral presenting a three-command wire
// protocol (WRITE, REQUEST, READ) to a Linux host SPI master, with a pair
// of open-drain side-band lines used to tell the host when a response is
// ready without it having to poll blind.
//
// This package is only meant to be used with `GOOS=tamago` as supported by
// the TamaGo framework for bare metal Go, see
// https://github.com/usbarmory/tamago.
package spislave

import "errors"

// Wire protocol command bytes (spec §4.2).
const (
	cmdWrite   = 0x01
	cmdRequest = 0x02
	cmdRead    = 0x03
)

// PageBytes is the fixed SPI transaction size: a 3-byte header followed by
// a PagePayloadBytes payload, padded when the payload is shorter. The
// number borrows the classic Ethernet MTU (spec §4.2) but has nothing to do
// with IP networking; there is none on this bridge.
const PageBytes = 1503

// PagePayloadBytes is the payload portion of a PageBytes transaction.
const PagePayloadBytes = 1500

// ErrQueueFull is returned by TXEnqueue when the TX staging queue has no
// room for payload, per spec §9's caller-facing-capacity-failure rule:
// this is the one operation in this engine whose failure is reported to
// the caller rather than only counted.
var ErrQueueFull = errors.New("spislave: TX queue full")

// requestTimeout is how long, measured from receipt of a REQUEST, the
// engine waits in Ready for the host's READ before giving up and
// returning to Idle (spec §4.2): a wedged host must not be able to
// permanently stall the session.
const requestTimeout = 1_000_000_000 // 1 second, in nanoseconds

// Config holds the compile-time parameters of an Engine.
type Config struct {
	// TXQueueBytes bounds the outbound byte queue TXEnqueue appends to
	// and READ drains. The current deployment uses 4096.
	TXQueueBytes int
}

// DefaultConfig matches the current deployment's constants.
func DefaultConfig() Config {
	return Config{TXQueueBytes: 4096}
}
