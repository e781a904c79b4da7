// Keyboard input seam for the 6502-facing device bus
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package keyboard defines the interface a USB-HID keyboard driver would
// implement to feed key events into the bridge as parallel-bus device
// writes. The HID driver itself is explicitly out of scope (spec.md §1
// lists it as an external collaborator this repository only specifies an
// interface for), so this package is the seam, plus a null
// implementation for boards with no keyboard attached.
package keyboard

// Source is polled once per main-loop iteration by the code wiring it to
// a parallel-bus device ID (via parallelbus.Engine.DeviceWrite); it
// copies up to len(dst) pending bytes and returns how many it wrote.
type Source interface {
	Drain(dst []byte) int
}

// None is a Source that never has data, for boards without a keyboard.
type None struct{}

// Drain always reports nothing pending.
func (None) Drain(dst []byte) int {
	return 0
}
