// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rp2040

import "github.com/usbarmory/sixbridge/internal/reg"

// SIO (single-cycle I/O) registers used for simple GPIO (RP2040
// datasheet §2.3.1).
const (
	GPIO_OUT_SET = 0x14
	GPIO_OUT_CLR = 0x18
	GPIO_OE_SET  = 0x24
	GPIO_IN      = 0x04
)

// Pin is a single RP2040 GPIO, driven through the SIO block the way the
// teacher's NXP soc/nxp/gpio.Pin drives imx6-family GPIOs: direction and
// level are each a single register write, so Out/High/Low compose
// directly into bridge.IRQLine and spislave.HardwareBinding's two
// open-drain lines.
type Pin struct {
	num int
}

// NewPin returns a handle to GPIO num.
func NewPin(num int) *Pin {
	return &Pin{num: num}
}

// Out configures the pin as an output. Board init calls this once for
// every pin this firmware drives; it is never toggled at runtime (spec
// §4.4: direction fixed once at board init eliminates the
// initialize-value-before-direction glitch class by construction).
func (p *Pin) Out() {
	reg.Set(SIOBase+GPIO_OE_SET, p.num)
}

// High drives the pin high.
func (p *Pin) High() {
	reg.Set(SIOBase+GPIO_OUT_SET, p.num)
}

// Low drives the pin low.
func (p *Pin) Low() {
	reg.Set(SIOBase+GPIO_OUT_CLR, p.num)
}

// Value returns the pin's current input level.
func (p *Pin) Value() bool {
	return reg.Get(SIOBase+GPIO_IN, p.num, 1) == 1
}

// ActiveLowLine wraps a Pin configured as an active-low, open-drain-style
// output: Assert(true) drives the electrical low level. It implements
// bridge.IRQLine directly, and spislave.HardwareBinding's SetHaveData/
// SetReady are thin wrappers around the same primitive.
type ActiveLowLine struct {
	pin *Pin
}

// NewActiveLowLine wraps pin, which must already be configured as an
// output.
func NewActiveLowLine(pin *Pin) *ActiveLowLine {
	return &ActiveLowLine{pin: pin}
}

// Assert implements bridge.IRQLine.
func (l *ActiveLowLine) Assert(asserted bool) {
	if asserted {
		l.pin.Low()
	} else {
		l.pin.High()
	}
}
