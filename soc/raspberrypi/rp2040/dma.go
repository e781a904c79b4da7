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

	"github.com/usbarmory/sixbridge/internal/reg"
)

// DMA channel register block size and offsets (RP2040 datasheet §2.5.3).
const (
	dmaChannelStride = 0x40

	CH_READ_ADDR   = 0x00
	CH_WRITE_ADDR  = 0x04
	CH_TRANS_COUNT = 0x08
	CH_CTRL_TRIG   = 0x0c

	// CH_CTRL_TRIG bits.
	ctrlEN       = 0
	ctrlRING_SEL = 10 // 0 = ring applies to write address (RX), 1 = read address (TX)
	ctrlRING_SIZE = 11 // 4-bit field, log2(bytes)
)

// DMAChannel is one RP2040 system DMA channel, configured either as a
// self-triggering ("wrap") ring channel (RX path: peripheral FIFO ->
// memory, auto-reloading CH_TRANS_COUNT and address on completion) or as
// a one-shot channel (TX path: memory -> peripheral FIFO, disarmed after
// one transfer).
//
// The hardware has no register exposing "how many bytes produced so
// far" for a wrapped channel; epoch is this package's count of
// completion-interrupt deliveries, incremented by the board package's
// interrupt handler and read here with an atomic load so it satisfies
// ringbuf.ProducerClock without a lock (spec §4.1, §5: interrupt
// handlers touch only atomic flags/counters).
type DMAChannel struct {
	Base uint32

	epoch uint32
}

// Epoch implements ringbuf.ProducerClock.
func (d *DMAChannel) Epoch() uint32 {
	return atomic.LoadUint32(&d.epoch)
}

// Remaining implements ringbuf.ProducerClock: the engine's live
// transfer-count register, counting down to zero before an automatic
// reload on a self-triggering channel.
func (d *DMAChannel) Remaining() uint32 {
	return reg.Read(d.Base + CH_TRANS_COUNT)
}

// onWrapComplete is invoked by the board package's DMA IRQ handler. It
// must not allocate or block (spec §5).
func (d *DMAChannel) onWrapComplete() {
	atomic.AddUint32(&d.epoch, 1)
}

// Busy reports whether a one-shot channel's transfer is still in flight.
func (d *DMAChannel) Busy() bool {
	return reg.Get(d.Base+CH_CTRL_TRIG, ctrlEN, 1) == 1
}

// ArmOneShot programs a one-shot transfer of n bytes between memory at
// ramAddr and the peripheral data register at dataReg (towards the
// peripheral if toPeripheral), and starts it immediately.
func (d *DMAChannel) ArmOneShot(ramAddr uint32, dataReg uint32, n int, toPeripheral bool) {
	if toPeripheral {
		reg.Write(d.Base+CH_READ_ADDR, ramAddr)
		reg.Write(d.Base+CH_WRITE_ADDR, dataReg)
	} else {
		reg.Write(d.Base+CH_READ_ADDR, dataReg)
		reg.Write(d.Base+CH_WRITE_ADDR, ramAddr)
	}

	reg.Write(d.Base+CH_TRANS_COUNT, uint32(n))
	reg.Set(d.Base+CH_CTRL_TRIG, ctrlEN)
}

// InitSelfTriggeringRX arms a perpetually-reloading RX channel: ramAddr
// must be aligned to sizeBytes (a power of two), so the hardware's
// address-wrap mode recycles the write pointer at the buffer boundary
// without software intervention.
func (d *DMAChannel) InitSelfTriggeringRX(ramAddr uint32, dataReg uint32, sizeBytes uint32) {
	ringBits := 0
	for sz := sizeBytes; sz > 1; sz >>= 1 {
		ringBits++
	}

	reg.Write(d.Base+CH_READ_ADDR, dataReg)
	reg.Write(d.Base+CH_WRITE_ADDR, ramAddr)
	reg.Write(d.Base+CH_TRANS_COUNT, sizeBytes)
	reg.Clear(d.Base+CH_CTRL_TRIG, ctrlRING_SEL)
	reg.SetN(d.Base+CH_CTRL_TRIG, ctrlRING_SIZE, 0b1111, uint32(ringBits))
	reg.Set(d.Base+CH_CTRL_TRIG, ctrlEN)
}
