// 6502 parallel-bus to SPI host bridge firmware
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// This program is only meant to be used with `GOOS=tamago GOARCH=arm` as
// supported by the TamaGo framework for bare metal Go on ARM SoCs, see
// https://github.com/usbarmory/tamago.
package main

import (
	"fmt"
	"runtime"
	"time"

	"github.com/usbarmory/sixbridge/board/raspberrypi/picobridge"
	"github.com/usbarmory/sixbridge/bridge"
	"github.com/usbarmory/sixbridge/keyboard"
	"github.com/usbarmory/sixbridge/parallelbus"
	"github.com/usbarmory/sixbridge/spislave"
	"github.com/usbarmory/sixbridge/stats"
)

// keyboardDevice is the parallel-bus device ID reserved for the
// out-of-scope USB-HID keyboard driver (spec §1 external collaborator).
// This deployment has no keyboard attached, so keyboard.None is wired.
const keyboardDevice = 1

func main() {
	pb := parallelbus.New(picobridge.ParallelBus, parallelbus.DefaultConfig())
	pb.Init()

	sp := spislave.New(picobridge.SPI, spislave.DefaultConfig())
	sp.Init()

	b := bridge.New(pb, sp, picobridge.IRQ, bridge.DefaultConfig())
	b.Init()

	pb.Start()

	var kb keyboard.Source = keyboard.None{}
	kbBuf := make([]byte, parallelbus.MaxPayload)

	emitter := stats.New(10 * time.Second)
	emitter.Register("parallelbus", func() string { return fmt.Sprintf("%+v", pb.Stats()) })
	emitter.Register("spislave", func() string { return fmt.Sprintf("%+v", sp.Stats()) })
	emitter.Register("bridge", func() string { return fmt.Sprintf("%+v", b.Stats()) })

	for {
		pb.Task()
		sp.Task()
		b.Task()

		if n := kb.Drain(kbBuf); n > 0 {
			pb.DeviceWrite(keyboardDevice, kbBuf[:n])
		}

		emitter.Tick()

		// TamaGo is single-threaded cooperative; yield so the runtime
		// can service any pending asynchronous work between polls
		// (spec §5: the main loop has no sleep/await, only task()
		// calls frequent enough to keep up with the ring producers).
		runtime.Gosched()
	}
}
