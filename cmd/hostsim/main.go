// Desktop simulator of the SPI host master side of the bridge protocol
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command hostsim drives a real Linux SPI master against a running
// bridge firmware, speaking the WRITE/REQUEST/READ wire protocol
// documented in spec §4.2, for integration testing without a 6502 on the
// other side of the bridge.
//
// It is explicitly not part of the firmware build (spec.md §1 puts the
// Linux-side SPI master out of scope): this is test tooling, built and
// run with the host's native GOOS/GOARCH, never with GOOS=tamago.
package main

import (
	"flag"
	"log"
	"time"

	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"

	"github.com/usbarmory/sixbridge/spislave"
)

var (
	portName = flag.String("port", "", "SPI port name, empty for first available")
	speedHz  = flag.Int64("hz", 1_000_000, "SPI clock speed")
)

func main() {
	flag.Parse()

	if _, err := host.Init(); err != nil {
		log.Fatalf("hostsim: periph host.Init: %v", err)
	}

	port, err := spireg.Open(*portName)
	if err != nil {
		log.Fatalf("hostsim: spireg.Open: %v", err)
	}
	defer port.Close()

	conn, err := port.Connect(physic.Frequency(*speedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		log.Fatalf("hostsim: Connect: %v", err)
	}

	if err := writeFrame(conn, 5, []byte{0x04, 0x02, 0x03}); err != nil {
		log.Fatalf("hostsim: WRITE: %v", err)
	}

	length, freeUnits, payload, err := requestRead(conn)
	if err != nil {
		log.Fatalf("hostsim: REQUEST/READ: %v", err)
	}

	log.Printf("hostsim: read %d bytes (free=%d units): %x", length, freeUnits, payload)
}

// writeFrame performs a WRITE transaction carrying the given TLV-encoded
// parallel-bus write (device, length, payload), per spec §4.2.
func writeFrame(conn spi.Conn, device uint8, payload []byte) error {
	w := append([]byte{0x01, 0, byte(len(payload) + 2)}, device, byte(len(payload)))
	w = append(w, payload...)

	return conn.Tx(w, make([]byte, len(w)))
}

// requestRead performs the REQUEST/READ handshake of spec §4.2: a
// REQUEST transaction, followed by polling READ transactions (observing
// the "ready" line is out of scope for this simplified harness — a real
// host driver would wait on the GPIO edge instead of polling) until the
// staged page's header carries a non-zero length or a non-zero free-units
// byte, or a bounded number of attempts elapse.
func requestRead(conn spi.Conn) (length int, freeUnits uint8, payload []byte, err error) {
	if err := conn.Tx([]byte{0x02}, make([]byte, 1)); err != nil {
		return 0, 0, nil, err
	}

	for attempt := 0; attempt < 20; attempt++ {
		req := make([]byte, spislave.PageBytes)
		req[0] = 0x03

		resp := make([]byte, spislave.PageBytes)
		if err := conn.Tx(req, resp); err != nil {
			return 0, 0, nil, err
		}

		length = int(resp[0])<<8 | int(resp[1])
		freeUnits = resp[2]

		if length > 0 || freeUnits > 0 {
			return length, freeUnits, resp[3 : 3+length], nil
		}

		time.Sleep(10 * time.Millisecond)
	}

	return 0, 0, nil, nil
}
