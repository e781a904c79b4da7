// Periodic statistics emission
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package stats provides rate-limited periodic logging of the bridge's
// and engines' counters (spec §4.4: "periodic statistics emission,
// format irrelevant to the core"). The wire format is genuinely
// unspecified, so this package just logs each source's string behind a
// line prefix, the way the teacher logs everywhere else.
package stats

import (
	"log"
	"time"

	"golang.org/x/time/rate"
)

// Source is anything Emitter can periodically log: the firmware entry
// point registers one closure per engine and one for the bridge, each
// returning a formatted snapshot of that component's Stats().
type Source func() string

// Emitter rate-limits how often its sources are logged, so a tight main
// loop calling Tick every iteration doesn't flood the log.
type Emitter struct {
	limiter *rate.Limiter
	sources map[string]Source
}

// New constructs an Emitter that logs at most once per interval.
func New(interval time.Duration) *Emitter {
	if interval <= 0 {
		panic("stats: interval must be positive")
	}

	return &Emitter{
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		sources: make(map[string]Source),
	}
}

// Register adds a named source to be logged on every permitted Tick.
func (e *Emitter) Register(name string, src Source) {
	e.sources[name] = src
}

// Tick should be called once per main-loop iteration; it is a no-op
// except on ticks the rate limiter permits, so it is cheap to call
// unconditionally (spec §5: the main loop has no sleep/await, so whatever
// runs every iteration must be cheap when it isn't doing its real work).
func (e *Emitter) Tick() {
	if !e.limiter.Allow() {
		return
	}

	for name, src := range e.sources {
		log.Printf("stats: %s: %s", name, src())
	}
}
