// Lock-free DMA ring buffer and epoch arithmetic
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ringbuf implements the single-producer/single-consumer byte ring
// used by every DMA-touching path in this firmware: a hardware DMA engine
// (or, in tests, a fake) is the sole producer, the main loop is the sole
// consumer.
//
// The ring never moves or copies data on the producer side — a DMA channel
// is programmed once, in "self-triggering" (wrap) mode, to continuously
// deposit or withdraw bytes at a fixed peripheral address, auto-wrapping at
// the buffer boundary. The consumer has no way to ask the hardware "how many
// bytes have you produced so far" directly: that total must be reconstructed
// from a free-running epoch counter (incremented by a completion interrupt
// each time the engine wraps) and the engine's live transfer-count register.
// Producing[Ring.TotalProduced] and consuming [Ring.CheckOverrun] that
// reconstruction correctly is the point of this package.
package ringbuf

// ProducerClock is the hardware binding a Ring consumes. It abstracts the
// two hardware-maintained quantities the epoch arithmetic of TotalProduced
// needs, so the ring can be driven by a fake in tests.
//
// Epoch is incremented by a DMA-completion interrupt handler each time the
// engine wraps; Remaining is the engine's live transfer-count register
// (counting down from size to zero before an automatic reload). Both must
// be readable without blocking and without taking a lock, since real
// implementations back them with a single atomic load of a hardware or
// interrupt-handler-maintained word.
type ProducerClock interface {
	// Epoch returns the number of full passes the engine has completed.
	Epoch() uint32
	// Remaining returns the engine's live transfer-count register, with
	// any unrelated mode bits already masked off by the caller.
	Remaining() uint32
}

// Ring is a single-producer/single-consumer byte ring backed by a
// power-of-two, naturally aligned buffer, with a hardware DMA engine as
// producer and the main loop as consumer.
type Ring struct {
	buf   []byte
	size  uint32
	clock ProducerClock

	readIdx       uint32
	totalConsumed uint64

	// Overruns counts producer-outran-consumer events (§4.1): the
	// producer has overwritten bytes the consumer had not yet read.
	Overruns uint64

	// Bankruptcies counts post-callback discoveries that the DMA engine
	// overwrote data an interior-pointer callback was still reading
	// (§4.1, "bankruptcy check").
	Bankruptcies uint64
}

// New creates a Ring over buf, whose length must be a power of two and
// whose backing memory the caller is responsible for aligning to that
// length (so hardware address-wrap modes work). It panics otherwise, since
// a non-power-of-two or misaligned ring is a programmer error, not a
// runtime condition.
func New(buf []byte, clock ProducerClock) *Ring {
	size := uint32(len(buf))

	if size == 0 || size&(size-1) != 0 {
		panic("ringbuf: size must be a non-zero power of two")
	}

	return &Ring{
		buf:   buf,
		size:  size,
		clock: clock,
	}
}

// Size returns the ring's capacity in bytes.
func (r *Ring) Size() uint32 {
	return r.size
}

// ReadIndex returns the consumer's current position, modulo the ring size.
func (r *Ring) ReadIndex() uint32 {
	return r.readIdx
}

// TotalConsumed returns the monotonic consumer byte counter.
func (r *Ring) TotalConsumed() uint64 {
	return r.totalConsumed
}

// TotalProduced reconstructs the total number of bytes the DMA engine has
// produced so far, per the algorithm of spec §4.1:
//
//  1. snapshot the epoch counter
//  2. read the engine's live remaining-count register
//  3. re-read the epoch counter; if it moved, the engine wrapped while we
//     were reading and we must retry from the beginning
//  4. total = epoch*size + (size - remaining)
//  5. if that total is behind total_consumed, the engine has reloaded
//     "remaining" to size but the wrap interrupt that bumps epoch has not
//     yet run — correct by adding one ring size
//
// Both corrections (the double read in steps 1-3 and the reload-latency
// correction in step 5) are required; dropping either introduces
// false-positive overruns or negative deltas (spec §9).
func (r *Ring) TotalProduced() uint64 {
	for {
		e1 := r.clock.Epoch()
		remaining := r.clock.Remaining()
		e2 := r.clock.Epoch()

		if e1 != e2 {
			continue
		}

		total := uint64(e1)*uint64(r.size) + uint64(r.size-remaining)

		if total < r.totalConsumed {
			total += uint64(r.size)
		}

		return total
	}
}

// Unread returns the number of produced-but-not-consumed bytes.
func (r *Ring) Unread() uint64 {
	return r.TotalProduced() - r.totalConsumed
}

// CheckOverrun tests whether the producer has lapped the consumer (§4.1:
// unread > size). If so it resets the read cursor to the current producer
// position, discarding any unread bytes and whatever parser state the
// caller was tracking, and counts the event. The caller must treat any
// parser/session state as invalidated when this returns true.
func (r *Ring) CheckOverrun() (overran bool) {
	produced := r.TotalProduced()

	if produced-r.totalConsumed <= uint64(r.size) {
		return false
	}

	r.totalConsumed = produced
	r.readIdx = uint32(produced % uint64(r.size))
	r.Overruns++

	return true
}

// Advance moves the consumer forward by n bytes, which must not exceed the
// currently unread byte count.
func (r *Ring) Advance(n uint32) {
	r.readIdx = (r.readIdx + n) % r.size
	r.totalConsumed += uint64(n)
}

// Peek returns a view of the next n unread bytes starting at the current
// read position. If the range is contiguous (does not cross the end of the
// buffer) the returned slice aliases the ring's backing array directly and
// wrapped is false. Otherwise the bytes are assembled into scratch (which
// must be at least n bytes) and wrapped is true; scratch's lifetime is the
// caller's to manage, per spec §4.1's wrap-span access rule.
func (r *Ring) Peek(n uint32, scratch []byte) (view []byte, wrapped bool) {
	if n == 0 {
		return nil, false
	}

	end := r.readIdx + n

	if end <= r.size {
		return r.buf[r.readIdx:end], false
	}

	first := r.size - r.readIdx
	copy(scratch[:first], r.buf[r.readIdx:r.size])
	copy(scratch[first:n], r.buf[0:n-first])

	return scratch[:n], true
}

// WithBankruptcyCheck hands fn a view of the next n unread bytes (assembling
// a wrap-spanning copy into scratch if needed) and, after fn returns, checks
// whether the DMA engine overwrote those bytes while fn was running.
//
// This is the "bankruptcy" concept of spec §4.1/§9: fn may be called with an
// interior pointer into a ring a DMA engine is still actively writing to —
// copying every payload upfront would cost throughput, so instead the
// consumer snapshots total_produced before the call and re-checks it after.
// If the engine produced more than size-n bytes while fn ran, it must have
// wrapped over the data fn just read; ok is false, fn's output is tainted
// and must be discarded by the caller, the read cursor and total_consumed
// are reset to the current producer position, and Bankruptcies is
// incremented. The caller must not advance its own parser state when ok is
// false.
func (r *Ring) WithBankruptcyCheck(n uint32, scratch []byte, fn func(view []byte)) (ok bool) {
	before := r.TotalProduced()

	view, _ := r.Peek(n, scratch)
	fn(view)

	after := r.TotalProduced()

	if after-before > uint64(r.size)-uint64(n) {
		r.totalConsumed = after
		r.readIdx = uint32(after % uint64(r.size))
		r.Bankruptcies++
		return false
	}

	return true
}
