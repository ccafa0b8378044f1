// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ring implements the process-shared bounded MPMC queue that
// moves packet handles between signsky's pipeline stages.
//
// Unlike the general-purpose algorithm family in code.hybscloud.com/lfq
// (SCQ-style, 2n physical slots, cycle-tagged slots), this ring holds
// exactly n physical slots and carries no per-slot validity tag at all:
// slot readability is derived purely from the four free-running counters
// (producer head/tail, consumer head/tail), matching the classic
// DPDK/FreeBSD-buf_ring design signsky's spec calls for. The type has no
// internal pointers or slices so a *Queue can be placed directly on a
// byte region shared across OS processes (see internal/segment) and
// interpreted identically by every attached process.
package ring

import (
	"errors"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// MaxCapacity bounds the physical slot array embedded in Queue. Actual
// capacity is chosen at Init time and must not exceed this.
const MaxCapacity = 4096

// ErrFull is returned by Enqueue when the ring has no free slots.
var ErrFull = errors.New("ring: full")

// ErrEmpty is returned by Dequeue when the ring holds no items.
var ErrEmpty = errors.New("ring: empty")

type pad [64]byte

// Queue is a bounded MPMC ring of uint32 packet handles.
//
// Capacity must be a power of two, at most MaxCapacity. Fields are laid
// out with cache-line padding between hot atomics to limit false
// sharing between producers and consumers running in different OS
// processes on different cores.
type Queue struct {
	_            pad
	producerHead atomix.Uint32
	_            pad
	producerTail atomix.Uint32
	_            pad
	consumerHead atomix.Uint32
	_            pad
	consumerTail atomix.Uint32
	_            pad
	capacity     uint32
	mask         uint32
	slots        [MaxCapacity]uint32
}

// Init prepares a zero-valued Queue for use with the given capacity.
// capacity is rounded up to the next power of two; it must be >= 2 and
// <= MaxCapacity after rounding. Init is not safe to call concurrently
// with any other access and must complete before any attaching process
// calls Enqueue/Dequeue.
func (q *Queue) Init(capacity int) {
	n := roundToPow2(capacity)
	if n < 2 || n > MaxCapacity {
		panic("ring: capacity out of range")
	}
	q.producerHead.StoreRelaxed(0)
	q.producerTail.StoreRelaxed(0)
	q.consumerHead.StoreRelaxed(0)
	q.consumerTail.StoreRelaxed(0)
	q.capacity = uint32(n)
	q.mask = uint32(n - 1)
}

// Cap returns the ring's usable capacity.
func (q *Queue) Cap() int {
	return int(q.capacity)
}

// Len reports the number of items currently queued, valid only at
// quiescence (no producer/consumer in flight). Useful for tests and the
// status socket, not for hot-path control flow.
func (q *Queue) Len() int {
	t := q.producerTail.LoadAcquire()
	h := q.consumerHead.LoadAcquire()
	return int(t - h)
}

// Enqueue publishes handle into the ring. Returns ErrFull if the ring
// has no free slots; the caller must release the handle's backing
// buffer back to the pool in that case.
func (q *Queue) Enqueue(handle uint32) error {
	sw := spin.Wait{}
	for {
		h := q.producerHead.LoadAcquire()
		t := q.consumerTail.LoadAcquire()
		if q.capacity+(t-h) == 0 {
			return ErrFull
		}
		if !q.producerHead.CompareAndSwapAcqRel(h, h+1) {
			sw.Once()
			continue
		}
		q.slots[h&q.mask] = handle
		for !q.producerTail.CompareAndSwapAcqRel(h, h+1) {
			sw.Once()
		}
		return nil
	}
}

// Dequeue removes and returns a handle from the ring. Returns
// (0, ErrEmpty) if the ring currently holds nothing.
func (q *Queue) Dequeue() (uint32, error) {
	sw := spin.Wait{}
	for {
		h := q.consumerHead.LoadAcquire()
		t := q.producerTail.LoadAcquire()
		if t-h == 0 {
			return 0, ErrEmpty
		}
		if !q.consumerHead.CompareAndSwapAcqRel(h, h+1) {
			sw.Once()
			continue
		}
		handle := q.slots[h&q.mask]
		for !q.consumerTail.CompareAndSwapAcqRel(h, h+1) {
			sw.Once()
		}
		return handle, nil
	}
}

func roundToPow2(n int) int {
	if n < 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
