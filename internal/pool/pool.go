// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pool implements the process-shared packet-buffer pool
// described in spec.md §4.2: a fixed array of Buffer values whose free
// list is itself a ring.Queue of buffer indices, following the
// "buffer pool with index-based access" pattern documented by the
// teacher package's doc.go.
package pool

import (
	"github.com/jorisvink/signsky/internal/packet"
	"github.com/jorisvink/signsky/internal/ring"
)

// Size is the number of buffers in the pool, per spec.md §3.
const Size = 1024

// Pool is a fixed-capacity allocator of packet.Buffer values. It
// contains no pointers or slices, so it can live inline inside a
// process-shared memory segment (see internal/segment) and be attached
// identically by every stage process that needs buffer access.
type Pool struct {
	free    ring.Queue
	buffers [Size]packet.Buffer
}

// Init prepares a zero-valued Pool: the free list is seeded with every
// buffer index. Must be called exactly once, by the process that
// creates the backing segment, before any Acquire/Release.
func (p *Pool) Init() {
	p.free.Init(Size)
	for i := uint32(0); i < Size; i++ {
		// Init-time seeding; the free list cannot be full this early
		// so the error return is unreachable.
		_ = p.free.Enqueue(i)
	}
}

// Acquire draws a buffer from the pool. ok is false when the pool is
// exhausted; per spec.md §3/§4.2, callers must have a fallback (read
// ingress data into a single throwaway buffer and discard it) rather
// than blocking.
func (p *Pool) Acquire() (idx uint32, buf *packet.Buffer, ok bool) {
	idx, err := p.free.Dequeue()
	if err != nil {
		return 0, nil, false
	}
	buf = &p.buffers[idx]
	buf.Reset()
	return idx, buf, true
}

// Release returns a buffer to the pool. Called on successful egress or
// on any per-packet error (§3 "Lifecycle").
func (p *Pool) Release(idx uint32) {
	if idx >= Size {
		panic("pool: index out of range")
	}
	// The free list can never be observed full here: every outstanding
	// index was drawn from it exactly once, so capacity always has room
	// for its return. A failure indicates a double-release and is a
	// protocol violation worth surfacing loudly rather than swallowing.
	if err := p.free.Enqueue(idx); err != nil {
		panic("pool: release of index " + itoa(idx) + " failed: " + err.Error())
	}
}

// At returns the buffer for a given index without touching the free
// list. Used by stage code that already holds a handle obtained from an
// inter-stage ring.Queue.
func (p *Pool) At(idx uint32) *packet.Buffer {
	return &p.buffers[idx]
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
