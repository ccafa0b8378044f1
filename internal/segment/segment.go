// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package segment manages the anonymous, memory-shared regions the
// supervisor creates before forking off the five stage processes
// (spec.md §5 "Process topology"). Each segment backs exactly one
// process-shared structure (a ring.Queue, a pool.Pool, a keying.Cell,
// a keying.RXView, or the global state.Block) and is handed to child
// processes as an inherited file descriptor via exec.Cmd.ExtraFiles —
// Go has no fork(), so re-exec plus an anonymous, memfd-backed mapping
// is the idiomatic substitute (see DESIGN.md).
package segment

import (
	"errors"
	"unsafe"
)

// ErrClosed is returned by any operation on a Segment after Close.
var ErrClosed = errors.New("segment: already closed")

// Segment is one mmap'd, page-aligned anonymous memory region, backed
// by a memfd on the creating side and by an inherited file descriptor
// on the attaching (child process) side. Both views address the same
// physical pages, so writes through one are immediately visible
// through the other without any copying or IPC.
type Segment struct {
	fd     uintptr
	data   []byte
	closed bool
}

// Bytes returns the raw backing slice. Callers use Place to interpret
// typed structures living inside it; the slice itself must never be
// appended to or have its length changed.
func (s *Segment) Bytes() []byte {
	return s.data
}

// FD returns the underlying file descriptor, for wiring into a child
// process's exec.Cmd.ExtraFiles.
func (s *Segment) FD() uintptr {
	return s.fd
}

// Len reports the segment's size in bytes.
func (s *Segment) Len() int {
	return len(s.data)
}

// Place interprets the bytes at offset within the segment as a *T.
// offset+sizeof(T) must not exceed the segment's length. T must be a
// type with no pointers, slices, maps, or strings — only fixed-size
// arrays and scalar/atomic fields — since it will be shared verbatim
// across OS process address spaces (spec.md §3's layout constraint for
// every process-shared structure).
func Place[T any](s *Segment, offset int) (*T, error) {
	if s.closed {
		return nil, ErrClosed
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	if offset < 0 || offset+size > len(s.data) {
		return nil, errors.New("segment: placement out of bounds")
	}
	return (*T)(unsafe.Pointer(&s.data[offset])), nil
}

// Manifest describes the fixed set of named segments the supervisor
// lays out at startup (spec.md §5's segment-visibility table). Sizes
// are computed from the types that will be Place()'d into each one.
type Manifest struct {
	Names []string
	Sizes []int
}

// Add appends a named segment of the given size to the manifest.
func (m *Manifest) Add(name string, size int) {
	m.Names = append(m.Names, name)
	m.Sizes = append(m.Sizes, size)
}
