// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package replay implements the 64-bit sliding anti-replay window from
// spec.md §4.5. A Window is process-shared: its fields are plain
// atomix atomics with no pointers, so it can live inline inside a
// memory segment the crypto and decrypt stage processes both attach.
package replay

import (
	"errors"

	"code.hybscloud.com/atomix"
)

// ErrReplayed is returned by callers that wrap Check into an error path
// (the decrypt stage's per-SA open pipeline) to distinguish a replay
// rejection from a structurally malformed or mis-keyed datagram.
var ErrReplayed = errors.New("replay: packet number rejected")

// Window holds the sliding anti-replay state for one direction. bit 63
// of bitmap represents PN == last, bit 62 represents PN == last-1, and
// so on down to bit 0 for PN == last-63.
type Window struct {
	last   atomix.Uint64
	bitmap atomix.Uint64
}

// Init resets the window to its zero state.
func (w *Window) Init() {
	w.last.StoreRelaxed(0)
	w.bitmap.StoreRelaxed(0)
}

// Last returns the highest packet number accepted so far.
func (w *Window) Last() uint64 {
	return w.last.LoadAcquire()
}

// Check reports whether packet number p would be accepted without
// mutating window state. This is the strict, authoritative check
// performed by the decrypt stage immediately before the AEAD open.
func (w *Window) Check(p uint64) bool {
	last := w.last.LoadAcquire()
	if p > last {
		return true
	}
	if p == 0 {
		return false
	}
	age := last - p
	if age >= 64 {
		return false
	}
	bit := uint64(63 - age)
	return w.bitmap.LoadAcquire()&(uint64(1)<<bit) == 0
}

// PermissiveCheck widens the strict window by `slack` packet numbers
// (spec.md §4.5: the crypto stage's pre-check widens by the decrypt
// queue's depth minus one, to avoid rejecting packets merely waiting in
// the queue). It never rejects anything the strict Check would accept;
// it exists only to let the crypto stage drop datagrams that are
// unambiguously too old before handing them to the decrypt queue.
func (w *Window) PermissiveCheck(p uint64, slack uint64) bool {
	last := w.last.LoadAcquire()
	if p > last {
		return true
	}
	if p == 0 {
		return false
	}
	age := last - p
	return age < 64+slack
}

// Update records p as accepted. The caller must have just confirmed
// Check(p) == true (and the AEAD open succeeded) — Update does not
// re-validate.
func (w *Window) Update(p uint64) {
	last := w.last.LoadAcquire()
	if p > last {
		shift := p - last
		var bm uint64
		if shift >= 64 {
			bm = 0
		} else {
			bm = w.bitmap.LoadAcquire() >> shift
		}
		bm |= uint64(1) << 63
		w.bitmap.StoreRelease(bm)
		w.last.StoreRelease(p)
		return
	}
	age := last - p
	bit := uint64(63 - age)
	w.bitmap.StoreRelease(w.bitmap.LoadAcquire() | (uint64(1) << bit))
}
