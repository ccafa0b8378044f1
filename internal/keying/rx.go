// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keying

import (
	"errors"

	"github.com/jorisvink/signsky/internal/aead"
	"github.com/jorisvink/signsky/internal/esp"
	"github.com/jorisvink/signsky/internal/packet"
	"github.com/jorisvink/signsky/internal/replay"
)

// errWrongSPI means a datagram's SPI doesn't match this slot's SA — the
// ordinary case when a packet sealed under a newer or older key is
// tried against the wrong slot, not a malformed datagram.
var errWrongSPI = errors.New("keying: SPI does not match slot")

// rxSlot pairs an SA with its own anti-replay window. Each SA restarts
// its packet-number counter at 1 (see newSA), so a window shared across
// SAs would reject the new key's first packets as replays of the old
// key's — every slot needs its own high-water mark.
type rxSlot struct {
	sa  *SA
	win replay.Window
}

// RX is the decrypt stage's RX-side state: the spec.md §4.4 two-slot
// rekey policy.
type RX struct {
	cell  *Cell
	view  *RXView
	slot1 *rxSlot
	slot2 *rxSlot
}

// NewRX binds an RX handler to a handoff cell. view, if non-nil, is the
// process-shared mirror of slot1's SPI and anti-replay window the
// crypto stage reads for its permissive pre-check; tests that only
// exercise the seal/open pipeline in-process may pass nil.
func NewRX(cell *Cell, view *RXView) *RX {
	return &RX{cell: cell, view: view}
}

// Tick installs a pending key into slot1 if slot1 is empty, otherwise
// into slot2 (spec.md §4.4: "two SA slots ... install into whichever
// is unoccupied, preferring the first").
func (r *RX) Tick() error {
	spi, key, ok, err := r.cell.TryInstall()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	sa, err := newSA(spi, key)
	if err != nil {
		return err
	}

	slot := &rxSlot{sa: sa}
	slot.win.Init()

	if r.slot1 == nil {
		r.slot1 = slot
		if r.view != nil {
			r.view.publish(spi)
		}
		return nil
	}
	r.slot2 = slot
	return nil
}

// Open tries slot1 first; on an authentication failure (not a
// malformed-datagram error) it falls back to slot2 if populated. A
// slot2 success promotes slot2 (SA and window together) into slot1,
// discarding the old slot1.
func (r *RX) Open(buf *packet.Buffer) error {
	if r.slot1 == nil {
		return ErrNoKey
	}

	saved := *buf
	pn, err := tryOpen(r.slot1, buf)
	if err == nil {
		if r.view != nil {
			r.view.accept(pn)
		}
		return nil
	}
	if r.slot2 == nil || !isAuthFailure(err) {
		return err
	}

	*buf = saved
	pn2, err2 := tryOpen(r.slot2, buf)
	if err2 != nil {
		// Report slot2's own failure reason (e.g. a genuine replay
		// under the new key), not slot1's stale mismatch.
		return err2
	}

	r.slot1 = r.slot2
	r.slot2 = nil
	if r.view != nil {
		r.view.publish(r.slot1.sa.SPI)
		r.view.accept(pn2)
	}
	return nil
}

// tryOpen runs the full RX pipeline for one slot: header peek, SPI
// match, strict anti-replay check, AEAD open, then window update. The
// window is only updated on a fully successful open, per spec.md §4.3
// ordering. It returns the accepted packet number so the caller can
// mirror it into a shared RXView.
func tryOpen(slot *rxSlot, buf *packet.Buffer) (uint64, error) {
	hdr, err := esp.HeaderAt(buf.Data[:buf.Length])
	if err != nil {
		return 0, err
	}
	if hdr.SPI != slot.sa.SPI {
		return 0, errWrongSPI
	}
	if !slot.win.Check(hdr.PN) {
		return 0, replay.ErrReplayed
	}
	if err := esp.Open(buf, slot.sa.Salt, slot.sa.Cipher); err != nil {
		return 0, err
	}
	slot.win.Update(hdr.PN)
	return hdr.PN, nil
}

// isAuthFailure reports whether err indicates the datagram simply
// wasn't sealed under this slot's SA (wrong key, wrong SPI, or a PN the
// window has no record of), as opposed to a structurally malformed
// datagram — only the former warrants a slot2 retry.
func isAuthFailure(err error) bool {
	return err == aead.ErrOpen || err == errWrongSPI || err == replay.ErrReplayed
}

// SPI reports the SPI of the current (slot1) RX key, for the status
// socket. Returns (0, false) if no key is installed.
func (r *RX) SPI() (uint32, bool) {
	if r.slot1 == nil {
		return 0, false
	}
	return r.slot1.sa.SPI, true
}
