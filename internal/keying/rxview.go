// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keying

import (
	"code.hybscloud.com/atomix"

	"github.com/jorisvink/signsky/internal/replay"
)

// RXView is the process-shared mirror of the decrypt stage's slot1 RX
// state: the installed SPI and its anti-replay window. Unlike Cell, it
// has no consuming state machine — decrypt's own RX is the only writer,
// the crypto stage only ever reads it — so both stages can attach the
// same segment without a second process ever contending for decrypt's
// Cell.TryInstall (spec.md §4.5's permissive pre-check needs live
// window state, not a second consumer of the handoff cell).
type RXView struct {
	installed atomix.Uint32
	spi       atomix.Uint32
	win       replay.Window
}

// Init resets the view to "no key installed".
func (v *RXView) Init() {
	v.installed.StoreRelaxed(0)
	v.spi.StoreRelaxed(0)
	v.win.Init()
}

// publish records a new slot1 SA, called by decrypt's RX on the first
// key install and again whenever slot2 is promoted into slot1.
func (v *RXView) publish(spi uint32) {
	v.win.Init()
	v.spi.StoreRelease(spi)
	v.installed.StoreRelease(1)
}

// accept mirrors a packet number slot1 just accepted, keeping the
// shared window in lockstep with decrypt's private one.
func (v *RXView) accept(pn uint64) {
	v.win.Update(pn)
}

// PermissiveCheck lets the crypto stage pre-filter unambiguously stale
// datagrams against decrypt's live slot1 window (spec.md §4.5). No key
// installed yet is never ambiguous, so everything passes.
func (v *RXView) PermissiveCheck(pn uint64, slack uint64) bool {
	if v.installed.LoadAcquire() == 0 {
		return true
	}
	return v.win.PermissiveCheck(pn, slack)
}

// SPI reports the SPI currently visible to crypto. Returns (0, false)
// if no key has been installed yet.
func (v *RXView) SPI() (uint32, bool) {
	if v.installed.LoadAcquire() == 0 {
		return 0, false
	}
	return v.spi.LoadAcquire(), true
}
