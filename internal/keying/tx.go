// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keying

import (
	"errors"

	"github.com/jorisvink/signsky/internal/esp"
	"github.com/jorisvink/signsky/internal/packet"
)

// ErrNoKey is returned by TX.Seal when no usable TX key is installed
// (none yet, or the last one was dropped after sequence exhaustion),
// and by RX.Open when no RX key is installed.
var ErrNoKey = errors.New("keying: no TX key installed")

// TX is the encrypt stage's TX-side state: a single SA plus the cell it
// watches for rekeys. Per spec.md §4.4, a new pending key simply
// replaces the current SA outright; the first packet sealed under the
// new key carries the new SPI.
type TX struct {
	cell *Cell
	sa   *SA
}

// NewTX binds a TX handler to a handoff cell. The encrypt stage calls
// Tick() once per wake (and before processing each packet, per
// spec.md §4.6) to pick up any rekey.
func NewTX(cell *Cell) *TX {
	return &TX{cell: cell}
}

// Tick installs a pending key if the cell holds one, replacing the
// current SA. Returns an error only for a protocol violation (fatal per
// spec.md §7); the absence of a pending key is not an error.
func (t *TX) Tick() error {
	spi, key, ok, err := t.cell.TryInstall()
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
	t.sa = sa
	return nil
}

// Seal assigns the next packet number from the current SA and
// ESP-frames buf under it. Returns ErrNoKey if no usable key is
// installed and ErrSeqExhausted if the SA's 64-bit counter has wrapped
// (spec.md §4.3) — in both cases the caller must drop the packet.
func (t *TX) Seal(buf *packet.Buffer) error {
	if t.sa == nil {
		return ErrNoKey
	}
	pn, err := t.sa.Next()
	if err != nil {
		// The SA is now permanently unusable; drop it so every
		// subsequent packet fails fast with ErrNoKey until a rekey
		// replaces it, instead of silently wedging on the same error.
		t.sa = nil
		return err
	}
	return esp.Seal(buf, t.sa.SPI, t.sa.Salt, pn, t.sa.Cipher)
}

// SPI reports the SPI of the currently installed TX key, for the
// status socket. Returns (0, false) if no key is installed.
func (t *TX) SPI() (uint32, bool) {
	if t.sa == nil {
		return 0, false
	}
	return t.sa.SPI, true
}
