// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package keying implements the key-handoff cell state machine, the SA
// (security association) records, and the TX/RX rekey semantics from
// spec.md §3 "Key handoff cell"/"Security association" and §4.4
// "Key Handover State Machine".
package keying

import (
	"errors"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"

	"github.com/jorisvink/signsky/internal/aead"
)

// Cell states, per spec.md §3: EMPTY -> GENERATING -> PENDING ->
// INSTALLING -> EMPTY.
const (
	CellEmpty uint32 = iota
	CellGenerating
	CellPending
	CellInstalling
)

// ErrProtocolViolation is returned when a compare-and-swap on the cell
// state machine fails. Per spec.md §7, this is always a fatal
// condition — the state machine's invariants guarantee it never
// happens absent a bug or a corrupted shared-memory segment.
var ErrProtocolViolation = errors.New("keying: handoff cell protocol violation")

// maxPublishSpins bounds how long the keying stage's Publish will spin
// waiting for the cell to return to EMPTY before giving up. Bounded per
// spec.md §4.4 ("bounded by reasonable wait — producer gates on
// consumer"). When a consumer never ticks within this bound, Publish
// returns an error that is not ErrProtocolViolation, so the keying
// stage logs it and drops that key record instead of exiting.
const maxPublishSpins = 20_000_000

// Cell is the process-shared key-handoff record. It has no pointers or
// slices, so it can live inline inside a memory segment both the
// keying stage (producer) and one of encrypt/decrypt (consumer)
// attach.
type Cell struct {
	state atomix.Uint32
	spi   atomix.Uint32
	key   [aead.KeySize]byte
}

// Init resets the cell to EMPTY.
func (c *Cell) Init() {
	c.state.StoreRelaxed(CellEmpty)
	c.spi.StoreRelaxed(0)
	c.key = [aead.KeySize]byte{}
}

// Publish is the producer (keying stage) side of the handshake: spin
// until EMPTY, CAS EMPTY->GENERATING, copy in spi/key, CAS
// GENERATING->PENDING.
func (c *Cell) Publish(spi uint32, key [aead.KeySize]byte) error {
	sw := spin.Wait{}
	for i := 0; ; i++ {
		if c.state.LoadAcquire() == CellEmpty {
			break
		}
		if i >= maxPublishSpins {
			return errors.New("keying: handoff cell never returned to EMPTY")
		}
		sw.Once()
	}

	if !c.state.CompareAndSwapAcqRel(CellEmpty, CellGenerating) {
		return ErrProtocolViolation
	}
	c.key = key
	c.spi.StoreRelease(spi)
	if !c.state.CompareAndSwapAcqRel(CellGenerating, CellPending) {
		return ErrProtocolViolation
	}
	return nil
}

// TryInstall is the consumer side: if the cell is PENDING, claim it
// (CAS PENDING->INSTALLING), copy out spi/key, zero the cell's key
// bytes, and release it (CAS INSTALLING->EMPTY). ok is false with a nil
// error when there was nothing pending — the normal, common case
// checked on every tick and before every packet (spec.md §4.4).
func (c *Cell) TryInstall() (spi uint32, key [aead.KeySize]byte, ok bool, err error) {
	if c.state.LoadAcquire() != CellPending {
		return 0, key, false, nil
	}
	if !c.state.CompareAndSwapAcqRel(CellPending, CellInstalling) {
		return 0, key, false, ErrProtocolViolation
	}

	spi = c.spi.LoadAcquire()
	key = c.key
	c.key = [aead.KeySize]byte{}

	if !c.state.CompareAndSwapAcqRel(CellInstalling, CellEmpty) {
		return 0, key, false, ErrProtocolViolation
	}
	return spi, key, true, nil
}
