// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keying

import (
	"errors"

	"github.com/jorisvink/signsky/internal/aead"
)

// ErrSeqExhausted is returned by SA.Next when the 64-bit packet-number
// counter has wrapped; per spec.md §4.3 the SA becomes unusable at that
// point and the caller must drop the packet (and, in practice, wait for
// a rekey).
var ErrSeqExhausted = errors.New("keying: sequence counter exhausted")

// SA is the per-direction security-association record from spec.md §3:
// SPI, salt (upper half of the nonce), a 64-bit packet-number counter,
// and opaque cipher state. Unlike Cell, an SA is never process-shared —
// it lives entirely inside the one stage process (encrypt or decrypt)
// that owns a given direction, per spec.md §9 Open Question ("a single
// encrypt worker owning TX SA ... non-atomic increment").
type SA struct {
	SPI    uint32
	Salt   uint32
	Seq    uint64
	Cipher aead.Cipher
}

// newSA instantiates an SA from the key material a handoff cell
// published. The wire key record (spec.md §6) carries only a 32-byte
// key and the two SPI values — no independent salt field — so this
// rewrite derives each SA's nonce salt from its own SPI: every
// installed key gets a distinct SPI, and the packet-number half of the
// nonce never repeats within one SA's lifetime (it's a strictly
// incrementing, never-reused counter), so (salt=SPI, PN) is unique for
// the lifetime of the key without needing extra wire bytes.
func newSA(spi uint32, key [aead.KeySize]byte) (*SA, error) {
	cipher, err := aead.Setup(key[:])
	if err != nil {
		return nil, err
	}
	return &SA{SPI: spi, Salt: spi, Seq: 1, Cipher: cipher}, nil
}

// Next assigns and returns the next packet number for a TX seal,
// incrementing the SA's sequence counter non-atomically (single owning
// process/goroutine, per the Open Question decision above).
func (sa *SA) Next() (uint64, error) {
	if sa.Seq == 0 {
		return 0, ErrSeqExhausted
	}
	pn := sa.Seq
	sa.Seq++
	return pn, nil
}
