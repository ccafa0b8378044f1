// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keying

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/jorisvink/signsky/internal/aead"
)

// hkdfInfo is the fixed HKDF "info" parameter binding a derived key to
// this daemon's key-injection protocol, so the same shared secret fed
// through a different protocol/context could never derive the same
// bytes.
var hkdfInfo = []byte("signsky keying v1")

// DeriveKey expands an arbitrary-length shared secret into an
// AES-256-GCM key via HKDF-SHA256 (RFC 5869), for the keying socket's
// ModeHKDFSecret record (SPEC_FULL's "Key material derivation note").
// This is additive convenience plumbing around the handoff cell: the
// result is published into keying.Cell exactly like a raw-key record
// would be, and the cell's own state machine is unaware a derivation
// ever happened.
func DeriveKey(secret []byte) ([aead.KeySize]byte, error) {
	var key [aead.KeySize]byte

	r := hkdf.New(sha256.New, secret, nil, hkdfInfo)
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("keying: hkdf expand: %w", err)
	}
	return key, nil
}
