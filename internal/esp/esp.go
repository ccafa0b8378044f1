// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package esp implements the ESP tunnel-mode wire framing, the
// AEAD nonce/AAD construction and the sequence-number discipline from
// spec.md §4.3 and §6 ("On-wire framing (bit-exact)").
package esp

import (
	"encoding/binary"
	"errors"

	"github.com/jorisvink/signsky/internal/aead"
	"github.com/jorisvink/signsky/internal/packet"
)

// HeaderSize is the on-wire ESP head: 4-byte SPI, 4-byte truncated
// sequence, 8-byte packet number. Equal to packet.HeadReserve.
const HeaderSize = packet.HeadReserve

// TrailerSize is the 2-byte ESP trailer: pad length, next header.
const TrailerSize = packet.TrailerReserve

// NextHeaderIP is the "next header" trailer value for an encapsulated
// IPv4 datagram (IPPROTO_IP).
const NextHeaderIP = 4

var (
	// ErrTooShort is returned when a datagram is too small to contain a
	// full ESP head, trailer and tag.
	ErrTooShort = errors.New("esp: datagram too short")
	// ErrSeqMismatch is returned when the wire sequence field doesn't
	// match the low 32 bits of the packet number.
	ErrSeqMismatch = errors.New("esp: sequence/PN mismatch")
	// ErrBadTrailer is returned when the decrypted trailer doesn't hold
	// pad=0, next=IPPROTO_IP.
	ErrBadTrailer = errors.New("esp: bad trailer")
	// ErrTooLarge is returned when a plaintext datagram exceeds
	// packet.MaxPayload or a framed packet would overflow the buffer.
	ErrTooLarge = errors.New("esp: payload too large")
	// ErrSeqExhausted is returned when a TX sequence counter has
	// wrapped past 2^64-1; the SA becomes unusable (spec.md §4.3).
	ErrSeqExhausted = errors.New("esp: sequence counter exhausted")
)

// Header is the decoded form of the 16-byte ESP head.
type Header struct {
	SPI    uint32
	SeqLow uint32
	PN     uint64
}

// Encode writes the header to dst (must be at least HeaderSize bytes),
// all fields big-endian per spec.md §4.3/§6.
func (h Header) Encode(dst []byte) {
	binary.BigEndian.PutUint32(dst[0:4], h.SPI)
	binary.BigEndian.PutUint32(dst[4:8], h.SeqLow)
	binary.BigEndian.PutUint64(dst[8:16], h.PN)
}

// Decode reads a Header from src (must be at least HeaderSize bytes).
func Decode(src []byte) Header {
	return Header{
		SPI:    binary.BigEndian.Uint32(src[0:4]),
		SeqLow: binary.BigEndian.Uint32(src[4:8]),
		PN:     binary.BigEndian.Uint64(src[8:16]),
	}
}

// Nonce builds the 12-byte AEAD nonce: 4-byte salt || 8-byte packet
// number, both big-endian on the wire (spec.md §9 Open Question: this
// rewrite fixes big-endian rather than host byte order).
func Nonce(salt uint32, pn uint64) [aead.NonceSize]byte {
	var n [aead.NonceSize]byte
	binary.BigEndian.PutUint32(n[0:4], salt)
	binary.BigEndian.PutUint64(n[4:12], pn)
	return n
}

// AAD builds the 12-byte AEAD associated data: 4-byte SPI || 8-byte
// packet number, big-endian.
func AAD(spi uint32, pn uint64) [aead.AADSize]byte {
	var a [aead.AADSize]byte
	binary.BigEndian.PutUint32(a[0:4], spi)
	binary.BigEndian.PutUint64(a[4:12], pn)
	return a
}

// Seal frames buf's plaintext (currently occupying Data[:Length] with
// no head reservation, as left by the clear stage) into ESP tunnel-mode
// form: header, sealed payload+trailer, tag. pn is the caller-assigned
// packet number (SA.Seq, already incremented by the caller) and must
// not be zero after a wrap; cipher seals under (salt, pn) as nonce and
// (spi, pn) as AAD.
func Seal(buf *packet.Buffer, spi, salt uint32, pn uint64, cipher aead.Cipher) error {
	if pn == 0 {
		return ErrSeqExhausted
	}
	plainLen := int(buf.Length)
	if plainLen > packet.MaxPayload {
		return ErrTooLarge
	}
	total := HeaderSize + plainLen + TrailerSize + cipher.Overhead()
	if total > len(buf.Data) {
		return ErrTooLarge
	}

	// Shift the plaintext from offset 0 to the head-reserved payload
	// offset; copy() is memmove-safe for this forward overlap.
	copy(buf.Data[HeaderSize:], buf.Data[:plainLen])
	buf.Data[HeaderSize+plainLen] = 0               // pad length
	buf.Data[HeaderSize+plainLen+1] = NextHeaderIP  // next header

	nonce := Nonce(salt, pn)
	aad := AAD(spi, pn)

	sealRegion := buf.Data[HeaderSize : HeaderSize+plainLen+TrailerSize]
	sealed := cipher.Seal(sealRegion[:0], nonce[:], sealRegion, aad[:])

	hdr := Header{SPI: spi, SeqLow: uint32(pn), PN: pn}
	hdr.Encode(buf.Data[:HeaderSize])

	buf.Length = uint32(HeaderSize + len(sealed))
	return nil
}

// Open validates and strips ESP framing from buf (currently holding a
// full on-wire ESP datagram in Data[:Length]), authenticating under
// (spi, pn) via cipher. On success buf.Data[:buf.Length] holds the
// recovered plaintext IP datagram at offset 0. Open itself checks that
// the wire sequence field matches the PN's low 32 bits before the AEAD
// open; the caller is responsible for the anti-replay check before
// calling Open (spec.md §4.3 orders it ahead of the AEAD open).
func Open(buf *packet.Buffer, salt uint32, cipher aead.Cipher) error {
	if int(buf.Length) < HeaderSize+TrailerSize+cipher.Overhead() {
		return ErrTooShort
	}
	hdr := Decode(buf.Data[:HeaderSize])
	if hdr.SeqLow != uint32(hdr.PN) {
		return ErrSeqMismatch
	}

	nonce := Nonce(salt, hdr.PN)
	aad := AAD(hdr.SPI, hdr.PN)

	// Decrypt into a scratch buffer rather than in place: on tag
	// failure the caller (the decrypt stage's RX two-slot logic) may
	// retry the same datagram against a second SA, and an in-place
	// Open would have the stdlib AEAD zero the ciphertext region on
	// authentication failure, destroying it before the retry.
	ciphertext := buf.Data[HeaderSize:buf.Length]
	var scratch [packet.MaxPayload + TrailerSize]byte
	plain, err := cipher.Open(scratch[:0], nonce[:], ciphertext, aad[:])
	if err != nil {
		return err
	}

	n := len(plain)
	if n < TrailerSize {
		return ErrBadTrailer
	}
	padLen := plain[n-TrailerSize]
	nextHeader := plain[n-TrailerSize+1]
	if padLen != 0 || nextHeader != NextHeaderIP {
		return ErrBadTrailer
	}

	plainLen := n - TrailerSize
	copy(buf.Data[:plainLen], plain[:plainLen])
	buf.Length = uint32(plainLen)
	return nil
}

// HeaderAt decodes the ESP header from a raw on-wire datagram without
// mutating it. Used by the crypto stage's permissive pre-check
// (spec.md §4.5) which only needs the packet number, not a full Open.
func HeaderAt(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrTooShort
	}
	return Decode(data[:HeaderSize]), nil
}
