// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package packet defines the fixed-size packet buffer shared by every
// pipeline stage, per spec.md §3 "Packet buffer". Buffers live inline
// inside the process-shared pool (internal/pool) and are never copied
// across stage boundaries — only their pool index travels through a
// ring.Queue.
package packet

// Stage names the next pipeline stage a buffer is routed to. It mirrors
// spec.md §2's stage table and is used purely for bookkeeping/logging;
// routing itself is implicit in which ring.Queue a handle was enqueued
// to.
type Stage uint8

const (
	StageNone Stage = iota
	StageClear
	StageCrypto
	StageEncrypt
	StageDecrypt
	StageKeying
)

func (s Stage) String() string {
	switch s {
	case StageClear:
		return "clear"
	case StageCrypto:
		return "crypto"
	case StageEncrypt:
		return "encrypt"
	case StageDecrypt:
		return "decrypt"
	case StageKeying:
		return "keying"
	default:
		return "none"
	}
}

const (
	// MaxPayload is the largest plaintext IP datagram signsky will
	// carry. Larger datagrams are dropped (spec.md Non-goals:
	// fragmentation/reassembly, jumbo frames).
	MaxPayload = 1500

	// HeadReserve is the space reserved before the payload for the ESP
	// header (4-byte SPI + 4-byte sequence + 8-byte packet number).
	HeadReserve = 16

	// TrailerReserve is the space reserved after the payload for the
	// 2-byte ESP trailer (pad length, next header).
	TrailerReserve = 2

	// TagReserve is the space reserved for the AEAD authentication tag.
	TagReserve = 16

	// BufferSize is the total fixed size of a packet buffer's data
	// region, per spec.md §3 ("2048 B"). HeadReserve+MaxPayload+
	// TrailerReserve+TagReserve is 1534; the remainder is unused
	// padding, matching the spec's stated buffer size exactly.
	BufferSize = 2048
)

// originFamily distinguishes a populated IPv4 origin address from an
// unset one inside the fixed-size Origin field.
const (
	originUnset = 0
	originIPv4  = 4
)

// Buffer is the fixed-size region described in spec.md §3. It contains
// no pointers or slices so it can be embedded directly inside a
// process-shared memory segment (see internal/pool) and interpreted
// identically by every attached OS process.
type Buffer struct {
	// Length is the number of valid bytes in Data, starting at offset 0
	// (i.e. Data[:Length] is the full on-wire or plaintext datagram,
	// head reservation included for ESP-framed buffers).
	Length uint32

	// Next names the stage this buffer is addressed to. Informational;
	// actual delivery is via whichever ring.Queue the index was pushed
	// to.
	Next uint8

	// originFamily is originIPv4 when Origin holds a valid address
	// (set on ingress datagrams for peer-address learning, §4.7).
	originFamily uint8

	_ [2]byte // alignment

	// OriginAddr/OriginPort record the UDP source of an inbound ESP
	// datagram, consumed by the decrypt stage for peer-address
	// learning.
	OriginAddr [4]byte
	OriginPort uint16

	_ [2]byte // alignment

	// Data is the buffer's byte region. Payload lives at
	// Data[HeadReserve:HeadReserve+payloadLen]; ESP framing occupies
	// Data[:HeadReserve] and the trailer+tag follow the payload.
	Data [BufferSize]byte
}

// Reset clears bookkeeping fields before a buffer is handed back to the
// pool. The byte payload itself is left untouched — it will be
// overwritten by the next acquirer before use, avoiding a 2048-byte
// memset on every free/acquire cycle.
func (b *Buffer) Reset() {
	b.Length = 0
	b.Next = uint8(StageNone)
	b.originFamily = originUnset
	b.OriginAddr = [4]byte{}
	b.OriginPort = 0
}

// SetOrigin records the UDP source address of an inbound ESP datagram.
func (b *Buffer) SetOrigin(addr [4]byte, port uint16) {
	b.OriginAddr = addr
	b.OriginPort = port
	b.originFamily = originIPv4
}

// Origin returns the recorded UDP source address, if any.
func (b *Buffer) Origin() (addr [4]byte, port uint16, ok bool) {
	if b.originFamily != originIPv4 {
		return [4]byte{}, 0, false
	}
	return b.OriginAddr, b.OriginPort, true
}

// Payload returns the plaintext/ciphertext region currently occupying
// the buffer, i.e. Data[HeadReserve:HeadReserve+n] where n is Length
// minus the head reservation. Callers on the clear-side (no ESP
// framing yet) should use Plaintext/SetPlaintext instead.
func (b *Buffer) Payload() []byte {
	if b.Length < HeadReserve {
		return nil
	}
	return b.Data[HeadReserve:b.Length]
}

// Plaintext returns the full valid region of a buffer that has not yet
// been ESP-framed (clear-queue / encrypt-queue-inbound buffers), i.e.
// Data[:Length] with no head reservation applied.
func (b *Buffer) Plaintext() []byte {
	return b.Data[:b.Length]
}

// SetPlaintext copies a plaintext IP datagram into the buffer at offset
// 0 (no head reservation — the encrypt stage applies HeadReserve when
// it frames the packet).
func (b *Buffer) SetPlaintext(p []byte) bool {
	if len(p) > MaxPayload {
		return false
	}
	copy(b.Data[:], p)
	b.Length = uint32(len(p))
	return true
}
