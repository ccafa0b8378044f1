// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package state holds the process-shared runtime counters and peer
// address record every stage updates or reads (spec.md §3 "Global
// state block" and §5's status-socket reporting). Like ring.Queue and
// keying.Cell, Block has no pointers or slices so it can be mapped
// directly onto a segment.
package state

import (
	"encoding/binary"
	"net"
	"time"

	"code.hybscloud.com/atomix"
)

// Block is the shared counters/peer-address record.
type Block struct {
	_ [64]byte

	txSPI atomix.Uint32
	rxSPI atomix.Uint32
	_     [56]byte

	txPackets atomix.Uint64
	txBytes   atomix.Uint64
	rxPackets atomix.Uint64
	rxBytes   atomix.Uint64
	_         [32]byte

	// peer packs an IPv4 address and port into one 64-bit word so it
	// can be read and written with a single atomic op rather than
	// risking a torn read across two fields.
	peer atomix.Uint64
	_    [56]byte

	startedAtUnix atomix.Int64
	lastActiveUnix atomix.Int64
	_              [48]byte
}

// Init zeroes the block and stamps the start time.
func (b *Block) Init(now time.Time) {
	b.txSPI.StoreRelaxed(0)
	b.rxSPI.StoreRelaxed(0)
	b.txPackets.StoreRelaxed(0)
	b.txBytes.StoreRelaxed(0)
	b.rxPackets.StoreRelaxed(0)
	b.rxBytes.StoreRelaxed(0)
	b.peer.StoreRelaxed(0)
	b.startedAtUnix.StoreRelaxed(now.Unix())
	b.lastActiveUnix.StoreRelaxed(now.Unix())
}

// SetSPIs records the currently installed TX/RX SPIs for status
// reporting.
func (b *Block) SetSPIs(tx, rx uint32) {
	b.txSPI.StoreRelease(tx)
	b.rxSPI.StoreRelease(rx)
}

// SPIs returns the currently installed TX/RX SPIs.
func (b *Block) SPIs() (tx, rx uint32) {
	return b.txSPI.LoadAcquire(), b.rxSPI.LoadAcquire()
}

// AddTX accounts for one transmitted packet of n bytes.
func (b *Block) AddTX(n int, now time.Time) {
	b.txPackets.AddAcqRel(1)
	b.txBytes.AddAcqRel(uint64(n))
	b.lastActiveUnix.StoreRelease(now.Unix())
}

// AddRX accounts for one received packet of n bytes.
func (b *Block) AddRX(n int, now time.Time) {
	b.rxPackets.AddAcqRel(1)
	b.rxBytes.AddAcqRel(uint64(n))
	b.lastActiveUnix.StoreRelease(now.Unix())
}

// Counters is a point-in-time snapshot of Block's traffic counters.
type Counters struct {
	TXPackets uint64
	TXBytes   uint64
	RXPackets uint64
	RXBytes   uint64
	Uptime    time.Duration
	LastActive time.Time
}

// Snapshot reads a consistent-enough view of the counters for the
// status socket. Each field is read with its own atomic load; spec.md
// doesn't require the four counters to be read as a single atomic
// unit, only that each individual counter never appear torn.
func (b *Block) Snapshot(now time.Time) Counters {
	started := b.startedAtUnix.LoadAcquire()
	return Counters{
		TXPackets:  b.txPackets.LoadAcquire(),
		TXBytes:    b.txBytes.LoadAcquire(),
		RXPackets:  b.rxPackets.LoadAcquire(),
		RXBytes:    b.rxBytes.LoadAcquire(),
		Uptime:     time.Duration(now.Unix()-started) * time.Second,
		LastActive: time.Unix(b.lastActiveUnix.LoadAcquire(), 0),
	}
}

// SetPeer atomically records the current peer UDP endpoint (IPv4 only,
// per spec.md's tunnel design).
func (b *Block) SetPeer(addr [4]byte, port uint16) {
	var packed [8]byte
	copy(packed[0:4], addr[:])
	binary.BigEndian.PutUint16(packed[4:6], port)
	b.peer.StoreRelease(binary.BigEndian.Uint64(packed[:]))
}

// Peer returns the currently recorded peer UDP endpoint. ok is false
// if no peer has ever been recorded.
func (b *Block) Peer() (ip net.IP, port uint16, ok bool) {
	v := b.peer.LoadAcquire()
	if v == 0 {
		return nil, 0, false
	}
	var packed [8]byte
	binary.BigEndian.PutUint64(packed[:], v)
	ip = net.IPv4(packed[0], packed[1], packed[2], packed[3])
	port = binary.BigEndian.Uint16(packed[4:6])
	return ip, port, true
}
