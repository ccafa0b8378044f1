// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stage

import (
	"log/slog"

	"github.com/jorisvink/signsky/internal/esp"
	"github.com/jorisvink/signsky/internal/keying"
	"github.com/jorisvink/signsky/internal/netudp"
	"github.com/jorisvink/signsky/internal/packet"
	"github.com/jorisvink/signsky/internal/pool"
	"github.com/jorisvink/signsky/internal/ring"
)

// replaySlack widens the crypto stage's permissive pre-check by the
// decrypt queue's depth minus one, per spec.md §4.5, so a datagram
// merely waiting in the queue is never rejected here. It is read from
// the decrypt queue's own capacity, so the two cannot drift apart.
func (c *Crypto) replaySlack() uint64 {
	return uint64(c.toDecrypt.Cap() - 1)
}

// Crypto is the crypto-in/out worker: it reads ESP datagrams from the
// peer UDP socket and hands them to decrypt (after a cheap permissive
// anti-replay pre-check), and sends ESP datagrams produced by encrypt
// out to the peer (spec.md §2's stage table).
type Crypto struct {
	sock        *netudp.Socket
	pool        *pool.Pool
	toDecrypt   *ring.Queue // producer: crypto -> decrypt
	fromEncrypt *ring.Queue // consumer: encrypt -> crypto
	rxView      *keying.RXView
}

// NewCrypto wires a Crypto worker to its UDP socket and queues. rxView
// is consulted read-only, for the permissive pre-check only — decrypt
// is its sole writer, publishing into it every time its own RX installs
// or promotes a slot1 key, so crypto never needs its own handoff-cell
// consumer for the RX side (which would race decrypt's TryInstall for
// the same installation). The authoritative anti-replay check and the
// AEAD open itself happen in decrypt.
func NewCrypto(sock *netudp.Socket, p *pool.Pool, toDecrypt, fromEncrypt *ring.Queue, rxView *keying.RXView) *Crypto {
	return &Crypto{sock: sock, pool: p, toDecrypt: toDecrypt, fromEncrypt: fromEncrypt, rxView: rxView}
}

// Run blocks until r observes a quit signal.
func (c *Crypto) Run(r *Runner, highPerformance bool) error {
	return r.Run(highPerformance, c.tick)
}

func (c *Crypto) tick() (bool, error) {
	did := c.sendEgress()
	if c.recvIngress() {
		did = true
	}
	return did, nil
}

// recvIngress reads up to MaxBatch ESP datagrams, pre-filters
// unambiguously stale ones, and enqueues the rest to decrypt (spec.md
// §4.6 step 2).
func (c *Crypto) recvIngress() bool {
	did := false
	for i := 0; i < MaxBatch; i++ {
		idx, buf, ok := c.pool.Acquire()
		if !ok {
			return did
		}

		n, srcAddr, srcPort, err := c.sock.ReadFrom(buf.Data[:])
		if err != nil || n == 0 {
			c.pool.Release(idx)
			return did
		}
		did = true

		buf.Reset()
		buf.Length = uint32(n)
		buf.SetOrigin(srcAddr, srcPort)

		hdr, err := esp.HeaderAt(buf.Data[:buf.Length])
		if err != nil || !c.rxView.PermissiveCheck(hdr.PN, c.replaySlack()) {
			c.pool.Release(idx)
			continue
		}

		if err := c.toDecrypt.Enqueue(idx); err != nil {
			c.pool.Release(idx)
		}
	}
	return did
}

// sendEgress sends ESP datagrams produced by encrypt out to the
// currently learned peer address, dropping anything sent before a peer
// is known (spec.md §4.7).
func (c *Crypto) sendEgress() bool {
	did := false
	for i := 0; i < MaxBatch; i++ {
		idx, err := c.fromEncrypt.Dequeue()
		if err != nil {
			return did
		}
		did = true

		buf := c.pool.At(idx)
		if _, err := c.sock.WriteTo(buf.Data[:buf.Length]); err != nil {
			slog.Debug("crypto: udp send failed", "err", err)
		}
		c.pool.Release(idx)
	}
	return did
}
