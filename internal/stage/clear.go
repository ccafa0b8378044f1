// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stage

import (
	"log/slog"

	"github.com/jorisvink/signsky/internal/packet"
	"github.com/jorisvink/signsky/internal/pool"
	"github.com/jorisvink/signsky/internal/ring"
	"github.com/jorisvink/signsky/internal/tun"
)

// Clear is the clear-in/out worker: it reads plaintext IP datagrams
// from the tunnel device and hands them to encrypt, and writes
// decrypted datagrams coming back from decrypt to the tunnel (spec.md
// §2's stage table).
type Clear struct {
	dev         tun.Device
	pool        *pool.Pool
	toEncrypt   *ring.Queue // producer: clear -> encrypt
	fromDecrypt *ring.Queue // consumer: decrypt -> clear
}

// NewClear wires a Clear worker to its tunnel device and the two
// queues it touches. Every other shared-memory resource is left
// unattached by the supervisor, per spec.md §5's confinement model.
func NewClear(dev tun.Device, p *pool.Pool, toEncrypt, fromDecrypt *ring.Queue) *Clear {
	return &Clear{dev: dev, pool: p, toEncrypt: toEncrypt, fromDecrypt: fromDecrypt}
}

// Run blocks until r observes a quit signal.
func (c *Clear) Run(r *Runner, highPerformance bool) error {
	return r.Run(highPerformance, c.tick)
}

func (c *Clear) tick() (bool, error) {
	did := c.drainEgress()
	if c.readIngress() {
		did = true
	}
	return did, nil
}

// readIngress reads up to MaxBatch datagrams from the tunnel device and
// enqueues them to encrypt (spec.md §4.6 step 2).
func (c *Clear) readIngress() bool {
	did := false
	for i := 0; i < MaxBatch; i++ {
		idx, buf, ok := c.pool.Acquire()
		if !ok {
			did = c.dropOneRead() || did
			continue
		}

		n, err := c.dev.Read(buf.Data[:packet.MaxPayload])
		if err != nil {
			c.pool.Release(idx)
			return did
		}
		if n == 0 {
			c.pool.Release(idx)
			return did
		}

		buf.Reset()
		buf.Length = uint32(n)
		did = true

		if err := c.toEncrypt.Enqueue(idx); err != nil {
			c.pool.Release(idx)
		}
	}
	return did
}

// dropOneRead reads one datagram into a throwaway buffer and discards
// it, the pool's documented exhaustion fallback (spec.md §3/§4.2).
func (c *Clear) dropOneRead() bool {
	var scratch [packet.MaxPayload]byte
	n, err := c.dev.Read(scratch[:])
	return err == nil && n > 0
}

// drainEgress writes decrypted datagrams from decrypt back out the
// tunnel.
func (c *Clear) drainEgress() bool {
	did := false
	for i := 0; i < MaxBatch; i++ {
		idx, err := c.fromDecrypt.Dequeue()
		if err != nil {
			return did
		}
		did = true

		buf := c.pool.At(idx)
		if _, err := c.dev.Write(buf.Plaintext()); err != nil {
			slog.Warn("clear: tunnel write failed", "err", err)
		}
		c.pool.Release(idx)
	}
	return did
}
