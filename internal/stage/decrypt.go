// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stage

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jorisvink/signsky/internal/esp"
	"github.com/jorisvink/signsky/internal/keying"
	"github.com/jorisvink/signsky/internal/pool"
	"github.com/jorisvink/signsky/internal/ring"
	"github.com/jorisvink/signsky/internal/state"
)

// Decrypt is the decrypt worker: it runs the RX two-slot AEAD open,
// anti-replay and trailer validation against datagrams from crypto and
// hands recovered plaintext to clear (spec.md §2's stage table, §4.3's
// decrypt path, §4.4's two-slot rekey policy).
type Decrypt struct {
	rx         *keying.RX
	pool       *pool.Pool
	block      *state.Block
	fromCrypto *ring.Queue // consumer: crypto -> decrypt
	toClear    *ring.Queue // producer: decrypt -> clear
}

// NewDecrypt wires a Decrypt worker to the RX key-handoff consumer and
// the two queues it touches.
func NewDecrypt(rx *keying.RX, p *pool.Pool, block *state.Block, fromCrypto, toClear *ring.Queue) *Decrypt {
	return &Decrypt{rx: rx, pool: p, block: block, fromCrypto: fromCrypto, toClear: toClear}
}

// Run blocks until r observes a quit signal or a fatal error occurs.
func (d *Decrypt) Run(r *Runner, highPerformance bool) error {
	return r.Run(highPerformance, d.tick)
}

func (d *Decrypt) tick() (bool, error) {
	// "Each packet-processing pass first checks pending key
	// installation" (spec.md §4.6). A protocol violation here means the
	// handoff cell's invariants broke, which spec.md §7 treats as fatal.
	if err := d.rx.Tick(); err != nil {
		if errors.Is(err, keying.ErrProtocolViolation) {
			return false, err
		}
		slog.Error("decrypt: rx key install failed", "err", err)
	}

	did := false
	for i := 0; i < MaxBatch; i++ {
		idx, err := d.fromCrypto.Dequeue()
		if err != nil {
			return did, nil
		}
		did = true

		buf := d.pool.At(idx)
		hdr, _ := esp.HeaderAt(buf.Data[:buf.Length])
		if err := d.rx.Open(buf); err != nil {
			slog.Info("decrypt: dropped datagram", "spi", hdr.SPI, "pn", hdr.PN, "reason", err)
			d.pool.Release(idx)
			continue
		}

		now := time.Now()
		d.block.AddRX(int(buf.Length), now)
		if addr, port, ok := buf.Origin(); ok {
			d.block.SetPeer(addr, port)
		}

		if err := d.toClear.Enqueue(idx); err != nil {
			d.pool.Release(idx)
		}
	}
	return did, nil
}
