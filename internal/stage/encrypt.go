// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stage

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jorisvink/signsky/internal/keying"
	"github.com/jorisvink/signsky/internal/pool"
	"github.com/jorisvink/signsky/internal/ring"
	"github.com/jorisvink/signsky/internal/state"
)

// Encrypt is the encrypt worker: it ESP-frames and AEAD-seals
// plaintext datagrams from clear under the current TX key and hands
// them to crypto (spec.md §2's stage table, §4.3's encrypt path).
type Encrypt struct {
	tx        *keying.TX
	pool      *pool.Pool
	block     *state.Block
	fromClear *ring.Queue // consumer: clear -> encrypt
	toCrypto  *ring.Queue // producer: encrypt -> crypto
}

// NewEncrypt wires an Encrypt worker to the TX key-handoff consumer and
// the two queues it touches.
func NewEncrypt(tx *keying.TX, p *pool.Pool, block *state.Block, fromClear, toCrypto *ring.Queue) *Encrypt {
	return &Encrypt{tx: tx, pool: p, block: block, fromClear: fromClear, toCrypto: toCrypto}
}

// Run blocks until r observes a quit signal or a fatal error occurs.
func (e *Encrypt) Run(r *Runner, highPerformance bool) error {
	return r.Run(highPerformance, e.tick)
}

func (e *Encrypt) tick() (bool, error) {
	// "Each packet-processing pass first checks pending key
	// installation" (spec.md §4.6). A protocol violation here means the
	// handoff cell's invariants broke, which spec.md §7 treats as fatal.
	if err := e.tx.Tick(); err != nil {
		if errors.Is(err, keying.ErrProtocolViolation) {
			return false, err
		}
		slog.Error("encrypt: tx key install failed", "err", err)
	}

	did := false
	for i := 0; i < MaxBatch; i++ {
		idx, err := e.fromClear.Dequeue()
		if err != nil {
			return did, nil
		}
		did = true

		buf := e.pool.At(idx)
		if err := e.tx.Seal(buf); err != nil {
			if !errors.Is(err, keying.ErrNoKey) {
				slog.Warn("encrypt: seal failed", "err", err)
			}
			e.pool.Release(idx)
			continue
		}

		e.block.AddTX(int(buf.Length), time.Now())

		if err := e.toCrypto.Enqueue(idx); err != nil {
			e.pool.Release(idx)
		}
	}
	return did, nil
}
