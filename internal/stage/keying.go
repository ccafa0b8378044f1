// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stage

import (
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/jorisvink/signsky/internal/ctlsock"
	"github.com/jorisvink/signsky/internal/keying"
	"github.com/jorisvink/signsky/internal/state"
)

// keyingPollInterval bounds how long the keying worker's read blocks
// before re-checking for a quit signal.
const keyingPollInterval = 200 * time.Millisecond

// Keying is the keying worker: it accepts key-injection messages on a
// unix-domain datagram socket and publishes them into the TX and RX
// handoff cells, and answers the status socket (spec.md §2's stage
// table, §6's control sockets).
type Keying struct {
	keySock    *ctlsock.Listener
	statusSock *ctlsock.Listener
	tx         *keying.Cell
	rx         *keying.Cell
	block      *state.Block
}

// NewKeying wires a Keying worker to its two control sockets and the
// TX/RX handoff cells it produces into.
func NewKeying(keySock, statusSock *ctlsock.Listener, tx, rx *keying.Cell, block *state.Block) *Keying {
	return &Keying{keySock: keySock, statusSock: statusSock, tx: tx, rx: rx, block: block}
}

// Run blocks until r observes a quit signal or a fatal error occurs,
// then closes the status socket to unblock its serving goroutine.
func (k *Keying) Run(r *Runner, highPerformance bool) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ctlsock.ServeStatus(k.statusSock, k.block, time.Now); err != nil {
			slog.Debug("keying: status socket stopped", "err", err)
		}
	}()

	err := r.Run(highPerformance, k.tick)

	k.statusSock.Close()
	<-done
	return err
}

func (k *Keying) tick() (bool, error) {
	if err := k.keySock.SetReadDeadline(time.Now().Add(keyingPollInterval)); err != nil {
		slog.Error("keying: set read deadline failed", "err", err)
		return false, nil
	}

	rec, err := k.keySock.ReadKeyRecord()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false, nil
		}
		if !errors.Is(err, net.ErrClosed) {
			slog.Warn("keying: read failed", "err", err)
		}
		return false, nil
	}

	key := rec.Key
	if rec.Mode == ctlsock.ModeHKDFSecret {
		key, err = keying.DeriveKey(rec.Secret)
		if err != nil {
			slog.Error("keying: hkdf expansion failed", "err", err)
			return false, nil
		}
	}

	// A protocol violation publishing means the handoff cell's
	// invariants broke, which spec.md §7 treats as fatal.
	if err := k.tx.Publish(rec.TXSPI, key); err != nil {
		if errors.Is(err, keying.ErrProtocolViolation) {
			return false, err
		}
		slog.Error("keying: tx cell publish failed", "err", err)
		return false, nil
	}
	if err := k.rx.Publish(rec.RXSPI, key); err != nil {
		if errors.Is(err, keying.ErrProtocolViolation) {
			return false, err
		}
		slog.Error("keying: rx cell publish failed", "err", err)
		return false, nil
	}

	k.block.SetSPIs(rec.TXSPI, rec.RXSPI)
	return true, nil
}
