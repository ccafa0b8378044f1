// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stage_test

import (
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jorisvink/signsky/internal/ctlsock"
	"github.com/jorisvink/signsky/internal/keying"
	"github.com/jorisvink/signsky/internal/stage"
	"github.com/jorisvink/signsky/internal/state"
)

func TestKeyingPublishesAndServesStatus(t *testing.T) {
	dir := t.TempDir()
	keySock, err := ctlsock.Bind(filepath.Join(dir, "keying.sock"), os.Getuid(), os.Getgid())
	require.NoError(t, err)
	defer keySock.Close()

	statusSock, err := ctlsock.Bind(filepath.Join(dir, "status.sock"), os.Getuid(), os.Getgid())
	require.NoError(t, err)

	var txCell, rxCell keying.Cell
	txCell.Init()
	rxCell.Init()

	var block state.Block
	block.Init(time.Now())

	k := stage.NewKeying(keySock, statusSock, &txCell, &rxCell, &block)
	r := stage.NewRunner()
	done := make(chan struct{})
	go func() {
		k.Run(r, true)
		close(done)
	}()

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: keySock.Path(), Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()

	var rec ctlsock.KeyRecord
	rec.TXSPI = 5
	rec.RXSPI = 6
	rec.Key[0] = 0x42
	_, err = conn.Write(rec.Encode())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tx, rx := block.SPIs()
		return tx == 5 && rx == 6
	}, time.Second, time.Millisecond)

	spi, key, ok, err := txCell.TryInstall()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 5, spi)
	require.EqualValues(t, 0x42, key[0])

	statusConn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: statusSock.Path(), Net: "unixgram"})
	require.NoError(t, err)
	defer statusConn.Close()

	_, err = statusConn.Write([]byte{ctlsock.StatusRequest})
	require.NoError(t, err)

	respBuf := make([]byte, ctlsock.StatusRecordSize)
	require.NoError(t, statusConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := statusConn.Read(respBuf)
	require.NoError(t, err)

	status, err := ctlsock.DecodeStatusRecord(respBuf[:n])
	require.NoError(t, err)
	require.EqualValues(t, 5, status.TXSPI)
	require.EqualValues(t, 6, status.RXSPI)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Keying.Run did not return after quit signal")
	}
}
