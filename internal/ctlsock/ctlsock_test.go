// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ctlsock_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jorisvink/signsky/internal/ctlsock"
	"github.com/jorisvink/signsky/internal/state"
)

func TestKeyRecordRoundTrip(t *testing.T) {
	var rec ctlsock.KeyRecord
	rec.Key[0] = 0xAA
	rec.TXSPI = 0x1111
	rec.RXSPI = 0x2222

	decoded, err := ctlsock.DecodeKeyRecord(rec.Encode())
	require.NoError(t, err)
	require.Equal(t, rec, decoded)
}

func TestDecodeKeyRecordRejectsWrongSize(t *testing.T) {
	_, err := ctlsock.DecodeKeyRecord(make([]byte, 10))
	require.Error(t, err)
}

func TestStatusRecordRoundTrip(t *testing.T) {
	rec := ctlsock.StatusRecord{
		TXSPI: 1, RXSPI: 2,
		TXPackets: 100, TXBytes: 20000,
		RXPackets: 50, RXBytes: 9000,
		LastActivity: 1234567890,
	}
	decoded, err := ctlsock.DecodeStatusRecord(rec.Encode())
	require.NoError(t, err)
	require.Equal(t, rec, decoded)
}

func TestBindCreatesSocketWithExpectedMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.sock")
	l, err := ctlsock.Bind(path, os.Getuid(), os.Getgid())
	require.NoError(t, err)
	defer l.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestKeyingSocketReceivesRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keying.sock")
	l, err := ctlsock.Bind(path, os.Getuid(), os.Getgid())
	require.NoError(t, err)
	defer l.Close()

	go func() {
		// Give the reader a moment to block in Read.
		time.Sleep(10 * time.Millisecond)
		conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
		if err != nil {
			return
		}
		defer conn.Close()
		var rec ctlsock.KeyRecord
		rec.TXSPI = 7
		rec.RXSPI = 9
		conn.Write(rec.Encode())
	}()

	rec, err := l.ReadKeyRecord()
	require.NoError(t, err)
	require.EqualValues(t, 7, rec.TXSPI)
	require.EqualValues(t, 9, rec.RXSPI)
}

func TestStatusServerAnswersRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.sock")
	l, err := ctlsock.Bind(path, os.Getuid(), os.Getgid())
	require.NoError(t, err)
	defer l.Close()

	var block state.Block
	now := time.Now()
	block.Init(now)
	block.SetSPIs(11, 22)
	block.AddTX(10, now)

	go ctlsock.ServeStatus(l, &block, func() time.Time { return now })

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte{ctlsock.StatusRequest})
	require.NoError(t, err)

	buf := make([]byte, ctlsock.StatusRecordSize)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)

	rec, err := ctlsock.DecodeStatusRecord(buf[:n])
	require.NoError(t, err)
	require.EqualValues(t, 11, rec.TXSPI)
	require.EqualValues(t, 22, rec.RXSPI)
	require.EqualValues(t, 1, rec.TXPackets)
}
