// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keying_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jorisvink/signsky/internal/aead"
	"github.com/jorisvink/signsky/internal/keying"
	"github.com/jorisvink/signsky/internal/packet"
)

func randKey(t *testing.T) [aead.KeySize]byte {
	t.Helper()
	var k [aead.KeySize]byte
	_, err := rand.Read(k[:])
	require.NoError(t, err)
	return k
}

func TestTXSealWithoutKeyFails(t *testing.T) {
	var cell keying.Cell
	cell.Init()
	tx := keying.NewTX(&cell)

	var buf packet.Buffer
	require.True(t, buf.SetPlaintext([]byte("hi")))
	require.ErrorIs(t, tx.Seal(&buf), keying.ErrNoKey)
}

func TestTXTickInstallsAndSeals(t *testing.T) {
	var cell keying.Cell
	cell.Init()
	tx := keying.NewTX(&cell)

	key := randKey(t)
	require.NoError(t, cell.Publish(0xAABB, key))
	require.NoError(t, tx.Tick())

	spi, ok := tx.SPI()
	require.True(t, ok)
	require.EqualValues(t, 0xAABB, spi)

	var buf packet.Buffer
	require.True(t, buf.SetPlaintext([]byte("payload")))
	require.NoError(t, tx.Seal(&buf))
	require.Greater(t, buf.Length, uint32(len("payload")))
}

func TestTXRekeyReplacesSAOutright(t *testing.T) {
	var cell keying.Cell
	cell.Init()
	tx := keying.NewTX(&cell)

	require.NoError(t, cell.Publish(1, randKey(t)))
	require.NoError(t, tx.Tick())
	spi1, _ := tx.SPI()

	require.NoError(t, cell.Publish(2, randKey(t)))
	require.NoError(t, tx.Tick())
	spi2, _ := tx.SPI()

	require.NotEqual(t, spi1, spi2)
	require.EqualValues(t, 2, spi2)
}

func TestTXSealSucceedsAfterInstall(t *testing.T) {
	var cell keying.Cell
	cell.Init()
	tx := keying.NewTX(&cell)
	require.NoError(t, cell.Publish(1, randKey(t)))
	require.NoError(t, tx.Tick())

	// Driving the SA's sequence counter to exhaustion one increment at a
	// time is impractical in a unit test, so the exhaustion branch is not
	// exercised here; this only confirms an installed SA seals. The
	// no-key branch is covered by TestTXSealWithoutKeyFails.
	var buf packet.Buffer
	require.True(t, buf.SetPlaintext([]byte("x")))
	require.NoError(t, tx.Seal(&buf))
}
