// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package keying_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jorisvink/signsky/internal/keying"
	"github.com/jorisvink/signsky/internal/packet"
)

func TestRXOpenWithoutKeyFails(t *testing.T) {
	var cell keying.Cell
	cell.Init()
	rx := keying.NewRX(&cell, nil)

	var buf packet.Buffer
	buf.Length = 64
	require.ErrorIs(t, rx.Open(&buf), keying.ErrNoKey)
}

func TestRXRoundTripThroughTX(t *testing.T) {
	var txCell, rxCell keying.Cell
	txCell.Init()
	rxCell.Init()

	key := randKey(t)
	require.NoError(t, txCell.Publish(1, key))
	require.NoError(t, rxCell.Publish(1, key))

	tx := keying.NewTX(&txCell)
	rx := keying.NewRX(&rxCell, nil)
	require.NoError(t, tx.Tick())
	require.NoError(t, rx.Tick())

	var buf packet.Buffer
	require.True(t, buf.SetPlaintext([]byte("hello, peer")))
	require.NoError(t, tx.Seal(&buf))
	require.NoError(t, rx.Open(&buf))
	require.Equal(t, "hello, peer", string(buf.Plaintext()))
}

// TestRXTwoSlotFallbackAndPromotion is spec.md §4.4's central RX
// scenario: a rekey installs a second SA into slot2 while slot1 is
// still accepting traffic under the old key; a datagram sealed under
// the new key fails against slot1 and succeeds against slot2, which is
// then promoted to slot1.
func TestRXTwoSlotFallbackAndPromotion(t *testing.T) {
	var txCell, rxCell keying.Cell
	txCell.Init()
	rxCell.Init()

	keyA := randKey(t)
	require.NoError(t, txCell.Publish(1, keyA))
	require.NoError(t, rxCell.Publish(1, keyA))

	tx := keying.NewTX(&txCell)
	rx := keying.NewRX(&rxCell, nil)
	require.NoError(t, tx.Tick())
	require.NoError(t, rx.Tick())

	var buf1 packet.Buffer
	require.True(t, buf1.SetPlaintext([]byte("under key A")))
	require.NoError(t, tx.Seal(&buf1))
	require.NoError(t, rx.Open(&buf1))

	keyB := randKey(t)
	require.NoError(t, txCell.Publish(2, keyB))
	require.NoError(t, rxCell.Publish(2, keyB))
	require.NoError(t, tx.Tick())
	require.NoError(t, rx.Tick())

	spiBefore, _ := rx.SPI()
	require.EqualValues(t, 1, spiBefore)

	var buf2 packet.Buffer
	require.True(t, buf2.SetPlaintext([]byte("under key B")))
	require.NoError(t, tx.Seal(&buf2))
	require.NoError(t, rx.Open(&buf2))
	require.Equal(t, "under key B", string(buf2.Plaintext()))

	spiAfter, _ := rx.SPI()
	require.EqualValues(t, 2, spiAfter, "slot2 should have been promoted to slot1")

	var buf3 packet.Buffer
	require.True(t, buf3.SetPlaintext([]byte("still under key B")))
	require.NoError(t, tx.Seal(&buf3))
	require.NoError(t, rx.Open(&buf3))
}

func TestRXRejectsTamperedDatagram(t *testing.T) {
	var txCell, rxCell keying.Cell
	txCell.Init()
	rxCell.Init()

	key := randKey(t)
	require.NoError(t, txCell.Publish(1, key))
	require.NoError(t, rxCell.Publish(1, key))

	tx := keying.NewTX(&txCell)
	rx := keying.NewRX(&rxCell, nil)
	require.NoError(t, tx.Tick())
	require.NoError(t, rx.Tick())

	var buf packet.Buffer
	require.True(t, buf.SetPlaintext([]byte("payload")))
	require.NoError(t, tx.Seal(&buf))
	buf.Data[buf.Length-1] ^= 0xff

	require.Error(t, rx.Open(&buf))
}

func TestRXRejectsReplayedDatagram(t *testing.T) {
	var txCell, rxCell keying.Cell
	txCell.Init()
	rxCell.Init()

	key := randKey(t)
	require.NoError(t, txCell.Publish(1, key))
	require.NoError(t, rxCell.Publish(1, key))

	tx := keying.NewTX(&txCell)
	rx := keying.NewRX(&rxCell, nil)
	require.NoError(t, tx.Tick())
	require.NoError(t, rx.Tick())

	var buf packet.Buffer
	require.True(t, buf.SetPlaintext([]byte("payload")))
	require.NoError(t, tx.Seal(&buf))

	replay := buf
	require.NoError(t, rx.Open(&buf))
	require.Error(t, rx.Open(&replay))
}

// TestRXViewMirrorsSlot1 confirms the crypto stage's permissive
// pre-check sees live state through RXView rather than a permanently
// empty window: no key installed lets everything through, an installed
// key filters by its accepted packet numbers, and a rekey promotion
// republishes the view under the new SPI.
func TestRXViewMirrorsSlot1(t *testing.T) {
	var view keying.RXView
	view.Init()
	require.True(t, view.PermissiveCheck(1, 0))

	var txCell, rxCell keying.Cell
	txCell.Init()
	rxCell.Init()

	keyA := randKey(t)
	require.NoError(t, txCell.Publish(1, keyA))
	require.NoError(t, rxCell.Publish(1, keyA))

	tx := keying.NewTX(&txCell)
	rx := keying.NewRX(&rxCell, &view)
	require.NoError(t, tx.Tick())
	require.NoError(t, rx.Tick())

	spi, ok := view.SPI()
	require.True(t, ok)
	require.EqualValues(t, 1, spi)

	var buf packet.Buffer
	require.True(t, buf.SetPlaintext([]byte("under key A")))
	require.NoError(t, tx.Seal(&buf))
	require.NoError(t, rx.Open(&buf))
	require.False(t, view.PermissiveCheck(0, 0), "packet 0 is never valid once a key is installed")

	keyB := randKey(t)
	require.NoError(t, txCell.Publish(2, keyB))
	require.NoError(t, rxCell.Publish(2, keyB))
	require.NoError(t, tx.Tick())
	require.NoError(t, rx.Tick())

	var buf2 packet.Buffer
	require.True(t, buf2.SetPlaintext([]byte("under key B")))
	require.NoError(t, tx.Seal(&buf2))
	require.NoError(t, rx.Open(&buf2))

	spiAfter, ok := view.SPI()
	require.True(t, ok)
	require.EqualValues(t, 2, spiAfter, "view should follow slot2's promotion to slot1")
}
