// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package state_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jorisvink/signsky/internal/state"
)

func TestSPIsRoundTrip(t *testing.T) {
	var b state.Block
	b.Init(time.Now())
	b.SetSPIs(0x1111, 0x2222)
	tx, rx := b.SPIs()
	require.EqualValues(t, 0x1111, tx)
	require.EqualValues(t, 0x2222, rx)
}

func TestCountersAccumulate(t *testing.T) {
	var b state.Block
	now := time.Now()
	b.Init(now)

	b.AddTX(100, now)
	b.AddTX(50, now)
	b.AddRX(200, now)

	snap := b.Snapshot(now)
	require.EqualValues(t, 2, snap.TXPackets)
	require.EqualValues(t, 150, snap.TXBytes)
	require.EqualValues(t, 1, snap.RXPackets)
	require.EqualValues(t, 200, snap.RXBytes)
}

func TestPeerRoundTrip(t *testing.T) {
	var b state.Block
	b.Init(time.Now())

	_, _, ok := b.Peer()
	require.False(t, ok)

	b.SetPeer([4]byte{203, 0, 113, 5}, 51820)
	ip, port, ok := b.Peer()
	require.True(t, ok)
	require.Equal(t, "203.0.113.5", ip.String())
	require.EqualValues(t, 51820, port)
}

func TestUptimeReflectsInit(t *testing.T) {
	var b state.Block
	start := time.Now()
	b.Init(start)

	later := start.Add(5 * time.Second)
	snap := b.Snapshot(later)
	require.InDelta(t, 5*time.Second, snap.Uptime, float64(time.Millisecond))
}
