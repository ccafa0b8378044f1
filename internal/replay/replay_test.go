// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package replay_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jorisvink/signsky/internal/replay"
)

func accept(t *testing.T, w *replay.Window, p uint64) {
	t.Helper()
	require.True(t, w.Check(p), "expected PN %d to be accepted", p)
	w.Update(p)
}

func reject(t *testing.T, w *replay.Window, p uint64) {
	t.Helper()
	require.False(t, w.Check(p), "expected PN %d to be rejected", p)
}

func TestMonotoneSequenceAllAccepted(t *testing.T) {
	var w replay.Window
	w.Init()
	for p := uint64(1); p <= 1000; p++ {
		accept(t, &w, p)
	}
	require.EqualValues(t, 1000, w.Last())
}

func TestDuplicateRejected(t *testing.T) {
	var w replay.Window
	w.Init()
	for p := uint64(1); p <= 10; p++ {
		accept(t, &w, p)
	}
	for p := uint64(1); p <= 10; p++ {
		reject(t, &w, p)
	}
}

func TestTooOldRejected(t *testing.T) {
	var w replay.Window
	w.Init()
	accept(t, &w, 1000)
	reject(t, &w, 1000-64) // last-p == 64, outside the 64-wide window
	reject(t, &w, 1)
}

// TestReorderWithinWindow is spec.md §8 scenario 2: feed PNs in order
// 1..50, then 100, then 51..99. 37..50 were already seen (rejected as
// duplicates given last=100 at that point); 51..99 fall inside the
// window (last-p < 64 for p > 36) and are accepted.
func TestReorderWithinWindow(t *testing.T) {
	var w replay.Window
	w.Init()

	for p := uint64(1); p <= 50; p++ {
		accept(t, &w, p)
	}
	accept(t, &w, 100)

	for p := uint64(51); p <= 99; p++ {
		age := 100 - p
		if age >= 64 {
			reject(t, &w, p)
		} else {
			accept(t, &w, p)
		}
	}
	require.EqualValues(t, 100, w.Last())
}

func TestZeroPacketNumberAlwaysRejected(t *testing.T) {
	var w replay.Window
	w.Init()
	reject(t, &w, 0)
	accept(t, &w, 5)
	reject(t, &w, 0)
}

// TestAntiReplayInvariant is spec.md §8's property test: given any
// accepted sequence S of PNs, re-submission of any p in S is rejected;
// submission of any p with last-p >= 64 is rejected; otherwise accepted
// exactly once.
func TestAntiReplayInvariant(t *testing.T) {
	var w replay.Window
	w.Init()

	sequence := []uint64{1, 2, 3, 5, 4, 10, 9, 8, 7, 6, 20, 19, 80, 70, 75}
	accepted := map[uint64]bool{}

	for _, p := range sequence {
		last := w.Last()
		wantAccept := !accepted[p] && (p > last || last-p < 64)
		got := w.Check(p)
		require.Equal(t, wantAccept, got, "PN=%d last=%d", p, last)
		if got {
			w.Update(p)
			accepted[p] = true
		}
	}

	for p := range accepted {
		reject(t, &w, p)
	}
}

func TestPermissiveCheckWidensWithoutOverAccepting(t *testing.T) {
	var w replay.Window
	w.Init()
	accept(t, &w, 1000)

	// Strict check rejects p=936 (age 64); permissive with slack=1023
	// still accepts it, giving the crypto stage slack for in-flight
	// queue reordering.
	require.False(t, w.Check(936))
	require.True(t, w.PermissiveCheck(936, 1023))

	// Permissive check still rejects packet number 0, however wide the
	// slack.
	require.False(t, w.PermissiveCheck(0, 1023))
}
