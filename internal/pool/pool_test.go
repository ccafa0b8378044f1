// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pool_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jorisvink/signsky/internal/pool"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	var p pool.Pool
	p.Init()

	idx, buf, ok := p.Acquire()
	require.True(t, ok)
	require.NotNil(t, buf)
	require.Zero(t, buf.Length)

	buf.SetPlaintext([]byte("hello"))
	require.EqualValues(t, 5, buf.Length)

	p.Release(idx)

	idx2, buf2, ok := p.Acquire()
	require.True(t, ok)
	require.Equal(t, idx+1, idx2, "FIFO free list hands out the next seeded index before the just-released one")
	require.Zero(t, buf2.Length, "Reset must clear bookkeeping on acquire")
}

func TestPoolExhaustion(t *testing.T) {
	var p pool.Pool
	p.Init()

	acquired := make([]uint32, 0, pool.Size)
	for i := 0; i < pool.Size; i++ {
		idx, buf, ok := p.Acquire()
		require.True(t, ok, "acquire %d should succeed", i)
		require.NotNil(t, buf)
		acquired = append(acquired, idx)
	}

	_, _, ok := p.Acquire()
	require.False(t, ok, "pool should report exhaustion once Size buffers are outstanding")

	for _, idx := range acquired {
		p.Release(idx)
	}

	_, _, ok = p.Acquire()
	require.True(t, ok, "pool should recover after buffers are released")
}

func TestNoBufferReferencedTwice(t *testing.T) {
	var p pool.Pool
	p.Init()

	seen := make(map[uint32]bool, pool.Size)
	for i := 0; i < pool.Size; i++ {
		idx, _, ok := p.Acquire()
		require.True(t, ok)
		require.False(t, seen[idx], "index %d handed out twice before release", idx)
		seen[idx] = true
	}
}
