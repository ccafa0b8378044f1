// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ring_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jorisvink/signsky/internal/ring"
)

func newQueue(t *testing.T, capacity int) *ring.Queue {
	t.Helper()
	q := &ring.Queue{}
	q.Init(capacity)
	return q
}

func TestQueueCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	q := newQueue(t, 1000)
	require.Equal(t, 1024, q.Cap())
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := newQueue(t, 4)
	for i := uint32(0); i < 4; i++ {
		require.NoError(t, q.Enqueue(i+100))
	}
	require.ErrorIs(t, q.Enqueue(999), ring.ErrFull)

	for i := uint32(0); i < 4; i++ {
		v, err := q.Dequeue()
		require.NoError(t, err)
		require.Equal(t, i+100, v)
	}
	_, err := q.Dequeue()
	require.ErrorIs(t, err, ring.ErrEmpty)
}

// TestRingSaturation is scenario 4 of spec.md §8: with a fixed capacity
// and no consumer draining, Enqueue stops succeeding exactly after
// `capacity` accepted items.
func TestRingSaturation(t *testing.T) {
	const capacity = 1024
	q := newQueue(t, capacity)

	accepted := 0
	for i := 0; i < capacity+16; i++ {
		if err := q.Enqueue(uint32(i)); err != nil {
			require.ErrorIs(t, err, ring.ErrFull)
			break
		}
		accepted++
	}
	require.Equal(t, capacity, accepted)
	require.ErrorIs(t, q.Enqueue(0xffffffff), ring.ErrFull)
}

// TestRingConservation exercises spec.md §8's ring-conservation
// invariant under concurrent producers/consumers: at quiescence every
// produced handle has been consumed exactly once, with no duplicate
// delivery along the way.
func TestRingConservation(t *testing.T) {
	const (
		capacity    = 256
		producers   = 4
		consumers   = 4
		perProducer = 20000
	)
	q := newQueue(t, capacity)

	var produced, consumed atomic.Int64
	seen := make([]atomic.Int32, producers*perProducer)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(base uint32) {
			defer wg.Done()
			for i := uint32(0); i < perProducer; i++ {
				handle := base + i
				for {
					err := q.Enqueue(handle)
					if err == nil {
						produced.Add(1)
						break
					}
					if !errors.Is(err, ring.ErrFull) {
						t.Errorf("unexpected enqueue error: %v", err)
						return
					}
				}
			}
		}(uint32(p * perProducer))
	}

	done := make(chan struct{})
	var cwg sync.WaitGroup
	cwg.Add(consumers)
	for c := 0; c < consumers; c++ {
		go func() {
			defer cwg.Done()
			for {
				v, err := q.Dequeue()
				if err == nil {
					if !seen[v].CompareAndSwap(0, 1) {
						t.Errorf("duplicate delivery of handle %d", v)
					}
					consumed.Add(1)
					continue
				}
				select {
				case <-done:
					// Drain whatever remains, then exit.
					for {
						v, err := q.Dequeue()
						if err != nil {
							return
						}
						if !seen[v].CompareAndSwap(0, 1) {
							t.Errorf("duplicate delivery of handle %d", v)
						}
						consumed.Add(1)
					}
				default:
				}
			}
		}()
	}

	wg.Wait()
	close(done)
	cwg.Wait()

	require.EqualValues(t, producers*perProducer, produced.Load())
	require.EqualValues(t, producers*perProducer, consumed.Load())
	for i := range seen {
		require.EqualValues(t, 1, seen[i].Load(), "handle %d delivered %d times", i, seen[i].Load())
	}
}
