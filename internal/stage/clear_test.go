// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package stage_test

import (
	"errors"
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jorisvink/signsky/internal/pool"
	"github.com/jorisvink/signsky/internal/ring"
	"github.com/jorisvink/signsky/internal/stage"
)

var errWouldBlock = errors.New("fakeDevice: would block")

// fakeDevice is an in-memory tun.Device: Read is non-blocking (returns
// errWouldBlock when nothing is queued), matching the real tunnel
// device's non-blocking-fd semantics that Clear.readIngress relies on.
type fakeDevice struct {
	reads  chan []byte
	writes chan []byte
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{reads: make(chan []byte, 8), writes: make(chan []byte, 8)}
}

func (f *fakeDevice) Read(buf []byte) (int, error) {
	select {
	case data, ok := <-f.reads:
		if !ok {
			return 0, io.EOF
		}
		return copy(buf, data), nil
	default:
		return 0, errWouldBlock
	}
}

func (f *fakeDevice) Write(buf []byte) (int, error) {
	cp := append([]byte(nil), buf...)
	f.writes <- cp
	return len(buf), nil
}

func (f *fakeDevice) Name() string   { return "fake0" }
func (f *fakeDevice) File() *os.File { return nil }
func (f *fakeDevice) Close() error   { close(f.reads); return nil }

func TestClearMovesDatagramsBothWays(t *testing.T) {
	var p pool.Pool
	p.Init()

	var toEncrypt, fromDecrypt ring.Queue
	toEncrypt.Init(64)
	fromDecrypt.Init(64)

	dev := newFakeDevice()
	dev.reads <- []byte("hello-outbound")

	c := stage.NewClear(dev, &p, &toEncrypt, &fromDecrypt)
	r := stage.NewRunner()
	done := make(chan struct{})
	go func() {
		c.Run(r, true)
		close(done)
	}()

	var idx uint32
	require.Eventually(t, func() bool {
		var err error
		idx, err = toEncrypt.Dequeue()
		return err == nil
	}, time.Second, time.Millisecond)

	buf := p.At(idx)
	require.Equal(t, "hello-outbound", string(buf.Plaintext()))
	p.Release(idx)

	idx2, buf2, ok := p.Acquire()
	require.True(t, ok)
	buf2.SetPlaintext([]byte("hello-inbound"))
	require.NoError(t, fromDecrypt.Enqueue(idx2))

	require.Eventually(t, func() bool {
		select {
		case got := <-dev.writes:
			return string(got) == "hello-inbound"
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Clear.Run did not return after quit signal")
	}
}
