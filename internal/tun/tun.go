// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tun opens the host tunnel device the clear stage reads
// plaintext IP datagrams from and writes decrypted datagrams to
// (spec.md's "Tunnel device" external collaborator). Platform-specific
// implementations live in tun_linux.go/tun_darwin.go/tun_unsupported.go,
// following the per-GOOS build-tag split the example corpus uses for
// kernel-structure-dependent code.
package tun

import "os"

// Device is the tunnel handle the clear stage reads/writes raw IP
// datagrams through.
type Device interface {
	// Read reads one datagram into buf, returning its length.
	Read(buf []byte) (int, error)
	// Write writes one datagram.
	Write(buf []byte) (int, error)
	// Name reports the kernel-assigned interface name (e.g. "tun0").
	Name() string
	// File exposes the underlying os.File so the supervisor can pass
	// its descriptor to a re-exec'd stage via exec.Cmd.ExtraFiles.
	File() *os.File
	Close() error
}

// FromFile wraps an already-configured tunnel descriptor — inherited
// from the supervisor via exec.Cmd.ExtraFiles — without repeating the
// platform-specific open/ioctl setup. The kernel-side interface
// binding survives exec, so the clear-stage child only needs to read
// and write the inherited fd.
func FromFile(f *os.File, name string) Device {
	return &inheritedDevice{file: f, name: name}
}

type inheritedDevice struct {
	file *os.File
	name string
}

func (d *inheritedDevice) Read(buf []byte) (int, error)  { return d.file.Read(buf) }
func (d *inheritedDevice) Write(buf []byte) (int, error) { return d.file.Write(buf) }
func (d *inheritedDevice) Name() string                  { return d.name }
func (d *inheritedDevice) File() *os.File                { return d.file }
func (d *inheritedDevice) Close() error                  { return d.file.Close() }
