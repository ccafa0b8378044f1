// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package tun

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ifNameSize   = 16
	tunDevicePath = "/dev/net/tun"
)

// ifReq mirrors struct ifreq's TUNSETIFF-relevant prefix: a 16-byte
// interface name followed by the flags field the kernel consults to
// pick TUN-vs-TAP and IFF_NO_PI.
type ifReq struct {
	name  [ifNameSize]byte
	flags uint16
	_     [22]byte // pad to sizeof(struct ifreq)
}

type linuxDevice struct {
	file *os.File
	name string
}

// Open creates (or attaches to) a no-packet-information TUN interface.
// An empty requestedName lets the kernel assign the next free "tunN".
func Open(requestedName string) (Device, error) {
	f, err := os.OpenFile(tunDevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tun: open %s: %w", tunDevicePath, err)
	}

	var req ifReq
	copy(req.name[:], requestedName)
	req.flags = unix.IFF_TUN | unix.IFF_NO_PI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&req))); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("tun: TUNSETIFF: %w", errno)
	}

	name := string(req.name[:])
	for i, b := range req.name {
		if b == 0 {
			name = string(req.name[:i])
			break
		}
	}

	if err := unix.SetNonblock(int(f.Fd()), true); err != nil {
		f.Close()
		return nil, fmt.Errorf("tun: set nonblocking: %w", err)
	}

	return &linuxDevice{file: f, name: name}, nil
}

func (d *linuxDevice) Read(buf []byte) (int, error)  { return d.file.Read(buf) }
func (d *linuxDevice) Write(buf []byte) (int, error) { return d.file.Write(buf) }
func (d *linuxDevice) Name() string                  { return d.name }
func (d *linuxDevice) File() *os.File                { return d.file }
func (d *linuxDevice) Close() error                  { return d.file.Close() }
