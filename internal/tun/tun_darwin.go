// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build darwin

package tun

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const utunControlName = "com.apple.net.utun_control"

// darwinDevice wraps a utun kernel control socket. Unlike Linux's
// /dev/net/tun, every datagram read from or written to a utun socket
// is prefixed with a 4-byte big-endian address-family header (AF_INET
// for the IPv4-only tunnels this daemon creates).
type darwinDevice struct {
	fd   int
	name string
}

// Open creates the next available utunN interface.
func Open(_ string) (Device, error) {
	fd, err := unix.Socket(unix.AF_SYSTEM, unix.SOCK_DGRAM, unix.SYSPROTO_CONTROL)
	if err != nil {
		return nil, fmt.Errorf("tun: socket: %w", err)
	}

	info := &unix.CtlInfo{}
	copy(info.Name[:], utunControlName)
	if err := unix.IoctlCtlInfo(fd, info); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tun: CTLIOCGINFO: %w", err)
	}

	sc := &unix.SockaddrCtl{ID: info.Id, Unit: 0} // unit 0 -> kernel picks next free utunN
	if err := unix.Connect(fd, sc); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tun: connect: %w", err)
	}

	name, err := unix.GetsockoptString(fd, unix.SYSPROTO_CONTROL, 2 /* UTUN_OPT_IFNAME */)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tun: get ifname: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tun: set nonblocking: %w", err)
	}

	return &darwinDevice{fd: fd, name: name}, nil
}

var afInetHeader = [4]byte{0, 0, 0, unix.AF_INET}

func (d *darwinDevice) Read(buf []byte) (int, error) {
	var hdr [4]byte
	iov := []unix.Iovec{
		{Base: &hdr[0], Len: 4},
		{Base: &buf[0], Len: uint64(len(buf))},
	}
	n, _, err := unix.Syscall(unix.SYS_READV, uintptr(d.fd), uintptr(unsafe.Pointer(&iov[0])), 2)
	if err != 0 {
		return 0, err
	}
	if n < 4 {
		return 0, nil
	}
	return int(n) - 4, nil
}

func (d *darwinDevice) Write(buf []byte) (int, error) {
	hdr := afInetHeader
	iov := []unix.Iovec{
		{Base: &hdr[0], Len: 4},
		{Base: &buf[0], Len: uint64(len(buf))},
	}
	n, _, err := unix.Syscall(unix.SYS_WRITEV, uintptr(d.fd), uintptr(unsafe.Pointer(&iov[0])), 2)
	if err != 0 {
		return 0, err
	}
	return int(n) - 4, nil
}

func (d *darwinDevice) Name() string   { return d.name }
func (d *darwinDevice) File() *os.File { return os.NewFile(uintptr(d.fd), d.name) }
func (d *darwinDevice) Close() error   { return unix.Close(d.fd) }
