// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

// Package netudp wraps the IPv4 UDP socket the crypto stage uses to
// talk to the peer (spec.md's "UDP socket" external collaborator):
// non-blocking, path-MTU-discovery enabled, reporting each received
// datagram's source so the decrypt stage can learn the peer address.
// IP_MTU_DISCOVER is Linux-specific; other
// platforms get a plain, non-PMTU socket in netudp_other.go.
package netudp

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"golang.org/x/sys/unix"

	"github.com/jorisvink/signsky/internal/state"
)

// Socket is a non-blocking IPv4 UDP datagram socket bound to a local
// address, tracking the learned peer address in a shared state.Block.
type Socket struct {
	fd    int
	file  *os.File
	block *state.Block
}

// Listen binds a non-blocking UDP socket to localAddr ("ip:port") with
// IP_MTU_DISCOVER set to "do" (don't-fragment), per spec.md.
func Listen(localAddr string, block *state.Block) (*Socket, error) {
	addrPort, err := netip.ParseAddrPort(localAddr)
	if err != nil {
		return nil, fmt.Errorf("netudp: parse local address %q: %w", localAddr, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("netudp: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netudp: IP_MTU_DISCOVER: %w", err)
	}

	sa := &unix.SockaddrInet4{Port: int(addrPort.Port())}
	ip4 := addrPort.Addr().As4()
	sa.Addr = ip4

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netudp: bind %s: %w", localAddr, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netudp: set nonblocking: %w", err)
	}

	return &Socket{fd: fd, file: os.NewFile(uintptr(fd), "udp"), block: block}, nil
}

// ReadFrom reads one datagram and reports its source address. Peer
// learning itself happens in the decrypt stage only after AEAD
// verification succeeds (spec.md §4.7) — ReadFrom merely surfaces the
// source so the caller can stash it on the packet buffer until then.
func (s *Socket) ReadFrom(buf []byte) (n int, srcAddr [4]byte, srcPort uint16, err error) {
	n, from, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return 0, srcAddr, 0, err
	}
	if sa4, ok := from.(*unix.SockaddrInet4); ok {
		srcAddr = sa4.Addr
		srcPort = uint16(sa4.Port)
	}
	return n, srcAddr, srcPort, nil
}

// WriteTo sends one datagram to the currently recorded peer address.
// Returns an error if no peer has been learned yet.
func (s *Socket) WriteTo(buf []byte) (int, error) {
	ip, port, ok := s.peer()
	if !ok {
		return 0, fmt.Errorf("netudp: no peer address known")
	}
	sa := &unix.SockaddrInet4{Port: int(port)}
	copy(sa.Addr[:], ip.To4())
	if err := unix.Sendto(s.fd, buf, 0, sa); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// SetInitialPeer primes the peer address from the configuration file's
// `peer ip:port` directive, before anything has been received.
func (s *Socket) SetInitialPeer(addr string) error {
	addrPort, err := netip.ParseAddrPort(addr)
	if err != nil {
		return fmt.Errorf("netudp: parse peer address %q: %w", addr, err)
	}
	s.block.SetPeer(addrPort.Addr().As4(), addrPort.Port())
	return nil
}

func (s *Socket) peer() (net.IP, uint16, bool) {
	return s.block.Peer()
}

// FromFD wraps an inherited, already-bound and already-configured UDP
// socket descriptor — passed to a re-exec'd stage via
// exec.Cmd.ExtraFiles — without repeating bind/IP_MTU_DISCOVER setup.
func FromFD(fd uintptr, block *state.Block) (*Socket, error) {
	return &Socket{fd: int(fd), file: os.NewFile(fd, "udp"), block: block}, nil
}

// File exposes the underlying descriptor for exec.Cmd.ExtraFiles.
func (s *Socket) File() *os.File { return s.file }

// FD returns the raw file descriptor.
func (s *Socket) FD() int { return s.fd }

// Close closes the socket.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}
