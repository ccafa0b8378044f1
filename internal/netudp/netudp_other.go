// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package netudp

import (
	"fmt"
	"net"
	"os"

	"github.com/jorisvink/signsky/internal/state"
)

// Socket is a non-PMTU-aware fallback for platforms without
// IP_MTU_DISCOVER. Functionally equivalent otherwise.
type Socket struct {
	conn  *net.UDPConn
	block *state.Block
}

func Listen(localAddr string, block *state.Block) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", localAddr)
	if err != nil {
		return nil, fmt.Errorf("netudp: resolve %q: %w", localAddr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("netudp: listen: %w", err)
	}
	return &Socket{conn: conn, block: block}, nil
}

// ReadFrom reads one datagram and reports its source address. Peer
// learning itself happens in the decrypt stage only after AEAD
// verification succeeds (spec.md §4.7).
func (s *Socket) ReadFrom(buf []byte) (n int, srcAddr [4]byte, srcPort uint16, err error) {
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, srcAddr, 0, err
	}
	copy(srcAddr[:], addr.IP.To4())
	srcPort = uint16(addr.Port)
	return n, srcAddr, srcPort, nil
}

func (s *Socket) WriteTo(buf []byte) (int, error) {
	ip, port, ok := s.block.Peer()
	if !ok {
		return 0, fmt.Errorf("netudp: no peer address known")
	}
	return s.conn.WriteToUDP(buf, &net.UDPAddr{IP: ip, Port: int(port)})
}

func (s *Socket) SetInitialPeer(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("netudp: parse peer address %q: %w", addr, err)
	}
	var a4 [4]byte
	copy(a4[:], udpAddr.IP.To4())
	s.block.SetPeer(a4, uint16(udpAddr.Port))
	return nil
}

// FromFD wraps an inherited, already-bound UDP socket descriptor.
func FromFD(fd uintptr, block *state.Block) (*Socket, error) {
	f := os.NewFile(fd, "udp")
	c, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("netudp: reattach: %w", err)
	}
	udpConn, ok := c.(*net.UDPConn)
	if !ok {
		return nil, fmt.Errorf("netudp: inherited fd is not a UDP socket")
	}
	return &Socket{conn: udpConn, block: block}, nil
}

func (s *Socket) File() *os.File {
	f, _ := s.conn.File()
	return f
}

func (s *Socket) Close() error {
	return s.conn.Close()
}
