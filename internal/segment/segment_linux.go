// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package segment

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Create allocates a new anonymous, memfd-backed segment of the given
// size and mmaps it MAP_SHARED into the caller's address space. The
// returned Segment's FD is sealed against shrinking (F_SEAL_SHRINK) so
// a misbehaving child can't truncate a region a sibling still has
// mapped.
func Create(name string, size int) (*Segment, error) {
	fd, err := unix.MemfdCreate(name, unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("segment: memfd_create %q: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("segment: ftruncate %q: %w", name, err)
	}
	if _, _, errno := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), unix.F_ADD_SEALS, uintptr(unix.F_SEAL_SHRINK)); errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("segment: seal %q: %w", name, errno)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("segment: mmap %q: %w", name, err)
	}

	return &Segment{fd: uintptr(fd), data: data}, nil
}

// Attach maps an already-open shared-memory file descriptor — as
// inherited via exec.Cmd.ExtraFiles in a re-exec'd stage process —
// into this process's address space.
func Attach(fd uintptr, size int) (*Segment, error) {
	data, err := unix.Mmap(int(fd), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("segment: attach mmap: %w", err)
	}
	return &Segment{fd: fd, data: data}, nil
}

// Close unmaps the segment and closes its file descriptor. Closing a
// segment a sibling process still has mapped does not invalidate the
// sibling's mapping — the pages stay alive until every mapping is gone.
func (s *Segment) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := unix.Munmap(s.data); err != nil {
		return err
	}
	return unix.Close(int(s.fd))
}
