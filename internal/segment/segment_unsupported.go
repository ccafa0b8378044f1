// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package segment

import "errors"

// ErrUnsupported is returned by Create and Attach on platforms without
// memfd_create. The supervisor's re-exec/shared-memory process model
// is Linux-only for now (spec.md's privilege-separation design assumes
// Linux's memfd + seccomp-friendly setuid path); see DESIGN.md.
var ErrUnsupported = errors.New("segment: shared memory segments are only supported on linux")

func Create(name string, size int) (*Segment, error) {
	return nil, ErrUnsupported
}

func Attach(fd uintptr, size int) (*Segment, error) {
	return nil, ErrUnsupported
}

func (s *Segment) Close() error {
	return ErrUnsupported
}
