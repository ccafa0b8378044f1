// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux && !darwin

package tun

import "errors"

// ErrUnsupported is returned by Open on platforms without a supported
// tunnel device backend.
var ErrUnsupported = errors.New("tun: unsupported platform")

func Open(_ string) (Device, error) {
	return nil, ErrUnsupported
}
