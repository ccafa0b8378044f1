// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !windows

package stage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DropPrivileges switches the calling process's gid then uid, per
// spec.md §4.6 ("optionally drops privileges"). gid must be dropped
// before uid: once uid is no longer 0, the process has lost the
// capability needed to change gid. Called once at stage startup, after
// segment/device descriptors are attached but before the worker loop
// starts.
func DropPrivileges(uid, gid int) error {
	if gid != 0 {
		if err := unix.Setgid(gid); err != nil {
			return fmt.Errorf("stage: setgid %d: %w", gid, err)
		}
	}
	if uid != 0 {
		if err := unix.Setuid(uid); err != nil {
			return fmt.Errorf("stage: setuid %d: %w", uid, err)
		}
	}
	return nil
}
