// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build windows

package main

import (
	"os"
	"os/exec"
)

// newDaemonCmd has no session-detachment equivalent on Windows; it
// re-execs with stdio redirected to devNull but without Setsid, which
// Windows does not have.
func newDaemonCmd(execPath, configPath string, devNull *os.File) *exec.Cmd {
	cmd := exec.Command(execPath, "-c", configPath)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	return cmd
}
