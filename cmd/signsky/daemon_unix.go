// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !windows

package main

import (
	"os"
	"os/exec"
	"syscall"
)

// newDaemonCmd builds the re-exec'd, session-detached supervisor
// process: stdio redirected to /dev/null, Setsid so it survives the
// caller's terminal closing.
func newDaemonCmd(execPath, configPath string, devNull *os.File) *exec.Cmd {
	cmd := exec.Command(execPath, "-c", configPath)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd
}
