// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command signsky is the daemon's single binary. Invoked without
// -stage it is the supervisor: it lays out the shared segments, opens
// the tunnel/UDP/control-socket collaborators, and re-execs itself
// once per pipeline stage. Invoked with -stage it is one of those
// re-exec'd children, attaching only the resources its stage needs and
// running that stage's worker loop until the quit signal arrives
// (spec.md §2/§4.6/§5).
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strconv"

	"github.com/jorisvink/signsky/internal/config"
	"github.com/jorisvink/signsky/internal/ctlsock"
	"github.com/jorisvink/signsky/internal/keying"
	"github.com/jorisvink/signsky/internal/netudp"
	"github.com/jorisvink/signsky/internal/stage"
	"github.com/jorisvink/signsky/internal/supervisor"
	"github.com/jorisvink/signsky/internal/tun"
)

func main() {
	var (
		configPath = flag.String("c", "/etc/signsky/signsky.conf", "configuration file path")
		daemonize  = flag.Bool("d", false, "daemonize after startup")
		stageName  = flag.String("stage", "", "internal: run as the named pipeline stage")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", *configPath, "err", err)
		os.Exit(1)
	}

	if *stageName != "" {
		if err := runStage(*stageName, cfg); err != nil {
			slog.Error("stage exited with error", "stage", *stageName, "err", err)
			os.Exit(1)
		}
		return
	}

	if *daemonize {
		if err := daemonizeSelf(*configPath); err != nil {
			slog.Error("failed to daemonize", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := runSupervisor(cfg, *configPath); err != nil {
		slog.Error("supervisor exited with error", "err", err)
		os.Exit(1)
	}
}

// runSupervisor is the parent process: it owns every shared resource,
// re-execs the five stages, and blocks until shutdown.
func runSupervisor(cfg *config.Config, configPath string) error {
	sup, err := supervisor.New(cfg)
	if err != nil {
		return fmt.Errorf("create supervisor: %w", err)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	if err := sup.Spawn(execPath, configPath); err != nil {
		return fmt.Errorf("spawn stages: %w", err)
	}

	slog.Info("signsky supervisor running", "config", configPath)
	return sup.Run()
}

// runStage is one re-exec'd child: attach the segments the stage
// needs, reattach whatever external descriptor it was handed, drop
// privileges if the configuration asks for it, and run the worker loop
// to completion.
func runStage(stageName string, cfg *config.Config) error {
	res, err := supervisor.AttachChild(stageName)
	if err != nil {
		return fmt.Errorf("attach resources: %w", err)
	}

	runner := stage.NewRunner()

	switch stageName {
	case supervisor.StageClear:
		dev := tun.FromFile(os.NewFile(externalFD, "tun"), "")
		w := stage.NewClear(dev, res.Pool, res.EncryptQueue, res.ClearQueue)
		if err := dropPrivileges(cfg, stageName); err != nil {
			return err
		}
		return w.Run(runner, cfg.HighPerformance)

	case supervisor.StageCrypto:
		sock, err := netudp.FromFD(externalFD, res.State)
		if err != nil {
			return fmt.Errorf("reattach udp socket: %w", err)
		}
		w := stage.NewCrypto(sock, res.Pool, res.DecryptQueue, res.CryptoQueue, res.RXView)
		if err := dropPrivileges(cfg, stageName); err != nil {
			return err
		}
		return w.Run(runner, cfg.HighPerformance)

	case supervisor.StageEncrypt:
		tx := keying.NewTX(res.TXCell)
		w := stage.NewEncrypt(tx, res.Pool, res.State, res.EncryptQueue, res.CryptoQueue)
		if err := dropPrivileges(cfg, stageName); err != nil {
			return err
		}
		return w.Run(runner, cfg.HighPerformance)

	case supervisor.StageDecrypt:
		rx := keying.NewRX(res.RXCell, res.RXView)
		w := stage.NewDecrypt(rx, res.Pool, res.State, res.DecryptQueue, res.ClearQueue)
		if err := dropPrivileges(cfg, stageName); err != nil {
			return err
		}
		return w.Run(runner, cfg.HighPerformance)

	case supervisor.StageKeying:
		keySock, err := ctlsock.FromFD(externalFD, cfg.Keying.Path)
		if err != nil {
			return fmt.Errorf("reattach keying socket: %w", err)
		}
		statusSock, err := ctlsock.FromFD(externalFD+1, cfg.Status.Path)
		if err != nil {
			return fmt.Errorf("reattach status socket: %w", err)
		}
		w := stage.NewKeying(keySock, statusSock, res.TXCell, res.RXCell, res.State)
		if err := dropPrivileges(cfg, stageName); err != nil {
			return err
		}
		return w.Run(runner, cfg.HighPerformance)

	default:
		return fmt.Errorf("unknown stage %q", stageName)
	}
}

// externalFD is the descriptor index every stage-specific device or
// socket lands at: the supervisor always appends the nine shared
// segments first (supervisor.numSegments of them), so the first
// stage-specific extra file is always fd 3+numSegments. Only keying
// uses a second one, at externalFD+1.
const externalFD = 3 + 9

// dropPrivileges looks up the unprivileged user named in the
// configuration's "run <stage> as <user>" directive, if any, and drops
// to it. Called after every resource has been attached and opened, so
// the privileged operations (segment mmap, socket reattachment) are
// already done.
func dropPrivileges(cfg *config.Config, stageName string) error {
	userName, ok := cfg.RunAs[stageName]
	if !ok {
		return nil
	}
	u, err := user.Lookup(userName)
	if err != nil {
		return fmt.Errorf("lookup user %q for stage %q: %w", userName, stageName, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return fmt.Errorf("bad uid for %q: %w", userName, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return fmt.Errorf("bad gid for %q: %w", userName, err)
	}
	if err := stage.DropPrivileges(uid, gid); err != nil {
		return fmt.Errorf("drop privileges for stage %q: %w", stageName, err)
	}
	slog.Info("dropped privileges", "stage", stageName, "user", userName)
	return nil
}

// daemonizeSelf re-execs without -d in a new session so the caller's
// terminal can disconnect, then exits the foreground process. Go has
// no fork(); detaching a session requires a fresh process with
// Setsid set, so this is a second re-exec layered on top of the
// supervisor's own stage re-execs.
func daemonizeSelf(configPath string) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := newDaemonCmd(execPath, configPath, devNull)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon process: %w", err)
	}

	slog.Info("daemonized", "pid", cmd.Process.Pid)
	return nil
}
