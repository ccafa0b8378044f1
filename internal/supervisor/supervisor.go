// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/jorisvink/signsky/internal/config"
	"github.com/jorisvink/signsky/internal/ctlsock"
	"github.com/jorisvink/signsky/internal/netudp"
	"github.com/jorisvink/signsky/internal/tun"
)

// Supervisor owns every resource the five stage processes attach to:
// the shared segments, the tunnel device, the UDP peer socket and the
// two control sockets. It creates them once, re-execs the stages, and
// tears everything down on shutdown (spec.md §5 "Cancellation &
// shutdown").
type Supervisor struct {
	cfg *config.Config

	res        *Resources
	tunDev     tun.Device
	udpSock    *netudp.Socket
	keySock    *ctlsock.Listener
	statusSock *ctlsock.Listener

	procs map[string]*exec.Cmd
}

// New creates every shared segment and opens every external
// collaborator the configuration names. Nothing is spawned yet.
func New(cfg *config.Config) (*Supervisor, error) {
	res, err := CreateResources(time.Now())
	if err != nil {
		return nil, err
	}

	dev, err := tun.Open("")
	if err != nil {
		res.Close()
		return nil, fmt.Errorf("supervisor: open tunnel: %w", err)
	}

	udpSock, err := netudp.Listen(cfg.Local, res.State)
	if err != nil {
		dev.Close()
		res.Close()
		return nil, fmt.Errorf("supervisor: open udp socket: %w", err)
	}
	if cfg.Peer != "" {
		if err := udpSock.SetInitialPeer(cfg.Peer); err != nil {
			udpSock.Close()
			dev.Close()
			res.Close()
			return nil, fmt.Errorf("supervisor: set initial peer: %w", err)
		}
	}

	keySock, err := ctlsock.Bind(cfg.Keying.Path, cfg.Keying.UID, cfg.Keying.GID)
	if err != nil {
		udpSock.Close()
		dev.Close()
		res.Close()
		return nil, fmt.Errorf("supervisor: bind keying socket: %w", err)
	}
	statusSock, err := ctlsock.Bind(cfg.Status.Path, cfg.Status.UID, cfg.Status.GID)
	if err != nil {
		keySock.Close()
		udpSock.Close()
		dev.Close()
		res.Close()
		return nil, fmt.Errorf("supervisor: bind status socket: %w", err)
	}

	return &Supervisor{
		cfg:        cfg,
		res:        res,
		tunDev:     dev,
		udpSock:    udpSock,
		keySock:    keySock,
		statusSock: statusSock,
		procs:      make(map[string]*exec.Cmd),
	}, nil
}

// Spawn re-execs execPath once per stage, each invocation carrying
// "-stage <name> -c <configPath>" plus exactly the file
// descriptors that stage needs (the nine shared segments, always, in
// segment-index order, followed by any stage-specific device socket).
func (s *Supervisor) Spawn(execPath, configPath string) error {
	for _, name := range Stages {
		cmd := exec.Command(execPath, "-stage", name, "-c", configPath)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.ExtraFiles = append(s.res.Files(), s.extraFiles(name)...)

		if err := cmd.Start(); err != nil {
			s.terminateAll()
			return fmt.Errorf("supervisor: spawn %s: %w", name, err)
		}
		slog.Info("supervisor: stage started", "stage", name, "pid", cmd.Process.Pid)
		s.procs[name] = cmd
	}
	return nil
}

// extraFiles returns the stage-specific device/socket descriptors
// appended after the nine shared-segment descriptors, per spec.md
// §5's confinement model: only clear sees the tunnel, only crypto
// sees the UDP socket, only keying sees the control sockets.
func (s *Supervisor) extraFiles(stageName string) []*os.File {
	switch stageName {
	case StageClear:
		return []*os.File{s.tunDev.File()}
	case StageCrypto:
		return []*os.File{s.udpSock.File()}
	case StageKeying:
		keyFile, err := s.keySock.File()
		if err != nil {
			slog.Error("supervisor: dup keying socket fd", "err", err)
			return nil
		}
		statusFile, err := s.statusSock.File()
		if err != nil {
			slog.Error("supervisor: dup status socket fd", "err", err)
			return nil
		}
		return []*os.File{keyFile, statusFile}
	default:
		return nil
	}
}

type stageExit struct {
	name string
	err  error
}

// Run blocks until a quit signal arrives or a child exits
// unexpectedly, then tears every remaining stage down and reaps all of
// them (spec.md §5). A non-nil return means a stage's own fatal exit
// triggered the shutdown.
func (s *Supervisor) Run() error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)

	exits := make(chan stageExit, len(s.procs))
	for name, cmd := range s.procs {
		name, cmd := name, cmd
		go func() { exits <- stageExit{name: name, err: cmd.Wait()} }()
	}

	remaining := len(s.procs)
	var fatal error

	select {
	case <-sig:
		slog.Info("supervisor: received shutdown signal")
	case e := <-exits:
		remaining--
		fatal = fmt.Errorf("stage %s exited unexpectedly: %w", e.name, e.err)
		slog.Error("supervisor: stage exited, tearing down remaining stages", "stage", e.name, "err", e.err)
	}

	s.terminateAll()
	for i := 0; i < remaining; i++ {
		<-exits
	}

	s.closeExternal()
	return fatal
}

func (s *Supervisor) terminateAll() {
	for name, cmd := range s.procs {
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			slog.Warn("supervisor: signal delivery failed", "stage", name, "err", err)
		}
	}
}

func (s *Supervisor) closeExternal() {
	_ = s.keySock.Close()
	_ = s.statusSock.Close()
	_ = s.udpSock.Close()
	_ = s.tunDev.Close()
	_ = s.res.Close()
}
