// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config parses signsky's configuration file: line-oriented
// `key value` pairs, `#` comments, blank lines ignored (spec.md
// §"Configuration file"). The format predates any structured
// serialization in this codebase, so no third-party format library in
// the dependency corpus (gopkg.in/yaml.v3 et al.) applies — see
// DESIGN.md for why this is one of the few stdlib-only components.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"
)

// Stage names recognized in `run <stage> as <user>` directives.
const (
	StageClear   = "clear"
	StageCrypto  = "crypto"
	StageKeying  = "keying"
	StageEncrypt = "encrypt"
	StageDecrypt = "decrypt"
)

var validStages = map[string]bool{
	StageClear:   true,
	StageCrypto:  true,
	StageKeying:  true,
	StageEncrypt: true,
	StageDecrypt: true,
}

// SocketConfig is a unix-domain datagram socket's path plus the
// uid/gid it should be chown'd to (spec.md: "owned by configured
// uid/gid, mode 0700"). The mode is not configurable: ctlsock.Bind
// always creates the socket with 0700.
type SocketConfig struct {
	Path string
	UID  int
	GID  int
}

// Config is the fully parsed configuration file.
type Config struct {
	Peer  string // ip:port
	Local string // ip:port

	// RunAs maps stage name to the unprivileged user it should drop to
	// after its segment file descriptors are set up.
	RunAs map[string]string

	Keying SocketConfig
	Status SocketConfig

	// HighPerformance toggles spin-wait polling over blocking/backoff
	// idle waits in the stage workers (spec.md §4.6's two scheduling
	// disciplines).
	HighPerformance bool
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a configuration stream. Unknown keys are rejected rather
// than silently ignored, so a config typo surfaces at startup instead
// of at runtime.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{RunAs: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		key := fields[0]
		rest := fields[1:]

		if err := cfg.apply(key, rest); err != nil {
			return nil, fmt.Errorf("config: line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	return cfg, nil
}

func (c *Config) apply(key string, args []string) error {
	switch key {
	case "peer":
		if len(args) != 1 {
			return fmt.Errorf("peer expects one ip:port argument")
		}
		c.Peer = args[0]

	case "local":
		if len(args) != 1 {
			return fmt.Errorf("local expects one ip:port argument")
		}
		c.Local = args[0]

	case "run":
		// run <stage> as <user>
		if len(args) != 3 || args[1] != "as" {
			return fmt.Errorf("run expects '<stage> as <user>'")
		}
		stage, asUser := args[0], args[2]
		if !validStages[stage] {
			return fmt.Errorf("unknown stage %q", stage)
		}
		c.RunAs[stage] = asUser

	case "keying-socket":
		sock, err := parseSocket(args)
		if err != nil {
			return fmt.Errorf("keying-socket: %w", err)
		}
		c.Keying = sock

	case "status-socket":
		sock, err := parseSocket(args)
		if err != nil {
			return fmt.Errorf("status-socket: %w", err)
		}
		c.Status = sock

	case "high-performance":
		if len(args) != 1 {
			return fmt.Errorf("high-performance expects one of 'yes'/'no'")
		}
		switch args[0] {
		case "yes":
			c.HighPerformance = true
		case "no":
			c.HighPerformance = false
		default:
			return fmt.Errorf("high-performance expects 'yes' or 'no', got %q", args[0])
		}

	default:
		return fmt.Errorf("unknown directive %q", key)
	}

	return nil
}

// parseSocket handles `<path> owner <user>[:<group>]`, with owner
// defaulting to the process's own uid/gid when omitted.
func parseSocket(args []string) (SocketConfig, error) {
	if len(args) == 0 {
		return SocketConfig{}, fmt.Errorf("expects a path")
	}

	sock := SocketConfig{Path: args[0], UID: os.Getuid(), GID: os.Getgid()}
	if len(args) == 1 {
		return sock, nil
	}
	if len(args) != 3 || args[1] != "owner" {
		return SocketConfig{}, fmt.Errorf("expects '<path> owner <user>[:<group>]'")
	}

	owner := args[2]
	userName, groupName, hasGroup := strings.Cut(owner, ":")

	u, err := user.Lookup(userName)
	if err != nil {
		return SocketConfig{}, fmt.Errorf("unknown user %q: %w", userName, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return SocketConfig{}, fmt.Errorf("bad uid for %q: %w", userName, err)
	}
	sock.UID = uid

	if hasGroup {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return SocketConfig{}, fmt.Errorf("unknown group %q: %w", groupName, err)
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			return SocketConfig{}, fmt.Errorf("bad gid for %q: %w", groupName, err)
		}
		sock.GID = gid
	} else {
		gid, err := strconv.Atoi(u.Gid)
		if err != nil {
			return SocketConfig{}, fmt.Errorf("bad default gid for %q: %w", userName, err)
		}
		sock.GID = gid
	}

	return sock, nil
}
