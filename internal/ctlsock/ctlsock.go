// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ctlsock implements the two unix-domain datagram control
// sockets from spec.md: the keying socket (receives either a raw
// 32-byte symmetric key plus TX/RX SPI, or an HKDF-expandable shared
// secret plus TX/RX SPI) and the status socket (receives a single
// request byte, returns a status record).
package ctlsock

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jorisvink/signsky/internal/aead"
	"github.com/jorisvink/signsky/internal/state"
)

// Key-injection record modes (first wire byte). ModeRawKey carries an
// already-derived AES-256 key directly; ModeHKDFSecret carries a
// variable-length shared secret that internal/keying expands into one
// via HKDF-SHA256 before publishing it to the handoff cell (SPEC_FULL's
// "Key material derivation note").
const (
	ModeRawKey     byte = 0
	ModeHKDFSecret byte = 1
)

// keyRecordHeaderSize is the mode byte plus the two big-endian SPIs
// every key-injection record carries regardless of mode.
const keyRecordHeaderSize = 1 + 4 + 4

// KeyRecordSize is the fixed-size wire encoding of a ModeRawKey record.
const KeyRecordSize = keyRecordHeaderSize + aead.KeySize

// MinSecretSize is the minimum shared-secret length accepted in a
// ModeHKDFSecret record — short enough secrets defeat the point of
// deriving a key from one.
const MinSecretSize = 16

// maxKeyRecordSize bounds the read buffer ReadKeyRecord allocates; a
// unix-domain datagram socket has no inherent framing limit, so the
// keying protocol imposes its own.
const maxKeyRecordSize = 512

// KeyRecord is a decoded key-injection message. Key is populated and
// meaningful only when Mode is ModeRawKey; Secret only when Mode is
// ModeHKDFSecret.
type KeyRecord struct {
	Mode   byte
	TXSPI  uint32
	RXSPI  uint32
	Key    [aead.KeySize]byte
	Secret []byte
}

// Encode writes the record in its wire format, which is fixed-size for
// ModeRawKey and variable-length (mode/SPIs header plus the secret) for
// ModeHKDFSecret.
func (r KeyRecord) Encode() []byte {
	if r.Mode == ModeHKDFSecret {
		buf := make([]byte, keyRecordHeaderSize+len(r.Secret))
		buf[0] = ModeHKDFSecret
		binary.BigEndian.PutUint32(buf[1:5], r.TXSPI)
		binary.BigEndian.PutUint32(buf[5:9], r.RXSPI)
		copy(buf[keyRecordHeaderSize:], r.Secret)
		return buf
	}

	buf := make([]byte, KeyRecordSize)
	buf[0] = ModeRawKey
	binary.BigEndian.PutUint32(buf[1:5], r.TXSPI)
	binary.BigEndian.PutUint32(buf[5:9], r.RXSPI)
	copy(buf[keyRecordHeaderSize:], r.Key[:])
	return buf
}

// DecodeKeyRecord parses a key-injection message of either mode.
func DecodeKeyRecord(buf []byte) (KeyRecord, error) {
	if len(buf) < keyRecordHeaderSize {
		return KeyRecord{}, fmt.Errorf("ctlsock: key record must be at least %d bytes, got %d", keyRecordHeaderSize, len(buf))
	}

	r := KeyRecord{
		Mode:  buf[0],
		TXSPI: binary.BigEndian.Uint32(buf[1:5]),
		RXSPI: binary.BigEndian.Uint32(buf[5:9]),
	}
	rest := buf[keyRecordHeaderSize:]

	switch r.Mode {
	case ModeRawKey:
		if len(rest) != aead.KeySize {
			return KeyRecord{}, fmt.Errorf("ctlsock: raw key record must carry %d key bytes, got %d", aead.KeySize, len(rest))
		}
		copy(r.Key[:], rest)
		return r, nil

	case ModeHKDFSecret:
		if len(rest) < MinSecretSize {
			return KeyRecord{}, fmt.Errorf("ctlsock: hkdf secret must be at least %d bytes, got %d", MinSecretSize, len(rest))
		}
		r.Secret = make([]byte, len(rest))
		copy(r.Secret, rest)
		return r, nil

	default:
		return KeyRecord{}, fmt.Errorf("ctlsock: unknown key record mode %d", r.Mode)
	}
}

// StatusRequest is the single-byte status socket request code asking
// for the standard status record.
const StatusRequest byte = 0x02

// StatusRecordSize is the fixed-size wire encoding of a status
// response: TX SPI, RX SPI, TX packets, TX bytes, RX packets, RX
// bytes, last-activity epoch seconds — all big-endian.
const StatusRecordSize = 4 + 4 + 8 + 8 + 8 + 8 + 8

// StatusRecord is the decoded status response.
type StatusRecord struct {
	TXSPI        uint32
	RXSPI        uint32
	TXPackets    uint64
	TXBytes      uint64
	RXPackets    uint64
	RXBytes      uint64
	LastActivity int64
}

// Encode writes the record in its fixed wire format.
func (s StatusRecord) Encode() []byte {
	buf := make([]byte, StatusRecordSize)
	binary.BigEndian.PutUint32(buf[0:4], s.TXSPI)
	binary.BigEndian.PutUint32(buf[4:8], s.RXSPI)
	binary.BigEndian.PutUint64(buf[8:16], s.TXPackets)
	binary.BigEndian.PutUint64(buf[16:24], s.TXBytes)
	binary.BigEndian.PutUint64(buf[24:32], s.RXPackets)
	binary.BigEndian.PutUint64(buf[32:40], s.RXBytes)
	binary.BigEndian.PutUint64(buf[40:48], uint64(s.LastActivity))
	return buf
}

// DecodeStatusRecord parses a fixed-size status response.
func DecodeStatusRecord(buf []byte) (StatusRecord, error) {
	if len(buf) != StatusRecordSize {
		return StatusRecord{}, fmt.Errorf("ctlsock: status record must be %d bytes, got %d", StatusRecordSize, len(buf))
	}
	return StatusRecord{
		TXSPI:        binary.BigEndian.Uint32(buf[0:4]),
		RXSPI:        binary.BigEndian.Uint32(buf[4:8]),
		TXPackets:    binary.BigEndian.Uint64(buf[8:16]),
		TXBytes:      binary.BigEndian.Uint64(buf[16:24]),
		RXPackets:    binary.BigEndian.Uint64(buf[24:32]),
		RXBytes:      binary.BigEndian.Uint64(buf[32:40]),
		LastActivity: int64(binary.BigEndian.Uint64(buf[40:48])),
	}, nil
}

// Listener is a unix-domain datagram socket bound at a configured path,
// mode 0700 and chown'd to the configured uid/gid (spec.md: "owned by
// configured uid/gid, mode 0700").
type Listener struct {
	conn *net.UnixConn
	path string
}

// Bind creates (replacing any stale socket file) and secures a
// unix-domain datagram socket.
func Bind(path string, uid, gid int) (*Listener, error) {
	_ = os.Remove(path)

	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("ctlsock: listen %s: %w", path, err)
	}

	if err := os.Chmod(path, 0o700); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ctlsock: chmod %s: %w", path, err)
	}
	if err := os.Chown(path, uid, gid); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ctlsock: chown %s: %w", path, err)
	}

	return &Listener{conn: conn, path: path}, nil
}

// FromFD wraps an inherited, already-bound unix-domain datagram socket
// descriptor — passed to a re-exec'd stage via exec.Cmd.ExtraFiles —
// without re-binding.
func FromFD(fd uintptr, path string) (*Listener, error) {
	f := os.NewFile(fd, path)
	c, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("ctlsock: reattach %s: %w", path, err)
	}
	conn, ok := c.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("ctlsock: inherited fd for %s is not a unix socket", path)
	}
	return &Listener{conn: conn, path: path}, nil
}

// Path returns the filesystem path the listener is bound to.
func (l *Listener) Path() string {
	return l.path
}

// File duplicates the underlying descriptor for exec.Cmd.ExtraFiles.
func (l *Listener) File() (*os.File, error) {
	return l.conn.File()
}

// SetReadDeadline bounds the next ReadKeyRecord call so a worker loop
// can periodically re-check for a quit signal instead of blocking
// forever.
func (l *Listener) SetReadDeadline(t time.Time) error {
	return l.conn.SetReadDeadline(t)
}

// ReadKeyRecord blocks for the next key-injection message.
func (l *Listener) ReadKeyRecord() (KeyRecord, error) {
	buf := make([]byte, maxKeyRecordSize)
	n, err := l.conn.Read(buf)
	if err != nil {
		return KeyRecord{}, err
	}
	return DecodeKeyRecord(buf[:n])
}

// ServeStatus answers every incoming status request with a snapshot
// built from block, until the listener is closed.
func ServeStatus(l *Listener, block *state.Block, now func() time.Time) error {
	buf := make([]byte, 1)
	for {
		n, addr, err := l.conn.ReadFromUnix(buf)
		if err != nil {
			return err
		}
		if n != 1 || buf[0] != StatusRequest || addr == nil {
			continue
		}

		tx, rx := block.SPIs()
		snap := block.Snapshot(now())
		rec := StatusRecord{
			TXSPI:        tx,
			RXSPI:        rx,
			TXPackets:    snap.TXPackets,
			TXBytes:      snap.TXBytes,
			RXPackets:    snap.RXPackets,
			RXBytes:      snap.RXBytes,
			LastActivity: snap.LastActive.Unix(),
		}
		if _, err := l.conn.WriteToUnix(rec.Encode(), addr); err != nil {
			return err
		}
	}
}

// Close closes the listener and removes the socket file.
func (l *Listener) Close() error {
	err := l.conn.Close()
	_ = os.Remove(l.path)
	return err
}
