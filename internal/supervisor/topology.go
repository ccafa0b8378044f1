// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package supervisor implements the parent process from spec.md §2/§5:
// it lays out the process-shared segments, opens the external
// collaborators (tunnel device, UDP socket, control sockets), re-execs
// the five stage processes with only the resources each one needs
// (§5's confinement model), forwards shutdown signals, and reaps
// children. Go has no fork(); re-exec plus inherited file descriptors
// (exec.Cmd.ExtraFiles) is the idiomatic substitute, matching the
// memfd/mmap design in internal/segment.
package supervisor

import (
	"fmt"
	"unsafe"

	"github.com/jorisvink/signsky/internal/keying"
	"github.com/jorisvink/signsky/internal/pool"
	"github.com/jorisvink/signsky/internal/ring"
	"github.com/jorisvink/signsky/internal/state"
)

// Segment indices, fixed across supervisor and child: exec.Cmd always
// appends ExtraFiles starting at fd 3, in slice order, so segment i
// always lands at fd 3+i in every child regardless of which segments
// that particular stage ends up using.
const (
	SegPool = iota
	SegEncryptQueue
	SegCryptoQueue
	SegDecryptQueue
	SegClearQueue
	SegTXCell
	SegRXCell
	SegRXView
	SegState
	numSegments
)

// segmentQueueCapacity is the nominal ring capacity from spec.md §3
// ("≤ 4096, nominally 1024").
const segmentQueueCapacity = 1024

var segmentNames = [numSegments]string{
	SegPool:         "pool",
	SegEncryptQueue: "encrypt-queue",
	SegCryptoQueue:  "crypto-queue",
	SegDecryptQueue: "decrypt-queue",
	SegClearQueue:   "clear-queue",
	SegTXCell:       "tx-cell",
	SegRXCell:       "rx-cell",
	SegRXView:       "rx-view",
	SegState:        "state",
}

var segmentSizes = [numSegments]int{
	SegPool:         int(unsafe.Sizeof(pool.Pool{})),
	SegEncryptQueue: int(unsafe.Sizeof(ring.Queue{})),
	SegCryptoQueue:  int(unsafe.Sizeof(ring.Queue{})),
	SegDecryptQueue: int(unsafe.Sizeof(ring.Queue{})),
	SegClearQueue:   int(unsafe.Sizeof(ring.Queue{})),
	SegTXCell:       int(unsafe.Sizeof(keying.Cell{})),
	SegRXCell:       int(unsafe.Sizeof(keying.Cell{})),
	SegRXView:       int(unsafe.Sizeof(keying.RXView{})),
	SegState:        int(unsafe.Sizeof(state.Block{})),
}

// Stage names, matching internal/config's directive vocabulary.
const (
	StageClear   = "clear"
	StageCrypto  = "crypto"
	StageEncrypt = "encrypt"
	StageDecrypt = "decrypt"
	StageKeying  = "keying"
)

// Stages lists every stage in a fixed spawn order.
var Stages = [...]string{StageClear, StageCrypto, StageEncrypt, StageDecrypt, StageKeying}

// needs is the confinement matrix from spec.md §5: "each stage
// explicitly detaches handoff cells and queues it will not use during
// startup". A child closes every segment fd for which this reports
// false, immediately on startup, before doing anything else.
func needs(stageName string, seg int) bool {
	switch stageName {
	case StageClear:
		return seg == SegPool || seg == SegEncryptQueue || seg == SegClearQueue
	case StageCrypto:
		// crypto needs SegState too: every egress send reads the peer
		// address decrypt learned there from a verified ingress
		// datagram (spec.md §4.7).
		return seg == SegPool || seg == SegDecryptQueue || seg == SegCryptoQueue || seg == SegRXView || seg == SegState
	case StageEncrypt:
		return seg == SegPool || seg == SegEncryptQueue || seg == SegCryptoQueue || seg == SegTXCell || seg == SegState
	case StageDecrypt:
		return seg == SegPool || seg == SegDecryptQueue || seg == SegClearQueue || seg == SegRXCell || seg == SegRXView || seg == SegState
	case StageKeying:
		return seg == SegTXCell || seg == SegRXCell || seg == SegState
	default:
		return false
	}
}

func validStage(stageName string) bool {
	for _, s := range Stages {
		if s == stageName {
			return true
		}
	}
	return false
}

func segmentSize(seg int) (int, error) {
	if seg < 0 || seg >= numSegments {
		return 0, fmt.Errorf("supervisor: segment index %d out of range", seg)
	}
	return segmentSizes[seg], nil
}
