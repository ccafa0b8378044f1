// Copyright (c) 2026 The signsky Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"fmt"
	"os"
	"time"

	"github.com/jorisvink/signsky/internal/keying"
	"github.com/jorisvink/signsky/internal/pool"
	"github.com/jorisvink/signsky/internal/ring"
	"github.com/jorisvink/signsky/internal/segment"
	"github.com/jorisvink/signsky/internal/state"
)

// Resources is the set of process-shared structures one process — the
// supervisor itself, or a re-exec'd stage child — has attached.
// Fields for segments a given stage doesn't need are left nil.
type Resources struct {
	segs [numSegments]*segment.Segment

	Pool         *pool.Pool
	EncryptQueue *ring.Queue
	CryptoQueue  *ring.Queue
	DecryptQueue *ring.Queue
	ClearQueue   *ring.Queue
	TXCell       *keying.Cell
	RXCell       *keying.Cell
	RXView       *keying.RXView
	State        *state.Block
}

// CreateResources creates and initializes every segment; called once,
// by the supervisor, before any child is spawned.
func CreateResources(now time.Time) (*Resources, error) {
	r := &Resources{}

	for i := 0; i < numSegments; i++ {
		seg, err := segment.Create(segmentNames[i], segmentSizes[i])
		if err != nil {
			r.closeAll()
			return nil, fmt.Errorf("supervisor: create segment %q: %w", segmentNames[i], err)
		}
		r.segs[i] = seg
	}

	if err := r.place(); err != nil {
		r.closeAll()
		return nil, err
	}

	r.Pool.Init()
	r.EncryptQueue.Init(segmentQueueCapacity)
	r.CryptoQueue.Init(segmentQueueCapacity)
	r.DecryptQueue.Init(segmentQueueCapacity)
	r.ClearQueue.Init(segmentQueueCapacity)
	r.TXCell.Init()
	r.RXCell.Init()
	r.RXView.Init()
	r.State.Init(now)

	return r, nil
}

// AttachChild attaches only the segments stageName needs (spec.md §5's
// confinement model) from file descriptors inherited at fd 3, 4, 5, ...
// in segment-index order, and closes every other inherited segment fd
// immediately without mapping it.
func AttachChild(stageName string) (*Resources, error) {
	if !validStage(stageName) {
		return nil, fmt.Errorf("supervisor: unknown stage %q", stageName)
	}

	r := &Resources{}
	for i := 0; i < numSegments; i++ {
		fd := uintptr(3 + i)
		if !needs(stageName, i) {
			os.NewFile(fd, segmentNames[i]).Close()
			continue
		}
		seg, err := segment.Attach(fd, segmentSizes[i])
		if err != nil {
			r.closeAll()
			return nil, fmt.Errorf("supervisor: attach segment %q: %w", segmentNames[i], err)
		}
		r.segs[i] = seg
	}

	if err := r.place(); err != nil {
		r.closeAll()
		return nil, err
	}
	return r, nil
}

// place interprets each attached segment's bytes as its typed
// structure. Segments the caller didn't attach are left nil.
func (r *Resources) place() error {
	var err error
	if r.segs[SegPool] != nil {
		if r.Pool, err = segment.Place[pool.Pool](r.segs[SegPool], 0); err != nil {
			return err
		}
	}
	if r.segs[SegEncryptQueue] != nil {
		if r.EncryptQueue, err = segment.Place[ring.Queue](r.segs[SegEncryptQueue], 0); err != nil {
			return err
		}
	}
	if r.segs[SegCryptoQueue] != nil {
		if r.CryptoQueue, err = segment.Place[ring.Queue](r.segs[SegCryptoQueue], 0); err != nil {
			return err
		}
	}
	if r.segs[SegDecryptQueue] != nil {
		if r.DecryptQueue, err = segment.Place[ring.Queue](r.segs[SegDecryptQueue], 0); err != nil {
			return err
		}
	}
	if r.segs[SegClearQueue] != nil {
		if r.ClearQueue, err = segment.Place[ring.Queue](r.segs[SegClearQueue], 0); err != nil {
			return err
		}
	}
	if r.segs[SegTXCell] != nil {
		if r.TXCell, err = segment.Place[keying.Cell](r.segs[SegTXCell], 0); err != nil {
			return err
		}
	}
	if r.segs[SegRXCell] != nil {
		if r.RXCell, err = segment.Place[keying.Cell](r.segs[SegRXCell], 0); err != nil {
			return err
		}
	}
	if r.segs[SegRXView] != nil {
		if r.RXView, err = segment.Place[keying.RXView](r.segs[SegRXView], 0); err != nil {
			return err
		}
	}
	if r.segs[SegState] != nil {
		if r.State, err = segment.Place[state.Block](r.segs[SegState], 0); err != nil {
			return err
		}
	}
	return nil
}

// Files returns the segment file descriptors in the fixed order every
// exec'd child expects, for exec.Cmd.ExtraFiles.
func (r *Resources) Files() []*os.File {
	files := make([]*os.File, numSegments)
	for i, seg := range r.segs {
		files[i] = os.NewFile(seg.FD(), segmentNames[i])
	}
	return files
}

// Close unmaps every attached segment.
func (r *Resources) Close() error {
	return r.closeAll()
}

func (r *Resources) closeAll() error {
	var firstErr error
	for _, seg := range r.segs {
		if seg == nil {
			continue
		}
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
