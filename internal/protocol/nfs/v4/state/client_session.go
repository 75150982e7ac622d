package state

import (
	"context"
	"math/bits"
	"sync"

	"github.com/marmos91/nfscore/internal/logger"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
)

// ClientSession is the client side of session sequencing: it hands out
// fore channel slots to outgoing requests, bumping each slot's sequence id,
// and blocks callers while every usable slot is busy.
//
// The slot arena is owned by the session; slot numbers index into it.
type ClientSession struct {
	id types.SessionId4

	mu   sync.Mutex
	cond *sync.Cond

	seqs    []uint32 // next sequence id sent on each slot, after bump
	inUse   uint64
	bad     uint64
	defunct bool
}

// SlotAssignment is a slot reserved for one outgoing request.
type SlotAssignment struct {
	SlotID        uint32
	SequenceID    uint32
	HighestSlotID uint32
}

// Header returns the SEQUENCE arguments for the assignment.
func (a SlotAssignment) Header(id types.SessionId4, cacheThis bool) types.SequenceArgs {
	return types.SequenceArgs{
		SessionID:     id,
		SequenceID:    a.SequenceID,
		SlotID:        a.SlotID,
		HighestSlotID: a.HighestSlotID,
		CacheThis:     cacheThis,
	}
}

// NewClientSession returns a session with n fore channel slots, clamped to
// [MinSlots, DefaultMaxSlots].
func NewClientSession(id types.SessionId4, n uint32) *ClientSession {
	n = max(n, MinSlots)
	n = min(n, DefaultMaxSlots)
	s := &ClientSession{id: id, seqs: make([]uint32, n)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the session id.
func (s *ClientSession) ID() types.SessionId4 { return s.id }

func (s *ClientSession) broadcast() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// AcquireSlot reserves the lowest free slot that is not marked bad and
// bumps its sequence id. It blocks until a slot is freed, the session is
// destroyed (NFS4ERR_BADSESSION) or ctx is done. When every slot is bad it
// fails with NFS4ERR_SEQ_MISORDERED; the caller should then replace the
// session.
func (s *ClientSession) AcquireSlot(ctx context.Context) (SlotAssignment, error) {
	stop := context.AfterFunc(ctx, s.broadcast)
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Shifting by 64 yields 0, so a full table gives all ones.
	all := uint64(1)<<len(s.seqs) - 1

	for {
		if s.defunct {
			return SlotAssignment{}, types.NewStatusError(types.NFS4ERR_BADSESSION, "session %s destroyed", s.id)
		}
		if s.bad&all == all {
			return SlotAssignment{}, types.NewStatusError(types.NFS4ERR_SEQ_MISORDERED, "every slot of session %s is bad", s.id)
		}

		free := ^(s.inUse | s.bad) & all
		if free != 0 {
			slot := uint32(bits.TrailingZeros64(free))
			s.inUse |= 1 << slot
			s.seqs[slot]++
			return SlotAssignment{
				SlotID:        slot,
				SequenceID:    s.seqs[slot],
				HighestSlotID: uint32(bits.Len64(s.inUse) - 1),
			}, nil
		}

		if err := ctx.Err(); err != nil {
			return SlotAssignment{}, err
		}
		logger.DebugCtx(ctx, "waiting for free slot", logger.KeySessionID, s.id.String())
		s.cond.Wait()
	}
}

// FreeSlot returns a slot. With resetSeq the sequence bump made by
// AcquireSlot is undone, for requests that never reached the server.
// Freeing a slot that is not held is a no-op.
func (s *ClientSession) FreeSlot(slot uint32, resetSeq bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot >= uint32(len(s.seqs)) || s.inUse&(1<<slot) == 0 {
		return
	}
	if resetSeq {
		s.seqs[slot]--
	}
	s.inUse &^= 1 << slot
	s.cond.Broadcast()
}

// MarkBadSlot stops AcquireSlot from handing out slot, typically after the
// server answered NFS4ERR_SEQ_MISORDERED for it.
func (s *ClientSession) MarkBadSlot(slot uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot >= uint32(len(s.seqs)) {
		return
	}
	s.bad |= 1 << slot
	logger.Warn("slot marked bad", logger.KeySessionID, s.id.String(), logger.KeySlotID, slot)
	// A waiter may now be looking at an all-bad table.
	s.cond.Broadcast()
}

// Destroy marks the session defunct and wakes every waiter.
func (s *ClientSession) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defunct = true
	s.cond.Broadcast()
}

// Defunct reports whether Destroy was called.
func (s *ClientSession) Defunct() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defunct
}

// SlotSequence returns the last sequence id handed out on slot.
func (s *ClientSession) SlotSequence(slot uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot >= uint32(len(s.seqs)) {
		return 0
	}
	return s.seqs[slot]
}
