package state

import (
	"math/bits"
	"sync"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
)

const (
	// MinSlots is the smallest slot table a session may have.
	MinSlots = 1

	// DefaultMaxSlots is the largest slot table, bounded by the 64-bit
	// in-use bitmap.
	DefaultMaxSlots = 64
)

// SequenceResult classifies a request admitted by ValidateSequence.
type SequenceResult int

const (
	// SeqNew: execute the request. The slot is in progress until
	// CompleteSlotRequest.
	SeqNew SequenceResult = iota

	// SeqRetry: the request was already executed; send the cached reply
	// instead of running it again, then call CompleteReplay.
	SeqRetry
)

func (r SequenceResult) String() string {
	switch r {
	case SeqNew:
		return "new"
	case SeqRetry:
		return "retry"
	}
	return "unknown"
}

// Slot is one entry of the server's replay cache.
type Slot struct {
	// SeqID is the sequence id of the last request accepted on the slot.
	// Zero until first use.
	SeqID uint32

	// InProgress is set while the request holding the slot executes.
	InProgress bool

	// CachedReply is the reply of the last completed request, or nil when
	// the client did not ask for it to be cached.
	CachedReply []byte
}

// SlotTable is the server side of session sequencing (RFC 8881 Section
// 2.10.6): a fixed arena of slots, each enforcing at-most-once execution
// for the requests sent on it.
//
// All methods are safe for concurrent use.
type SlotTable struct {
	mu sync.Mutex

	slots []Slot

	// inUse has bit N set while slot N has a request in progress.
	inUse uint64

	// targetHighestSlotID is what the server would like the client to use
	// as its highest slot. It can shrink below len(slots)-1 for flow
	// control.
	targetHighestSlotID uint32

	// reexecuteUncached admits a retry whose reply was not cached as a
	// fresh execution instead of failing it with RETRY_UNCACHED_REP.
	reexecuteUncached bool

	cachedBytes int
}

// NewSlotTable returns a table of n slots, clamped to
// [MinSlots, DefaultMaxSlots].
func NewSlotTable(n uint32) *SlotTable {
	n = max(n, MinSlots)
	n = min(n, DefaultMaxSlots)
	return &SlotTable{
		slots:               make([]Slot, n),
		targetHighestSlotID: n - 1,
	}
}

// SetReexecuteUncached selects how a retry of an uncached request is
// handled: executed again (true) or refused with
// NFS4ERR_RETRY_UNCACHED_REP (false, the default).
func (st *SlotTable) SetReexecuteUncached(v bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.reexecuteUncached = v
}

// MaxSlots returns the number of slots in the table.
func (st *SlotTable) MaxSlots() uint32 {
	return uint32(len(st.slots))
}

// GetHighestSlotID returns the highest slot id the table accepts.
func (st *SlotTable) GetHighestSlotID() uint32 {
	return uint32(len(st.slots)) - 1
}

// GetTargetHighestSlotID returns the slot id the server wants the client
// to stay at or below.
func (st *SlotTable) GetTargetHighestSlotID() uint32 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.targetHighestSlotID
}

// SetTargetHighestSlotID lowers or raises the advertised target, clamped to
// the table size.
func (st *SlotTable) SetTargetHighestSlotID(id uint32) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.targetHighestSlotID = min(id, st.GetHighestSlotID())
}

// ValidateSequence applies the slot sequencing rules to an incoming
// (slot, sequence) pair:
//
//   - slot beyond the table: NFS4ERR_BADSLOT
//   - seq equal to the slot's and a request still running: NFS4ERR_DELAY
//   - seq equal and a cached reply: SeqRetry with a copy of the reply
//   - seq equal and nothing cached: NFS4ERR_RETRY_UNCACHED_REP, or SeqNew
//     when re-execution of uncached requests is enabled
//   - seq one above the slot's: SeqNew; the old reply is replaced on
//     completion
//   - anything else: NFS4ERR_SEQ_MISORDERED
//
// Sequence ids wrap, so 0 follows 0xFFFFFFFF. On success the slot is marked
// in progress.
func (st *SlotTable) ValidateSequence(slotID, seqID uint32) (SequenceResult, []byte, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if slotID >= uint32(len(st.slots)) {
		return 0, nil, types.NewStatusError(types.NFS4ERR_BADSLOT, "slot %d beyond highest %d", slotID, len(st.slots)-1)
	}
	slot := &st.slots[slotID]

	switch seqID {
	case slot.SeqID:
		if slot.InProgress {
			return 0, nil, types.NewStatusError(types.NFS4ERR_DELAY, "slot %d seq %d still in progress", slotID, seqID)
		}
		if slot.CachedReply != nil {
			st.markInUse(slotID)
			reply := make([]byte, len(slot.CachedReply))
			copy(reply, slot.CachedReply)
			return SeqRetry, reply, nil
		}
		if !st.reexecuteUncached {
			return 0, nil, types.NewStatusError(types.NFS4ERR_RETRY_UNCACHED_REP, "slot %d seq %d reply not cached", slotID, seqID)
		}
		st.markInUse(slotID)
		return SeqNew, nil, nil

	case slot.SeqID + 1:
		slot.SeqID = seqID
		st.markInUse(slotID)
		return SeqNew, nil, nil

	default:
		return 0, nil, types.NewStatusError(types.NFS4ERR_SEQ_MISORDERED, "slot %d expects seq %d, got %d", slotID, slot.SeqID+1, seqID)
	}
}

func (st *SlotTable) markInUse(slotID uint32) {
	st.slots[slotID].InProgress = true
	st.inUse |= 1 << slotID
}

func (st *SlotTable) dropReply(slot *Slot) {
	st.cachedBytes -= len(slot.CachedReply)
	slot.CachedReply = nil
}

// MarkSlotInUse flags a slot as executing without sequence checks.
func (st *SlotTable) MarkSlotInUse(slotID uint32) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if slotID < uint32(len(st.slots)) {
		st.markInUse(slotID)
	}
}

// CompleteSlotRequest records the end of a request on slotID: the slot
// takes seqID, leaves the in-progress state and, when cacheThis is set,
// keeps a copy of reply for retries. Out-of-range slots are ignored.
func (st *SlotTable) CompleteSlotRequest(slotID, seqID uint32, cacheThis bool, reply []byte) {
	st.completeSlot(slotID, seqID, cacheThis, reply)
}

// completeSlot is CompleteSlotRequest returning the change in cached bytes.
func (st *SlotTable) completeSlot(slotID, seqID uint32, cacheThis bool, reply []byte) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	if slotID >= uint32(len(st.slots)) {
		return 0
	}
	before := st.cachedBytes
	slot := &st.slots[slotID]
	st.dropReply(slot)
	slot.SeqID = seqID
	slot.InProgress = false
	st.inUse &^= 1 << slotID
	if cacheThis && reply != nil {
		slot.CachedReply = make([]byte, len(reply))
		copy(slot.CachedReply, reply)
		st.cachedBytes += len(reply)
	}
	return st.cachedBytes - before
}

// CompleteReplay ends a SeqRetry admission. The cached reply is kept so a
// further retry can be answered too.
func (st *SlotTable) CompleteReplay(slotID uint32) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if slotID >= uint32(len(st.slots)) {
		return
	}
	st.slots[slotID].InProgress = false
	st.inUse &^= 1 << slotID
}

// HighestInUse returns the highest slot with a request in progress, or -1.
func (st *SlotTable) HighestInUse() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return bits.Len64(st.inUse) - 1
}

// InUseCount returns the number of slots with a request in progress.
func (st *SlotTable) InUseCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return bits.OnesCount64(st.inUse)
}

// HasInFlightRequests reports whether any slot is in progress.
func (st *SlotTable) HasInFlightRequests() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inUse != 0
}

// CachedBytes returns the bytes held by cached replies.
func (st *SlotTable) CachedBytes() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cachedBytes
}

// SlotSnapshot returns a copy of one slot, for diagnostics.
func (st *SlotTable) SlotSnapshot(slotID uint32) (Slot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if slotID >= uint32(len(st.slots)) {
		return Slot{}, false
	}
	s := st.slots[slotID]
	s.CachedReply = append([]byte(nil), s.CachedReply...)
	return s, true
}
