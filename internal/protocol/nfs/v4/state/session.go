package state

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
)

// Session is the server's view of an NFSv4.1 session (RFC 8881 Section
// 2.10): an id, the owning client and the fore channel slot table that
// provides at-most-once execution.
type Session struct {
	// SessionID is the unique 16-byte session identifier (crypto/rand generated).
	SessionID types.SessionId4

	// ClientID is the client that owns this session.
	ClientID uint64

	// ForeChannelSlots is the replay cache for client -> server requests.
	ForeChannelSlots *SlotTable

	// CreatedAt is when this session was created.
	CreatedAt time.Time
}

// NewSession creates a session with a random id and a fore channel slot
// table of maxSlots slots. It does not register the session anywhere.
func NewSession(clientID uint64, maxSlots uint32) (*Session, error) {
	var sid types.SessionId4

	// Session ids are protocol-visible; a predictable id could be hijacked,
	// so there is no fallback source.
	if _, err := rand.Read(sid[:]); err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	return &Session{
		SessionID:        sid,
		ClientID:         clientID,
		ForeChannelSlots: NewSlotTable(maxSlots),
		CreatedAt:        time.Now(),
	}, nil
}

// HasInFlightRequests reports whether any fore channel slot is executing.
func (s *Session) HasInFlightRequests() bool {
	if s.ForeChannelSlots == nil {
		return false
	}
	return s.ForeChannelSlots.HasInFlightRequests()
}

// SessionInfo is a point-in-time summary of a session for listings.
type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	ClientID    uint64    `json:"client_id"`
	MaxSlots    uint32    `json:"max_slots"`
	SlotsInUse  int       `json:"slots_in_use"`
	CachedBytes int       `json:"cached_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}

// Info returns a summary of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		SessionID:   s.SessionID.String(),
		ClientID:    s.ClientID,
		MaxSlots:    s.ForeChannelSlots.MaxSlots(),
		SlotsInUse:  s.ForeChannelSlots.InUseCount(),
		CachedBytes: s.ForeChannelSlots.CachedBytes(),
		CreatedAt:   s.CreatedAt,
	}
}
