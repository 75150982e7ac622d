package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marmos91/nfscore/internal/logger"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfscore/internal/reflock"
	"github.com/marmos91/nfscore/internal/telemetry"
)

// DefaultSessionSlots is the fore channel size of new sessions when the
// configuration does not set one.
const DefaultSessionSlots = 16

// Config holds session table settings.
type Config struct {
	// MaxSlots is the fore channel slot count of new sessions.
	MaxSlots uint32 `mapstructure:"max_slots" yaml:"max_slots" validate:"omitempty,min=1,max=64"`

	// ReexecuteUncached executes a retried request again when its reply
	// was not cached, instead of refusing it with RETRY_UNCACHED_REP.
	ReexecuteUncached bool `mapstructure:"reexecute_uncached" yaml:"reexecute_uncached"`

	// DestroyOnMisordered tears the whole session down when a request is
	// refused with NFS4ERR_SEQ_MISORDERED. Later requests on it then fail
	// with NFS4ERR_BADSESSION and the client has to create a new one.
	DestroyOnMisordered bool `mapstructure:"destroy_on_misordered" yaml:"destroy_on_misordered"`
}

// Manager is the registry of live sessions and the entry point for
// SEQUENCE processing.
//
// Every admitted request holds a shared reference on the manager's RefLock
// until it completes; Shutdown takes the lock exclusively, so it waits for
// in-flight requests to drain before tearing the table down.
type Manager struct {
	mu sync.RWMutex

	// sessionsByID maps session IDs to session objects.
	sessionsByID map[types.SessionId4]*Session

	// sessionsByClientID maps client IDs to their sessions.
	sessionsByClientID map[uint64][]*Session

	inflight *reflock.Lock

	cfg Config

	sequenceMetrics *SequenceMetrics
	sessionMetrics  *SessionMetrics
}

// NewManager returns an empty session table.
func NewManager(cfg Config) *Manager {
	if cfg.MaxSlots == 0 {
		cfg.MaxSlots = DefaultSessionSlots
	}
	return &Manager{
		sessionsByID:       make(map[types.SessionId4]*Session),
		sessionsByClientID: make(map[uint64][]*Session),
		inflight:           reflock.New(),
		cfg:                cfg,
	}
}

// SetMetrics sets the Prometheus collectors. Either may be nil.
// Must be called before any session operations.
func (m *Manager) SetMetrics(seq *SequenceMetrics, sess *SessionMetrics) {
	m.sequenceMetrics = seq
	m.sessionMetrics = sess
}

// ============================================================================
// Session lifecycle
// ============================================================================

// CreateSession creates and registers a session for clientID.
func (m *Manager) CreateSession(clientID uint64) (*Session, error) {
	session, err := NewSession(clientID, m.cfg.MaxSlots)
	if err != nil {
		return nil, types.NewStatusError(types.NFS4ERR_SERVERFAULT, "failed to create session: %v", err)
	}
	session.ForeChannelSlots.SetReexecuteUncached(m.cfg.ReexecuteUncached)

	m.mu.Lock()
	m.sessionsByID[session.SessionID] = session
	m.sessionsByClientID[clientID] = append(m.sessionsByClientID[clientID], session)
	m.mu.Unlock()

	m.sessionMetrics.recordCreated(session.ForeChannelSlots.MaxSlots())

	logger.Info("Session created",
		logger.KeySessionID, session.SessionID.String(),
		"client_id", fmt.Sprintf("0x%x", clientID),
		logger.KeyMaxSlots, session.ForeChannelSlots.MaxSlots())

	return session, nil
}

// GetSession returns the session for the given session ID, or nil if not found.
func (m *Manager) GetSession(sessionID types.SessionId4) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionsByID[sessionID]
}

// ListSessions returns a summary of every session, oldest first.
func (m *Manager) ListSessions() []SessionInfo {
	m.mu.RLock()
	out := make([]SessionInfo, 0, len(m.sessionsByID))
	for _, s := range m.sessionsByID {
		out = append(out, s.Info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListSessionsForClient returns a copy of the session slice for the given client.
func (m *Manager) ListSessionsForClient(clientID uint64) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := m.sessionsByClientID[clientID]
	if len(sessions) == 0 {
		return nil
	}
	result := make([]*Session, len(sessions))
	copy(result, sessions)
	return result
}

// DestroySession removes a session. It fails with NFS4ERR_BADSESSION for an
// unknown id and NFS4ERR_DELAY while the session has requests in flight.
func (m *Manager) DestroySession(sessionID types.SessionId4) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroySessionLocked(sessionID, ReasonClientRequest)
}

// ForceDestroySession removes a session even with requests in flight. Used
// by admin eviction.
func (m *Manager) ForceDestroySession(sessionID types.SessionId4) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.destroySessionLocked(sessionID, ReasonAdminEvict)
}

// destroySessionLocked removes a session. Only a client request waits for
// in-flight requests. Caller must hold m.mu.
func (m *Manager) destroySessionLocked(sessionID types.SessionId4, reason DestroyReason) error {
	session, exists := m.sessionsByID[sessionID]
	if !exists {
		return types.NewStatusError(types.NFS4ERR_BADSESSION, "unknown session %s", sessionID)
	}
	if !reason.forced() && session.HasInFlightRequests() {
		return types.NewStatusError(types.NFS4ERR_DELAY, "session %s has requests in flight", sessionID)
	}

	delete(m.sessionsByID, sessionID)

	sessions := m.sessionsByClientID[session.ClientID]
	for i, s := range sessions {
		if s.SessionID == sessionID {
			m.sessionsByClientID[session.ClientID] = append(sessions[:i], sessions[i+1:]...)
			break
		}
	}
	if len(m.sessionsByClientID[session.ClientID]) == 0 {
		delete(m.sessionsByClientID, session.ClientID)
	}

	lifetime := time.Since(session.CreatedAt)
	cached := session.ForeChannelSlots.CachedBytes()
	m.sessionMetrics.recordDestroyed(reason, lifetime, cached)
	m.sequenceMetrics.releaseCache(cached)

	logger.Info("Session destroyed",
		logger.KeySessionID, session.SessionID.String(),
		"client_id", fmt.Sprintf("0x%x", session.ClientID),
		"reason", string(reason),
		"duration_s", fmt.Sprintf("%.1f", lifetime.Seconds()))

	return nil
}

// Shutdown waits for in-flight requests to complete, then destroys every
// session. Later SEQUENCE calls fail with NFS4ERR_BADSESSION.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.inflight.AcquireExclusive(ctx); err != nil {
		return fmt.Errorf("drain in-flight requests: %w", err)
	}
	m.inflight.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.sessionsByID {
		_ = m.destroySessionLocked(id, ReasonShutdown)
	}
	m.inflight.ReleaseExclusive(false)
	return nil
}

// ============================================================================
// SEQUENCE
// ============================================================================

// Admission is a request that passed slot validation. The caller must call
// Complete exactly once, after sending the reply.
type Admission struct {
	m       *Manager
	session *Session
	args    types.SequenceArgs
	result  SequenceResult
	reply   []byte
	once    sync.Once
}

// Session returns the session the request was admitted on.
func (a *Admission) Session() *Session { return a.session }

// Result reports whether the request must be executed or replayed.
func (a *Admission) Result() SequenceResult { return a.result }

// Replay reports whether the request must be answered with CachedReply.
func (a *Admission) Replay() bool { return a.result == SeqRetry }

// CachedReply returns the reply to resend for a replay. The slice is the
// caller's own copy.
func (a *Admission) CachedReply() []byte { return a.reply }

// Response returns the SEQUENCE result to put at the head of the reply.
func (a *Admission) Response() types.SequenceRes {
	slots := a.session.ForeChannelSlots
	return types.SequenceRes{
		Status:              types.NFS4_OK,
		SessionID:           a.args.SessionID,
		SequenceID:          a.args.SequenceID,
		SlotID:              a.args.SlotID,
		HighestSlotID:       slots.GetHighestSlotID(),
		TargetHighestSlotID: slots.GetTargetHighestSlotID(),
	}
}

// Complete releases the slot. For a new request, reply is cached when the
// client asked for it; for a replay, reply is ignored and the existing
// cache entry is kept.
func (a *Admission) Complete(reply []byte) {
	a.once.Do(func() {
		slots := a.session.ForeChannelSlots
		delta := 0
		if a.result == SeqRetry {
			slots.CompleteReplay(a.args.SlotID)
		} else {
			delta = slots.completeSlot(a.args.SlotID, a.args.SequenceID, a.args.CacheThis, reply)
		}
		a.m.sequenceMetrics.recordCompleted(delta)
		a.m.inflight.ReleaseShared()
	})
}

// ProcessSequence validates a SEQUENCE header against the session's slot
// table. On success the slot is held until Admission.Complete.
func (m *Manager) ProcessSequence(ctx context.Context, args *types.SequenceArgs) (*Admission, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanSequence)
	defer span.End()
	telemetry.SetAttributes(ctx,
		telemetry.SessionID(args.SessionID.String()),
		telemetry.SlotID(args.SlotID),
		telemetry.SeqID(args.SequenceID))
	ctx = sequenceLogContext(ctx, args)

	adm, err := m.admit(ctx, args)
	if err != nil {
		m.sequenceMetrics.recordError(sequenceErrorType(err))
		telemetry.RecordError(ctx, err)
		logger.DebugCtx(ctx, "SEQUENCE refused", logger.Err(err))
		if m.cfg.DestroyOnMisordered && types.StatusOf(err) == types.NFS4ERR_SEQ_MISORDERED {
			m.destroyMisordered(ctx, args.SessionID)
		}
		return nil, err
	}

	m.sequenceMetrics.recordAdmitted(adm.result)
	telemetry.SetAttributes(ctx, telemetry.Replay(adm.Replay()))
	logger.DebugCtx(ctx, "SEQUENCE admitted", "result", adm.result.String())
	return adm, nil
}

// sequenceLogContext tags ctx so later log lines of the request carry the
// session, slot and trace ids.
func sequenceLogContext(ctx context.Context, args *types.SequenceArgs) context.Context {
	lc := logger.FromContext(ctx)
	if lc == nil {
		lc = logger.NewLogContext("")
	}
	lc = lc.WithOperation("SEQUENCE").
		WithSlot(args.SessionID.String(), args.SlotID, args.SequenceID).
		WithTrace(telemetry.IDs(ctx))
	return logger.WithContext(ctx, lc)
}

// destroyMisordered drops a session whose slot ordering is lost. The
// session may already be gone if a concurrent request got here first.
func (m *Manager) destroyMisordered(ctx context.Context, sessionID types.SessionId4) {
	m.mu.Lock()
	err := m.destroySessionLocked(sessionID, ReasonSeqMisordered)
	m.mu.Unlock()
	if err == nil {
		logger.WarnCtx(ctx, "Session destroyed after misordered request")
	}
}

func (m *Manager) admit(ctx context.Context, args *types.SequenceArgs) (*Admission, error) {
	if err := m.inflight.AcquireShared(ctx); err != nil {
		if errors.Is(err, reflock.ErrClosed) {
			return nil, types.NewStatusError(types.NFS4ERR_BADSESSION, "server shutting down")
		}
		return nil, err
	}

	session := m.GetSession(args.SessionID)
	if session == nil {
		m.inflight.ReleaseShared()
		return nil, types.NewStatusError(types.NFS4ERR_BADSESSION, "unknown session %s", args.SessionID)
	}

	result, reply, err := session.ForeChannelSlots.ValidateSequence(args.SlotID, args.SequenceID)
	if err != nil {
		m.inflight.ReleaseShared()
		return nil, err
	}

	return &Admission{
		m:       m,
		session: session,
		args:    *args,
		result:  result,
		reply:   reply,
	}, nil
}

func sequenceErrorType(err error) string {
	switch types.StatusOf(err) {
	case types.NFS4ERR_BADSESSION:
		return "bad_session"
	case types.NFS4ERR_BADSLOT:
		return "bad_slot"
	case types.NFS4ERR_DELAY:
		return "delay"
	case types.NFS4ERR_SEQ_MISORDERED:
		return "seq_misordered"
	case types.NFS4ERR_RETRY_UNCACHED_REP:
		return "retry_uncached"
	}
	return "other"
}
