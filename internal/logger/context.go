package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped logging context
type LogContext struct {
	TraceID    string    // OpenTelemetry trace ID
	SpanID     string    // OpenTelemetry span ID
	Operation  string    // COMPOUND operation name (SEQUENCE, GETATTR, SETATTR...)
	SessionID  string    // hex session id, empty outside a session
	SlotID     uint32    // slot the request was admitted on
	SeqID      uint32    // sequence id carried by the request
	HasSlot    bool      // SlotID/SeqID are meaningful
	ClientAddr string    // peer address
	UID        uint32    // effective user ID
	GID        uint32    // effective group ID
	StartTime  time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a request from clientAddr.
func NewLogContext(clientAddr string) *LogContext {
	return &LogContext{
		ClientAddr: clientAddr,
		StartTime:  time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithOperation returns a copy with the operation set
func (lc *LogContext) WithOperation(op string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.Operation = op
	}
	return c
}

// WithSlot returns a copy carrying the session sequencing coordinates.
func (lc *LogContext) WithSlot(sessionID string, slotID, seqID uint32) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.SessionID = sessionID
		c.SlotID = slotID
		c.SeqID = seqID
		c.HasSlot = true
	}
	return c
}

// WithAuth returns a copy with the caller's identity set
func (lc *LogContext) WithAuth(uid, gid uint32) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.UID = uid
		c.GID = gid
	}
	return c
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
