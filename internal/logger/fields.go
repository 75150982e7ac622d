package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging. Use these keys consistently so
// log aggregation can join attribute, session and identity events.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Protocol & Operation
	// ========================================================================
	KeyOperation  = "operation"   // COMPOUND operation name
	KeyHandle     = "handle"      // object handle (hex)
	KeyStatus     = "status"      // NFS4 status code
	KeyClientAddr = "client_addr" // peer address

	// ========================================================================
	// Attributes
	// ========================================================================
	KeyAttr      = "attr"       // attribute id
	KeyAttrName  = "attr_name"  // attribute name (size, mode, owner...)
	KeyAttrMode  = "attr_mode"  // codec mode: decode, encode, compare
	KeyAttrBytes = "attr_bytes" // declared attribute block length
	KeyAttrCount = "attr_count" // attributes in a bitmap
	KeyWords     = "words"      // bitmap word count

	// ========================================================================
	// Sessions & Slots
	// ========================================================================
	KeySessionID   = "session_id"
	KeySlotID      = "slot_id"
	KeySeqID       = "seq_id"
	KeyHighestSlot = "highest_slot"
	KeyMaxSlots    = "max_slots"

	// ========================================================================
	// Identity mapping
	// ========================================================================
	KeyUID        = "uid"
	KeyGID        = "gid"
	KeyName       = "name"        // owner or group string
	KeyDomain     = "domain"      // identity domain suffix
	KeyUpcallKind = "upcall_kind" // uid->name, name->gid, ...
	KeyEvicted    = "evicted"     // entries removed by a sweep
	KeyEntries    = "entries"     // entries currently cached

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyStore      = "store" // attribute backend name
	KeyPath       = "path"
	KeyAddr       = "addr" // listen address
)

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// Handle returns a slog.Attr for an object handle formatted as hex
func Handle(h []byte) slog.Attr {
	return slog.String(KeyHandle, fmt.Sprintf("%x", h))
}

// Status returns a slog.Attr for an NFS4 status code
func Status(code uint32) slog.Attr {
	return slog.Uint64(KeyStatus, uint64(code))
}

// Attr returns the id and name of an attribute as a group-less pair of fields.
func Attr(id uint32, name string) []any {
	return []any{KeyAttr, id, KeyAttrName, name}
}

// SessionID returns a slog.Attr for a 16-byte session id formatted as hex
func SessionID(id []byte) slog.Attr {
	return slog.String(KeySessionID, fmt.Sprintf("%x", id))
}

// SlotID returns a slog.Attr for a slot id
func SlotID(id uint32) slog.Attr {
	return slog.Uint64(KeySlotID, uint64(id))
}

// SeqID returns a slog.Attr for a sequence id
func SeqID(id uint32) slog.Attr {
	return slog.Uint64(KeySeqID, uint64(id))
}

// UID returns a slog.Attr for a user ID
func UID(uid uint32) slog.Attr {
	return slog.Uint64(KeyUID, uint64(uid))
}

// GID returns a slog.Attr for a group ID
func GID(gid uint32) slog.Attr {
	return slog.Uint64(KeyGID, uint64(gid))
}

// Err returns a slog.Attr for an error. A nil error yields an empty string.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr for a duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
