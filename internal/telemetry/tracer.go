package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Common attribute keys for spans.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientAddr = "client.address"

	// ========================================================================
	// NFSv4 operation attributes
	// ========================================================================
	AttrOperation = "nfs.operation" // COMPOUND operation name
	AttrHandle    = "nfs.handle"    // object handle (hex)
	AttrStatus    = "nfs.status"    // nfsstat4 result

	// ========================================================================
	// Session sequencing attributes
	// ========================================================================
	AttrSessionID = "nfs.session_id"
	AttrSlotID    = "nfs.slot_id"
	AttrSeqID     = "nfs.seq_id"
	AttrReplay    = "nfs.replay" // request answered from the replay cache

	// ========================================================================
	// Attribute codec attributes
	// ========================================================================
	AttrAttrMode  = "fattr.mode"  // decode, encode, compare
	AttrAttrCount = "fattr.count" // attributes in the bitmap
	AttrAttrBytes = "fattr.bytes" // attr_vals length
	AttrVerdict   = "fattr.verdict"
	AttrAttrName  = "fattr.name"

	// ========================================================================
	// Identity mapping attributes
	// ========================================================================
	AttrUID        = "user.uid"
	AttrGID        = "user.gid"
	AttrIdentName  = "idmap.name"
	AttrUpcallKind = "idmap.upcall_kind"
	AttrCacheHit   = "cache.hit"

	// ========================================================================
	// Storage backend attributes
	// ========================================================================
	AttrStoreName = "store.name"
	AttrStoreType = "store.type"
)

// Span names.
// Format: <component>.<operation>
const (
	SpanSequence = "nfs.SEQUENCE"

	SpanAttrDecode  = "fattr.decode"
	SpanAttrEncode  = "fattr.encode"
	SpanAttrCompare = "fattr.compare"

	SpanIdmapLookup = "idmap.lookup"
	SpanIdmapUpcall = "idmap.upcall"
	SpanIdmapReload = "idmap.reload"

	SpanResolverServe = "resolver.serve"

	SpanMetaGetAttr = "metadata.getattr"
	SpanMetaSetAttr = "metadata.setattr"
	SpanMetaStatfs  = "metadata.statfs"
)

// ClientAddr returns an attribute for the peer address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// Operation returns an attribute for a COMPOUND operation name
func Operation(name string) attribute.KeyValue {
	return attribute.String(AttrOperation, name)
}

// Handle returns an attribute for an object handle
func Handle(handle []byte) attribute.KeyValue {
	return attribute.String(AttrHandle, fmt.Sprintf("%x", handle))
}

// Status returns an attribute for an nfsstat4 code
func Status(status uint32) attribute.KeyValue {
	return attribute.Int64(AttrStatus, int64(status))
}

// SessionID returns an attribute for a hex session id
func SessionID(id string) attribute.KeyValue {
	return attribute.String(AttrSessionID, id)
}

// SlotID returns an attribute for a slot id
func SlotID(id uint32) attribute.KeyValue {
	return attribute.Int64(AttrSlotID, int64(id))
}

// SeqID returns an attribute for a sequence id
func SeqID(id uint32) attribute.KeyValue {
	return attribute.Int64(AttrSeqID, int64(id))
}

// Replay returns an attribute marking a replayed request
func Replay(replay bool) attribute.KeyValue {
	return attribute.Bool(AttrReplay, replay)
}

// AttrMode returns an attribute for the codec mode
func AttrMode(mode string) attribute.KeyValue {
	return attribute.String(AttrAttrMode, mode)
}

// AttrCount returns an attribute for the number of attributes in a bitmap
func AttrCount(n int) attribute.KeyValue {
	return attribute.Int(AttrAttrCount, n)
}

// AttrBytes returns an attribute for an attr_vals length
func AttrBytes(n int) attribute.KeyValue {
	return attribute.Int(AttrAttrBytes, n)
}

// AttrName returns an attribute for a single attribute's name
func AttrName(name string) attribute.KeyValue {
	return attribute.String(AttrAttrName, name)
}

// Verdict returns an attribute for a compare verdict
func Verdict(v string) attribute.KeyValue {
	return attribute.String(AttrVerdict, v)
}

// UID returns an attribute for user ID
func UID(uid uint32) attribute.KeyValue {
	return attribute.Int64(AttrUID, int64(uid))
}

// GID returns an attribute for group ID
func GID(gid uint32) attribute.KeyValue {
	return attribute.Int64(AttrGID, int64(gid))
}

// IdentName returns an attribute for an owner or group string
func IdentName(name string) attribute.KeyValue {
	return attribute.String(AttrIdentName, name)
}

// UpcallKind returns an attribute for the kind of resolver upcall
func UpcallKind(kind string) attribute.KeyValue {
	return attribute.String(AttrUpcallKind, kind)
}

// CacheHit returns an attribute for cache hit indicator
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// StoreName returns an attribute for store name
func StoreName(name string) attribute.KeyValue {
	return attribute.String(AttrStoreName, name)
}

// StoreType returns an attribute for store type
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// StartAttrSpan starts a span around one attribute block.
func StartAttrSpan(ctx context.Context, name, mode string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{AttrMode(mode)}, attrs...)
	return StartSpan(ctx, name, trace.WithAttributes(all...))
}

// StartUpcallSpan starts a span for a resolver upcall.
func StartUpcallSpan(ctx context.Context, kind string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{UpcallKind(kind)}, attrs...)
	return StartSpan(ctx, SpanIdmapUpcall, trace.WithAttributes(all...))
}

// StartMetadataSpan starts a span for a metadata backend operation.
func StartMetadataSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "metadata."+operation, trace.WithAttributes(attrs...))
}
