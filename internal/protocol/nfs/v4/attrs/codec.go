package attrs

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/nfscore/internal/logger"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfscore/internal/protocol/xdr"
	"github.com/marmos91/nfscore/internal/telemetry"
)

// Mode selects what the codec does with each attribute value.
type Mode int

const (
	// ModeDecode fills a Record from the wire (SETATTR, CREATE, OPEN).
	ModeDecode Mode = iota
	// ModeEncode writes local values to the wire (GETATTR, READDIR).
	ModeEncode
	// ModeCompare matches wire values against local ones (VERIFY, NVERIFY).
	ModeCompare
)

func (m Mode) String() string {
	switch m {
	case ModeDecode:
		return "decode"
	case ModeEncode:
		return "encode"
	case ModeCompare:
		return "compare"
	}
	return "unknown"
}

// Codec runs attribute blocks through a Registry. It holds no per-call
// state and is safe for concurrent use.
type Codec struct {
	reg *Registry
	ids IdentityMapper
}

// NewCodec returns a codec over reg, resolving owner strings with ids.
// A nil reg selects DefaultRegistry; a nil ids selects NumericIdentities.
func NewCodec(reg *Registry, ids IdentityMapper) *Codec {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if ids == nil {
		ids = NumericIdentities{}
	}
	return &Codec{reg: reg, ids: ids}
}

// Registry returns the registry the codec was built with.
func (cd *Codec) Registry() *Registry {
	return cd.reg
}

func badXDR(format string, args ...any) error {
	return types.NewStatusError(types.NFS4ERR_BADXDR, format, args...)
}

// blockVisitor receives each decoded attribute. Returning an error stops the
// walk and is returned unchanged.
type blockVisitor func(d *Descriptor, v Value, st Status, e *Env) error

// walkBlock reads attr_vals for bits and hands each value to visit. An id
// without a descriptor ends the walk, since the layout of everything after
// it is unknown; unknown is then called with that id and the remaining
// bytes of the block are skipped.
func (cd *Codec) walkBlock(ctx context.Context, c *xdr.Cursor, bits Bitmap, mode Mode, visit blockVisitor, unknown func(AttrID)) error {
	n, err := c.Uint32()
	if err != nil {
		return badXDR("attr_vals length: %v", err)
	}
	length := int(n)
	padded := xdr.Align(length)
	if int64(padded) > int64(c.Remaining()) || padded < length {
		return badXDR("attr_vals of %d bytes exceeds remaining %d", n, c.Remaining())
	}
	block, _ := c.Sub(padded)

	e := &Env{Ctx: ctx, Identities: cd.ids, Mode: mode}
	var walkErr error
	bits.Each(func(id AttrID) bool {
		if block.Offset() > length {
			walkErr = badXDR("attributes overran declared length %d", length)
			return false
		}
		d, ok := cd.reg.Lookup(id)
		if !ok {
			if unknown != nil {
				unknown(id)
			}
			return false
		}
		if d.Size.Fixed > 0 && block.Remaining() < d.Size.Fixed {
			walkErr = badXDR("%s needs %d bytes, %d left", d.Name, d.Size.Fixed, block.Remaining())
			return false
		}

		e.ExtraBits = false
		v, st, err := d.Decode(block, e)
		if err != nil {
			var se types.NFS4StatusError
			if errors.As(err, &se) {
				walkErr = err
			} else {
				walkErr = badXDR("%s: %v", d.Name, err)
			}
			return false
		}
		if st == StatusOK && d.Validate != nil && !d.Validate(v) {
			st = StatusInvalid
		}
		if err := visit(d, v, st, e); err != nil {
			walkErr = err
			return false
		}
		return true
	})
	if walkErr != nil {
		return walkErr
	}
	if block.Offset() > length {
		return badXDR("attributes used %d bytes, declared %d", block.Offset(), length)
	}
	return nil
}

// ============================================================================
// Decode
// ============================================================================

// Decode reads a complete fattr4 from c into a new Record.
//
// Malformed data returns NFS4ERR_BADXDR together with the partially filled
// record, which callers must discard. Unusable but well-formed values are
// not errors: they are marked in the record and surface through Record.Err.
// An id without a descriptor is marked StatusNotSupported along with every
// later id in the bitmap, whose values could not be located.
func (cd *Codec) Decode(ctx context.Context, c *xdr.Cursor) (*Record, error) {
	ctx, span := telemetry.StartAttrSpan(ctx, telemetry.SpanAttrDecode, ModeDecode.String())
	defer span.End()

	bits, notSupp, err := DecodeBitmap(c, MaxWords)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	span.SetAttributes(telemetry.AttrCount(bits.Count()))
	rec := NewRecord()
	rec.NotSupp = notSupp

	err = cd.walkBlock(ctx, c, bits, ModeDecode,
		func(d *Descriptor, v Value, st Status, _ *Env) error {
			rec.Set(d.ID, v)
			if st != StatusOK {
				rec.Mark(d.ID, st)
			}
			return nil
		},
		func(first AttrID) {
			bits.Each(func(id AttrID) bool {
				if id >= first {
					rec.Mark(id, StatusNotSupported)
				}
				return true
			})
			logger.DebugCtx(ctx, "attribute block references unknown attribute",
				logger.KeyAttr, uint32(first), logger.KeyAttrMode, ModeDecode.String())
		})
	if err != nil {
		logger.DebugCtx(ctx, "attribute block rejected", logger.Err(err))
		telemetry.RecordError(ctx, err)
		return rec, err
	}
	return rec, nil
}

// ============================================================================
// Encode
// ============================================================================

// localValue fetches id from src, answering supported_attrs from the
// registry when the source does not.
func (cd *Codec) localValue(ctx context.Context, d *Descriptor, src Source) (Value, error) {
	v, err := src.Attribute(ctx, d.ID)
	if err != nil && d.ID == FATTR4_SUPPORTED_ATTRS && errors.Is(err, types.ErrAttrNotSupp) {
		return cd.reg.Supported(), nil
	}
	return v, err
}

// Encode appends a fattr4 for the requested ids to buf, taking values from
// src. Ids the registry or the source does not support are omitted from
// both the bitmap and the values; the returned bitmap is the one written.
// Requesting a write-only attribute is NFS4ERR_INVAL.
//
// The bitmap and length words are reserved up front and back-patched once
// the values are written, so values go straight into buf. On error buf is
// restored to its original length.
func (cd *Codec) Encode(ctx context.Context, buf *bytes.Buffer, requested Bitmap, src Source) (Bitmap, error) {
	ctx, span := telemetry.StartAttrSpan(ctx, telemetry.SpanAttrEncode, ModeEncode.String(),
		telemetry.AttrCount(requested.Count()))
	defer span.End()

	start := buf.Len()
	written := make(Bitmap, len(requested))

	// Reserve [count][words...][length].
	_ = xdr.WriteUint32(buf, uint32(len(written)))
	for range written {
		_ = xdr.WriteUint32(buf, 0)
	}
	lengthAt := buf.Len()
	_ = xdr.WriteUint32(buf, 0)
	valuesAt := buf.Len()

	e := &Env{Ctx: ctx, Identities: cd.ids, Mode: ModeEncode}
	var encErr error
	requested.Each(func(id AttrID) bool {
		d, ok := cd.reg.Lookup(id)
		if !ok {
			logger.DebugCtx(ctx, "omitting attribute without descriptor", logger.KeyAttr, uint32(id))
			return true
		}
		if d.Access == WriteOnly {
			encErr = types.NewStatusError(types.NFS4ERR_INVAL, "%s is write-only", d.Name)
			return false
		}
		v, err := cd.localValue(ctx, d, src)
		if err != nil {
			if errors.Is(err, types.ErrAttrNotSupp) {
				logger.DebugCtx(ctx, "omitting attribute not provided by source", logger.Attr(uint32(id), d.Name)...)
				return true
			}
			encErr = fmt.Errorf("fetch %s: %w", d.Name, err)
			return false
		}
		if err := d.Encode(buf, v, e); err != nil {
			encErr = fmt.Errorf("encode %s: %w", d.Name, err)
			return false
		}
		written.Set(id)
		return true
	})
	if encErr != nil {
		buf.Truncate(start)
		telemetry.RecordError(ctx, encErr)
		return nil, encErr
	}

	for i, w := range written {
		xdr.PutUint32At(buf, start+4+4*i, w)
	}
	xdr.PutUint32At(buf, lengthAt, uint32(buf.Len()-valuesAt))
	span.SetAttributes(telemetry.AttrBytes(buf.Len() - valuesAt))
	return written, nil
}

// ============================================================================
// Compare
// ============================================================================

// Verdict is the outcome of comparing an attribute block.
type Verdict int

const (
	// VerdictSame: every attribute matched.
	VerdictSame Verdict = iota
	// VerdictDiffers: some attribute decoded cleanly but did not match.
	VerdictDiffers
	// VerdictNotComparable: some attribute is not supported locally.
	VerdictNotComparable
	// VerdictInvalid: the block names an attribute that may never be
	// compared (rdattr_error or a write-only attribute).
	VerdictInvalid
)

func (v Verdict) String() string {
	switch v {
	case VerdictSame:
		return "same"
	case VerdictDiffers:
		return "differs"
	case VerdictNotComparable:
		return "not_comparable"
	case VerdictInvalid:
		return "invalid"
	}
	return "unknown"
}

// CompareResult reports how a peer's attribute block relates to local
// state. The first non-Same verdict sticks; attributes after it are still
// decoded and compared, and those that also failed are listed in Others.
type CompareResult struct {
	Verdict Verdict
	Attr    AttrID // attribute that decided a non-Same verdict
	Others  Bitmap
}

func (r *CompareResult) note(id AttrID, v Verdict) {
	if v == VerdictSame {
		return
	}
	if r.Verdict == VerdictSame {
		r.Verdict, r.Attr = v, id
		return
	}
	r.Others.Set(id)
}

// Same reports whether every attribute matched.
func (r CompareResult) Same() bool { return r.Verdict == VerdictSame }

// NotSame is the two-way view, folding every non-Same verdict into
// "not the same".
func (r CompareResult) NotSame() bool { return r.Verdict != VerdictSame }

// Status maps the verdict to the status VERIFY reports: NFS4_OK,
// NFS4ERR_NOT_SAME, NFS4ERR_ATTRNOTSUPP or NFS4ERR_INVAL. NVERIFY inverts
// only the first two.
func (r CompareResult) Status() uint32 {
	switch r.Verdict {
	case VerdictDiffers:
		return types.NFS4ERR_NOT_SAME
	case VerdictNotComparable:
		return types.NFS4ERR_ATTRNOTSUPP
	case VerdictInvalid:
		return types.NFS4ERR_INVAL
	}
	return types.NFS4_OK
}

// Compare reads a fattr4 from c and matches each value against local.
//
// The returned error is reserved for malformed input (NFS4ERR_BADXDR) and
// for failures of local; every other outcome is a verdict.
func (cd *Codec) Compare(ctx context.Context, c *xdr.Cursor, local Source) (CompareResult, error) {
	ctx, span := telemetry.StartAttrSpan(ctx, telemetry.SpanAttrCompare, ModeCompare.String())
	defer span.End()

	var res CompareResult

	bits, notSupp, err := DecodeBitmap(c, MaxWords)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return res, err
	}
	if notSupp {
		res.note(AttrID(MaxWords*32), VerdictNotComparable)
	}

	err = cd.walkBlock(ctx, c, bits, ModeCompare,
		func(d *Descriptor, peer Value, st Status, e *Env) error {
			v, err := cd.compareOne(ctx, d, peer, st, local, e)
			if err != nil {
				return err
			}
			res.note(d.ID, v)
			return nil
		},
		func(id AttrID) {
			res.note(id, VerdictNotComparable)
		})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return res, err
	}
	span.SetAttributes(telemetry.Verdict(res.Verdict.String()))

	if !res.Same() {
		logger.DebugCtx(ctx, "attribute compare",
			logger.KeyAttrMode, ModeCompare.String(),
			"verdict", res.Verdict.String(),
			logger.KeyAttr, uint32(res.Attr))
	}
	return res, nil
}

func (cd *Codec) compareOne(ctx context.Context, d *Descriptor, peer Value, st Status, local Source, e *Env) (Verdict, error) {
	if d.ID == FATTR4_RDATTR_ERROR || d.Access == WriteOnly {
		return VerdictInvalid, nil
	}
	if st != StatusOK {
		// A value that is invalid or names an unknown owner cannot equal
		// anything held locally.
		return VerdictDiffers, nil
	}
	lv, err := cd.localValue(ctx, d, local)
	if err != nil {
		if errors.Is(err, types.ErrAttrNotSupp) {
			return VerdictNotComparable, nil
		}
		return VerdictSame, fmt.Errorf("fetch %s: %w", d.Name, err)
	}
	if !d.Compare(peer, lv, e) {
		return VerdictDiffers, nil
	}
	return VerdictSame, nil
}
