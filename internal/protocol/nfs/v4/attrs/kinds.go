package attrs

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"unicode/utf8"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfscore/internal/protocol/xdr"
)

// Kind is the wire shape shared by a family of attributes.
type Kind int

const (
	KindBool Kind = iota
	KindUint32
	KindUint64
	KindTime
	KindSetTime
	KindFsid
	KindSpecData
	KindBitmap
	KindHandle
	KindString
	KindOwner
	KindGroup
	KindACL
	KindUint32List
	KindModeUmask
)

var kindNames = [...]string{
	KindBool:       "bool",
	KindUint32:     "uint32",
	KindUint64:     "uint64",
	KindTime:       "nfstime4",
	KindSetTime:    "settime4",
	KindFsid:       "fsid4",
	KindSpecData:   "specdata4",
	KindBitmap:     "bitmap4",
	KindHandle:     "nfs_fh4",
	KindString:     "utf8str",
	KindOwner:      "owner",
	KindGroup:      "owner_group",
	KindACL:        "nfsace4<>",
	KindUint32List: "uint32<>",
	KindModeUmask:  "mode_umask4",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// SizeClass describes how many bytes an attribute occupies on the wire.
// Fixed is zero for variable-length attributes.
type SizeClass struct {
	Fixed int
}

// FixedBytes is a SizeClass of exactly n bytes.
func FixedBytes(n int) SizeClass { return SizeClass{Fixed: n} }

// FixedWords is a SizeClass of exactly n XDR words.
func FixedWords(n int) SizeClass { return SizeClass{Fixed: 4 * n} }

// Variable is the SizeClass of length-prefixed attributes.
var Variable = SizeClass{}

func (s SizeClass) String() string {
	if s.Fixed == 0 {
		return "variable"
	}
	return fmt.Sprintf("%d bytes", s.Fixed)
}

// Env carries per-call state into descriptor functions.
type Env struct {
	Ctx        context.Context
	Identities IdentityMapper
	Mode       Mode

	// ExtraBits is set by bitmap-valued decoders when the peer's bitmap
	// had non-zero words beyond MaxWords.
	ExtraBits bool
}

// DecodeFunc reads one attribute value. A non-nil error means the wire data
// is malformed and the whole block is rejected; a non-OK Status means the
// value is well-formed but unusable.
type DecodeFunc func(c *xdr.Cursor, e *Env) (Value, Status, error)

// EncodeFunc appends one attribute value.
type EncodeFunc func(buf *bytes.Buffer, v Value, e *Env) error

// CompareFunc reports whether a decoded peer value matches the local one.
type CompareFunc func(peer, local Value, e *Env) bool

type kindCodec struct {
	size    SizeClass
	decode  DecodeFunc
	encode  EncodeFunc
	compare CompareFunc
}

var kindCodecs = map[Kind]kindCodec{
	KindBool:       {FixedWords(1), decodeBool, encodeBool, equalValues},
	KindUint32:     {FixedWords(1), decodeUint32, encodeUint32, equalValues},
	KindUint64:     {FixedWords(2), decodeUint64, encodeUint64, equalValues},
	KindTime:       {FixedWords(3), decodeTime, encodeTime, equalValues},
	KindSetTime:    {Variable, decodeSetTime, encodeSetTime, equalValues},
	KindFsid:       {FixedWords(4), decodeFsid, encodeFsid, equalValues},
	KindSpecData:   {FixedWords(2), decodeSpecData, encodeSpecData, equalValues},
	KindBitmap:     {Variable, decodeBitmapAttr, encodeBitmapAttr, compareBitmap},
	KindHandle:     {Variable, decodeHandle, encodeHandle, equalValues},
	KindString:     {Variable, decodeUTF8, encodeString, equalValues},
	KindOwner:      {Variable, decodeOwner, encodeOwner, compareIdentity},
	KindGroup:      {Variable, decodeGroup, encodeGroup, compareIdentity},
	KindACL:        {Variable, decodeACL, encodeACL, equalValues},
	KindUint32List: {Variable, decodeUint32List, encodeUint32List, equalValues},
	KindModeUmask:  {FixedWords(2), decodeModeUmask, encodeModeUmask, equalValues},
}

func typeError(want string, v Value) error {
	return types.NewStatusError(types.NFS4ERR_SERVERFAULT, "attribute value has type %T, want %s", v, want)
}

// ============================================================================
// Scalars
// ============================================================================

func decodeBool(c *xdr.Cursor, _ *Env) (Value, Status, error) {
	v, err := c.Uint32()
	if err != nil {
		return nil, StatusOK, err
	}
	if v > 1 {
		return v != 0, StatusInvalid, nil
	}
	return v == 1, StatusOK, nil
}

func encodeBool(buf *bytes.Buffer, v Value, _ *Env) error {
	b, ok := v.(bool)
	if !ok {
		return typeError("bool", v)
	}
	return xdr.WriteBool(buf, b)
}

func decodeUint32(c *xdr.Cursor, _ *Env) (Value, Status, error) {
	v, err := c.Uint32()
	return v, StatusOK, err
}

func encodeUint32(buf *bytes.Buffer, v Value, _ *Env) error {
	u, ok := v.(uint32)
	if !ok {
		return typeError("uint32", v)
	}
	return xdr.WriteUint32(buf, u)
}

func decodeUint64(c *xdr.Cursor, _ *Env) (Value, Status, error) {
	v, err := c.Uint64()
	return v, StatusOK, err
}

func encodeUint64(buf *bytes.Buffer, v Value, _ *Env) error {
	u, ok := v.(uint64)
	if !ok {
		return typeError("uint64", v)
	}
	return xdr.WriteUint64(buf, u)
}

// ============================================================================
// Times
// ============================================================================

func readTime(c *xdr.Cursor) (Time, error) {
	sec, err := c.Int64()
	if err != nil {
		return Time{}, err
	}
	nsec, err := c.Uint32()
	return Time{Seconds: sec, Nseconds: nsec}, err
}

func writeTime(buf *bytes.Buffer, t Time) {
	_ = xdr.WriteInt64(buf, t.Seconds)
	_ = xdr.WriteUint32(buf, t.Nseconds)
}

func decodeTime(c *xdr.Cursor, _ *Env) (Value, Status, error) {
	t, err := readTime(c)
	if err != nil {
		return nil, StatusOK, err
	}
	if !t.Valid() {
		return t, StatusInvalid, nil
	}
	return t, StatusOK, nil
}

func encodeTime(buf *bytes.Buffer, v Value, _ *Env) error {
	t, ok := v.(Time)
	if !ok {
		return typeError("Time", v)
	}
	writeTime(buf, t)
	return nil
}

// decodeSetTime reads settime4. The time body is present only for
// SET_TO_CLIENT_TIME4; any other discriminant is invalid but the length is
// still known, so decoding continues.
func decodeSetTime(c *xdr.Cursor, _ *Env) (Value, Status, error) {
	how, err := c.Uint32()
	if err != nil {
		return nil, StatusOK, err
	}
	st := SetTime{How: how}
	switch how {
	case types.SET_TO_SERVER_TIME4:
		return st, StatusOK, nil
	case types.SET_TO_CLIENT_TIME4:
		if st.Time, err = readTime(c); err != nil {
			return nil, StatusOK, err
		}
		if !st.Time.Valid() {
			return st, StatusInvalid, nil
		}
		return st, StatusOK, nil
	default:
		return st, StatusInvalid, nil
	}
}

func encodeSetTime(buf *bytes.Buffer, v Value, _ *Env) error {
	st, ok := v.(SetTime)
	if !ok {
		return typeError("SetTime", v)
	}
	_ = xdr.WriteUint32(buf, st.How)
	if st.How == types.SET_TO_CLIENT_TIME4 {
		writeTime(buf, st.Time)
	}
	return nil
}

// ============================================================================
// Fixed composites
// ============================================================================

func decodeFsid(c *xdr.Cursor, _ *Env) (Value, Status, error) {
	major, err := c.Uint64()
	if err != nil {
		return nil, StatusOK, err
	}
	minor, err := c.Uint64()
	return Fsid{Major: major, Minor: minor}, StatusOK, err
}

func encodeFsid(buf *bytes.Buffer, v Value, _ *Env) error {
	f, ok := v.(Fsid)
	if !ok {
		return typeError("Fsid", v)
	}
	_ = xdr.WriteUint64(buf, f.Major)
	return xdr.WriteUint64(buf, f.Minor)
}

func decodeSpecData(c *xdr.Cursor, _ *Env) (Value, Status, error) {
	major, err := c.Uint32()
	if err != nil {
		return nil, StatusOK, err
	}
	minor, err := c.Uint32()
	return SpecData{Major: major, Minor: minor}, StatusOK, err
}

func encodeSpecData(buf *bytes.Buffer, v Value, _ *Env) error {
	s, ok := v.(SpecData)
	if !ok {
		return typeError("SpecData", v)
	}
	_ = xdr.WriteUint32(buf, s.Major)
	return xdr.WriteUint32(buf, s.Minor)
}

func decodeModeUmask(c *xdr.Cursor, _ *Env) (Value, Status, error) {
	mode, err := c.Uint32()
	if err != nil {
		return nil, StatusOK, err
	}
	umask, err := c.Uint32()
	if err != nil {
		return nil, StatusOK, err
	}
	mu := ModeUmask{Mode: mode, Umask: umask}
	if mode > 07777 || umask > 0777 {
		return mu, StatusInvalid, nil
	}
	return mu, StatusOK, nil
}

func encodeModeUmask(buf *bytes.Buffer, v Value, _ *Env) error {
	mu, ok := v.(ModeUmask)
	if !ok {
		return typeError("ModeUmask", v)
	}
	_ = xdr.WriteUint32(buf, mu.Mode)
	return xdr.WriteUint32(buf, mu.Umask)
}

// ============================================================================
// Variable-length values
// ============================================================================

func decodeBitmapAttr(c *xdr.Cursor, e *Env) (Value, Status, error) {
	b, extra, err := DecodeBitmap(c, MaxWords)
	if err != nil {
		return nil, StatusOK, err
	}
	e.ExtraBits = extra
	return b, StatusOK, nil
}

func encodeBitmapAttr(buf *bytes.Buffer, v Value, _ *Env) error {
	b, ok := v.(Bitmap)
	if !ok {
		return typeError("Bitmap", v)
	}
	b.Trim().Encode(buf)
	return nil
}

func compareBitmap(peer, local Value, e *Env) bool {
	p, ok1 := peer.(Bitmap)
	l, ok2 := local.(Bitmap)
	return ok1 && ok2 && !e.ExtraBits && p.Equal(l)
}

func decodeHandle(c *xdr.Cursor, _ *Env) (Value, Status, error) {
	fh, err := c.Opaque(types.NFS4_FHSIZE)
	return fh, StatusOK, err
}

func encodeHandle(buf *bytes.Buffer, v Value, _ *Env) error {
	fh, ok := v.([]byte)
	if !ok {
		return typeError("[]byte", v)
	}
	if len(fh) > types.NFS4_FHSIZE {
		return types.NewStatusError(types.NFS4ERR_SERVERFAULT, "file handle of %d bytes", len(fh))
	}
	return xdr.WriteXDROpaque(buf, fh)
}

func decodeUTF8(c *xdr.Cursor, _ *Env) (Value, Status, error) {
	s, err := c.String(types.NFS4_OPAQUE_LIMIT)
	if err != nil {
		return nil, StatusOK, err
	}
	if !utf8.ValidString(s) {
		return s, StatusInvalid, nil
	}
	return s, StatusOK, nil
}

func encodeString(buf *bytes.Buffer, v Value, _ *Env) error {
	s, ok := v.(string)
	if !ok {
		return typeError("string", v)
	}
	return xdr.WriteXDRString(buf, s)
}

func decodeUint32List(c *xdr.Cursor, _ *Env) (Value, Status, error) {
	n, err := c.Uint32()
	if err != nil {
		return nil, StatusOK, err
	}
	if int64(n)*4 > int64(c.Remaining()) {
		return nil, StatusOK, fmt.Errorf("array of %d words: %w", n, xdr.ErrShortBuffer)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i], _ = c.Uint32()
	}
	return out, StatusOK, nil
}

func encodeUint32List(buf *bytes.Buffer, v Value, _ *Env) error {
	l, ok := v.([]uint32)
	if !ok {
		return typeError("[]uint32", v)
	}
	_ = xdr.WriteUint32(buf, uint32(len(l)))
	for _, w := range l {
		_ = xdr.WriteUint32(buf, w)
	}
	return nil
}

// ACE types above ACE4_SYSTEM_ALARM_ACE_TYPE are reserved.
const maxACEType = 3

// minACESize is type + flag + mask + empty who.
const minACESize = 16

func decodeACL(c *xdr.Cursor, _ *Env) (Value, Status, error) {
	n, err := c.Uint32()
	if err != nil {
		return nil, StatusOK, err
	}
	if int64(n)*minACESize > int64(c.Remaining()) {
		return nil, StatusOK, fmt.Errorf("acl of %d entries: %w", n, xdr.ErrShortBuffer)
	}
	status := StatusOK
	acl := make([]ACE, n)
	for i := range acl {
		a := &acl[i]
		if a.Type, err = c.Uint32(); err != nil {
			return nil, StatusOK, err
		}
		if a.Flag, err = c.Uint32(); err != nil {
			return nil, StatusOK, err
		}
		if a.AccessMask, err = c.Uint32(); err != nil {
			return nil, StatusOK, err
		}
		if a.Who, err = c.String(types.NFS4_OPAQUE_LIMIT); err != nil {
			return nil, StatusOK, err
		}
		if a.Type > maxACEType || !utf8.ValidString(a.Who) {
			status = StatusInvalid
		}
	}
	return acl, status, nil
}

func encodeACL(buf *bytes.Buffer, v Value, _ *Env) error {
	acl, ok := v.([]ACE)
	if !ok {
		return typeError("[]ACE", v)
	}
	_ = xdr.WriteUint32(buf, uint32(len(acl)))
	for _, a := range acl {
		_ = xdr.WriteUint32(buf, a.Type)
		_ = xdr.WriteUint32(buf, a.Flag)
		_ = xdr.WriteUint32(buf, a.AccessMask)
		_ = xdr.WriteXDRString(buf, a.Who)
	}
	return nil
}

// ============================================================================
// Identities
// ============================================================================

func mapper(e *Env) IdentityMapper {
	if e.Identities == nil {
		return NumericIdentities{}
	}
	return e.Identities
}

// decodeIdentity reads an owner string and resolves it. Resolution failure
// never fails the block: the id falls back to the configured default and the
// attribute is marked StatusBadOwner.
func decodeIdentity(c *xdr.Cursor, e *Env, group bool) (Value, Status, error) {
	s, err := c.String(types.NFS4_OPAQUE_LIMIT)
	if err != nil {
		return nil, StatusOK, err
	}
	m := mapper(e)
	id := Identity{Name: s, ID: m.DefaultUID()}
	if group {
		id.ID = m.DefaultGID()
	}
	if s == "" || !utf8.ValidString(s) {
		return id, StatusInvalid, nil
	}

	var n uint32
	if group {
		n, err = m.StringToGID(e.Ctx, s)
	} else {
		n, err = m.StringToUID(e.Ctx, s)
	}
	if err != nil {
		return id, StatusBadOwner, nil
	}
	id.ID, id.Mapped = n, true
	return id, StatusOK, nil
}

func decodeOwner(c *xdr.Cursor, e *Env) (Value, Status, error) {
	return decodeIdentity(c, e, false)
}

func decodeGroup(c *xdr.Cursor, e *Env) (Value, Status, error) {
	return decodeIdentity(c, e, true)
}

func identityID(v Value) (uint32, bool) {
	switch x := v.(type) {
	case uint32:
		return x, true
	case Identity:
		return x.ID, true
	}
	return 0, false
}

func encodeOwner(buf *bytes.Buffer, v Value, e *Env) error {
	uid, ok := identityID(v)
	if !ok {
		return typeError("uint32 or Identity", v)
	}
	return xdr.WriteXDRString(buf, mapper(e).UIDToString(e.Ctx, uid))
}

func encodeGroup(buf *bytes.Buffer, v Value, e *Env) error {
	gid, ok := identityID(v)
	if !ok {
		return typeError("uint32 or Identity", v)
	}
	return xdr.WriteXDRString(buf, mapper(e).GIDToString(e.Ctx, gid))
}

// compareIdentity matches only when the peer string resolved and names the
// same numeric id as the local value.
func compareIdentity(peer, local Value, _ *Env) bool {
	p, ok := peer.(Identity)
	if !ok || !p.Mapped {
		return false
	}
	l, ok := identityID(local)
	return ok && l == p.ID
}

func equalValues(peer, local Value, _ *Env) bool {
	return reflect.DeepEqual(peer, local)
}
