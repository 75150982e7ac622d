// Package attrs implements the NFSv4 fattr4 attribute codec: attribute
// bitmaps, the registry of per-attribute wire descriptors, and the engine
// that decodes, encodes and compares attribute blocks.
//
// An attribute block on the wire is
//
//	[word_count][word_count × uint32 bitmap][attr_vals: opaque<>]
//
// with values laid out in ascending attribute id order and no per-value
// tags, so every participant must agree on the layout of every id it
// understands.
//
// Per RFC 7530/7531: typedef uint32_t bitmap4<>;
package attrs

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfscore/internal/protocol/xdr"
)

// Bitmap is an ordered set of small integers (attribute ids or operation
// numbers) stored as bitmap4 words. Bit N lives in word N/32 at position N%32.
type Bitmap []uint32

// NewBitmap returns a bitmap with the given ids set.
func NewBitmap(ids ...AttrID) Bitmap {
	var b Bitmap
	for _, id := range ids {
		b.Set(id)
	}
	return b
}

// ============================================================================
// Bit Manipulation
// ============================================================================

// IsSet reports whether id is in the set. Ids beyond the stored words are
// reported as absent.
func (b Bitmap) IsSet(id AttrID) bool {
	word := int(id / 32)
	if word >= len(b) {
		return false
	}
	return b[word]&(1<<(id%32)) != 0
}

// Set adds id, growing the bitmap with zero words if needed.
func (b *Bitmap) Set(id AttrID) {
	word := int(id / 32)
	for len(*b) <= word {
		*b = append(*b, 0)
	}
	(*b)[word] |= 1 << (id % 32)
}

// Clear removes id. No-op if id lies beyond the stored words.
func (b Bitmap) Clear(id AttrID) {
	word := int(id / 32)
	if word >= len(b) {
		return
	}
	b[word] &^= 1 << (id % 32)
}

// Union returns a new bitmap holding every id set in b or o.
func (b Bitmap) Union(o Bitmap) Bitmap {
	long, short := b, o
	if len(short) > len(long) {
		long, short = short, long
	}
	out := make(Bitmap, len(long))
	copy(out, long)
	for i, w := range short {
		out[i] |= w
	}
	return out
}

// Intersect returns the ids set in both b and o. The result length is the
// shorter of the two, since missing words are implicitly zero.
func (b Bitmap) Intersect(o Bitmap) Bitmap {
	n := min(len(b), len(o))
	out := make(Bitmap, n)
	for i := 0; i < n; i++ {
		out[i] = b[i] & o[i]
	}
	return out
}

// Minus returns the ids set in b but not in o.
func (b Bitmap) Minus(o Bitmap) Bitmap {
	out := b.Clone()
	for i := 0; i < len(out) && i < len(o); i++ {
		out[i] &^= o[i]
	}
	return out
}

// Clone returns an independent copy.
func (b Bitmap) Clone() Bitmap {
	if b == nil {
		return nil
	}
	out := make(Bitmap, len(b))
	copy(out, b)
	return out
}

// Empty reports whether no id is set.
func (b Bitmap) Empty() bool {
	for _, w := range b {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of ids set.
func (b Bitmap) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount32(w)
	}
	return n
}

// Equal reports whether b and o hold the same ids. Trailing zero words are
// ignored, so [1] equals [1, 0].
func (b Bitmap) Equal(o Bitmap) bool {
	n := max(len(b), len(o))
	for i := 0; i < n; i++ {
		var x, y uint32
		if i < len(b) {
			x = b[i]
		}
		if i < len(o) {
			y = o[i]
		}
		if x != y {
			return false
		}
	}
	return true
}

// Trim drops trailing zero words.
func (b Bitmap) Trim() Bitmap {
	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}
	return b[:n]
}

// Each calls fn for every set id in ascending order until fn returns false.
// Iteration reads the bitmap afresh on every call, so it can be restarted.
func (b Bitmap) Each(fn func(id AttrID) bool) {
	for wi, w := range b {
		for w != 0 {
			bit := bits.TrailingZeros32(w)
			if !fn(AttrID(wi*32 + bit)) {
				return
			}
			w &^= 1 << bit
		}
	}
}

// IDs returns the set ids in ascending order.
func (b Bitmap) IDs() []AttrID {
	out := make([]AttrID, 0, b.Count())
	b.Each(func(id AttrID) bool {
		out = append(out, id)
		return true
	})
	return out
}

// ============================================================================
// Bitmap4 Encode/Decode
// ============================================================================

// Encode writes the bitmap as [numWords][word0][word1]... and returns the
// number of words written. Words are written as stored; use Trim first for
// the shortest form.
func (b Bitmap) Encode(buf *bytes.Buffer) int {
	_ = xdr.WriteUint32(buf, uint32(len(b)))
	for _, w := range b {
		_ = xdr.WriteUint32(buf, w)
	}
	return len(b)
}

// DecodeBitmap reads a bitmap4 keeping at most maxWords words.
//
// Words beyond maxWords are consumed so the cursor stays positioned, but are
// not stored. If any of them is non-zero the peer referenced ids this side
// does not know, and notSupp is returned true; callers may report that as
// NFS4ERR_ATTRNOTSUPP without aborting. A word count that cannot be
// satisfied by the remaining bytes is NFS4ERR_BADXDR.
func DecodeBitmap(c *xdr.Cursor, maxWords int) (b Bitmap, notSupp bool, err error) {
	n, err := c.Uint32()
	if err != nil {
		return nil, false, types.NewStatusError(types.NFS4ERR_BADXDR, "bitmap4 word count: %v", err)
	}
	if int64(n)*4 > int64(c.Remaining()) {
		return nil, false, types.NewStatusError(types.NFS4ERR_BADXDR, "bitmap4 of %d words exceeds remaining %d bytes", n, c.Remaining())
	}

	keep := min(int(n), maxWords)
	b = make(Bitmap, keep)
	for i := 0; i < int(n); i++ {
		w, _ := c.Uint32() // length checked above
		if i < keep {
			b[i] = w
		} else if w != 0 {
			notSupp = true
		}
	}
	return b, notSupp, nil
}

// DecodeOpBitmap reads a bitmap of operation numbers. Unlike attribute
// bitmaps, a non-zero word beyond maxWords is a hard NFS4ERR_BADXDR.
func DecodeOpBitmap(c *xdr.Cursor, maxWords int) (Bitmap, error) {
	b, notSupp, err := DecodeBitmap(c, maxWords)
	if err != nil {
		return nil, err
	}
	if notSupp {
		return nil, types.NewStatusError(types.NFS4ERR_BADXDR, "operation bitmap references operations above %d", maxWords*32-1)
	}
	return b, nil
}

// OpBitmapWords is the number of words needed for every operation number
// understood locally.
const OpBitmapWords = types.OP_MAX/32 + 1

// String renders the set ids by name, e.g. "[size mode]".
func (b Bitmap) String() string {
	return fmt.Sprint(b.IDs())
}
