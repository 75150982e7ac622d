package attrs

import (
	"context"
	"strconv"
	"strings"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
)

// IdentityMapper translates between numeric ids and the owner strings
// carried by the owner and owner_group attributes. pkg/idmap.Cache is the
// production implementation.
//
// The To* methods never fail: they fall back to the decimal form. The
// String* methods return an error matching types.ErrBadOwner when the
// string cannot be mapped.
type IdentityMapper interface {
	UIDToString(ctx context.Context, uid uint32) string
	GIDToString(ctx context.Context, gid uint32) string
	StringToUID(ctx context.Context, s string) (uint32, error)
	StringToGID(ctx context.Context, s string) (uint32, error)
	DefaultUID() uint32
	DefaultGID() uint32
}

// NobodyID is the conventional id of the nobody user and nogroup group.
const NobodyID = 65534

// NumericIdentities is the fallback IdentityMapper used when no identity
// cache is configured. It knows root and nobody by name and otherwise
// speaks decimal ids, optionally qualified with "@Domain".
type NumericIdentities struct {
	Domain string
}

func (n NumericIdentities) qualify(s string) string {
	if n.Domain == "" {
		return s
	}
	return s + "@" + n.Domain
}

// UIDToString implements IdentityMapper.
func (n NumericIdentities) UIDToString(_ context.Context, uid uint32) string {
	switch uid {
	case 0:
		return n.qualify("root")
	case NobodyID:
		return n.qualify("nobody")
	}
	return strconv.FormatUint(uint64(uid), 10)
}

// GIDToString implements IdentityMapper.
func (n NumericIdentities) GIDToString(_ context.Context, gid uint32) string {
	switch gid {
	case 0:
		return n.qualify("wheel")
	case NobodyID:
		return n.qualify("nogroup")
	}
	return strconv.FormatUint(uint64(gid), 10)
}

// StringToUID implements IdentityMapper.
func (n NumericIdentities) StringToUID(_ context.Context, s string) (uint32, error) {
	return parseIdentity(s, map[string]uint32{"root": 0, "nobody": NobodyID})
}

// StringToGID implements IdentityMapper.
func (n NumericIdentities) StringToGID(_ context.Context, s string) (uint32, error) {
	return parseIdentity(s, map[string]uint32{"root": 0, "wheel": 0, "nogroup": NobodyID, "nobody": NobodyID})
}

// DefaultUID implements IdentityMapper.
func (NumericIdentities) DefaultUID() uint32 { return NobodyID }

// DefaultGID implements IdentityMapper.
func (NumericIdentities) DefaultGID() uint32 { return NobodyID }

// parseIdentity accepts "N", "N@domain", and the well-known names with or
// without a domain.
func parseIdentity(s string, wellKnown map[string]uint32) (uint32, error) {
	name := s
	if i := strings.LastIndexByte(s, '@'); i >= 0 {
		name = s[:i]
	}
	if id, err := strconv.ParseUint(name, 10, 32); err == nil {
		return uint32(id), nil
	}
	if id, ok := wellKnown[strings.ToLower(name)]; ok {
		return id, nil
	}
	return 0, types.NewStatusError(types.NFS4ERR_BADOWNER, "cannot map %q", s)
}
