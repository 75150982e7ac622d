// Package idmap translates between numeric uids/gids and the "name@domain"
// strings carried by the NFSv4 owner and owner_group attributes.
//
// Cache keeps four indexes (uid->name, name->uid, gid->name, name->gid) as
// arrays of independently locked buckets. Misses go to an injected Resolver,
// at most once per lookup and with a bound on concurrent upcalls. Entries
// expire after a TTL, and the cache is trimmed at most once per second:
// expired entries first, then the least recently used entry of each bucket
// while the cache is over capacity.
package idmap

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind distinguishes user entries from group entries.
type Kind int

const (
	KindUser Kind = iota
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindGroup:
		return "group"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// UpcallKind is the question asked of the resolver.
type UpcallKind uint32

const (
	UpcallUIDToName UpcallKind = iota + 1
	UpcallGIDToName
	UpcallNameToUID
	UpcallNameToGID
)

func (k UpcallKind) String() string {
	switch k {
	case UpcallUIDToName:
		return "uid_to_name"
	case UpcallGIDToName:
		return "gid_to_name"
	case UpcallNameToUID:
		return "name_to_uid"
	case UpcallNameToGID:
		return "name_to_gid"
	}
	return fmt.Sprintf("upcall(%d)", uint32(k))
}

// Kind returns whether the upcall resolves a user or a group.
func (k UpcallKind) Kind() Kind {
	if k == UpcallGIDToName || k == UpcallNameToGID {
		return KindGroup
	}
	return KindUser
}

// ByName reports whether the upcall is keyed by name.
func (k UpcallKind) ByName() bool {
	return k == UpcallNameToUID || k == UpcallNameToGID
}

// Request is one resolver upcall. ID is set for the *ToName kinds, Name for
// the NameTo* kinds.
type Request struct {
	Kind UpcallKind
	ID   uint32
	Name string
}

func (r Request) key() string {
	if r.Kind.ByName() {
		return r.Kind.String() + ":" + r.Name
	}
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Response is a resolved mapping. GIDs is the supplementary group list of
// a user and may be empty. A zero TTL means the cache default.
type Response struct {
	ID   uint32
	Name string
	GIDs []uint32
	TTL  time.Duration
}

// Resolver answers cache misses. It returns ErrNotFound when the identity
// does not exist; any other error is treated the same way by the cache but
// is logged and counted as a failure.
type Resolver interface {
	Resolve(ctx context.Context, req Request) (Response, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, req Request) (Response, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

var (
	// ErrNotFound is returned by resolvers for unknown identities.
	ErrNotFound = errors.New("idmap: identity not found")

	// ErrInvalidName is returned by Add for an empty name.
	ErrInvalidName = errors.New("idmap: invalid name")
)

// LookupFlags carries per-request properties that change how owner strings
// are interpreted.
type LookupFlags struct {
	// Kerberos is set for RPCSEC_GSS requests. Numeric owner strings are
	// never accepted from them.
	Kerberos bool
}

type flagsKey struct{}

// WithLookupFlags returns a context carrying f for the String* lookups.
func WithLookupFlags(ctx context.Context, f LookupFlags) context.Context {
	return context.WithValue(ctx, flagsKey{}, f)
}

func lookupFlags(ctx context.Context) LookupFlags {
	f, _ := ctx.Value(flagsKey{}).(LookupFlags)
	return f
}
