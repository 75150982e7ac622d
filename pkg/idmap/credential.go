package idmap

import "sync/atomic"

// Credential is the group membership of a user as reported by the resolver.
// A cached user entry owns one reference; callers of CredentialFor receive
// their own and must Release it. The fields are never modified after
// creation, so holders may read them without locking.
type Credential struct {
	UID    uint32
	GID    uint32
	Groups []uint32

	refs atomic.Int32
}

func newCredential(uid, gid uint32, groups []uint32) *Credential {
	c := &Credential{UID: uid, GID: gid}
	if len(groups) > 0 {
		c.Groups = append([]uint32(nil), groups...)
	}
	c.refs.Store(1)
	return c
}

// Hold adds a reference and returns c.
func (c *Credential) Hold() *Credential {
	c.refs.Add(1)
	return c
}

// Release drops a reference.
func (c *Credential) Release() {
	if c.refs.Add(-1) < 0 {
		panic("idmap: credential released too many times")
	}
}

// Refs returns the current reference count.
func (c *Credential) Refs() int {
	return int(c.refs.Load())
}
