package idmap

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// StaticUser is one user known to a StaticResolver.
type StaticUser struct {
	Name string   `mapstructure:"name" yaml:"name" validate:"required"`
	UID  uint32   `mapstructure:"uid" yaml:"uid"`
	GID  uint32   `mapstructure:"gid" yaml:"gid"`
	GIDs []uint32 `mapstructure:"gids" yaml:"gids,omitempty"`
}

// StaticGroup is one group known to a StaticResolver.
type StaticGroup struct {
	Name string `mapstructure:"name" yaml:"name" validate:"required"`
	GID  uint32 `mapstructure:"gid" yaml:"gid"`
}

// StaticResolver answers upcalls from fixed user and group lists, typically
// taken from the configuration file. It suits small deployments and tests;
// larger ones use the resolver daemon.
type StaticResolver struct {
	mu          sync.RWMutex
	userByID    map[uint32]StaticUser
	userByName  map[string]StaticUser
	groupByID   map[uint32]StaticGroup
	groupByName map[string]StaticGroup
}

// NewStaticResolver builds a resolver from users and groups. Configured
// names may carry a domain, which is dropped; requests are matched against
// the bare name exactly. Later entries win over earlier ones with the same
// id or name.
func NewStaticResolver(users []StaticUser, groups []StaticGroup) *StaticResolver {
	r := &StaticResolver{}
	r.Replace(users, groups)
	return r
}

// Replace swaps the lists atomically.
func (r *StaticResolver) Replace(users []StaticUser, groups []StaticGroup) {
	ub := make(map[uint32]StaticUser, len(users))
	un := make(map[string]StaticUser, len(users))
	for _, u := range users {
		name, _ := ParsePrincipal(u.Name)
		u.Name = name
		ub[u.UID] = u
		un[name] = u
	}
	gb := make(map[uint32]StaticGroup, len(groups))
	gn := make(map[string]StaticGroup, len(groups))
	for _, g := range groups {
		name, _ := ParsePrincipal(g.Name)
		g.Name = name
		gb[g.GID] = g
		gn[name] = g
	}

	r.mu.Lock()
	r.userByID, r.userByName, r.groupByID, r.groupByName = ub, un, gb, gn
	r.mu.Unlock()
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, req Request) (Response, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch req.Kind {
	case UpcallUIDToName:
		if u, ok := r.userByID[req.ID]; ok {
			return userResponse(u), nil
		}
	case UpcallNameToUID:
		if u, ok := r.userByName[req.Name]; ok {
			return userResponse(u), nil
		}
	case UpcallGIDToName:
		if g, ok := r.groupByID[req.ID]; ok {
			return Response{ID: g.GID, Name: g.Name}, nil
		}
	case UpcallNameToGID:
		if g, ok := r.groupByName[req.Name]; ok {
			return Response{ID: g.GID, Name: g.Name}, nil
		}
	}
	return Response{}, ErrNotFound
}

func userResponse(u StaticUser) Response {
	gids := make([]uint32, 0, len(u.GIDs)+1)
	gids = append(gids, u.GID)
	gids = append(gids, u.GIDs...)
	return Response{ID: u.UID, Name: u.Name, GIDs: gids}
}

// Chain tries each resolver in order and returns the first answer. A
// resolver reporting ErrNotFound passes to the next; any other error is
// remembered and returned if no later resolver answers.
func Chain(resolvers ...Resolver) Resolver {
	return ResolverFunc(func(ctx context.Context, req Request) (Response, error) {
		var firstErr error
		for _, r := range resolvers {
			resp, err := r.Resolve(ctx, req)
			if err == nil {
				return resp, nil
			}
			if !errors.Is(err, ErrNotFound) && firstErr == nil {
				firstErr = err
			}
		}
		if firstErr != nil {
			return Response{}, firstErr
		}
		return Response{}, ErrNotFound
	})
}

// ParsePrincipal splits "name@domain" on the last '@'. A trailing '@' and
// the special ACL principals (OWNER@, GROUP@, EVERYONE@) are returned whole.
func ParsePrincipal(principal string) (name, domain string) {
	idx := strings.LastIndexByte(principal, '@')
	if idx < 0 || idx == len(principal)-1 {
		return principal, ""
	}
	return principal[:idx], principal[idx+1:]
}
