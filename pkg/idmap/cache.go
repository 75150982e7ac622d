package idmap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/marmos91/nfscore/internal/logger"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/attrs"
	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/types"
	"github.com/marmos91/nfscore/internal/reflock"
	"github.com/marmos91/nfscore/internal/telemetry"
)

// trimInterval is the minimum time between two trim sweeps.
const trimInterval = time.Second

// errNoResolver is returned by upcall when the cache has no resolver.
var errNoResolver = errors.New("idmap: no resolver configured")

// cacheState is everything Reload replaces at once.
type cacheState struct {
	cfg    Config
	users  *table
	groups *table
	sem    *semaphore.Weighted
}

func newCacheState(cfg Config) *cacheState {
	return &cacheState{
		cfg:    cfg,
		users:  newTable(KindUser, cfg.Buckets),
		groups: newTable(KindGroup, cfg.Buckets),
		sem:    semaphore.NewWeighted(int64(cfg.MaxUpcalls)),
	}
}

func (s *cacheState) table(k Kind) *table {
	if k == KindGroup {
		return s.groups
	}
	return s.users
}

// defaults returns the well-known id and name of kind.
func (s *cacheState) defaults(k Kind) (uint32, string) {
	if k == KindGroup {
		return s.cfg.DefaultGID, s.cfg.DefaultGroup
	}
	return s.cfg.DefaultUID, s.cfg.DefaultUser
}

// qualify appends "@Domain" to a bare name.
func (s *cacheState) qualify(name string) string {
	if s.cfg.Domain == "" || strings.IndexByte(name, '@') >= 0 {
		return name
	}
	return name + "@" + s.cfg.Domain
}

// strip removes a trailing "@Domain", compared without regard to case.
// Names qualified with another domain are kept whole.
func (s *cacheState) strip(name string) string {
	i := strings.LastIndexByte(name, '@')
	if i < 0 || s.cfg.Domain == "" {
		return name
	}
	if strings.EqualFold(name[i+1:], s.cfg.Domain) {
		return name[:i]
	}
	return name
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Users          int64  `json:"users"`
	Groups         int64  `json:"groups"`
	Hits           uint64 `json:"hits"`
	Misses         uint64 `json:"misses"`
	Upcalls        uint64 `json:"upcalls"`
	UpcallFailures uint64 `json:"upcall_failures"`
	Expired        uint64 `json:"expired"`
	Evicted        uint64 `json:"evicted"`
	Reloads        uint64 `json:"reloads"`
}

// Cache is the identity mapping cache. It implements attrs.IdentityMapper.
//
// Every operation holds a shared reference on a reflock.Lock for its
// duration, including any upcall; Reload takes the lock exclusively to swap
// configuration and tables.
type Cache struct {
	lock     *reflock.Lock
	st       atomic.Pointer[cacheState]
	resolver Resolver
	metrics  *Metrics
	flight   singleflight.Group
	now      func() time.Time

	lastTrim atomic.Int64
	trimming atomic.Bool

	hits, misses    atomic.Uint64
	upcalls, failed atomic.Uint64
	expired         atomic.Uint64
	evicted         atomic.Uint64
	reloads         atomic.Uint64
}

var _ attrs.IdentityMapper = (*Cache)(nil)

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithClock replaces time.Now for expiry and trim decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a cache that resolves misses through r. A nil r disables
// upcalls: only the defaults, numeric strings and entries added with Add
// resolve.
func New(cfg Config, r Resolver, opts ...Option) (*Cache, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Cache{
		lock:     reflock.New(),
		resolver: r,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.st.Store(newCacheState(cfg))
	c.lastTrim.Store(c.now().UnixNano())
	return c, nil
}

// enter takes a shared reference and returns the current state.
func (c *Cache) enter(ctx context.Context) (*cacheState, error) {
	if err := c.lock.AcquireShared(ctx); err != nil {
		return nil, err
	}
	return c.st.Load(), nil
}

func (c *Cache) leave() {
	c.lock.ReleaseShared()
}

// Config returns the active configuration.
func (c *Cache) Config() Config {
	return c.st.Load().cfg
}

// DefaultUID implements attrs.IdentityMapper.
func (c *Cache) DefaultUID() uint32 { return c.st.Load().cfg.DefaultUID }

// DefaultGID implements attrs.IdentityMapper.
func (c *Cache) DefaultGID() uint32 { return c.st.Load().cfg.DefaultGID }

// UIDToString implements attrs.IdentityMapper. Unknown uids are rendered
// in decimal.
func (c *Cache) UIDToString(ctx context.Context, uid uint32) string {
	return c.idToString(ctx, KindUser, uid)
}

// GIDToString implements attrs.IdentityMapper.
func (c *Cache) GIDToString(ctx context.Context, gid uint32) string {
	return c.idToString(ctx, KindGroup, gid)
}

// StringToUID implements attrs.IdentityMapper. The error matches
// types.ErrBadOwner when s cannot be mapped and types.ErrInval when it is
// empty or not UTF-8.
func (c *Cache) StringToUID(ctx context.Context, s string) (uint32, error) {
	return c.stringToID(ctx, KindUser, s)
}

// StringToGID implements attrs.IdentityMapper.
func (c *Cache) StringToGID(ctx context.Context, s string) (uint32, error) {
	return c.stringToID(ctx, KindGroup, s)
}

func (c *Cache) idToString(ctx context.Context, kind Kind, id uint32) string {
	decimal := strconv.FormatUint(uint64(id), 10)

	st, err := c.enter(ctx)
	if err != nil {
		return decimal
	}
	defer c.leave()

	if def, name := st.defaults(kind); id == def {
		c.metrics.recordLookup(kind, "default")
		return st.qualify(name)
	}

	now := c.now()
	defer c.maybeTrim(st, now)

	if name, _, ok := st.table(kind).nameOf(id, now, false); ok {
		c.hit(kind)
		return st.qualify(name)
	}
	c.miss(kind)

	uk := UpcallUIDToName
	if kind == KindGroup {
		uk = UpcallGIDToName
	}
	resp, err := c.upcall(ctx, st, Request{Kind: uk, ID: id})
	if err != nil {
		return decimal
	}
	return st.qualify(resp.Name)
}

func (c *Cache) stringToID(ctx context.Context, kind Kind, s string) (uint32, error) {
	if s == "" || !utf8.ValidString(s) {
		return 0, types.NewStatusError(types.NFS4ERR_INVAL, "invalid owner string")
	}

	st, err := c.enter(ctx)
	if err != nil {
		return 0, types.NewStatusError(types.NFS4ERR_BADOWNER, "%q: %v", s, err)
	}
	defer c.leave()

	if st.cfg.AllowNumericStrings && !lookupFlags(ctx).Kerberos && isDigits(s) {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, types.NewStatusError(types.NFS4ERR_BADOWNER, "%q out of range", s)
		}
		c.metrics.recordLookup(kind, "numeric")
		return uint32(n), nil
	}

	name := st.strip(s)
	if def, defName := st.defaults(kind); name == defName {
		c.metrics.recordLookup(kind, "default")
		return def, nil
	}

	now := c.now()
	defer c.maybeTrim(st, now)

	if id, ok := st.table(kind).idOf(name, now); ok {
		c.hit(kind)
		return id, nil
	}
	c.miss(kind)

	uk := UpcallNameToUID
	if kind == KindGroup {
		uk = UpcallNameToGID
	}
	resp, err := c.upcall(ctx, st, Request{Kind: uk, Name: name})
	if err != nil {
		return 0, types.NewStatusError(types.NFS4ERR_BADOWNER, "cannot map %q", s)
	}
	return resp.ID, nil
}

// CredentialFor returns the held credential of uid. Users the resolver does
// not know get the default user's credential. The caller must Release the
// result.
func (c *Cache) CredentialFor(ctx context.Context, uid uint32) *Credential {
	st, err := c.enter(ctx)
	if err != nil {
		cfg := c.Config()
		return newCredential(cfg.DefaultUID, cfg.DefaultGID, nil)
	}
	defer c.leave()

	if uid == st.cfg.DefaultUID {
		return newCredential(uid, st.cfg.DefaultGID, nil)
	}

	now := c.now()
	defer c.maybeTrim(st, now)

	if _, cred, ok := st.users.nameOf(uid, now, true); ok && cred != nil {
		c.hit(KindUser)
		return cred
	}
	c.miss(KindUser)

	if _, err := c.upcall(ctx, st, Request{Kind: UpcallUIDToName, ID: uid}); err == nil {
		if _, cred, ok := st.users.nameOf(uid, now, true); ok && cred != nil {
			return cred
		}
	}
	return newCredential(st.cfg.DefaultUID, st.cfg.DefaultGID, nil)
}

func (c *Cache) hit(kind Kind) {
	c.hits.Add(1)
	c.metrics.recordLookup(kind, "hit")
}

func (c *Cache) miss(kind Kind) {
	c.misses.Add(1)
	c.metrics.recordLookup(kind, "miss")
}

// upcall asks the resolver and caches the answer. Concurrent misses on the
// same key share one call. A failed call is retried once unless the
// resolver reported ErrNotFound or ctx is done.
func (c *Cache) upcall(ctx context.Context, st *cacheState, req Request) (Response, error) {
	if c.resolver == nil {
		return Response{}, errNoResolver
	}
	v, err, _ := c.flight.Do(req.key(), func() (any, error) {
		var (
			resp Response
			err  error
		)
		for attempt := 0; attempt < 2; attempt++ {
			resp, err = c.resolveOnce(ctx, st, req)
			if err == nil || errors.Is(err, ErrNotFound) || ctx.Err() != nil {
				break
			}
		}
		if err != nil {
			return Response{}, err
		}
		return c.store(st, req, resp)
	})
	if err != nil {
		return Response{}, err
	}
	return v.(Response), nil
}

func (c *Cache) resolveOnce(ctx context.Context, st *cacheState, req Request) (Response, error) {
	if err := st.sem.Acquire(ctx, 1); err != nil {
		return Response{}, err
	}
	defer st.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, st.cfg.UpcallTimeout)
	defer cancel()

	ctx, span := telemetry.StartUpcallSpan(ctx, req.Kind.String(), upcallAttrs(req)...)
	defer span.End()

	c.upcalls.Add(1)
	c.metrics.upcallStarted()
	start := time.Now()
	resp, err := c.resolver.Resolve(ctx, req)

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	default:
		result = "error"
		c.failed.Add(1)
		span.RecordError(err)
		logger.DebugCtx(ctx, "Identity upcall failed",
			logger.KeyUpcallKind, req.Kind.String(), logger.KeyName, req.Name, logger.KeyUID, req.ID, logger.Err(err))
	}
	c.metrics.upcallDone(req.Kind, result, time.Since(start))
	return resp, err
}

// store validates resp against req and inserts the mapping.
func (c *Cache) store(st *cacheState, req Request, resp Response) (Response, error) {
	if req.Kind.ByName() {
		if resp.Name == "" {
			resp.Name = req.Name
		}
	} else {
		resp.ID = req.ID
	}
	resp.Name = st.strip(resp.Name)
	if resp.Name == "" {
		return Response{}, fmt.Errorf("%w: empty name for %s", ErrNotFound, req.key())
	}
	c.insert(st, req.Kind.Kind(), resp)
	return resp, nil
}

func (c *Cache) insert(st *cacheState, kind Kind, resp Response) {
	ttl := resp.TTL
	if ttl <= 0 {
		ttl = st.cfg.TTL
	}
	e := &entry{
		kind:    kind,
		id:      resp.ID,
		name:    resp.Name,
		expires: c.now().Add(ttl),
	}
	if kind == KindUser {
		gid, groups := st.cfg.DefaultGID, resp.GIDs
		if len(groups) > 0 {
			gid, groups = groups[0], groups[1:]
		}
		e.cred = newCredential(resp.ID, gid, groups)
	}
	t := st.table(kind)
	replaced := t.insert(e)
	c.metrics.recordEvictions("replaced", replaced)
	c.metrics.setEntries(kind, t.count.Load())
}

// maybeTrim runs a sweep if none has run in the last trimInterval. Only
// one goroutine sweeps at a time; the others return immediately.
func (c *Cache) maybeTrim(st *cacheState, now time.Time) {
	last := c.lastTrim.Load()
	if now.UnixNano()-last < int64(trimInterval) {
		return
	}
	if !c.lastTrim.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	if !c.trimming.CompareAndSwap(false, true) {
		return
	}
	defer c.trimming.Store(false)
	c.trim(st, now)
}

func (c *Cache) trim(st *cacheState, now time.Time) {
	var expired, evicted int
	for _, t := range []*table{st.users, st.groups} {
		e, v := t.trim(now, st.cfg.MaxEntries)
		expired += e
		evicted += v
		c.metrics.setEntries(t.kind, t.count.Load())
	}
	c.expired.Add(uint64(expired))
	c.evicted.Add(uint64(evicted))
	c.metrics.recordEvictions("expired", expired)
	c.metrics.recordEvictions("capacity", evicted)
	if expired+evicted > 0 {
		logger.Debug("Identity cache trimmed",
			logger.KeyEvicted, expired+evicted,
			logger.KeyEntries, st.users.count.Load()+st.groups.count.Load())
	}
}

// Add inserts a mapping directly, replacing any entry with the same id or
// name. A zero ttl selects the configured TTL. gids is only used for users;
// its first element is the primary group.
func (c *Cache) Add(ctx context.Context, kind Kind, id uint32, name string, gids []uint32, ttl time.Duration) error {
	st, err := c.enter(ctx)
	if err != nil {
		return err
	}
	defer c.leave()

	name = st.strip(name)
	if name == "" || !utf8.ValidString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	c.insert(st, kind, Response{ID: id, Name: name, GIDs: gids, TTL: ttl})
	c.maybeTrim(st, c.now())
	return nil
}

// DeleteID removes the entry for id. It reports whether one existed.
func (c *Cache) DeleteID(ctx context.Context, kind Kind, id uint32) (bool, error) {
	st, err := c.enter(ctx)
	if err != nil {
		return false, err
	}
	defer c.leave()

	t := st.table(kind)
	ok := t.removeID(id)
	if ok {
		c.metrics.recordEvictions("admin", 1)
		c.metrics.setEntries(kind, t.count.Load())
	}
	return ok, nil
}

// DeleteName removes the entry for name, which may carry the domain.
func (c *Cache) DeleteName(ctx context.Context, kind Kind, name string) (bool, error) {
	st, err := c.enter(ctx)
	if err != nil {
		return false, err
	}
	defer c.leave()

	t := st.table(kind)
	ok := t.removeName(st.strip(name))
	if ok {
		c.metrics.recordEvictions("admin", 1)
		c.metrics.setEntries(kind, t.count.Load())
	}
	return ok, nil
}

// Reload replaces the configuration and drops every cached entry. It waits
// for in-flight operations, including upcalls, to finish.
func (c *Cache) Reload(ctx context.Context, cfg Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanIdmapReload)
	defer span.End()

	if err := c.lock.AcquireExclusive(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("idmap reload: %w", err)
	}
	c.st.Store(newCacheState(cfg))
	c.lastTrim.Store(c.now().UnixNano())
	c.lock.ReleaseExclusive(false)

	c.reloads.Add(1)
	c.metrics.recordReload()
	c.metrics.setEntries(KindUser, 0)
	c.metrics.setEntries(KindGroup, 0)
	logger.InfoCtx(ctx, "Identity configuration reloaded",
		logger.KeyDomain, cfg.Domain, logger.KeyEntries, cfg.MaxEntries)
	return nil
}

// Flush drops every cached entry and keeps the configuration.
func (c *Cache) Flush(ctx context.Context) error {
	return c.Reload(ctx, c.Config())
}

// Snapshot returns the live entries of kind.
func (c *Cache) Snapshot(ctx context.Context, kind Kind) ([]Mapping, error) {
	st, err := c.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer c.leave()
	return st.table(kind).snapshot(c.now()), nil
}

// Stats returns cache counters.
func (c *Cache) Stats() Stats {
	st := c.st.Load()
	return Stats{
		Users:          st.users.count.Load(),
		Groups:         st.groups.count.Load(),
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Upcalls:        c.upcalls.Load(),
		UpcallFailures: c.failed.Load(),
		Expired:        c.expired.Load(),
		Evicted:        c.evicted.Load(),
		Reloads:        c.reloads.Load(),
	}
}

// Close makes every later operation fall back to defaults. Operations in
// progress finish normally.
func (c *Cache) Close() {
	c.lock.Close()
}

func upcallAttrs(req Request) []attribute.KeyValue {
	if req.Kind.ByName() {
		return []attribute.KeyValue{telemetry.IdentName(req.Name)}
	}
	if req.Kind.Kind() == KindGroup {
		return []attribute.KeyValue{telemetry.GID(req.ID)}
	}
	return []attribute.KeyValue{telemetry.UID(req.ID)}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
