package idmap

import (
	"container/list"
	"encoding/binary"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// entry is one id<->name mapping. It is linked into exactly one id bucket
// and one name bucket of its table and is unlinked from both together.
// id and name never change after insertion.
type entry struct {
	kind    Kind
	id      uint32
	name    string
	cred    *Credential // users only
	expires time.Time

	idElem   *list.Element
	nameElem *list.Element
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expires)
}

// bucket is a mutex-guarded list kept in least recently used order: hits
// move to the back, capacity eviction takes from the front.
type bucket struct {
	mu sync.Mutex
	l  list.List
}

// table holds the two indexes of one Kind.
//
// Lock order: every path that touches both indexes takes all name buckets
// (ascending) before any id bucket, and a path that needs two id buckets
// takes them in ascending order while holding all name buckets. Lookups
// lock a single bucket.
type table struct {
	kind   Kind
	byID   []bucket
	byName []bucket
	count  atomic.Int64
}

func newTable(kind Kind, n int) *table {
	return &table{
		kind:   kind,
		byID:   make([]bucket, n),
		byName: make([]bucket, n),
	}
}

func (t *table) idIndex(id uint32) int {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return int(xxhash.Sum64(b[:]) % uint64(len(t.byID)))
}

func (t *table) nameIndex(name string) int {
	return int(xxhash.Sum64String(name) % uint64(len(t.byName)))
}

// nameOf returns the name cached for id. With hold set, the entry's
// credential is returned with an extra reference.
func (t *table) nameOf(id uint32, now time.Time, hold bool) (string, *Credential, bool) {
	b := &t.byID[t.idIndex(id)]
	b.mu.Lock()
	defer b.mu.Unlock()
	for el := b.l.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.id != id {
			continue
		}
		if e.expired(now) {
			return "", nil, false
		}
		b.l.MoveToBack(el)
		var cred *Credential
		if hold && e.cred != nil {
			cred = e.cred.Hold()
		}
		return e.name, cred, true
	}
	return "", nil, false
}

// idOf returns the id cached for name. A hit is moved to the back of both
// of its buckets, since eviction works on the id buckets.
func (t *table) idOf(name string, now time.Time) (uint32, bool) {
	b := &t.byName[t.nameIndex(name)]
	b.mu.Lock()
	defer b.mu.Unlock()
	for el := b.l.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.name != name {
			continue
		}
		if e.expired(now) {
			return 0, false
		}
		b.l.MoveToBack(el)
		ib := &t.byID[t.idIndex(e.id)]
		ib.mu.Lock()
		ib.l.MoveToBack(e.idElem)
		ib.mu.Unlock()
		return e.id, true
	}
	return 0, false
}

func (t *table) lockNames() {
	for i := range t.byName {
		t.byName[i].mu.Lock()
	}
}

func (t *table) unlockNames() {
	for i := len(t.byName) - 1; i >= 0; i-- {
		t.byName[i].mu.Unlock()
	}
}

// unlink removes e from both indexes. Its name bucket and id bucket must be
// locked.
func (t *table) unlink(e *entry) {
	t.byID[t.idIndex(e.id)].l.Remove(e.idElem)
	t.byName[t.nameIndex(e.name)].l.Remove(e.nameElem)
	e.idElem, e.nameElem = nil, nil
	if e.cred != nil {
		e.cred.Release()
	}
	t.count.Add(-1)
}

// insert links ne, first removing any entry with the same id or the same
// name so both indexes stay consistent. It returns the number of entries
// replaced.
func (t *table) insert(ne *entry) int {
	t.lockNames()
	defer t.unlockNames()

	ni := t.nameIndex(ne.name)
	ii := t.idIndex(ne.id)

	var victims []*entry
	for el := t.byName[ni].l.Front(); el != nil; el = el.Next() {
		if e := el.Value.(*entry); e.name == ne.name {
			victims = append(victims, e)
		}
	}

	locked := []int{ii}
	for _, v := range victims {
		if j := t.idIndex(v.id); !slices.Contains(locked, j) {
			locked = append(locked, j)
		}
	}
	slices.Sort(locked)
	for _, j := range locked {
		t.byID[j].mu.Lock()
	}
	defer func() {
		for _, j := range locked {
			t.byID[j].mu.Unlock()
		}
	}()

	for el := t.byID[ii].l.Front(); el != nil; el = el.Next() {
		if e := el.Value.(*entry); e.id == ne.id && !slices.Contains(victims, e) {
			victims = append(victims, e)
		}
	}
	for _, v := range victims {
		t.unlink(v)
	}

	ne.idElem = t.byID[ii].l.PushBack(ne)
	ne.nameElem = t.byName[ni].l.PushBack(ne)
	t.count.Add(1)
	return len(victims)
}

// removeID unlinks the entry for id, if any.
func (t *table) removeID(id uint32) bool {
	t.lockNames()
	defer t.unlockNames()
	b := &t.byID[t.idIndex(id)]
	b.mu.Lock()
	defer b.mu.Unlock()
	for el := b.l.Front(); el != nil; el = el.Next() {
		if e := el.Value.(*entry); e.id == id {
			t.unlink(e)
			return true
		}
	}
	return false
}

// removeName unlinks the entry for name, if any.
func (t *table) removeName(name string) bool {
	t.lockNames()
	defer t.unlockNames()
	for el := t.byName[t.nameIndex(name)].l.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if e.name != name {
			continue
		}
		b := &t.byID[t.idIndex(e.id)]
		b.mu.Lock()
		t.unlink(e)
		b.mu.Unlock()
		return true
	}
	return false
}

// trim removes expired entries, then makes one pass over the id buckets
// taking the least recently used entry of each until no more than limit
// remain. An oversized table shrinks over successive sweeps.
func (t *table) trim(now time.Time, limit int) (expired, evicted int) {
	t.lockNames()
	defer t.unlockNames()

	for i := range t.byID {
		b := &t.byID[i]
		b.mu.Lock()
		for el := b.l.Front(); el != nil; {
			next := el.Next()
			if e := el.Value.(*entry); e.expired(now) {
				t.unlink(e)
				expired++
			}
			el = next
		}
		b.mu.Unlock()
	}

	for i := range t.byID {
		if t.count.Load() <= int64(limit) {
			break
		}
		b := &t.byID[i]
		b.mu.Lock()
		if el := b.l.Front(); el != nil {
			t.unlink(el.Value.(*entry))
			evicted++
		}
		b.mu.Unlock()
	}
	return expired, evicted
}

// Mapping is an exported view of a cached entry.
type Mapping struct {
	Kind    Kind      `json:"kind"`
	ID      uint32    `json:"id"`
	Name    string    `json:"name"`
	Groups  []uint32  `json:"groups,omitempty"`
	Expires time.Time `json:"expires"`
}

// snapshot copies every live entry, bucket by bucket.
func (t *table) snapshot(now time.Time) []Mapping {
	var out []Mapping
	for i := range t.byID {
		b := &t.byID[i]
		b.mu.Lock()
		for el := b.l.Front(); el != nil; el = el.Next() {
			e := el.Value.(*entry)
			if e.expired(now) {
				continue
			}
			m := Mapping{Kind: e.kind, ID: e.id, Name: e.name, Expires: e.expires}
			if e.cred != nil {
				m.Groups = append([]uint32{e.cred.GID}, e.cred.Groups...)
			}
			out = append(out, m)
		}
		b.mu.Unlock()
	}
	return out
}
