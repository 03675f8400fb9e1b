package keva

import (
	"bytes"
	"unsafe"
)

// Entry kinds held by the primary key space.
const (
	entryStr uint8 = iota
	entryZSet
)

// Entry is the unit of storage in the primary key space. An entry holds
// either an opaque byte-string value or an ordered set; the key is
// unique within the store and the cached hash code never changes.
type Entry struct {
	node HNode
	key  []byte
	typ  uint8
	val  []byte
	set  *ZSet
}

func newEntry(key []byte) *Entry {
	e := &Entry{key: append([]byte(nil), key...)}
	e.node.hcode = StrHash(e.key)
	return e
}

func entryOf(n *HNode) *Entry {
	return (*Entry)(unsafe.Pointer(uintptr(unsafe.Pointer(n)) - unsafe.Offsetof(Entry{}.node)))
}

// Store is the process-global key space. It is accessed only from the
// event-loop goroutine, so no locking is involved; see Server.
type Store struct {
	db HMap
}

// NewStore returns an empty key space.
func NewStore() *Store {
	return &Store{}
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	return s.db.Size()
}

func (s *Store) keyEq(key []byte) func(*HNode) bool {
	return func(n *HNode) bool {
		return bytes.Equal(entryOf(n).key, key)
	}
}

// Lookup returns the entry for 'key', or nil.
func (s *Store) Lookup(key []byte) *Entry {
	found := s.db.Lookup(StrHash(key), s.keyEq(key))
	if found == nil {
		return nil
	}
	return entryOf(found)
}

// SetString upserts a byte-string value under 'key'. An existing entry
// has its value swapped in place; an entry of another kind is demoted to
// a plain string, releasing the old ordered set.
func (s *Store) SetString(key, val []byte) {
	if e := s.Lookup(key); e != nil {
		e.typ = entryStr
		e.set = nil
		e.val = append(e.val[:0], val...)
		return
	}
	e := newEntry(key)
	e.val = append([]byte(nil), val...)
	s.db.Insert(&e.node)
}

// GetOrCreateZSet returns the ordered set stored under 'key', creating
// an empty one when the key is absent. Returns nil when the key holds a
// value of another kind.
func (s *Store) GetOrCreateZSet(key []byte) *ZSet {
	e := s.Lookup(key)
	if e == nil {
		e = newEntry(key)
		e.typ = entryZSet
		e.set = &ZSet{}
		s.db.Insert(&e.node)
		return e.set
	}
	if e.typ != entryZSet {
		return nil
	}
	return e.set
}

// Delete removes the entry for 'key', reporting whether it was present.
// A removed entry is detached from every index before it is released.
func (s *Store) Delete(key []byte) bool {
	return s.db.Delete(StrHash(key), s.keyEq(key)) != nil
}

// Keys returns a snapshot of all stored keys, newer table first. The
// store is only mutated from the loop goroutine, so the snapshot is
// consistent.
func (s *Store) Keys() [][]byte {
	keys := make([][]byte, 0, s.db.Size())
	s.db.ForEach(func(n *HNode) bool {
		keys = append(keys, entryOf(n).key)
		return true
	})
	return keys
}
