package keva

// This file implements the chained hash table backing the primary key
// space. Growth is paid incrementally: when the load factor is exceeded
// the live table is demoted to a draining role and a fresh table at twice
// the capacity takes over. Every subsequent user-visible operation moves
// a bounded number of entries from the draining table into the live one,
// so no single command observes an O(n) rehash latency spike.

// FNV-1a 64-bit parameters.
const (
	fnvOffsetBasis uint64 = 0xCBF29CE484222325
	fnvPrime       uint64 = 0x100000001B3
)

// StrHash computes the FNV-1a 64-bit hash of 'key'. Hash codes are
// computed once per key and cached on the node for its entire lifetime.
func StrHash(key []byte) uint64 {
	h := fnvOffsetBasis
	for _, b := range key {
		h ^= uint64(b)
		h *= fnvPrime
	}
	return h
}

// HNode is the intrusive hash-chain linkage embedded in every stored
// entity. A node belongs to at most one chain at any moment.
type HNode struct {
	next  *HNode
	hcode uint64
}

// hTab is a fixed-capacity bucket array of chain heads. The capacity is
// always mask+1, a power of two, so the slot index is hcode&mask.
type hTab struct {
	tab  []*HNode
	mask uint64
	size int
}

func newHTab(n int) hTab {
	if n <= 0 || n&(n-1) != 0 {
		panic("hash table capacity must be a positive power of two")
	}
	return hTab{
		tab:  make([]*HNode, n),
		mask: uint64(n - 1),
	}
}

// insert prepends 'node' to its chain.
func (ht *hTab) insert(node *HNode) {
	pos := node.hcode & ht.mask
	node.next = ht.tab[pos]
	ht.tab[pos] = node
	ht.size++
}

// lookup returns the address of the incoming pointer referencing the
// matching node, or nil. Returning the indirect cursor instead of the
// node itself lets detach unlink in O(1) without re-walking the chain.
func (ht *hTab) lookup(hcode uint64, eq func(*HNode) bool) **HNode {
	if ht.tab == nil {
		return nil
	}
	from := &ht.tab[hcode&ht.mask]
	for *from != nil {
		if (*from).hcode == hcode && eq(*from) {
			return from
		}
		from = &(*from).next
	}
	return nil
}

// detach unlinks the node addressed by the indirect cursor 'from' and
// returns it.
func (ht *hTab) detach(from **HNode) *HNode {
	node := *from
	*from = node.next
	node.next = nil
	ht.size--
	return node
}

// foreach visits every chained node. Stops early if fn returns false.
func (ht *hTab) foreach(fn func(*HNode) bool) bool {
	for i := range ht.tab {
		for node := ht.tab[i]; node != nil; node = node.next {
			if !fn(node) {
				return false
			}
		}
	}
	return true
}

const (
	// initial bucket count of a fresh map
	hashInitCap = 4

	// resize trigger: newer.size >= capacity * maxLoadFactor
	maxLoadFactor = 8

	// upper bound on entries migrated per user-visible operation
	rehashWork = 128
)

// HMap is a progressively-rehashing hash map. New inserts always land in
// 'newer'; 'older' holds entries still waiting to be migrated and is
// empty outside of a resize. A key resides in exactly one of the two
// tables, so lookups consult both.
type HMap struct {
	newer      hTab
	older      hTab
	migratePos uint64
}

// Lookup returns the node matching (hcode, eq), or nil.
func (hm *HMap) Lookup(hcode uint64, eq func(*HNode) bool) *HNode {
	hm.helpRehash()
	from := hm.newer.lookup(hcode, eq)
	if from == nil {
		from = hm.older.lookup(hcode, eq)
	}
	if from == nil {
		return nil
	}
	return *from
}

// Insert adds 'node' to the map. Duplicate suppression is the caller's
// responsibility; commands perform a lookup first.
func (hm *HMap) Insert(node *HNode) {
	if hm.newer.tab == nil {
		hm.newer = newHTab(hashInitCap)
	}
	hm.newer.insert(node)

	if hm.older.tab == nil {
		threshold := int(hm.newer.mask+1) * maxLoadFactor
		if hm.newer.size >= threshold {
			hm.triggerRehash()
		}
	}
	hm.helpRehash()
}

// Delete removes and returns the node matching (hcode, eq), or nil.
func (hm *HMap) Delete(hcode uint64, eq func(*HNode) bool) *HNode {
	hm.helpRehash()
	if from := hm.newer.lookup(hcode, eq); from != nil {
		return hm.newer.detach(from)
	}
	if from := hm.older.lookup(hcode, eq); from != nil {
		return hm.older.detach(from)
	}
	return nil
}

// Size returns the number of stored nodes across both tables.
func (hm *HMap) Size() int {
	return hm.newer.size + hm.older.size
}

// ForEach visits every stored node, newer table first. Stops early if fn
// returns false.
func (hm *HMap) ForEach(fn func(*HNode) bool) {
	if hm.newer.foreach(fn) {
		hm.older.foreach(fn)
	}
}

// Clear drops every stored node and resets the map to its initial state.
func (hm *HMap) Clear() {
	*hm = HMap{}
}

// triggerRehash demotes the live table and allocates a fresh one at
// double capacity. Must only be called when no migration is in progress.
func (hm *HMap) triggerRehash() {
	hm.older = hm.newer
	hm.newer = newHTab(int(hm.older.mask+1) * 2)
	hm.migratePos = 0
}

// helpRehash migrates up to rehashWork entries from the draining table,
// slot by slot. Once drained, the old bucket array is released.
func (hm *HMap) helpRehash() {
	nwork := 0
	for nwork < rehashWork && hm.older.size > 0 {
		from := &hm.older.tab[hm.migratePos]
		if *from == nil {
			hm.migratePos++
			continue
		}
		hm.newer.insert(hm.older.detach(from))
		nwork++
	}
	if hm.older.size == 0 && hm.older.tab != nil {
		hm.older = hTab{}
		hm.migratePos = 0
	}
}
