package keva

import (
	"bytes"
	"unsafe"
)

// ZNode is a member of an ordered set. It lives in two indices at once:
// the AVL tree ordered by (score, name) and the hash index keyed by name
// alone. Both linkages are embedded, so neither index allocates a
// separate record per member.
type ZNode struct {
	tnode AVLNode
	hnode HNode
	score float64
	name  []byte
}

func newZNode(name []byte, score float64) *ZNode {
	node := &ZNode{
		score: score,
		name:  append([]byte(nil), name...),
	}
	node.tnode.init()
	node.hnode.hcode = StrHash(node.name)
	return node
}

// znodeOfTree recovers the enclosing ZNode from its embedded tree
// linkage. The conversion relies on the field offsets staying fixed, the
// usual contract of intrusive containers.
func znodeOfTree(n *AVLNode) *ZNode {
	return (*ZNode)(unsafe.Pointer(uintptr(unsafe.Pointer(n)) - unsafe.Offsetof(ZNode{}.tnode)))
}

func znodeOfHash(n *HNode) *ZNode {
	return (*ZNode)(unsafe.Pointer(uintptr(unsafe.Pointer(n)) - unsafe.Offsetof(ZNode{}.hnode)))
}

// zless orders members by score first, then lexicographically by name.
func zless(node *ZNode, score float64, name []byte) bool {
	if node.score != score {
		return node.score < score
	}
	return bytes.Compare(node.name, name) < 0
}

// ZSet is an ordered set: an order-statistic AVL tree for ranked and
// ranged queries paired with a hash index for point lookups by name. The
// two structures always hold exactly the same members.
type ZSet struct {
	root  *AVLNode
	index HMap
}

// Len returns the number of members.
func (z *ZSet) Len() int {
	return z.index.Size()
}

// Lookup returns the member named 'name', or nil.
func (z *ZSet) Lookup(name []byte) *ZNode {
	found := z.index.Lookup(StrHash(name), func(n *HNode) bool {
		return bytes.Equal(znodeOfHash(n).name, name)
	})
	if found == nil {
		return nil
	}
	return znodeOfHash(found)
}

// Insert adds the member (name, score), or updates the score of an
// existing member. Returns true when a new member was added.
func (z *ZSet) Insert(name []byte, score float64) bool {
	if node := z.Lookup(name); node != nil {
		z.updateScore(node, score)
		return false
	}
	node := newZNode(name, score)
	z.index.Insert(&node.hnode)
	z.treeInsert(node)
	return true
}

// Delete removes 'node' from both indices.
func (z *ZSet) Delete(node *ZNode) {
	z.index.Delete(node.hnode.hcode, func(n *HNode) bool {
		return znodeOfHash(n) == node
	})
	z.root = avlDel(&node.tnode)
}

// SeekGE returns the smallest member whose (score, name) is greater than
// or equal to the probe, or nil. The walk keeps the most recent
// left-turn candidate.
func (z *ZSet) SeekGE(score float64, name []byte) *ZNode {
	var found *AVLNode
	for node := z.root; node != nil; {
		if zless(znodeOfTree(node), score, name) {
			node = node.right
		} else {
			found = node
			node = node.left
		}
	}
	if found == nil {
		return nil
	}
	return znodeOfTree(found)
}

// Offset returns the member 'offset' positions away from 'node' in
// (score, name) order, or nil when out of range.
func (z *ZSet) Offset(node *ZNode, offset int64) *ZNode {
	if node == nil {
		return nil
	}
	found := avlOffset(&node.tnode, offset)
	if found == nil {
		return nil
	}
	return znodeOfTree(found)
}

// Rank returns the 0-based position of 'node' in (score, name) order.
func (z *ZSet) Rank(node *ZNode) int64 {
	return avlRank(&node.tnode)
}

// treeInsert links an initialized node into the tree and rebalances.
func (z *ZSet) treeInsert(node *ZNode) {
	var parent *AVLNode
	from := &z.root
	for *from != nil {
		parent = *from
		if zless(node, znodeOfTree(parent).score, znodeOfTree(parent).name) {
			from = &parent.left
		} else {
			from = &parent.right
		}
	}
	*from = &node.tnode
	node.tnode.parent = parent
	z.root = avlFix(&node.tnode)
}

// updateScore detaches the node from the tree, swaps the score and
// reinserts it at its new (score, name) position. The hash index is
// untouched, names do not change.
func (z *ZSet) updateScore(node *ZNode, score float64) {
	if node.score == score {
		return
	}
	z.root = avlDel(&node.tnode)
	node.tnode.init()
	node.score = score
	z.treeInsert(node)
}
