package keva

import (
	"fmt"
	"math/rand"
	"testing"
)

// checkZSetInvariants verifies that the tree and the hash index hold
// exactly the same members.
func checkZSetInvariants(t *testing.T, z *ZSet) {
	t.Helper()
	nodes := inorder(z.root, nil)
	if len(nodes) != z.index.Size() {
		t.Log("tree holds", len(nodes), "members, index holds", z.index.Size())
		t.FailNow()
	}
	for _, n := range nodes {
		member := znodeOfTree(n)
		if z.Lookup(member.name) != member {
			t.Logf("member %q in tree but not reachable via index", member.name)
			t.FailNow()
		}
	}
	verifySubtree(t, nil, z.root)
}

func TestZSetInsertLookup(t *testing.T) {
	z := &ZSet{}
	n := 1000
	for i := 0; i < n; i++ {
		added := z.Insert([]byte(fmt.Sprintf("member-%d", i)), float64(i)/8)
		if !added {
			t.Log("fresh member", i, "reported as update")
			t.FailNow()
		}
	}
	if z.Len() != n {
		t.Log("set holds", z.Len(), "members, expected", n)
		t.FailNow()
	}

	for i := 0; i < n; i++ {
		node := z.Lookup([]byte(fmt.Sprintf("member-%d", i)))
		if node == nil {
			t.Log("missing member", i)
			t.FailNow()
		}
		if node.score != float64(i)/8 {
			t.Log("member", i, "has score", node.score)
			t.FailNow()
		}
	}
	if z.Lookup([]byte("no-such-member")) != nil {
		t.Log("lookup of absent member returned a node")
		t.FailNow()
	}
	checkZSetInvariants(t, z)
}

func TestZSetUpdateScoreReorders(t *testing.T) {
	z := &ZSet{}
	z.Insert([]byte("a"), 1)
	z.Insert([]byte("b"), 2)
	z.Insert([]byte("c"), 3)

	if z.Insert([]byte("a"), 10) {
		t.Log("score update reported as a fresh member")
		t.FailNow()
	}
	if z.Len() != 3 {
		t.Log("set holds", z.Len(), "members, expected 3")
		t.FailNow()
	}

	// "a" must now order last
	last := znodeOfTree(avlOffset(z.root, int64(avlCount(z.root))-1-avlRank(z.root)))
	if string(last.name) != "a" || last.score != 10 {
		t.Logf("highest member is (%q, %v), expected (a, 10)", last.name, last.score)
		t.FailNow()
	}
	checkZSetInvariants(t, z)
}

func TestZSetDelete(t *testing.T) {
	z := &ZSet{}
	n := 200
	for i := 0; i < n; i++ {
		z.Insert([]byte(fmt.Sprintf("member-%d", i)), float64(i%17))
	}

	for i := 0; i < n; i += 2 {
		name := []byte(fmt.Sprintf("member-%d", i))
		node := z.Lookup(name)
		if node == nil {
			t.Log("missing member", i)
			t.FailNow()
		}
		z.Delete(node)
		if z.Lookup(name) != nil {
			t.Log("deleted member", i, "still reachable")
			t.FailNow()
		}
		checkZSetInvariants(t, z)
	}
	if z.Len() != n/2 {
		t.Log("set holds", z.Len(), "members, expected", n/2)
		t.FailNow()
	}
}

func TestZSetSeekGE(t *testing.T) {
	z := &ZSet{}
	z.Insert([]byte("a"), 1)
	z.Insert([]byte("b"), 2)
	z.Insert([]byte("d"), 2)
	z.Insert([]byte("e"), 4)

	cases := []struct {
		score float64
		name  string
		want  string
	}{
		{0, "", "a"},    // below every member
		{1, "a", "a"},   // exact probe
		{2, "c", "d"},   // name breaks the tie
		{2, "z", "e"},   // past every score-2 member
		{3, "", "e"},    // between scores
		{4, "e", "e"},   // last member, exact
		{4, "f", ""},    // above every member
	}
	for _, c := range cases {
		got := z.SeekGE(c.score, []byte(c.name))
		if c.want == "" {
			if got != nil {
				t.Logf("seek (%v, %q) found %q, expected none", c.score, c.name, got.name)
				t.FailNow()
			}
			continue
		}
		if got == nil || string(got.name) != c.want {
			t.Logf("seek (%v, %q) missed %q", c.score, c.name, c.want)
			t.FailNow()
		}
	}
}

func TestZSetRankOffset(t *testing.T) {
	z := &ZSet{}
	n := 100
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = fmt.Sprintf("m-%03d", i)
	}
	perm := rand.Perm(n)
	for _, i := range perm {
		// single score, so the order is purely lexicographic on names
		z.Insert([]byte(names[i]), 7)
	}

	for i, name := range names {
		node := z.Lookup([]byte(name))
		if got := z.Rank(node); got != int64(i) {
			t.Logf("rank of %q is %d, expected %d", name, got, i)
			t.FailNow()
		}
	}

	first := z.SeekGE(7, []byte(""))
	for i := 0; i < n; i++ {
		node := z.Offset(first, int64(i))
		if node == nil || string(node.name) != names[i] {
			t.Log("offset", i, "from the first member missed", names[i])
			t.FailNow()
		}
	}
	if z.Offset(first, int64(n)) != nil {
		t.Log("offset past the last member returned a node")
		t.FailNow()
	}
	if z.Offset(nil, 1) != nil {
		t.Log("offset from a nil node returned a node")
		t.FailNow()
	}
}
