package keva

import "strconv"

// Command dispatcher. Takes the parsed argument strings of one request
// and appends exactly one TLV value to the response buffer. Errors never
// propagate upward: every outcome, including an unknown command, is a
// well-formed frame and the connection stays open.

func dispatch(st *Store, argv [][]byte, out *[]byte) {
	switch {
	case len(argv) == 2 && cmdIs(argv[0], "get"):
		doGet(st, argv, out)
	case len(argv) == 3 && cmdIs(argv[0], "set"):
		doSet(st, argv, out)
	case len(argv) == 2 && cmdIs(argv[0], "del"):
		doDel(st, argv, out)
	case len(argv) == 1 && cmdIs(argv[0], "keys"):
		doKeys(st, out)
	case len(argv) == 4 && cmdIs(argv[0], "zadd"):
		doZAdd(st, argv, out)
	case len(argv) == 3 && cmdIs(argv[0], "zrem"):
		doZRem(st, argv, out)
	case len(argv) == 3 && cmdIs(argv[0], "zscore"):
		doZScore(st, argv, out)
	case len(argv) == 6 && cmdIs(argv[0], "zquery"):
		doZQuery(st, argv, out)
	default:
		outErr(out, "ERR bad command")
	}
}

func cmdIs(word []byte, name string) bool {
	return string(word) == name
}

func doGet(st *Store, argv [][]byte, out *[]byte) {
	e := st.Lookup(argv[1])
	if e == nil {
		outNil(out)
		return
	}
	if e.typ != entryStr {
		outErr(out, "ERR not a string")
		return
	}
	outStr(out, e.val)
}

func doSet(st *Store, argv [][]byte, out *[]byte) {
	st.SetString(argv[1], argv[2])
	outNil(out)
}

func doDel(st *Store, argv [][]byte, out *[]byte) {
	if st.Delete(argv[1]) {
		outInt(out, 1)
	} else {
		outInt(out, 0)
	}
}

func doKeys(st *Store, out *[]byte) {
	keys := st.Keys()
	outArr(out, uint32(len(keys)))
	for _, k := range keys {
		outStr(out, k)
	}
}

func doZAdd(st *Store, argv [][]byte, out *[]byte) {
	score, err := strconv.ParseFloat(string(argv[2]), 64)
	if err != nil {
		outErr(out, "ERR bad score")
		return
	}
	set := st.GetOrCreateZSet(argv[1])
	if set == nil {
		outErr(out, "ERR not a zset")
		return
	}
	if set.Insert(argv[3], score) {
		outInt(out, 1)
	} else {
		outInt(out, 0)
	}
}

// lookupZSet resolves a zset command's key argument. An absent key reads
// as an empty set; a key of another kind is a command error, reported by
// the caller when the second result is false.
func lookupZSet(st *Store, key []byte) (*ZSet, bool) {
	e := st.Lookup(key)
	if e == nil {
		return nil, true
	}
	if e.typ != entryZSet {
		return nil, false
	}
	return e.set, true
}

func doZRem(st *Store, argv [][]byte, out *[]byte) {
	set, ok := lookupZSet(st, argv[1])
	if !ok {
		outErr(out, "ERR not a zset")
		return
	}
	if set == nil {
		outInt(out, 0)
		return
	}
	node := set.Lookup(argv[2])
	if node == nil {
		outInt(out, 0)
		return
	}
	set.Delete(node)
	outInt(out, 1)
}

func doZScore(st *Store, argv [][]byte, out *[]byte) {
	set, ok := lookupZSet(st, argv[1])
	if !ok {
		outErr(out, "ERR not a zset")
		return
	}
	if set == nil {
		outNil(out)
		return
	}
	node := set.Lookup(argv[2])
	if node == nil {
		outNil(out)
		return
	}
	outDbl(out, node.score)
}

func doZQuery(st *Store, argv [][]byte, out *[]byte) {
	score, err := strconv.ParseFloat(string(argv[2]), 64)
	if err != nil {
		outErr(out, "ERR bad score")
		return
	}
	offset, err1 := strconv.ParseInt(string(argv[4]), 10, 64)
	limit, err2 := strconv.ParseInt(string(argv[5]), 10, 64)
	if err1 != nil || err2 != nil {
		outErr(out, "ERR bad int")
		return
	}

	set, ok := lookupZSet(st, argv[1])
	if !ok {
		outErr(out, "ERR not a zset")
		return
	}
	if set == nil || limit <= 0 {
		outArr(out, 0)
		return
	}

	node := set.SeekGE(score, argv[3])
	node = set.Offset(node, offset)

	pos := outBeginArr(out)
	n := int64(0)
	for node != nil && n < limit {
		outStr(out, node.name)
		outDbl(out, node.score)
		node = set.Offset(node, 1)
		n++
	}
	outEndArr(out, pos, uint32(2*n))
}
