package rill

import "math"

// Table is the hybrid dense-array + open-addressed-hash container
// (component C). The array part holds positive integer keys 1..na;
// everything else lives in the hash part, sized to a power of two and
// resolved with Brent's variant on collision (§4.3).
type Table struct {
	gcHeader

	array []Value // array part, array[i] holds key i+1
	node  []hnode // hash part, len(node) is a power of two (or 0)
	lastfree int  // one past the last slot scanned by newkey's free-slot search

	Meta *Table
}

type hnode struct {
	key   Value
	val   Value
	next  int // index of the next node in this key's chain, -1 if none
	used  bool
}

// NewTable allocates a table sized per the hints the code generator
// attaches to NEWTABLE (array size, hash size); both may be zero.
func NewTable(narray, nhash int) *Table {
	t := &Table{}
	if narray > 0 {
		t.array = make([]Value, narray)
	}
	if nhash > 0 {
		t.resizeHash(nextPow2(nhash))
	}
	return t
}

func nextPow2(n int) int {
	if n <= 0 {
		return 0
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (t *Table) resizeHash(size int) {
	t.node = make([]hnode, size)
	for i := range t.node {
		t.node[i].next = -1
	}
	t.lastfree = size
}

// mainPosition computes the primary-position slot for a key, per the
// per-kind hashing rules in §4.3.
func (t *Table) mainPosition(k Value) int {
	size := len(t.node)
	if size == 0 {
		return 0
	}
	switch k.Kind() {
	case KindString:
		return int(k.AsStr().hash % uint64(size))
	case KindNumber:
		bits := math.Float64bits(k.num)
		if k.num == 0 {
			bits = 0
		}
		mod := uint64(size-1) | 1
		return int(bits % mod)
	default:
		mod := uint64(size-1) | 1
		return int(HashValue(k) % mod)
	}
}

func keyEquals(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindString:
		return a.AsStr() == b.AsStr()
	case KindNumber:
		return a.num == b.num
	default:
		return RawEquals(a, b)
	}
}

// arrayIndex returns (index, true) when k is a positive integer that
// currently belongs in the array part.
func (t *Table) arrayIndex(k Value) (int, bool) {
	if k.Kind() != KindNumber {
		return 0, false
	}
	if !k.IsNumberInt() {
		return 0, false
	}
	n := int(k.num)
	if n < 1 || n > len(t.array) {
		return 0, false
	}
	return n - 1, true
}

// Get implements luaH_get: array fast path, else walk the chain from
// the key's main position (§4.3).
func (t *Table) Get(k Value) Value {
	if k.IsNil() {
		return Nil()
	}
	if idx, ok := t.arrayIndex(k); ok {
		return t.array[idx]
	}
	if len(t.node) == 0 {
		return Nil()
	}
	i := t.mainPosition(k)
	for i != -1 {
		n := &t.node[i]
		if n.used && keyEquals(n.key, k) {
			return n.val
		}
		i = n.next
	}
	return Nil()
}

// Set implements luaH_set/newkey (§4.3): lookup; if absent, find or
// make room via Brent's variant, rehashing if the hash part is full.
func (t *Table) Set(k, v Value) error {
	if k.IsNil() {
		return newRuntimeError(Position{}, "table index is nil")
	}
	if k.Kind() == KindNumber && math.IsNaN(k.num) {
		return newRuntimeError(Position{}, "table index is NaN")
	}

	if idx, ok := t.arrayIndex(k); ok {
		t.array[idx] = v
		return nil
	}

	if len(t.node) > 0 {
		i := t.mainPosition(k)
		for i != -1 {
			n := &t.node[i]
			if n.used && keyEquals(n.key, k) {
				n.val = v
				return nil
			}
			i = n.next
		}
	}

	if v.IsNil() {
		return nil
	}
	return t.newkey(k, v)
}

func (t *Table) newkey(k, v Value) error {
	if len(t.node) == 0 {
		t.rehash(k)
		return t.Set(k, v)
	}

	mp := t.mainPosition(k)
	mpNode := &t.node[mp]

	if mpNode.used {
		other := -1
		if mpNode.key.Kind() != KindNil || true {
			// the occupant's own main position; if it differs from
			// mp, the occupant is a displaced guest and must move.
			other = t.mainPosition(mpNode.key)
		}
		free := t.getFreeSlot()
		if free == -1 {
			t.rehash(k)
			return t.Set(k, v)
		}
		if other != mp {
			// occupant is not in its home slot: relocate it to a
			// free slot, fixing up whichever chain pointed at mp.
			prev := other
			for t.node[prev].next != mp {
				prev = t.node[prev].next
			}
			t.node[prev].next = free
			t.node[free] = t.node[mp]
			if t.node[mp].next == mp {
				t.node[free].next = free
			}
			t.node[mp] = hnode{key: k, val: v, next: -1, used: true}
		} else {
			// occupant is in its home: newcomer takes the free slot
			// and is spliced into the chain.
			t.node[free] = hnode{key: k, val: v, next: mpNode.next, used: true}
			mpNode.next = free
		}
		return nil
	}

	t.node[mp] = hnode{key: k, val: v, next: -1, used: true}
	return nil
}

// getFreeSlot scans backward from lastfree, the way newkey's
// shrinking lastfree pointer does in the reference design.
func (t *Table) getFreeSlot() int {
	for t.lastfree > 0 {
		t.lastfree--
		if !t.node[t.lastfree].used {
			return t.lastfree
		}
	}
	return -1
}

// rehash recomputes array/hash sizing from a histogram of positive
// integer keys (array part, hash part, and the pending insert) and
// migrates every live key (§4.3).
func (t *Table) rehash(pending Value) {
	var nums [64]int
	total := 0 // every live key plus the pending one

	countInt := func(n int) {
		if n <= 0 {
			return
		}
		nums[bitsFor(n)]++
	}

	for i, v := range t.array {
		if !v.IsNil() {
			total++
			countInt(i + 1)
		}
	}
	for _, n := range t.node {
		if n.used {
			total++
			if n.key.Kind() == KindNumber && n.key.IsNumberInt() {
				countInt(int(n.key.num))
			}
		}
	}
	total++
	if pending.Kind() == KindNumber && pending.IsNumberInt() {
		countInt(int(pending.num))
	}

	// inArray is how many of the counted integer keys fit the chosen
	// array size; everything else goes to the hash part.
	na, inArray, acc := 0, 0, 0
	for i := 0; i < 63; i++ {
		acc += nums[i]
		threshold := 1 << i
		if acc > threshold/2 {
			na, inArray = threshold, acc
		}
	}

	var oldArray []Value
	var oldNode []hnode
	oldArray, t.array = t.array, make([]Value, na)
	copy(t.array, oldArray)
	for i := len(oldArray); i < na; i++ {
		t.array[i] = Nil()
	}

	nh := nextPow2(total - inArray)
	oldNode, t.node = t.node, nil
	if nh > 0 {
		t.resizeHash(nh)
	}

	migrate := func(k, v Value) {
		if v.IsNil() {
			return
		}
		if idx, ok := t.arrayIndex(k); ok {
			t.array[idx] = v
			return
		}
		_ = t.newkey(k, v)
	}
	for i, v := range oldArray {
		migrate(NewValueNumber(float64(i+1)), v)
	}
	for _, n := range oldNode {
		if n.used {
			migrate(n.key, n.val)
		}
	}
}

func bitsFor(n int) int {
	b := 0
	for (1 << b) < n {
		b++
	}
	return b
}

// Len implements the border search of §3/§4.3: binary search over the
// array part, falling back to an exponential hash-part probe when the
// array is full to its end.
func (t *Table) Len() int {
	n := len(t.array)
	if n > 0 && t.array[n-1].IsNil() {
		lo, hi := 0, n
		for hi-lo > 1 {
			mid := (lo + hi) / 2
			if t.array[mid-1].IsNil() {
				hi = mid
			} else {
				lo = mid
			}
		}
		return lo
	}
	if len(t.node) == 0 {
		return n
	}
	// array part is full to the end: probe the hash part with
	// exponentially growing bounds, then binary search between them.
	i, j := n, n+1
	for !t.Get(NewValueNumber(float64(j))).IsNil() {
		i = j
		if j > (1<<31)/2 {
			// degrade to linear search rather than overflow
			k := i + 1
			for !t.Get(NewValueNumber(float64(k))).IsNil() {
				k++
			}
			return k - 1
		}
		j *= 2
	}
	for j-i > 1 {
		m := (i + j) / 2
		if t.Get(NewValueNumber(float64(m))).IsNil() {
			j = m
		} else {
			i = m
		}
	}
	return i
}

// Next implements the `next` iterator (§4.3): array part first, then
// hash part, in storage order. A nil key starts iteration.
func (t *Table) Next(k Value) (Value, Value, bool) {
	idx := 0
	if !k.IsNil() {
		if ai, ok := t.arrayIndex(k); ok {
			idx = ai + 1
		} else {
			idx = len(t.array) + t.nodeIndexOf(k) + 1
		}
	}

	for idx < len(t.array) {
		if !t.array[idx].IsNil() {
			return NewValueNumber(float64(idx + 1)), t.array[idx], true
		}
		idx++
	}

	hi := idx - len(t.array)
	for hi < len(t.node) {
		if t.node[hi].used {
			return t.node[hi].key, t.node[hi].val, true
		}
		hi++
	}
	return Nil(), Nil(), false
}

func (t *Table) nodeIndexOf(k Value) int {
	if len(t.node) == 0 {
		return -1
	}
	i := t.mainPosition(k)
	for i != -1 {
		if t.node[i].used && keyEquals(t.node[i].key, k) {
			return i
		}
		i = t.node[i].next
	}
	return -1
}
