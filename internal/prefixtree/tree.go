// Package prefixtree implements a longest-prefix-match radix tree over
// net/netip prefixes, generic in its per-node payload.
//
// The tree stores one node per distinct prefix actually inserted
// (path compression is not performed: intermediate bits are walked but
// do not allocate nodes). Lookups are split by address family, each
// family rooted at its own binary trie.
//
// A Tree is not safe for concurrent readers and writers; callers must
// serialize Add/Delete against SearchExact/SearchCovering/SearchCovered/
// Nodes themselves, exactly as for a plain Go map.
package prefixtree

import "net/netip"

// Node is one stored prefix and its payload.
type Node[V any] struct {
	Prefix netip.Prefix
	Data   V

	parent   *trieNode[V]
	hasValue bool
}

// trieNode is one bit position in the binary trie. A trieNode only
// carries a Node (hasValue=true) when a prefix was actually inserted
// ending at that bit position; otherwise it is a pure branch point.
type trieNode[V any] struct {
	bit      uint8 // 0-indexed bit this node branches on
	child    [2]*trieNode[V]
	node     *Node[V]
	hasValue bool
}

// Tree is an IPv4 and IPv6 longest-prefix-match tree with payload V.
// The zero value is ready to use.
type Tree[V any] struct {
	root4 trieNode[V]
	root6 trieNode[V]
	size  int
}

// New returns a ready-to-use Tree. Equivalent to the zero value; kept
// for callers that prefer an explicit constructor.
func New[V any]() *Tree[V] {
	return &Tree[V]{}
}

func (t *Tree[V]) rootFor(p netip.Prefix) *trieNode[V] {
	if p.Addr().Is4() {
		return &t.root4
	}
	return &t.root6
}

// Len returns the number of distinct prefixes stored.
func (t *Tree[V]) Len() int { return t.size }

// Add inserts prefix if absent and returns its node; if prefix is
// already present, the existing node is returned unchanged (Add never
// resets Data). Calling Add twice with the same prefix is a no-op the
// second time.
func (t *Tree[V]) Add(p netip.Prefix) *Node[V] {
	p = p.Masked()
	cur := t.walkCreate(t.rootFor(p), addrBits(p.Addr()), p.Bits())
	if cur.hasValue {
		return cur.node
	}
	n := &Node[V]{Prefix: p, parent: cur, hasValue: true}
	cur.node = n
	cur.hasValue = true
	t.size++
	return n
}

// Delete removes prefix if present; no-op if absent.
func (t *Tree[V]) Delete(p netip.Prefix) {
	p = p.Masked()
	cur := t.walkFind(t.rootFor(p), addrBits(p.Addr()), p.Bits())
	if cur == nil || !cur.hasValue {
		return
	}
	cur.hasValue = false
	cur.node = nil
	t.size--
}

// SearchExact returns the node stored exactly at prefix, or nil.
func (t *Tree[V]) SearchExact(p netip.Prefix) *Node[V] {
	p = p.Masked()
	cur := t.walkFind(t.rootFor(p), addrBits(p.Addr()), p.Bits())
	if cur == nil || !cur.hasValue {
		return nil
	}
	return cur.node
}

// SearchCovering returns every stored prefix that covers p (ancestors
// plus the exact match), most-specific first. When an exact match is
// present it is always element 0 — this ordering is a hard contract
// relied upon by the Update Engine's withdraw handling, not an
// incidental detail of the traversal below.
func (t *Tree[V]) SearchCovering(p netip.Prefix) []*Node[V] {
	p = p.Masked()
	bits := addrBits(p.Addr())
	want := p.Bits()

	var stack []*trieNode[V]
	cur := t.rootFor(p)
	stack = append(stack, cur)
	for i := 0; i < want; i++ {
		bit := bitAt(bits, i)
		next := cur.child[bit]
		if next == nil {
			break
		}
		stack = append(stack, next)
		cur = next
	}

	out := make([]*Node[V], 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].hasValue {
			out = append(out, stack[i].node)
		}
	}
	return out
}

// SearchCovered returns every stored prefix that is a proper descendant
// of p (strictly more specific). Order is unspecified.
func (t *Tree[V]) SearchCovered(p netip.Prefix) []*Node[V] {
	p = p.Masked()
	bits := addrBits(p.Addr())
	want := p.Bits()

	cur := t.rootFor(p)
	for i := 0; i < want; i++ {
		bit := bitAt(bits, i)
		next := cur.child[bit]
		if next == nil {
			return nil
		}
		cur = next
	}

	var out []*Node[V]
	collectDescendants(cur, &out)
	return out
}

func collectDescendants[V any](n *trieNode[V], out *[]*Node[V]) {
	for _, c := range n.child {
		if c == nil {
			continue
		}
		if c.hasValue {
			*out = append(*out, c.node)
		}
		collectDescendants(c, out)
	}
}

// Nodes returns every stored node; order is unspecified.
func (t *Tree[V]) Nodes() []*Node[V] {
	out := make([]*Node[V], 0, t.size)
	collectAll(&t.root4, &out)
	collectAll(&t.root6, &out)
	return out
}

func collectAll[V any](n *trieNode[V], out *[]*Node[V]) {
	if n.hasValue {
		*out = append(*out, n.node)
	}
	for _, c := range n.child {
		if c != nil {
			collectAll(c, out)
		}
	}
}

func (t *Tree[V]) walkCreate(root *trieNode[V], bits []byte, want int) *trieNode[V] {
	cur := root
	for i := 0; i < want; i++ {
		bit := bitAt(bits, i)
		next := cur.child[bit]
		if next == nil {
			next = &trieNode[V]{bit: uint8(i)}
			cur.child[bit] = next
		}
		cur = next
	}
	return cur
}

func (t *Tree[V]) walkFind(root *trieNode[V], bits []byte, want int) *trieNode[V] {
	cur := root
	for i := 0; i < want; i++ {
		bit := bitAt(bits, i)
		next := cur.child[bit]
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

func addrBits(a netip.Addr) []byte {
	b := a.As16()
	if a.Is4() {
		b4 := a.As4()
		return b4[:]
	}
	return b[:]
}

func bitAt(b []byte, i int) int {
	byteIdx := i / 8
	bitIdx := 7 - uint(i%8)
	return int((b[byteIdx] >> bitIdx) & 1)
}
