package commitment

import "math/bits"

// CTree is an append-only commitment tree kept as its right frontier.
// Left and Right hold the two most recent leaves of the last pair and
// Parents[i] holds the pending left sibling at level i+1, if any.
type CTree struct {
	Left    *Node
	Right   *Node
	Parents []*Node
}

func nodePtr(n Node) *Node {
	return &n
}

// Clone returns a deep copy of the tree.
func (t *CTree) Clone() *CTree {
	c := &CTree{Parents: make([]*Node, len(t.Parents))}
	if t.Left != nil {
		c.Left = nodePtr(*t.Left)
	}
	if t.Right != nil {
		c.Right = nodePtr(*t.Right)
	}
	for i, p := range t.Parents {
		if p != nil {
			c.Parents[i] = nodePtr(*p)
		}
	}
	return c
}

// Size returns the number of leaves appended so far.
func (t *CTree) Size() uint64 {
	var size uint64
	if t.Left != nil {
		size++
	}
	if t.Right != nil {
		size++
	}
	for i, p := range t.Parents {
		if p != nil {
			size += 1 << (i + 1)
		}
	}
	return size
}

// IsComplete reports whether the tree holds 2^depth leaves.
func (t *CTree) IsComplete(depth int) bool {
	if t.Left == nil || t.Right == nil || len(t.Parents) != depth-1 {
		return false
	}
	for _, p := range t.Parents {
		if p == nil {
			return false
		}
	}
	return true
}

// Append adds a leaf and carries completed pairs up the frontier.
func (t *CTree) Append(h Hasher, node Node) error {
	if t.IsComplete(Depth) {
		return ErrTreeFull
	}
	t.append(h, node)
	return nil
}

func (t *CTree) append(h Hasher, node Node) {
	switch {
	case t.Left == nil:
		t.Left = nodePtr(node)
	case t.Right == nil:
		t.Right = nodePtr(node)
	default:
		combined := h.Combine(0, *t.Left, *t.Right)
		t.Left = nodePtr(node)
		t.Right = nil
		for i := 0; i < Depth; i++ {
			if i == len(t.Parents) {
				t.Parents = append(t.Parents, nodePtr(combined))
				return
			}
			p := t.Parents[i]
			if p == nil {
				t.Parents[i] = nodePtr(combined)
				return
			}
			combined = h.Combine(uint8(i+1), *p, combined)
			t.Parents[i] = nil
		}
	}
}

// Root returns the root of the depth 32 tree, padding with empty subtrees.
func (t *CTree) Root(h Hasher) Node {
	return t.rootInner(h, Depth, newFiller(h, nil))
}

// SubtreeRoot returns the root of the tree as a subtree of the given height.
func (t *CTree) SubtreeRoot(h Hasher, depth int) Node {
	return t.rootInner(h, depth, newFiller(h, nil))
}

func (t *CTree) rootInner(h Hasher, depth int, f *filler) Node {
	left, right := t.Left, t.Right
	var l, r Node
	if left != nil {
		l = *left
	} else {
		l = f.next(0)
	}
	if right != nil {
		r = *right
	} else {
		r = f.next(0)
	}
	root := h.Combine(0, l, r)
	for i, p := range t.Parents {
		if p != nil {
			root = h.Combine(uint8(i+1), *p, root)
		} else {
			root = h.Combine(uint8(i+1), root, f.next(i+1))
		}
	}
	for d := len(t.Parents) + 1; d < depth; d++ {
		root = h.Combine(uint8(d), root, f.next(d))
	}
	return root
}

// filler supplies right-hand siblings: queued nodes first, then empty roots.
type filler struct {
	h     Hasher
	queue []Node
}

func newFiller(h Hasher, queue []Node) *filler {
	return &filler{h: h, queue: queue}
}

func (f *filler) next(level int) Node {
	if len(f.queue) > 0 {
		n := f.queue[0]
		f.queue = f.queue[1:]
		return n
	}
	return f.h.EmptyRoot(uint8(level))
}

// parentsLen is the length of the parents vector of a tree whose last leaf
// sits at position q.
func parentsLen(q uint64) int {
	return bits.Len64(q >> 1)
}
