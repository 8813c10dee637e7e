package commitment

// Witness tracks the authentication path of one leaf as the tree grows.
// Tree is the frozen tree right after the leaf was appended, Filled holds
// right-hand siblings completed since, and Cursor is the partial subtree
// of the next sibling still being filled.
type Witness struct {
	Tree   *CTree
	Filled []Node
	Cursor *CTree

	cursorDepth int
}

// NewWitness starts a witness for the last leaf of tree.
func NewWitness(tree *CTree) *Witness {
	return &Witness{Tree: tree.Clone()}
}

// Position is the leaf index of the witnessed note.
func (w *Witness) Position() uint64 {
	return w.Tree.Size() - 1
}

// Size is the size of the tree this witness is currently rooted against.
func (w *Witness) Size() uint64 {
	size := w.Position() + 1
	p := w.Position()
	filled := len(w.Filled)
	for d := 0; d < Depth && filled > 0; d++ {
		if p>>d&1 == 0 {
			size += 1 << d
			filled--
		}
	}
	if w.Cursor != nil {
		size += w.Cursor.Size()
	}
	return size
}

// Clone returns a deep copy of the witness.
func (w *Witness) Clone() *Witness {
	c := &Witness{
		Tree:        w.Tree.Clone(),
		Filled:      append([]Node(nil), w.Filled...),
		cursorDepth: w.cursorDepth,
	}
	if w.Cursor != nil {
		c.Cursor = w.Cursor.Clone()
	}
	return c
}

// nextDepth is the level of the next right-hand sibling to be filled.
func (w *Witness) nextDepth() int {
	skip := len(w.Filled)
	if w.Tree.Left == nil {
		if skip == 0 {
			return 0
		}
		skip--
	}
	if w.Tree.Right == nil {
		if skip == 0 {
			return 0
		}
		skip--
	}
	d := 1
	for _, p := range w.Tree.Parents {
		if p == nil {
			if skip == 0 {
				return d
			}
			skip--
		}
		d++
	}
	return d + skip
}

func (w *Witness) filler(h Hasher) *filler {
	queue := append([]Node(nil), w.Filled...)
	if w.Cursor != nil {
		queue = append(queue, w.Cursor.rootInner(h, w.cursorDepth, newFiller(h, nil)))
	}
	return newFiller(h, queue)
}

// Append advances the witness by one leaf appended to the tree.
func (w *Witness) Append(h Hasher, node Node) error {
	if w.Cursor != nil {
		w.Cursor.append(h, node)
		if w.Cursor.IsComplete(w.cursorDepth) {
			w.Filled = append(w.Filled, w.Cursor.rootInner(h, w.cursorDepth, newFiller(h, nil)))
			w.Cursor = nil
		}
		return nil
	}
	w.cursorDepth = w.nextDepth()
	if w.cursorDepth >= Depth {
		return ErrTreeFull
	}
	if w.cursorDepth == 0 {
		w.Filled = append(w.Filled, node)
		return nil
	}
	w.Cursor = &CTree{}
	w.Cursor.append(h, node)
	return nil
}

// Root returns the root of the tree the witness is currently rooted against.
func (w *Witness) Root(h Hasher) Node {
	return w.Tree.rootInner(h, Depth, w.filler(h))
}

// Path returns the authentication path of the witnessed leaf.
func (w *Witness) Path(h Hasher) (*MerklePath, error) {
	if w.Tree.Left == nil {
		return nil, ErrEmptyWitness
	}
	f := w.filler(h)
	path := &MerklePath{Position: w.Position()}
	if w.Tree.Right != nil {
		path.AuthPath[0] = *w.Tree.Left
	} else {
		path.AuthPath[0] = f.next(0)
	}
	for i, p := range w.Tree.Parents {
		if p != nil {
			path.AuthPath[i+1] = *p
		} else {
			path.AuthPath[i+1] = f.next(i + 1)
		}
	}
	for i := len(w.Tree.Parents); i < Depth-1; i++ {
		path.AuthPath[i+1] = f.next(i + 1)
	}
	return path, nil
}

// MerklePath is an authentication path from a leaf to the root. The bits of
// Position tell on which side each sibling sits.
type MerklePath struct {
	Position uint64
	AuthPath [Depth]Node
}

// Root folds leaf up the path.
func (p *MerklePath) Root(h Hasher, leaf Node) Node {
	cur := leaf
	for d := 0; d < Depth; d++ {
		if p.Position>>d&1 == 1 {
			cur = h.Combine(uint8(d), p.AuthPath[d], cur)
		} else {
			cur = h.Combine(uint8(d), cur, p.AuthPath[d])
		}
	}
	return cur
}
