package commitment

import (
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const combineChunk = 512

// Warp advances a tree and its witnesses by a whole batch of leaves at once.
// Each level of new nodes is computed once and shared by the tree frontier
// and every witness, instead of appending leaf by leaf.
type Warp struct {
	hasher  Hasher
	workers int
}

// NewWarp returns a warp processor. workers <= 0 uses GOMAXPROCS.
func NewWarp(h Hasher, workers int) *Warp {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Warp{hasher: h, workers: workers}
}

// Hasher returns the hasher the processor combines nodes with.
func (w *Warp) Hasher() Hasher {
	return w.hasher
}

// Advance appends leaves to tree and brings witnesses up to date. New
// witnesses are started for the absolute positions listed in marks, which
// must be increasing and fall inside the batch. Inputs are not modified.
func (w *Warp) Advance(tree *CTree, witnesses []*Witness, leaves []Node, marks []uint64) (*CTree, []*Witness, []*Witness, error) {
	n := tree.Size()
	size := n + uint64(len(leaves))
	if size > 1<<Depth {
		return nil, nil, nil, ErrTreeFull
	}
	for i, m := range marks {
		if m < n || m >= size {
			return nil, nil, nil, ErrMarkOutOfBatch
		}
		if i > 0 && marks[i-1] >= m {
			return nil, nil, nil, ErrUnorderedMarks
		}
	}
	if len(leaves) == 0 {
		updated := make([]*Witness, len(witnesses))
		for i, wit := range witnesses {
			updated[i] = wit.Clone()
		}
		return tree.Clone(), updated, nil, nil
	}

	b := &batch{h: w.hasher, old: tree, n: n, size: size}
	b.ancestors()
	if err := b.reduce(w.workers, leaves); err != nil {
		return nil, nil, nil, err
	}

	newTree, err := b.frontier(size - 1)
	if err != nil {
		return nil, nil, nil, err
	}
	updated := make([]*Witness, len(witnesses))
	for i, wit := range witnesses {
		c := wit.Clone()
		if err := b.advanceWitness(c, n, newTree); err != nil {
			return nil, nil, nil, err
		}
		updated[i] = c
	}
	created := make([]*Witness, len(marks))
	for i, p := range marks {
		frozen, err := b.frontier(p)
		if err != nil {
			return nil, nil, nil, err
		}
		c := &Witness{Tree: frozen}
		if err := b.advanceWitness(c, p+1, newTree); err != nil {
			return nil, nil, nil, err
		}
		created[i] = c
	}
	return newTree, updated, created, nil
}

type level struct {
	start uint64
	nodes []Node
}

// batch holds the per-level nodes that became complete during one advance.
type batch struct {
	h    Hasher
	old  *CTree
	n    uint64
	size uint64

	// anc[d] is the level d ancestor of the old last leaf, set only while
	// that ancestor was already complete before the batch.
	anc    []*Node
	levels []level
}

func (b *batch) ancestors() {
	if b.n == 0 {
		return
	}
	q := b.n - 1
	cur := b.old.Left
	if b.old.Right != nil {
		cur = b.old.Right
	}
	b.anc = append(b.anc, cur)
	for d := 0; d < Depth && q>>d&1 == 1; d++ {
		var sib *Node
		if d == 0 {
			sib = b.old.Left
		} else if d-1 < len(b.old.Parents) {
			sib = b.old.Parents[d-1]
		}
		if sib == nil {
			return
		}
		next := b.h.Combine(uint8(d), *sib, *cur)
		cur = &next
		b.anc = append(b.anc, cur)
	}
}

// oldNode returns a node that was already complete before the batch.
func (b *batch) oldNode(d int, j uint64) (Node, bool) {
	if b.n == 0 {
		return Node{}, false
	}
	q := (b.n - 1) >> d
	if j == q && d < len(b.anc) && b.anc[d] != nil {
		return *b.anc[d], true
	}
	if j+1 == q {
		if d == 0 {
			if b.old.Right != nil {
				return *b.old.Left, true
			}
		} else if d-1 < len(b.old.Parents) && b.old.Parents[d-1] != nil {
			return *b.old.Parents[d-1], true
		}
	}
	return Node{}, false
}

func (b *batch) nodeAt(d int, j uint64) (Node, error) {
	if d < len(b.levels) {
		lv := b.levels[d]
		if j >= lv.start && j < lv.start+uint64(len(lv.nodes)) {
			return lv.nodes[j-lv.start], nil
		}
	}
	if n, ok := b.oldNode(d, j); ok {
		return n, nil
	}
	return Node{}, errors.Errorf("node %d at level %d is not available", j, d)
}

// reduce builds every level bottom up. A level starts at an even index so
// that it pairs up cleanly; when the first new node is a right child its
// left sibling is taken from the old frontier.
func (b *batch) reduce(workers int, leaves []Node) error {
	cur := level{start: b.n, nodes: leaves}
	for d := 0; d < Depth; d++ {
		if cur.start&1 == 1 {
			sib, ok := b.oldNode(d, cur.start-1)
			if !ok {
				return errors.Errorf("missing frontier node at level %d", d)
			}
			cur = level{start: cur.start - 1, nodes: append([]Node{sib}, cur.nodes...)}
		}
		b.levels = append(b.levels, cur)
		pairs := len(cur.nodes) / 2
		if pairs == 0 {
			break
		}
		next := make([]Node, pairs)
		if err := b.combine(workers, uint8(d), cur.nodes, next); err != nil {
			return err
		}
		cur = level{start: cur.start / 2, nodes: next}
	}
	return nil
}

func (b *batch) combine(workers int, d uint8, in, out []Node) error {
	if len(out) <= combineChunk {
		for k := range out {
			out[k] = b.h.Combine(d, in[2*k], in[2*k+1])
		}
		return nil
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < len(out); lo += combineChunk {
		lo := lo
		hi := lo + combineChunk
		if hi > len(out) {
			hi = len(out)
		}
		g.Go(func() error {
			for k := lo; k < hi; k++ {
				out[k] = b.h.Combine(d, in[2*k], in[2*k+1])
			}
			return nil
		})
	}
	return g.Wait()
}

// frontier rebuilds the tree whose last leaf is at position q.
func (b *batch) frontier(q uint64) (*CTree, error) {
	t := &CTree{}
	if q&1 == 0 {
		l, err := b.nodeAt(0, q)
		if err != nil {
			return nil, err
		}
		t.Left = &l
	} else {
		l, err := b.nodeAt(0, q-1)
		if err != nil {
			return nil, err
		}
		r, err := b.nodeAt(0, q)
		if err != nil {
			return nil, err
		}
		t.Left, t.Right = &l, &r
	}
	t.Parents = make([]*Node, parentsLen(q))
	for d := 1; d <= len(t.Parents); d++ {
		if q>>d&1 == 0 {
			continue
		}
		p, err := b.nodeAt(d, q>>d-1)
		if err != nil {
			return nil, err
		}
		t.Parents[d-1] = &p
	}
	return t, nil
}

// advanceWitness adds the siblings completed between from and the new size
// and rebuilds the cursor of the first sibling still incomplete.
func (b *batch) advanceWitness(w *Witness, from uint64, newTree *CTree) error {
	p := w.Position()
	w.Cursor = nil
	w.cursorDepth = 0
	for d := 0; d < Depth; d++ {
		if p>>d&1 == 1 {
			continue
		}
		j := p>>d + 1
		end := (j + 1) << d
		if end <= from {
			continue
		}
		if end > b.size {
			start := j << d
			if start < b.size {
				r := b.size - 1 - start
				cursor := newTree.Clone()
				cursor.Parents = cursor.Parents[:parentsLen(r)]
				w.Cursor = cursor
				w.cursorDepth = d
			}
			return nil
		}
		sib, err := b.nodeAt(d, j)
		if err != nil {
			return err
		}
		w.Filled = append(w.Filled, sib)
	}
	return nil
}
