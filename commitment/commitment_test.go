package commitment_test

import (
	"math/rand"
	"testing"

	"github.com/catalogfi/zwallet/commitment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHasher() commitment.Hasher {
	return commitment.NewBlake2bHasher("zwallet_test_mh", commitment.Node{1})
}

func randomLeaves(r *rand.Rand, n int) []commitment.Node {
	leaves := make([]commitment.Node, n)
	for i := range leaves {
		r.Read(leaves[i][:])
	}
	return leaves
}

// incremental is the leaf by leaf reference the warp processor is checked against.
type incremental struct {
	h         commitment.Hasher
	tree      *commitment.CTree
	witnesses []*commitment.Witness
}

func (inc *incremental) append(t *testing.T, leaf commitment.Node, mark bool) {
	require.NoError(t, inc.tree.Append(inc.h, leaf))
	for _, w := range inc.witnesses {
		require.NoError(t, w.Append(inc.h, leaf))
	}
	if mark {
		inc.witnesses = append(inc.witnesses, commitment.NewWitness(inc.tree))
	}
}

func TestTree(t *testing.T) {
	h := testHasher()

	t.Run("should root an empty tree at the empty root", func(t *testing.T) {
		tree := &commitment.CTree{}
		assert.Equal(t, h.EmptyRoot(commitment.Depth), tree.Root(h))
		assert.Equal(t, uint64(0), tree.Size())
	})

	t.Run("should track size as leaves are appended", func(t *testing.T) {
		r := rand.New(rand.NewSource(1))
		tree := &commitment.CTree{}
		for i, leaf := range randomLeaves(r, 77) {
			require.NoError(t, tree.Append(h, leaf))
			assert.Equal(t, uint64(i+1), tree.Size())
		}
	})

	t.Run("should match the root of a tree of two leaves", func(t *testing.T) {
		a, b := commitment.Node{7}, commitment.Node{9}
		tree := &commitment.CTree{}
		require.NoError(t, tree.Append(h, a))
		require.NoError(t, tree.Append(h, b))
		root := h.Combine(0, a, b)
		for d := 1; d < commitment.Depth; d++ {
			root = h.Combine(uint8(d), root, h.EmptyRoot(uint8(d)))
		}
		assert.Equal(t, root, tree.Root(h))
	})

	t.Run("should round trip through bytes", func(t *testing.T) {
		r := rand.New(rand.NewSource(2))
		tree := &commitment.CTree{}
		for _, leaf := range randomLeaves(r, 13) {
			require.NoError(t, tree.Append(h, leaf))
		}
		decoded, err := commitment.TreeFromBytes(tree.Bytes())
		require.NoError(t, err)
		assert.Equal(t, tree.Bytes(), decoded.Bytes())
		assert.Equal(t, tree.Root(h), decoded.Root(h))
	})

	t.Run("should reject trailing bytes", func(t *testing.T) {
		tree := &commitment.CTree{}
		_, err := commitment.TreeFromBytes(append(tree.Bytes(), 0))
		assert.ErrorIs(t, err, commitment.ErrInvalidEncoding)
	})
}

func TestWitness(t *testing.T) {
	h := testHasher()
	r := rand.New(rand.NewSource(3))

	t.Run("should derive paths that verify against the tree root", func(t *testing.T) {
		inc := &incremental{h: h, tree: &commitment.CTree{}}
		leaves := randomLeaves(r, 300)
		marked := map[uint64]commitment.Node{}
		for i, leaf := range leaves {
			mark := r.Intn(7) == 0
			if mark {
				marked[uint64(i)] = leaf
			}
			inc.append(t, leaf, mark)
		}
		root := inc.tree.Root(h)
		for _, w := range inc.witnesses {
			assert.Equal(t, root, w.Root(h))
			path, err := w.Path(h)
			require.NoError(t, err)
			assert.Equal(t, root, path.Root(h, marked[w.Position()]))
			assert.Equal(t, inc.tree.Size(), w.Size())
		}
	})

	t.Run("should keep its cursor across serialization", func(t *testing.T) {
		inc := &incremental{h: h, tree: &commitment.CTree{}}
		leaves := randomLeaves(r, 20)
		for i, leaf := range leaves {
			inc.append(t, leaf, i == 4)
		}
		w := inc.witnesses[0]
		decoded, err := commitment.WitnessFromBytes(w.Bytes())
		require.NoError(t, err)
		extra := randomLeaves(r, 9)
		for _, leaf := range extra {
			require.NoError(t, w.Append(h, leaf))
			require.NoError(t, decoded.Append(h, leaf))
		}
		assert.Equal(t, w.Bytes(), decoded.Bytes())
	})
}

func TestWarp(t *testing.T) {
	h := testHasher()

	run := func(t *testing.T, seed int64, total int, chunk func(r *rand.Rand) int) {
		r := rand.New(rand.NewSource(seed))
		leaves := randomLeaves(r, total)
		inc := &incremental{h: h, tree: &commitment.CTree{}}
		warp := commitment.NewWarp(h, 4)
		tree := &commitment.CTree{}
		var witnesses []*commitment.Witness

		for start := 0; start < total; {
			end := start + chunk(r)
			if end > total {
				end = total
			}
			var marks []uint64
			for i := start; i < end; i++ {
				mark := r.Intn(10) == 0
				if mark {
					marks = append(marks, uint64(i))
				}
				inc.append(t, leaves[i], mark)
			}
			var created []*commitment.Witness
			var err error
			tree, witnesses, created, err = warp.Advance(tree, witnesses, leaves[start:end], marks)
			require.NoError(t, err)
			witnesses = append(witnesses, created...)

			require.Equal(t, inc.tree.Bytes(), tree.Bytes(), "tree after leaf %d", end)
			require.Len(t, witnesses, len(inc.witnesses))
			for i := range witnesses {
				require.Equal(t, inc.witnesses[i].Bytes(), witnesses[i].Bytes(),
					"witness at %d after leaf %d", inc.witnesses[i].Position(), end)
			}
			start = end
		}
		root := tree.Root(h)
		for _, w := range witnesses {
			assert.Equal(t, root, w.Root(h))
		}
	}

	t.Run("should match incremental witnesses for 1000 leaves in chunks of 50", func(t *testing.T) {
		run(t, 42, 1000, func(*rand.Rand) int { return 50 })
	})

	t.Run("should match incremental witnesses for uneven chunks", func(t *testing.T) {
		run(t, 7, 700, func(r *rand.Rand) int { return 1 + r.Intn(37) })
	})

	t.Run("should match incremental witnesses for single leaf chunks", func(t *testing.T) {
		run(t, 9, 130, func(*rand.Rand) int { return 1 })
	})

	t.Run("should combine large levels in parallel deterministically", func(t *testing.T) {
		run(t, 11, 5000, func(*rand.Rand) int { return 2500 })
	})

	t.Run("should leave its inputs untouched", func(t *testing.T) {
		r := rand.New(rand.NewSource(5))
		warp := commitment.NewWarp(h, 2)
		tree, _, created, err := warp.Advance(&commitment.CTree{}, nil, randomLeaves(r, 10), []uint64{3})
		require.NoError(t, err)
		before := created[0].Bytes()
		treeBefore := tree.Bytes()
		_, _, _, err = warp.Advance(tree, created, randomLeaves(r, 10), nil)
		require.NoError(t, err)
		assert.Equal(t, before, created[0].Bytes())
		assert.Equal(t, treeBefore, tree.Bytes())
	})

	t.Run("should reject marks outside the batch", func(t *testing.T) {
		warp := commitment.NewWarp(h, 1)
		_, _, _, err := warp.Advance(&commitment.CTree{}, nil, []commitment.Node{{1}}, []uint64{1})
		assert.ErrorIs(t, err, commitment.ErrMarkOutOfBatch)
	})
}
