// Package commitment maintains fixed-depth note commitment trees in frontier
// form together with the per-note witnesses needed to build spend
// authentication paths.
package commitment

import (
	"encoding/hex"

	blake2b "github.com/minio/blake2b-simd"
)

// Depth is the depth of both the Sapling and the Orchard commitment trees.
const Depth = 32

// Node is a leaf commitment or an internal tree hash.
type Node [32]byte

func (n Node) String() string {
	return hex.EncodeToString(n[:])
}

// Hasher combines two children at a given level. Level 0 combines leaves.
type Hasher interface {
	Combine(level uint8, left, right Node) Node
	// EmptyRoot returns the root of an empty subtree of the given height.
	EmptyRoot(level uint8) Node
}

// EmptyRoots precomputes the empty subtree roots for every level up to Depth.
func EmptyRoots(emptyLeaf Node, combine func(level uint8, left, right Node) Node) [Depth + 1]Node {
	var roots [Depth + 1]Node
	roots[0] = emptyLeaf
	for d := 0; d < Depth; d++ {
		roots[d+1] = combine(uint8(d), roots[d], roots[d])
	}
	return roots
}

// Blake2bHasher is a personalized BLAKE2b-256 merkle hasher. The level is
// written before both children so that every level is domain separated.
type Blake2bHasher struct {
	person []byte
	roots  [Depth + 1]Node
}

// NewBlake2bHasher returns a hasher with the given personalization (at most
// 16 bytes) and empty leaf value.
func NewBlake2bHasher(person string, emptyLeaf Node) *Blake2bHasher {
	h := &Blake2bHasher{person: []byte(person)}
	h.roots = EmptyRoots(emptyLeaf, h.Combine)
	return h
}

func (h *Blake2bHasher) Combine(level uint8, left, right Node) Node {
	d, err := blake2b.New(&blake2b.Config{Size: 32, Person: h.person})
	if err != nil {
		panic(err)
	}
	d.Write([]byte{level})
	d.Write(left[:])
	d.Write(right[:])
	var out Node
	copy(out[:], d.Sum(nil))
	return out
}

func (h *Blake2bHasher) EmptyRoot(level uint8) Node {
	return h.roots[level]
}
