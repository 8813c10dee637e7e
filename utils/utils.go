package utils

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/zcash/lightwalletd/walletrpc"
)

// CountOutputs returns the number of Sapling outputs and Orchard actions of a block.
func CountOutputs(block *walletrpc.CompactBlock) uint64 {
	var n uint64
	for _, tx := range block.Vtx {
		n += uint64(len(tx.Outputs) + len(tx.Actions))
	}
	return n
}

// Batcher groups consecutive blocks into batches of roughly maxOutputs
// shielded outputs. A batch always holds at least one block.
type Batcher struct {
	maxOutputs uint64
	maxBlocks  int
	blocks     []*walletrpc.CompactBlock
	outputs    uint64
}

func NewBatcher(maxOutputs uint64, maxBlocks int) *Batcher {
	return &Batcher{maxOutputs: maxOutputs, maxBlocks: maxBlocks}
}

// Add appends a block and returns the batch once it is full.
func (b *Batcher) Add(block *walletrpc.CompactBlock) []*walletrpc.CompactBlock {
	b.blocks = append(b.blocks, block)
	b.outputs += CountOutputs(block)
	if b.outputs >= b.maxOutputs || (b.maxBlocks > 0 && len(b.blocks) >= b.maxBlocks) {
		return b.Flush()
	}
	return nil
}

// Flush returns the pending blocks, if any.
func (b *Batcher) Flush() []*walletrpc.CompactBlock {
	batch := b.blocks
	b.blocks = nil
	b.outputs = 0
	return batch
}

// ChunkBlocks splits blocks into batches with the same rule as Batcher.
func ChunkBlocks(blocks []*walletrpc.CompactBlock, maxOutputs uint64, maxBlocks int) [][]*walletrpc.CompactBlock {
	b := NewBatcher(maxOutputs, maxBlocks)
	var chunks [][]*walletrpc.CompactBlock
	for _, block := range blocks {
		if chunk := b.Add(block); chunk != nil {
			chunks = append(chunks, chunk)
		}
	}
	if chunk := b.Flush(); len(chunk) > 0 {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// HashString displays a txid or block hash the way explorers do, byte reversed.
func HashString(hash []byte) string {
	var h chainhash.Hash
	if err := h.SetBytes(hash); err != nil {
		return ""
	}
	return h.String()
}

// ParseHash reads a byte reversed hex hash back into its wire order.
func ParseHash(s string) ([]byte, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return nil, err
	}
	return h[:], nil
}
