package database

import (
	"errors"
	"fmt"

	"github.com/zcash/lightwalletd/walletrpc"
	"google.golang.org/protobuf/proto"
)

const blockPrefix = "block:"

func blockKey(height uint32) string {
	return fmt.Sprintf("%s%010d", blockPrefix, height)
}

// BlockCache keeps downloaded compact blocks by height so that rescans
// and reorg recovery do not fetch them again.
type BlockCache struct {
	db Db
}

func NewBlockCache(db Db) *BlockCache {
	return &BlockCache{db: db}
}

func (c *BlockCache) PutBlocks(blocks []*walletrpc.CompactBlock) error {
	keys := make([]string, len(blocks))
	values := make([][]byte, len(blocks))
	for i, b := range blocks {
		data, err := proto.Marshal(b)
		if err != nil {
			return err
		}
		keys[i] = blockKey(uint32(b.Height))
		values[i] = data
	}
	return c.db.PutMulti(keys, values)
}

// GetBlock returns nil when the block is not cached.
func (c *BlockCache) GetBlock(height uint32) (*walletrpc.CompactBlock, error) {
	data, err := c.db.Get(blockKey(height))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	block := &walletrpc.CompactBlock{}
	if err := proto.Unmarshal(data, block); err != nil {
		return nil, err
	}
	return block, nil
}

// Invalidate drops the cached blocks in [from, to].
func (c *BlockCache) Invalidate(from, to uint32) error {
	if to < from {
		return nil
	}
	keys := make([]string, 0, to-from+1)
	for h := from; ; h++ {
		keys = append(keys, blockKey(h))
		if h == to {
			break
		}
	}
	return c.db.DeleteMulti(keys)
}
