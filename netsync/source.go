package netsync

import (
	"context"

	"github.com/catalogfi/zwallet/model"
	"github.com/zcash/lightwalletd/walletrpc"
)

// BlockSource is the upstream light wallet server.
type BlockSource interface {
	LatestHeight(ctx context.Context) (uint32, error)
	GetBlock(ctx context.Context, height uint32) (*walletrpc.CompactBlock, error)
	// GetBlockRange streams the blocks in [start, end] to fn in height order.
	GetBlockRange(ctx context.Context, start, end uint32, fn func(*walletrpc.CompactBlock) error) error
	GetTreeState(ctx context.Context, height uint32) (*walletrpc.TreeState, error)
	GetTransaction(ctx context.Context, txid []byte) ([]byte, error)
}

// Mirror receives the wallet history after every committed batch.
type Mirror interface {
	PutTransactions(ctx context.Context, txs []model.Transaction) error
	DeleteAbove(ctx context.Context, height uint32) error
}
