package syncer

import (
	"context"

	"github.com/catalogfi/zwallet/store"
	"github.com/zcash/lightwalletd/walletrpc"
	"go.uber.org/zap"
)

// SyncManager applies block batches to every shielded pool at once.
type SyncManager struct {
	storage *store.Storage
	pools   []*Synchronizer
	logger  *zap.Logger
}

func NewSyncManager(storage *store.Storage, pools ...*Synchronizer) *SyncManager {
	return &SyncManager{storage: storage, pools: pools, logger: zap.NewNop()}
}

func (m *SyncManager) SetLogger(logger *zap.Logger) *SyncManager {
	m.logger = logger
	for _, p := range m.pools {
		p.SetLogger(logger)
	}
	return m
}

func (m *SyncManager) Storage() *store.Storage {
	return m.storage
}

// Apply stores the block checkpoints and runs every pool synchronizer over
// blocks inside one database transaction. Nothing is written when any of
// them fails or ctx is cancelled.
func (m *SyncManager) Apply(ctx context.Context, blocks []*walletrpc.CompactBlock) ([]*Result, error) {
	if len(m.pools) == 0 {
		return nil, ErrNoPools
	}
	if len(blocks) == 0 {
		return nil, nil
	}
	var results []*Result
	err := m.storage.Transaction(func(tx *store.Storage) error {
		results = results[:0]
		for _, p := range m.pools {
			res, err := p.Process(ctx, tx, blocks)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		last := blocks[len(blocks)-1]
		if err := tx.PutBlock(uint32(last.Height), last.Hash, last.Time); err != nil {
			return err
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("synced",
		zap.Uint64("from", blocks[0].Height),
		zap.Uint64("to", blocks[len(blocks)-1].Height))
	return results, nil
}
