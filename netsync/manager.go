package netsync

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/catalogfi/zwallet/commitment"
	"github.com/catalogfi/zwallet/database"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/store"
	"github.com/catalogfi/zwallet/syncer"
	"github.com/catalogfi/zwallet/utils"
	"github.com/catalogfi/zwallet/zcash"
	"github.com/zcash/lightwalletd/walletrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultChunkOutputs = 200_000
	DefaultMaxBlocks    = 10_000
	DefaultRewindMargin = 10

	maxReorgAttempts = 8
)

type SyncManager struct {
	source       BlockSource
	store        *store.Storage
	backend      shielded.Backend
	manager      *syncer.SyncManager
	cache        *database.BlockCache
	mirror       Mirror
	metrics      *Metrics
	tracer       trace.Tracer
	lock         *semaphore.Weighted
	chunkOutputs uint64
	maxBlocks    int
	rewindMargin uint32
	fetchMemos   bool
	logger       *zap.Logger
}

type SyncConfig struct {
	Source  BlockSource
	Store   *store.Storage
	Backend shielded.Backend
	// Cache and Mirror are optional.
	Cache   *database.BlockCache
	Mirror  Mirror
	Metrics *Metrics

	// ChunkOutputs caps the shielded outputs decrypted per batch.
	ChunkOutputs uint64
	MaxBlocks    int
	// RewindMargin is how far below a reorganized block the wallet rewinds.
	RewindMargin uint32
	Workers      int
	// FetchMemos downloads the full transactions of received notes to
	// recover their memos.
	FetchMemos bool
	Logger     *zap.Logger
}

func NewSyncManager(config SyncConfig) (*SyncManager, error) {
	switch {
	case config.Source == nil:
		return nil, ErrMissingSource
	case config.Store == nil:
		return nil, ErrMissingStore
	case config.Backend == nil:
		return nil, ErrMissingBackend
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("syncManager")
	if config.ChunkOutputs == 0 {
		config.ChunkOutputs = DefaultChunkOutputs
	}
	if config.MaxBlocks == 0 {
		config.MaxBlocks = DefaultMaxBlocks
	}
	if config.RewindMargin == 0 {
		config.RewindMargin = DefaultRewindMargin
	}
	manager := syncer.NewSyncManager(config.Store,
		syncer.New(config.Backend, zcash.Sapling, config.Workers),
		syncer.New(config.Backend, zcash.Orchard, config.Workers),
	).SetLogger(logger)

	return &SyncManager{
		source:       config.Source,
		store:        config.Store,
		backend:      config.Backend,
		manager:      manager,
		cache:        config.Cache,
		mirror:       config.Mirror,
		metrics:      config.Metrics,
		tracer:       otel.Tracer("github.com/catalogfi/zwallet/netsync"),
		lock:         semaphore.NewWeighted(1),
		chunkOutputs: config.ChunkOutputs,
		maxBlocks:    config.MaxBlocks,
		rewindMargin: config.RewindMargin,
		fetchMemos:   config.FetchMemos,
		logger:       logger,
	}, nil
}

// Sync brings the wallet up to the server tip and returns the synced
// height. Reorganizations are recovered by rewinding and syncing again.
func (s *SyncManager) Sync(ctx context.Context) (uint32, error) {
	if !s.lock.TryAcquire(1) {
		return 0, ErrBusy
	}
	defer s.lock.Release(1)
	return s.sync(ctx)
}

// Rescan rewinds the wallet to height and syncs again.
func (s *SyncManager) Rescan(ctx context.Context, height uint32) (uint32, error) {
	if !s.lock.TryAcquire(1) {
		return 0, ErrBusy
	}
	defer s.lock.Release(1)
	if _, err := s.rewind(ctx, height); err != nil {
		return 0, err
	}
	return s.sync(ctx)
}

// Rewind drops the wallet state above the checkpoint closest to height.
func (s *SyncManager) Rewind(ctx context.Context, height uint32) (uint32, error) {
	if !s.lock.TryAcquire(1) {
		return 0, ErrBusy
	}
	defer s.lock.Release(1)
	return s.rewind(ctx, height)
}

func (s *SyncManager) sync(ctx context.Context) (uint32, error) {
	ctx, span := s.tracer.Start(ctx, "sync")
	defer span.End()

	for attempt := 0; ; attempt++ {
		height, err := s.syncOnce(ctx)
		var reorg *ReorgError
		if !errors.As(err, &reorg) {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.SetAttributes(attribute.Int64("height", int64(height)))
			return height, err
		}
		if attempt == maxReorgAttempts {
			return 0, fmt.Errorf("%w: %v", ErrTooManyReorgs, err)
		}
		s.logger.Warn("reorg detected", zap.Uint32("height", reorg.Height))
		if s.metrics != nil {
			s.metrics.reorgs.Inc()
		}
		target := uint32(0)
		if reorg.Height > s.rewindMargin {
			target = reorg.Height - s.rewindMargin
		}
		synced, err := s.store.GetLastSyncHeight()
		if err != nil {
			return 0, err
		}
		snapped, err := s.rewind(ctx, target)
		if err != nil {
			return 0, err
		}
		if err := s.dropCached(ctx, snapped, synced); err != nil {
			return 0, err
		}
	}
}

func (s *SyncManager) rewind(ctx context.Context, height uint32) (uint32, error) {
	snapped, err := s.store.Rewind(height)
	if err != nil {
		return 0, err
	}
	if s.mirror != nil {
		if err := s.mirror.DeleteAbove(ctx, snapped); err != nil {
			s.logger.Error("error rewinding mirror", zap.Error(err))
		}
	}
	if s.metrics != nil {
		s.metrics.height.Set(float64(snapped))
	}
	s.logger.Info("rewound", zap.Uint32("requested", height), zap.Uint32("height", snapped))
	return snapped, nil
}

// dropCached forgets the cached blocks above height, which belong to an
// abandoned fork.
func (s *SyncManager) dropCached(ctx context.Context, height, synced uint32) error {
	if s.cache == nil {
		return nil
	}
	tip, err := s.source.LatestHeight(ctx)
	if err != nil {
		return err
	}
	if synced > tip {
		tip = synced
	}
	return s.cache.Invalidate(height+1, tip)
}

// bootstrap seeds the first checkpoint from the server tree state when the
// wallet birth height is above Sapling activation.
func (s *SyncManager) bootstrap(ctx context.Context) error {
	_, ok, err := s.store.GetCheckpointHeight(^uint32(0))
	if err != nil || ok {
		return err
	}
	accounts, err := s.store.GetAccounts()
	if err != nil {
		return err
	}
	birth := ^uint32(0)
	for _, a := range accounts {
		if a.Birth < birth {
			birth = a.Birth
		}
	}
	activation := s.store.Params().SaplingActivation
	if len(accounts) == 0 || birth <= activation+1 {
		return nil
	}

	ts, err := s.source.GetTreeState(ctx, birth-1)
	if err != nil {
		return err
	}
	hash, err := utils.ParseHash(ts.Hash)
	if err != nil {
		return fmt.Errorf("tree state hash: %w", err)
	}
	return s.store.Transaction(func(tx *store.Storage) error {
		for _, p := range []struct {
			pool zcash.Pool
			hex  string
		}{{zcash.Sapling, ts.SaplingTree}, {zcash.Orchard, ts.OrchardTree}} {
			tree, err := decodeTree(p.hex)
			if err != nil {
				return fmt.Errorf("%s tree state: %w", p.pool, err)
			}
			if err := tx.PutTree(p.pool, uint32(ts.Height), tree); err != nil {
				return err
			}
		}
		s.logger.Info("bootstrapped from tree state", zap.Uint64("height", ts.Height))
		return tx.PutBlock(uint32(ts.Height), hash, ts.Time)
	})
}

func decodeTree(s string) (*commitment.CTree, error) {
	if s == "" {
		return &commitment.CTree{}, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return commitment.TreeFromBytes(b)
}

func (s *SyncManager) syncOnce(ctx context.Context) (uint32, error) {
	if err := s.bootstrap(ctx); err != nil {
		return 0, err
	}
	start, err := s.store.GetLastSyncHeight()
	if err != nil {
		return 0, err
	}
	var prevHash []byte
	stored, err := s.store.GetBlock(start)
	switch {
	case err == nil:
		remote, err := s.source.GetBlock(ctx, start)
		if err != nil {
			return 0, err
		}
		if !bytes.Equal(remote.Hash, stored.Hash) {
			return 0, &ReorgError{Height: start}
		}
		prevHash = stored.Hash
	case errors.Is(err, store.ErrBlockNotFound):
	default:
		return 0, err
	}

	tip, err := s.source.LatestHeight(ctx)
	if err != nil {
		return 0, err
	}
	if start >= tip {
		return start, nil
	}
	s.logger.Info("syncing", zap.Uint32("from", start+1), zap.Uint32("to", tip))

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []*walletrpc.CompactBlock, 1)
	g.Go(func() error {
		defer close(batches)
		return s.download(gctx, start+1, tip, prevHash, batches)
	})
	height := start
	g.Go(func() error {
		for batch := range batches {
			if err := s.process(gctx, batch); err != nil {
				return err
			}
			height = uint32(batch[len(batch)-1].Height)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return height, err
	}
	if err := s.store.PurgeOldWitnesses(height); err != nil {
		return height, err
	}
	return height, nil
}

// download streams [from, to] in batches, serving cached blocks first.
func (s *SyncManager) download(ctx context.Context, from, to uint32, prevHash []byte, out chan<- []*walletrpc.CompactBlock) error {
	batcher := utils.NewBatcher(s.chunkOutputs, s.maxBlocks)
	next := from
	push := func(block *walletrpc.CompactBlock) error {
		if uint32(block.Height) != next {
			return fmt.Errorf("%w: got height %d, want %d", ErrUnexpectedBlock, block.Height, next)
		}
		if prevHash != nil && !bytes.Equal(block.PrevHash, prevHash) {
			return &ReorgError{Height: next - 1}
		}
		prevHash = block.Hash
		next++
		if batch := batcher.Add(block); batch != nil {
			select {
			case out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	if s.cache != nil {
		for next <= to {
			block, err := s.cache.GetBlock(next)
			if err != nil {
				return err
			}
			if block == nil {
				break
			}
			if err := push(block); err != nil {
				return err
			}
		}
	}
	if next <= to {
		var pending []*walletrpc.CompactBlock
		err := s.source.GetBlockRange(ctx, next, to, func(block *walletrpc.CompactBlock) error {
			if s.cache != nil {
				pending = append(pending, block)
				if len(pending) >= 1000 {
					if err := s.cache.PutBlocks(pending); err != nil {
						return err
					}
					pending = pending[:0]
				}
			}
			return push(block)
		})
		if err != nil {
			return err
		}
		if s.cache != nil && len(pending) > 0 {
			if err := s.cache.PutBlocks(pending); err != nil {
				return err
			}
		}
	}
	if batch := batcher.Flush(); len(batch) > 0 {
		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *SyncManager) process(ctx context.Context, batch []*walletrpc.CompactBlock) error {
	first, last := uint32(batch[0].Height), uint32(batch[len(batch)-1].Height)
	ctx, span := s.tracer.Start(ctx, "batch", trace.WithAttributes(
		attribute.Int64("from", int64(first)),
		attribute.Int64("to", int64(last)),
	))
	defer span.End()

	started := time.Now()
	results, err := s.manager.Apply(ctx, batch)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if s.metrics != nil {
		s.metrics.batchDuration.Observe(time.Since(started).Seconds())
		s.metrics.blocks.Add(float64(len(batch)))
		s.metrics.height.Set(float64(last))
		for _, r := range results {
			s.metrics.notes.WithLabelValues(r.Pool.String()).Add(float64(r.Notes))
			s.metrics.spends.WithLabelValues(r.Pool.String()).Add(float64(r.Spends))
		}
	}

	if s.fetchMemos {
		s.fetchMessages(ctx, results)
	}
	if s.mirror != nil {
		txs, err := s.store.GetTransactionsAbove(first - 1)
		if err != nil {
			return err
		}
		if err := s.mirror.PutTransactions(ctx, txs); err != nil {
			s.logger.Error("error mirroring transactions", zap.Error(err))
		}
	}
	return nil
}
