// Package syncer applies batches of compact blocks to the wallet database:
// it records received notes and spends and brings the commitment trees and
// note witnesses up to the last block of the batch.
package syncer

import (
	"context"
	"fmt"
	"sort"

	"github.com/catalogfi/zwallet/commitment"
	"github.com/catalogfi/zwallet/decrypter"
	"github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/store"
	"github.com/catalogfi/zwallet/zcash"
	"github.com/pkg/errors"
	"github.com/zcash/lightwalletd/walletrpc"
	"go.uber.org/zap"
)

// ReceivedTx is a transaction that paid an account during a batch.
type ReceivedTx struct {
	ID        uint
	Account   uint32
	Txid      []byte
	Height    uint32
	Timestamp uint32
}

// Result summarizes what a batch changed in one pool.
type Result struct {
	Pool     zcash.Pool
	Height   uint32
	Outputs  uint64
	Notes    int
	Spends   int
	TreeSize uint64
	Received []ReceivedTx
}

// Synchronizer scans one pool.
type Synchronizer struct {
	backend shielded.Backend
	pool    zcash.Pool
	warp    *commitment.Warp
	workers int
	logger  *zap.Logger
}

// New returns the synchronizer of pool. workers bounds the parallelism of
// trial decryption and tree hashing; zero selects GOMAXPROCS.
func New(backend shielded.Backend, pool zcash.Pool, workers int) *Synchronizer {
	return &Synchronizer{
		backend: backend,
		pool:    pool,
		warp:    commitment.NewWarp(backend.Hasher(pool), workers),
		workers: workers,
		logger:  zap.NewNop(),
	}
}

func (s *Synchronizer) SetLogger(logger *zap.Logger) *Synchronizer {
	s.logger = logger.With(zap.String("pool", s.pool.String()))
	return s
}

func (s *Synchronizer) Pool() zcash.Pool {
	return s.pool
}

type unspent struct {
	id      uint
	account uint32
	value   uint64
}

type accountKey struct {
	fvk shielded.FullViewingKey
	ivk shielded.IncomingViewingKey
}

// batchState is the pool state owned by the synchronizer for one batch.
type batchState struct {
	st         *store.Storage
	tree       *commitment.CTree
	witnessIDs []uint
	witnesses  []*commitment.Witness
	nullifiers map[[32]byte]unspent
	keys       map[uint32]accountKey
	spent      map[uint]bool
	marks      []uint64
	markIDs    []uint
	leaves     []commitment.Node
	result     *Result
}

func (s *Synchronizer) load(st *store.Storage, first uint32) (*batchState, error) {
	b := &batchState{
		st:         st,
		tree:       &commitment.CTree{},
		nullifiers: map[[32]byte]unspent{},
		keys:       map[uint32]accountKey{},
		spent:      map[uint]bool{},
		result:     &Result{Pool: s.pool},
	}
	fvks, err := st.GetViewingKeys(s.pool)
	if err != nil {
		return nil, err
	}
	for account, raw := range fvks {
		fvk, err := shielded.FullViewingKeyFromBytes(s.pool, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "viewing key of account %d", account)
		}
		b.keys[account] = accountKey{fvk: fvk, ivk: s.backend.IncomingViewingKey(fvk)}
	}

	checkpoint, ok, err := st.GetCheckpointHeight(first - 1)
	if err != nil {
		return nil, err
	}
	if ok {
		tree, err := st.GetTree(s.pool, checkpoint)
		switch {
		case err == nil:
			b.tree = tree
		case errors.Is(err, store.ErrTreeNotFound):
		default:
			return nil, err
		}
		witnesses, err := st.GetWitnesses(s.pool, checkpoint)
		if err != nil {
			return nil, err
		}
		for id := range witnesses {
			b.witnessIDs = append(b.witnessIDs, id)
		}
		sort.Slice(b.witnessIDs, func(i, j int) bool { return b.witnessIDs[i] < b.witnessIDs[j] })
		for _, id := range b.witnessIDs {
			b.witnesses = append(b.witnesses, witnesses[id])
		}
	}

	notes, err := st.GetUnspentNullifiers(s.pool)
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		var nf [32]byte
		copy(nf[:], n.Nf)
		b.nullifiers[nf] = unspent{id: n.ID, account: n.Account, value: n.Value}
	}
	return b, nil
}

func (s *Synchronizer) viewingKeys(b *batchState) []decrypter.ViewingKey {
	accounts := make([]uint32, 0, len(b.keys))
	for a := range b.keys {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	vks := make([]decrypter.ViewingKey, len(accounts))
	for i, a := range accounts {
		vks[i] = decrypter.ViewingKey{Account: a, Ivk: b.keys[a].ivk}
	}
	return vks
}

// Process applies blocks, which must be contiguous and follow the last
// checkpoint, using st for every read and write. Callers run it inside a
// database transaction so that the batch is committed atomically.
func (s *Synchronizer) Process(ctx context.Context, st *store.Storage, blocks []*walletrpc.CompactBlock) (*Result, error) {
	if len(blocks) == 0 {
		return &Result{Pool: s.pool}, nil
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Height != blocks[i-1].Height+1 {
			return nil, fmt.Errorf("%w: %d follows %d", ErrNotContiguous, blocks[i].Height, blocks[i-1].Height)
		}
	}
	b, err := s.load(st, uint32(blocks[0].Height))
	if err != nil {
		return nil, err
	}

	dec := decrypter.New(s.backend, s.pool, s.viewingKeys(b), s.workers)
	decrypted, err := dec.DecryptBlocks(ctx, blocks)
	if err != nil {
		return nil, err
	}

	start := b.tree.Size()
	for _, db := range decrypted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.applyBlock(b, db, start+uint64(len(b.leaves))); err != nil {
			return nil, errors.Wrapf(err, "block %d", db.Height)
		}
		b.leaves = append(b.leaves, db.Leaves...)
		b.result.Outputs += db.Outputs
	}

	old := b.witnesses[:0:0]
	oldIDs := b.witnessIDs[:0:0]
	for i, w := range b.witnesses {
		if !b.spent[b.witnessIDs[i]] {
			old = append(old, w)
			oldIDs = append(oldIDs, b.witnessIDs[i])
		}
	}
	tree, updated, created, err := s.warp.Advance(b.tree, old, b.leaves, b.marks)
	if err != nil {
		return nil, errors.Wrap(err, "advance commitment tree")
	}

	height := uint32(blocks[len(blocks)-1].Height)
	if err := st.PutTree(s.pool, height, tree); err != nil {
		return nil, err
	}
	for i, w := range updated {
		if err := st.PutWitness(s.pool, height, oldIDs[i], w); err != nil {
			return nil, err
		}
	}
	for i, w := range created {
		if b.spent[b.markIDs[i]] {
			continue
		}
		if err := st.PutWitness(s.pool, height, b.markIDs[i], w); err != nil {
			return nil, err
		}
	}

	b.result.Height = height
	b.result.TreeSize = tree.Size()
	s.logger.Debug("batch applied",
		zap.Uint32("height", height),
		zap.Uint64("outputs", b.result.Outputs),
		zap.Int("notes", b.result.Notes),
		zap.Int("spends", b.result.Spends))
	return b.result, nil
}

// applyBlock records the spends and notes of a block, transaction by
// transaction with spends first. position is the tree position of the
// first output of the block.
func (s *Synchronizer) applyBlock(b *batchState, db *decrypter.DecryptedBlock, position uint64) error {
	si, ni := 0, 0
	for si < len(db.Spends) || ni < len(db.Notes) {
		var txIndex uint64
		switch {
		case si == len(db.Spends):
			txIndex = db.Notes[ni].TxIndex
		case ni == len(db.Notes):
			txIndex = db.Spends[si].TxIndex
		default:
			txIndex = db.Spends[si].TxIndex
			if db.Notes[ni].TxIndex < txIndex {
				txIndex = db.Notes[ni].TxIndex
			}
		}
		for ; si < len(db.Spends) && db.Spends[si].TxIndex == txIndex; si++ {
			if err := s.applySpend(b, db, &db.Spends[si]); err != nil {
				return err
			}
		}
		for ; ni < len(db.Notes) && db.Notes[ni].TxIndex == txIndex; ni++ {
			if err := s.applyNote(b, db, &db.Notes[ni], position); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Synchronizer) applySpend(b *batchState, db *decrypter.DecryptedBlock, spend *decrypter.Spend) error {
	n, ok := b.nullifiers[spend.Nullifier]
	if !ok {
		return nil
	}
	txID, err := b.st.PutTransaction(n.account, spend.Txid, db.Height, db.Time, uint32(spend.TxIndex))
	if err != nil {
		return err
	}
	if err := b.st.AddValue(txID, -int64(n.value)); err != nil {
		return err
	}
	if err := b.st.MarkSpent(n.id, db.Height); err != nil {
		return err
	}
	delete(b.nullifiers, spend.Nullifier)
	b.spent[n.id] = true
	b.result.Spends++
	s.logger.Info("note spent", zap.Uint32("account", n.account), zap.Uint("note", n.id), zap.Uint32("height", db.Height))
	return nil
}

func (s *Synchronizer) applyNote(b *batchState, db *decrypter.DecryptedBlock, dn *decrypter.DecryptedNote, position uint64) error {
	key := b.keys[dn.Account]
	pos := position + dn.PositionInBlock
	nf := s.backend.Nullifier(key.fvk, dn.Note, pos)

	txID, err := b.st.PutTransaction(dn.Account, dn.Txid, db.Height, db.Time, uint32(dn.TxIndex))
	if err != nil {
		return err
	}
	note := &model.ReceivedNote{
		Account:     dn.Account,
		Tx:          txID,
		Height:      db.Height,
		Position:    pos,
		OutputIndex: dn.OutputIndex,
		Diversifier: append([]byte(nil), dn.Note.Address.Diversifier[:]...),
		Value:       dn.Note.Value,
		Rcm:         append([]byte(nil), dn.Note.Rseed[:]...),
		Nf:          nf[:],
		Orchard:     s.pool == zcash.Orchard,
	}
	if s.pool == zcash.Orchard {
		note.Rho = append([]byte(nil), dn.Note.Rho[:]...)
	}
	id, err := b.st.PutReceivedNote(note)
	if err != nil {
		return err
	}
	if err := b.st.AddValue(txID, int64(dn.Note.Value)); err != nil {
		return err
	}

	b.nullifiers[nf] = unspent{id: id, account: dn.Account, value: dn.Note.Value}
	b.marks = append(b.marks, pos)
	b.markIDs = append(b.markIDs, id)
	b.result.Notes++
	b.result.Received = append(b.result.Received, ReceivedTx{
		ID:        txID,
		Account:   dn.Account,
		Txid:      dn.Txid,
		Height:    db.Height,
		Timestamp: db.Time,
	})
	s.logger.Info("note received",
		zap.Uint32("account", dn.Account),
		zap.Uint64("value", dn.Note.Value),
		zap.Uint64("position", pos),
		zap.Uint32("height", db.Height))
	return nil
}
