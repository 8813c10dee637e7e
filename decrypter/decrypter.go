// Package decrypter trial decrypts the outputs of compact blocks with the
// incoming viewing keys of the wallet accounts.
package decrypter

import (
	"context"
	"runtime"

	"github.com/catalogfi/zwallet/commitment"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/zcash"
	"github.com/zcash/lightwalletd/walletrpc"
	"golang.org/x/sync/errgroup"
)

// ViewingKey is the incoming viewing key of one account.
type ViewingKey struct {
	Account uint32
	Ivk     shielded.IncomingViewingKey
}

// DecryptedNote is an output of a block that belongs to an account.
type DecryptedNote struct {
	Account uint32
	Note    shielded.Note
	// PositionInBlock counts the pool outputs of the block before this one.
	PositionInBlock uint64
	TxIndex         uint64
	Txid            []byte
	OutputIndex     uint32
}

// Spend is a nullifier revealed by a block.
type Spend struct {
	Nullifier [32]byte
	TxIndex   uint64
	Txid      []byte
}

// DecryptedBlock is the result of trial decrypting one block for one pool.
type DecryptedBlock struct {
	Height   uint32
	Hash     []byte
	PrevHash []byte
	Time     uint32
	Notes    []DecryptedNote
	Spends   []Spend
	Leaves   []commitment.Node
	Outputs  uint64
}

// Decrypter trial decrypts one pool.
type Decrypter struct {
	backend shielded.Backend
	pool    zcash.Pool
	keys    []ViewingKey
	workers int
}

// New returns a decrypter for pool. workers bounds the number of blocks
// decrypted concurrently; zero selects GOMAXPROCS.
func New(backend shielded.Backend, pool zcash.Pool, keys []ViewingKey, workers int) *Decrypter {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Decrypter{backend: backend, pool: pool, keys: keys, workers: workers}
}

// Pool returns the pool the decrypter handles.
func (d *Decrypter) Pool() zcash.Pool {
	return d.pool
}

// CompactOutputs extracts the pool outputs of a compact transaction.
func CompactOutputs(pool zcash.Pool, tx *walletrpc.CompactTx) []shielded.CompactOutput {
	var outs []shielded.CompactOutput
	switch pool {
	case zcash.Sapling:
		for _, o := range tx.Outputs {
			co := shielded.CompactOutput{Ciphertext: o.Ciphertext}
			copy(co.Commitment[:], o.Cmu)
			copy(co.EphemeralKey[:], o.EphemeralKey)
			outs = append(outs, co)
		}
	case zcash.Orchard:
		for _, a := range tx.Actions {
			co := shielded.CompactOutput{Ciphertext: a.Ciphertext}
			copy(co.Commitment[:], a.Cmx)
			copy(co.EphemeralKey[:], a.EphemeralKey)
			copy(co.Rho[:], a.Nullifier)
			outs = append(outs, co)
		}
	}
	return outs
}

// CompactSpends extracts the pool nullifiers of a compact transaction.
func CompactSpends(pool zcash.Pool, tx *walletrpc.CompactTx) [][32]byte {
	var nfs [][32]byte
	switch pool {
	case zcash.Sapling:
		for _, s := range tx.Spends {
			var nf [32]byte
			copy(nf[:], s.Nf)
			nfs = append(nfs, nf)
		}
	case zcash.Orchard:
		for _, a := range tx.Actions {
			var nf [32]byte
			copy(nf[:], a.Nullifier)
			nfs = append(nfs, nf)
		}
	}
	return nfs
}

// DecryptTx trial decrypts the outputs of a single transaction. Outputs
// stripped by a spam filter are skipped but still counted.
func (d *Decrypter) DecryptTx(tx *walletrpc.CompactTx, offset uint64) ([]DecryptedNote, []commitment.Node) {
	outs := CompactOutputs(d.pool, tx)
	leaves := make([]commitment.Node, 0, len(outs))
	var notes []DecryptedNote
	for i := range outs {
		out := &outs[i]
		leaves = append(leaves, out.Commitment)
		if out.Blank() {
			continue
		}
		for _, k := range d.keys {
			note, ok := d.backend.DecryptCompact(k.Ivk, out)
			if !ok {
				continue
			}
			notes = append(notes, DecryptedNote{
				Account:         k.Account,
				Note:            *note,
				PositionInBlock: offset + uint64(i),
				TxIndex:         tx.Index,
				Txid:            tx.Hash,
				OutputIndex:     uint32(i),
			})
			break
		}
	}
	return notes, leaves
}

// DecryptBlock trial decrypts a block. Within a block transactions keep
// their order and spends are listed before outputs.
func (d *Decrypter) DecryptBlock(cb *walletrpc.CompactBlock) *DecryptedBlock {
	db := &DecryptedBlock{
		Height:   uint32(cb.Height),
		Hash:     cb.Hash,
		PrevHash: cb.PrevHash,
		Time:     cb.Time,
	}
	for _, tx := range cb.Vtx {
		for _, nf := range CompactSpends(d.pool, tx) {
			db.Spends = append(db.Spends, Spend{Nullifier: nf, TxIndex: tx.Index, Txid: tx.Hash})
		}
		notes, leaves := d.DecryptTx(tx, db.Outputs)
		db.Notes = append(db.Notes, notes...)
		db.Leaves = append(db.Leaves, leaves...)
		db.Outputs += uint64(len(leaves))
	}
	return db
}

// DecryptBlocks decrypts blocks in parallel and returns the results in
// block order.
func (d *Decrypter) DecryptBlocks(ctx context.Context, blocks []*walletrpc.CompactBlock) ([]*DecryptedBlock, error) {
	res := make([]*DecryptedBlock, len(blocks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, cb := range blocks {
		i, cb := i, cb
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res[i] = d.DecryptBlock(cb)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
