package builder_test

import (
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/catalogfi/zwallet/builder"
	"github.com/catalogfi/zwallet/commitment"
	"github.com/catalogfi/zwallet/crypto"
	"github.com/catalogfi/zwallet/planner"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/store"
	"github.com/catalogfi/zwallet/zcash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryTrees map[zcash.Pool]*commitment.CTree

func (m memoryTrees) GetTree(pool zcash.Pool, height uint32) (*commitment.CTree, error) {
	t, ok := m[pool]
	if !ok || height != anchorHeight {
		return nil, store.ErrTreeNotFound
	}
	return t.Clone(), nil
}

const anchorHeight = 100

// fixture holds a note of alice inside a tree with unrelated leaves around it.
type fixture struct {
	backend *shielded.Reference
	alice   shielded.Keys
	bob     shielded.Keys
	note    shielded.Note
	witness *commitment.Witness
	trees   memoryTrees
}

func newFixture(t *testing.T, pool zcash.Pool) *fixture {
	r := rand.New(rand.NewSource(int64(pool)))
	b := shielded.NewReference()
	alice, err := shielded.DeriveKeys(b, pool, shielded.SpendingKey{1})
	require.NoError(t, err)
	bob, err := shielded.DeriveKeys(b, zcash.Orchard, shielded.SpendingKey{2})
	require.NoError(t, err)

	note := shielded.Note{Pool: pool, Address: alice.Address, Value: 50000}
	r.Read(note.Rseed[:])
	if pool == zcash.Orchard {
		r.Read(note.Rho[:])
	}

	h := b.Hasher(pool)
	tree := &commitment.CTree{}
	for i := 0; i < 5; i++ {
		var leaf commitment.Node
		r.Read(leaf[:])
		require.NoError(t, tree.Append(h, leaf))
	}
	require.NoError(t, tree.Append(h, b.NoteCommitment(note)))
	w := commitment.NewWitness(tree)
	for i := 0; i < 3; i++ {
		var leaf commitment.Node
		r.Read(leaf[:])
		require.NoError(t, tree.Append(h, leaf))
		require.NoError(t, w.Append(h, leaf))
	}
	return &fixture{backend: b, alice: alice, bob: bob, note: note, witness: w, trees: memoryTrees{pool: tree}}
}

func (f *fixture) utxo() planner.UTXO {
	if f.note.Pool == zcash.Orchard {
		return planner.UTXO{Source: planner.OrchardSource{
			NoteID:      1,
			Diversifier: f.note.Address.Diversifier,
			Rseed:       f.note.Rseed,
			Rho:         f.note.Rho,
			Witness:     f.witness.Bytes(),
		}, Amount: f.note.Value}
	}
	return planner.UTXO{Source: planner.SaplingSource{
		NoteID:      1,
		Diversifier: f.note.Address.Diversifier,
		Rseed:       f.note.Rseed,
		Witness:     f.witness.Bytes(),
	}, Amount: f.note.Value}
}

func (f *fixture) builder() *builder.Builder {
	return builder.New(f.backend, builder.NewReferenceProver(f.backend), f.trees).SetRand(rand.New(rand.NewSource(42)))
}

func textMemo(s string) planner.Memo {
	m, err := planner.EncodeMemo(s)
	if err != nil {
		panic(err)
	}
	return m
}

func encrypted(cm, epk [32]byte, enc [zcash.EncCiphertextSize]byte, out [zcash.OutCiphertextSize]byte) *shielded.EncryptedNote {
	return &shielded.EncryptedNote{Commitment: commitment.Node(cm), EphemeralKey: epk, EncCiphertext: enc, OutCiphertext: out}
}

func TestBuild(t *testing.T) {
	t.Run("should pay orchard from a sapling note with sapling change", func(t *testing.T) {
		f := newFixture(t, zcash.Sapling)
		id := uint32(0)
		plan := &planner.TransactionPlan{
			AnchorHeight: anchorHeight,
			ExpiryHeight: anchorHeight + zcash.DefaultExpiryDelta,
			Spends:       []planner.UTXO{f.utxo()},
			Outputs: []planner.Fill{
				{OrderID: &id, Destination: planner.OrchardDestination{Address: f.bob.Address}, Amount: 30000, Memo: textMemo("lunch")},
				{Destination: planner.SaplingDestination{Address: f.alice.Address}, Amount: 5000, Memo: textMemo("")},
			},
			Fee: 15000,
		}
		tx, err := f.builder().Build(plan, &builder.SecretKeys{Sapling: f.alice.Sk})
		require.NoError(t, err)

		assert.Equal(t, uint32(anchorHeight+zcash.DefaultExpiryDelta), tx.ExpiryHeight)
		require.Len(t, tx.Sapling.Spends, 1)
		assert.Equal(t, f.backend.Nullifier(f.alice.Fvk, f.note, f.witness.Position()), tx.Sapling.Spends[0].Nullifier)
		assert.Equal(t, [32]byte(f.witness.Root(f.backend.Hasher(zcash.Sapling))), tx.Sapling.Anchor)
		assert.Len(t, tx.Sapling.Outputs, 2)
		assert.Len(t, tx.Orchard.Actions, 2)
		assert.Equal(t, int64(plan.Fee), tx.Sapling.ValueBalance+tx.Orchard.ValueBalance)
		assert.Equal(t, [32]byte(f.backend.Hasher(zcash.Orchard).EmptyRoot(commitment.Depth)), tx.Orchard.Anchor)
		assert.NotEqual(t, [zcash.SignatureSize]byte{}, tx.Sapling.Spends[0].SpendAuthSig)
		assert.NotEqual(t, [zcash.SignatureSize]byte{}, tx.Orchard.BindingSig)

		parsed, err := zcash.ParseTransaction(tx.Bytes())
		require.NoError(t, err)
		assert.Equal(t, crypto.TxID(tx), crypto.TxID(parsed))

		var paid []uint64
		for _, a := range parsed.Orchard.Actions {
			note, memo, ok := f.backend.DecryptFull(f.bob.Ivk, encrypted(a.Cmx, a.EphemeralKey, a.EncCiphertext, a.OutCiphertext), a.Nullifier)
			if ok {
				paid = append(paid, note.Value)
				assert.Equal(t, "lunch", string(memo[:5]))
			}
		}
		assert.Equal(t, []uint64{30000}, paid)

		var change []uint64
		for _, o := range parsed.Sapling.Outputs {
			note, _, ok := f.backend.DecryptFull(f.alice.Ivk, encrypted(o.Cmu, o.EphemeralKey, o.EncCiphertext, o.OutCiphertext), [32]byte{})
			if ok {
				change = append(change, note.Value)
			}
		}
		assert.Equal(t, []uint64{5000}, change)
	})

	t.Run("should spend an orchard note in an action", func(t *testing.T) {
		f := newFixture(t, zcash.Orchard)
		id := uint32(0)
		plan := &planner.TransactionPlan{
			AnchorHeight: anchorHeight,
			ExpiryHeight: anchorHeight + zcash.DefaultExpiryDelta,
			Spends:       []planner.UTXO{f.utxo()},
			Outputs: []planner.Fill{
				{OrderID: &id, Destination: planner.OrchardDestination{Address: f.bob.Address}, Amount: 40000, Memo: textMemo("")},
			},
			Fee: 10000,
		}
		tx, err := f.builder().Build(plan, &builder.SecretKeys{Orchard: f.alice.Sk})
		require.NoError(t, err)

		assert.True(t, tx.Sapling.Empty())
		require.Len(t, tx.Orchard.Actions, 2)
		assert.Equal(t, f.backend.Nullifier(f.alice.Fvk, f.note, f.witness.Position()), tx.Orchard.Actions[0].Nullifier)
		assert.Equal(t, int64(10000), tx.Orchard.ValueBalance)
		assert.Equal(t, zcash.OrchardSpendsEnabled|zcash.OrchardOutputsEnabled, tx.Orchard.Flags)
		assert.NotEmpty(t, tx.Orchard.Proof)
	})

	t.Run("should sign transparent inputs", func(t *testing.T) {
		f := newFixture(t, zcash.Sapling)
		key, err := crypto.TransparentKeyFromBytes(append([]byte{1}, make([]byte, 31)...))
		require.NoError(t, err)
		script, err := crypto.PayToPubKeyHash(key.PubKeyHash())
		require.NoError(t, err)
		plan := &planner.TransactionPlan{
			AnchorHeight: anchorHeight,
			ExpiryHeight: anchorHeight + zcash.DefaultExpiryDelta,
			Spends: []planner.UTXO{{
				Source: planner.TransparentSource{Txid: chainhash.Hash{7}, Index: 1, Script: script},
				Amount: 20000,
			}},
			Outputs: []planner.Fill{{Destination: planner.TransparentDestination{Hash: [20]byte{5}, Script: true}, Amount: 10000}},
			Fee:     10000,
		}
		tx, err := f.builder().Build(plan, &builder.SecretKeys{Transparent: key})
		require.NoError(t, err)
		require.Len(t, tx.TxIn, 1)
		require.Len(t, tx.TxOut, 1)
		assert.Equal(t, chainhash.Hash{7}, tx.TxIn[0].PreviousOutPoint.Hash)

		pushes, err := txscript.PushedData(tx.TxIn[0].SignatureScript)
		require.NoError(t, err)
		require.Len(t, pushes, 2)
		assert.Equal(t, key.PubKey(), pushes[1])
		sighash, err := crypto.TransparentSigHash(tx, []*wire.TxOut{wire.NewTxOut(20000, script)}, 0, crypto.SigHashAll)
		require.NoError(t, err)
		assert.True(t, crypto.VerifySignature(pushes[1], sighash, pushes[0]))
	})

	t.Run("should refuse inputs locked to another key", func(t *testing.T) {
		f := newFixture(t, zcash.Sapling)
		key, err := crypto.TransparentKeyFromBytes(append([]byte{1}, make([]byte, 31)...))
		require.NoError(t, err)
		plan := &planner.TransactionPlan{
			Spends:  []planner.UTXO{{Source: planner.TransparentSource{Script: []byte{0x51}}, Amount: 20000}},
			Outputs: []planner.Fill{{Destination: planner.TransparentDestination{Hash: [20]byte{5}}, Amount: 10000}},
			Fee:     10000,
		}
		_, err = f.builder().Build(plan, &builder.SecretKeys{Transparent: key})
		assert.ErrorIs(t, err, builder.ErrKeyMismatch)
	})

	t.Run("should require the spending key of the pool", func(t *testing.T) {
		f := newFixture(t, zcash.Sapling)
		plan := &planner.TransactionPlan{
			AnchorHeight: anchorHeight,
			Spends:       []planner.UTXO{f.utxo()},
			Outputs:      []planner.Fill{{Destination: planner.SaplingDestination{Address: f.bob.Address}, Amount: 40000}},
			Fee:          10000,
		}
		_, err := f.builder().Build(plan, &builder.SecretKeys{Orchard: f.alice.Sk})
		assert.ErrorIs(t, err, builder.ErrMissingKey)
	})

	t.Run("should reject a witness from another tree", func(t *testing.T) {
		f := newFixture(t, zcash.Sapling)
		require.NoError(t, f.trees[zcash.Sapling].Append(f.backend.Hasher(zcash.Sapling), commitment.Node{3}))
		plan := &planner.TransactionPlan{
			AnchorHeight: anchorHeight,
			Spends:       []planner.UTXO{f.utxo()},
			Outputs:      []planner.Fill{{Destination: planner.SaplingDestination{Address: f.bob.Address}, Amount: 40000}},
			Fee:          10000,
		}
		_, err := f.builder().Build(plan, &builder.SecretKeys{Sapling: f.alice.Sk})
		assert.ErrorIs(t, err, builder.ErrAnchorMismatch)
	})

	t.Run("should fail without a tree at the anchor height", func(t *testing.T) {
		f := newFixture(t, zcash.Sapling)
		plan := &planner.TransactionPlan{
			AnchorHeight: anchorHeight + 1,
			Spends:       []planner.UTXO{f.utxo()},
			Outputs:      []planner.Fill{{Destination: planner.SaplingDestination{Address: f.bob.Address}, Amount: 40000}},
			Fee:          10000,
		}
		_, err := f.builder().Build(plan, &builder.SecretKeys{Sapling: f.alice.Sk})
		assert.ErrorIs(t, err, store.ErrTreeNotFound)
	})

	t.Run("should reject an unbalanced plan", func(t *testing.T) {
		f := newFixture(t, zcash.Sapling)
		plan := &planner.TransactionPlan{
			Spends:  []planner.UTXO{f.utxo()},
			Outputs: []planner.Fill{{Destination: planner.SaplingDestination{Address: f.bob.Address}, Amount: 50000}},
			Fee:     10000,
		}
		_, err := f.builder().Build(plan, &builder.SecretKeys{Sapling: f.alice.Sk})
		assert.ErrorIs(t, err, builder.ErrUnbalancedPlan)
	})
}

func TestReferenceProver(t *testing.T) {
	t.Run("should reject a path that does not reach the anchor", func(t *testing.T) {
		f := newFixture(t, zcash.Sapling)
		path, err := f.witness.Path(f.backend.Hasher(zcash.Sapling))
		require.NoError(t, err)
		p := builder.NewReferenceProver(f.backend)
		_, err = p.ProveSpend(&builder.SpendInfo{Note: f.note, Fvk: f.alice.Fvk, Path: path, Anchor: commitment.Node{1}}, rand.New(rand.NewSource(1)))
		var perr *builder.ProverError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, builder.ProverInvalidWitness, perr.Code)
	})
}
