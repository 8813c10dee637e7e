// Package chaintest generates compact block chains paying to reference
// backend keys. It backs the tests of the sync and planning packages.
package chaintest

import (
	"encoding/binary"
	"math/rand"

	"github.com/catalogfi/zwallet/crypto"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/zcash"
	blake2b "github.com/minio/blake2b-simd"
	"github.com/zcash/lightwalletd/walletrpc"
)

// Chain is an in memory chain of compact blocks starting at Start.
type Chain struct {
	Backend *shielded.Reference
	Start   uint32
	Blocks  []*walletrpc.CompactBlock
	rng     *rand.Rand
	fork    byte
}

// New returns an empty chain whose first block has height start.
func New(start uint32, seed int64) *Chain {
	return &Chain{Backend: shielded.NewReference(), Start: start, rng: rand.New(rand.NewSource(seed))}
}

// Keys derives the key set of a test account.
func (c *Chain) Keys(pool zcash.Pool, seed byte) shielded.Keys {
	keys, err := shielded.DeriveKeys(c.Backend, pool, shielded.SpendingKey{seed, byte(pool)})
	if err != nil {
		panic(err)
	}
	return keys
}

// Tip returns the height of the last block, or Start-1 when empty.
func (c *Chain) Tip() uint32 {
	return c.Start + uint32(len(c.Blocks)) - 1
}

// Block returns the block at height.
func (c *Chain) Block(height uint32) *walletrpc.CompactBlock {
	if height < c.Start || height > c.Tip() {
		return nil
	}
	return c.Blocks[height-c.Start]
}

func (c *Chain) blockHash(height uint32) []byte {
	var b [5]byte
	binary.LittleEndian.PutUint32(b[:], height)
	b[4] = c.fork
	h := blake2b.Sum256(b[:])
	return h[:]
}

func (c *Chain) random32() (b [32]byte) {
	c.rng.Read(b[:])
	return
}

// Mine appends a block carrying txs.
func (c *Chain) Mine(txs ...*walletrpc.CompactTx) *walletrpc.CompactBlock {
	height := c.Start + uint32(len(c.Blocks))
	prev := make([]byte, 32)
	if len(c.Blocks) > 0 {
		prev = c.Blocks[len(c.Blocks)-1].Hash
	}
	for i, tx := range txs {
		tx.Index = uint64(i)
	}
	cb := &walletrpc.CompactBlock{
		ProtoVersion: 1,
		Height:       uint64(height),
		Hash:         c.blockHash(height),
		PrevHash:     prev,
		Time:         1_600_000_000 + height*75,
		Vtx:          txs,
	}
	c.Blocks = append(c.Blocks, cb)
	return cb
}

// MineEmpty appends n blocks without transactions.
func (c *Chain) MineEmpty(n int) {
	for i := 0; i < n; i++ {
		c.Mine()
	}
}

// Fork drops every block above height. Blocks mined afterwards get hashes
// distinct from the dropped ones.
func (c *Chain) Fork(height uint32) {
	c.Blocks = c.Blocks[:height-c.Start+1]
	c.fork++
}

// Note builds a note of value paid to addr.
func (c *Chain) Note(pool zcash.Pool, addr shielded.PaymentAddress, value uint64) shielded.Note {
	return shielded.Note{Pool: pool, Address: addr, Value: value, Rseed: c.random32(), Rho: c.random32()}
}

// Pay returns a compact transaction with one output per value, all paid to addr.
func (c *Chain) Pay(pool zcash.Pool, addr shielded.PaymentAddress, values ...uint64) *walletrpc.CompactTx {
	txid := c.random32()
	tx := &walletrpc.CompactTx{Hash: txid[:]}
	for _, v := range values {
		note := c.Note(pool, addr, v)
		enc, err := c.Backend.Encrypt(note, [32]byte{}, [zcash.MemoSize]byte{}, c.rng)
		if err != nil {
			panic(err)
		}
		c.appendOutput(pool, tx, enc, note.Rho)
	}
	return tx
}

// PayFull returns a v5 transaction paying value to addr with a text memo,
// together with its compact form whose hash is the txid.
func (c *Chain) PayFull(pool zcash.Pool, addr shielded.PaymentAddress, value uint64, memo string) (*walletrpc.CompactTx, *zcash.Transaction) {
	note := c.Note(pool, addr, value)
	var m [zcash.MemoSize]byte
	copy(m[:], memo)
	enc, err := c.Backend.Encrypt(note, [32]byte{}, m, c.rng)
	if err != nil {
		panic(err)
	}
	tx := zcash.NewTransaction(c.Tip() + 100)
	switch pool {
	case zcash.Sapling:
		tx.Sapling.Outputs = append(tx.Sapling.Outputs, zcash.SaplingOutput{
			Cv:            c.random32(),
			Cmu:           enc.Commitment,
			EphemeralKey:  enc.EphemeralKey,
			EncCiphertext: enc.EncCiphertext,
			OutCiphertext: enc.OutCiphertext,
		})
		tx.Sapling.ValueBalance = -int64(value)
	case zcash.Orchard:
		tx.Orchard.Actions = append(tx.Orchard.Actions, zcash.OrchardAction{
			Cv:            c.random32(),
			Nullifier:     note.Rho,
			Rk:            c.random32(),
			Cmx:           enc.Commitment,
			EphemeralKey:  enc.EphemeralKey,
			EncCiphertext: enc.EncCiphertext,
			OutCiphertext: enc.OutCiphertext,
		})
		tx.Orchard.Flags = zcash.OrchardSpendsEnabled | zcash.OrchardOutputsEnabled
		tx.Orchard.ValueBalance = -int64(value)
		tx.Orchard.Proof = []byte{0}
	}
	txid := crypto.TxID(tx)
	ctx := &walletrpc.CompactTx{Hash: txid[:]}
	c.appendOutput(pool, ctx, enc, note.Rho)
	return ctx, tx
}

// appendOutput adds a full output to tx in its compact form.
func (c *Chain) appendOutput(pool zcash.Pool, tx *walletrpc.CompactTx, enc *shielded.EncryptedNote, rho [32]byte) {
	ct := append([]byte(nil), enc.EncCiphertext[:shielded.CompactCiphertextSize]...)
	switch pool {
	case zcash.Sapling:
		tx.Outputs = append(tx.Outputs, &walletrpc.CompactSaplingOutput{
			Cmu:          enc.Commitment[:],
			EphemeralKey: enc.EphemeralKey[:],
			Ciphertext:   ct,
		})
	case zcash.Orchard:
		tx.Actions = append(tx.Actions, &walletrpc.CompactOrchardAction{
			Nullifier:    rho[:],
			Cmx:          enc.Commitment[:],
			EphemeralKey: enc.EphemeralKey[:],
			Ciphertext:   ct,
		})
	}
}

// Noise returns a transaction with n outputs that belong to nobody.
func (c *Chain) Noise(pool zcash.Pool, n int) *walletrpc.CompactTx {
	txid := c.random32()
	tx := &walletrpc.CompactTx{Hash: txid[:]}
	for i := 0; i < n; i++ {
		cm, epk, nf := c.random32(), c.random32(), c.random32()
		ct := make([]byte, shielded.CompactCiphertextSize)
		c.rng.Read(ct)
		switch pool {
		case zcash.Sapling:
			tx.Outputs = append(tx.Outputs, &walletrpc.CompactSaplingOutput{Cmu: cm[:], EphemeralKey: epk[:], Ciphertext: ct})
		case zcash.Orchard:
			tx.Actions = append(tx.Actions, &walletrpc.CompactOrchardAction{Nullifier: nf[:], Cmx: cm[:], EphemeralKey: epk[:], Ciphertext: ct})
		}
	}
	return tx
}

// Blank strips the ephemeral keys and ciphertexts of a transaction the way
// spam filtering lightwalletd servers do.
func Blank(tx *walletrpc.CompactTx) *walletrpc.CompactTx {
	for _, o := range tx.Outputs {
		o.EphemeralKey = make([]byte, 32)
		o.Ciphertext = nil
	}
	for _, a := range tx.Actions {
		a.EphemeralKey = make([]byte, 32)
		a.Ciphertext = nil
	}
	return tx
}

// Spend returns a transaction revealing nf.
func (c *Chain) Spend(pool zcash.Pool, nf [32]byte) *walletrpc.CompactTx {
	txid := c.random32()
	tx := &walletrpc.CompactTx{Hash: txid[:]}
	switch pool {
	case zcash.Sapling:
		tx.Spends = append(tx.Spends, &walletrpc.CompactSaplingSpend{Nf: nf[:]})
	case zcash.Orchard:
		noise := c.Noise(zcash.Orchard, 1)
		noise.Actions[0].Nullifier = nf[:]
		tx.Actions = noise.Actions
	}
	return tx
}
