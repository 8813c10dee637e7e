package shielded_test

import (
	"crypto/rand"
	"testing"

	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/zcash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(t *testing.T, b shielded.Backend, pool zcash.Pool, seed byte) shielded.Keys {
	k, err := shielded.DeriveKeys(b, pool, shielded.SpendingKey{seed})
	require.NoError(t, err)
	return k
}

func TestReference(t *testing.T) {
	b := shielded.NewReference()

	for _, pool := range []zcash.Pool{zcash.Sapling, zcash.Orchard} {
		pool := pool
		t.Run("should decrypt a "+pool.String()+" note sent to the key", func(t *testing.T) {
			alice := keys(t, b, pool, 1)
			note := shielded.Note{Pool: pool, Address: alice.Address, Value: 100000}
			_, err := rand.Read(note.Rseed[:])
			require.NoError(t, err)
			if pool == zcash.Orchard {
				note.Rho = [32]byte{9, 9}
			}
			var memo [zcash.MemoSize]byte
			copy(memo[:], "hello")
			enc, err := b.Encrypt(note, alice.Fvk.Ovk, memo, rand.Reader)
			require.NoError(t, err)

			compact := enc.Compact(note.Rho)
			got, ok := b.DecryptCompact(alice.Ivk, &compact)
			require.True(t, ok)
			assert.Equal(t, note, *got)

			full, gotMemo, ok := b.DecryptFull(alice.Ivk, enc, note.Rho)
			require.True(t, ok)
			assert.Equal(t, note, *full)
			assert.Equal(t, memo, gotMemo)
		})

		t.Run("should not decrypt a "+pool.String()+" note for another key", func(t *testing.T) {
			alice := keys(t, b, pool, 1)
			bob := keys(t, b, pool, 2)
			note := shielded.Note{Pool: pool, Address: alice.Address, Value: 5}
			enc, err := b.Encrypt(note, alice.Fvk.Ovk, [zcash.MemoSize]byte{}, rand.Reader)
			require.NoError(t, err)
			compact := enc.Compact(note.Rho)
			_, ok := b.DecryptCompact(bob.Ivk, &compact)
			assert.False(t, ok)
		})
	}

	t.Run("should skip outputs with a blank ephemeral key", func(t *testing.T) {
		alice := keys(t, b, zcash.Sapling, 1)
		out := &shielded.CompactOutput{Ciphertext: make([]byte, shielded.CompactCiphertextSize)}
		assert.True(t, out.Blank())
		_, ok := b.DecryptCompact(alice.Ivk, out)
		assert.False(t, ok)
	})

	t.Run("should bind sapling nullifiers to the note position", func(t *testing.T) {
		alice := keys(t, b, zcash.Sapling, 1)
		note := shielded.Note{Pool: zcash.Sapling, Address: alice.Address, Value: 1}
		assert.NotEqual(t, b.Nullifier(alice.Fvk, note, 1), b.Nullifier(alice.Fvk, note, 2))
	})

	t.Run("should rebuild the default address from its diversifier", func(t *testing.T) {
		alice := keys(t, b, zcash.Orchard, 3)
		addr, err := b.DiversifiedAddress(alice.Ivk, alice.Address.Diversifier)
		require.NoError(t, err)
		assert.Equal(t, alice.Address, addr)
	})

	t.Run("should derive distinct keys per pool", func(t *testing.T) {
		s := keys(t, b, zcash.Sapling, 1)
		o := keys(t, b, zcash.Orchard, 1)
		assert.NotEqual(t, s.Ivk.Ivk, o.Ivk.Ivk)
		assert.NotEqual(t, b.Hasher(zcash.Sapling).EmptyRoot(0), b.Hasher(zcash.Orchard).EmptyRoot(0))
	})
}
