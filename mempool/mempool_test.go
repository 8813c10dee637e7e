package mempool_test

import (
	"context"
	"testing"

	"github.com/catalogfi/zwallet/chaintest"
	"github.com/catalogfi/zwallet/mempool"
	"github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/zcash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	fvks  map[zcash.Pool]map[uint32][]byte
	notes map[zcash.Pool][]model.ReceivedNote
}

func (s *memoryStore) GetViewingKeys(pool zcash.Pool) (map[uint32][]byte, error) {
	return s.fvks[pool], nil
}

func (s *memoryStore) GetUnspentNullifiers(pool zcash.Pool) ([]model.ReceivedNote, error) {
	return s.notes[pool], nil
}

type replayStream struct {
	txs    [][]byte
	calls  int
	cancel context.CancelFunc
}

func (s *replayStream) MempoolStream(ctx context.Context, fn func(raw []byte) error) error {
	s.calls++
	for _, raw := range s.txs {
		if err := fn(raw); err != nil {
			return err
		}
	}
	if s.calls == 2 {
		s.cancel()
		return ctx.Err()
	}
	return nil
}

func TestMonitor(t *testing.T) {
	chain := chaintest.New(10, 11)
	sapling := chain.Keys(zcash.Sapling, 1)
	orchard := chain.Keys(zcash.Orchard, 1)
	spent := [32]byte{0xAB}

	newMonitor := func(t *testing.T) *mempool.Monitor {
		st := &memoryStore{
			fvks: map[zcash.Pool]map[uint32][]byte{
				zcash.Sapling: {1: sapling.Fvk.Bytes()},
				zcash.Orchard: {1: orchard.Fvk.Bytes()},
			},
			notes: map[zcash.Pool][]model.ReceivedNote{
				zcash.Sapling: {{ID: 4, Account: 1, Nf: spent[:], Value: 7000}},
			},
		}
		m := mempool.New(st, chain.Backend)
		require.NoError(t, m.Reset())
		return m
	}

	t.Run("should count notes paying an account", func(t *testing.T) {
		m := newMonitor(t)
		_, tx := chain.PayFull(zcash.Sapling, sapling.Address, 12000, "")
		require.NoError(t, m.ProcessTx(tx.Bytes()))
		assert.Equal(t, int64(12000), m.Balance(1))

		require.NoError(t, m.ProcessTx(tx.Bytes()))
		assert.Equal(t, int64(12000), m.Balance(1))

		_, otx := chain.PayFull(zcash.Orchard, orchard.Address, 3000, "")
		require.NoError(t, m.ProcessTx(otx.Bytes()))
		assert.Equal(t, int64(15000), m.Balance(1))
		assert.Len(t, m.Entries(1), 2)
		assert.Zero(t, m.Balance(2))
	})

	t.Run("should subtract spends of wallet notes", func(t *testing.T) {
		m := newMonitor(t)
		tx := zcash.NewTransaction(chain.Tip() + 40)
		tx.Sapling.Spends = []zcash.SaplingSpend{{Nullifier: spent}}
		tx.Sapling.ValueBalance = 7000
		require.NoError(t, m.ProcessTx(tx.Bytes()))
		assert.Equal(t, int64(-7000), m.Balance(1))
		entries := m.Entries(1)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(-7000), entries[0].Value)
	})

	t.Run("should ignore transactions of other wallets", func(t *testing.T) {
		m := newMonitor(t)
		stranger := chain.Keys(zcash.Sapling, 9)
		_, tx := chain.PayFull(zcash.Sapling, stranger.Address, 12000, "")
		require.NoError(t, m.ProcessTx(tx.Bytes()))
		assert.Zero(t, m.Balance(1))
		assert.Empty(t, m.Entries(1))
	})

	t.Run("should reject garbage", func(t *testing.T) {
		m := newMonitor(t)
		assert.Error(t, m.ProcessTx([]byte{1, 2, 3}))
	})

	t.Run("should clear the state when the stream restarts", func(t *testing.T) {
		m := newMonitor(t)
		_, tx := chain.PayFull(zcash.Sapling, sapling.Address, 12000, "")
		ctx, cancel := context.WithCancel(context.Background())
		stream := &replayStream{txs: [][]byte{tx.Bytes()}, cancel: cancel}
		err := m.Run(ctx, stream)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 2, stream.calls)
		assert.Equal(t, int64(12000), m.Balance(1))
	})
}
