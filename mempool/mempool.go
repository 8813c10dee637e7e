// Package mempool tracks the unconfirmed effect of mempool transactions on
// the wallet accounts.
package mempool

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/catalogfi/zwallet/crypto"
	"github.com/catalogfi/zwallet/decrypter"
	"github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/zcash"
	"github.com/pkg/errors"
	"github.com/zcash/lightwalletd/parser"
	"go.uber.org/zap"
)

var shieldedPools = []zcash.Pool{zcash.Sapling, zcash.Orchard}

type storage interface {
	GetViewingKeys(pool zcash.Pool) (map[uint32][]byte, error)
	GetUnspentNullifiers(pool zcash.Pool) ([]model.ReceivedNote, error)
}

// Stream delivers the raw transactions of the mempool. It returns when
// the server closes the stream, usually on a new block.
type Stream interface {
	MempoolStream(ctx context.Context, fn func(raw []byte) error) error
}

// Entry is the net effect of a mempool transaction on one account.
type Entry struct {
	Txid    chainhash.Hash
	Account uint32
	Value   int64
}

type Monitor struct {
	store   storage
	backend shielded.Backend
	retry   time.Duration
	logger  *zap.Logger

	mu         sync.RWMutex
	keys       map[zcash.Pool][]decrypter.ViewingKey
	nullifiers map[[32]byte]model.ReceivedNote
	txs        map[chainhash.Hash][]Entry
	balances   map[uint32]int64
}

func New(store storage, backend shielded.Backend) *Monitor {
	return &Monitor{
		store:    store,
		backend:  backend,
		retry:    5 * time.Second,
		logger:   zap.NewNop(),
		txs:      map[chainhash.Hash][]Entry{},
		balances: map[uint32]int64{},
	}
}

func (m *Monitor) SetLogger(logger *zap.Logger) *Monitor {
	m.logger = logger.Named("mempool")
	return m
}

// Reset forgets the tracked transactions and reloads the viewing keys and
// the unspent notes of the wallet.
func (m *Monitor) Reset() error {
	keys := map[zcash.Pool][]decrypter.ViewingKey{}
	nullifiers := map[[32]byte]model.ReceivedNote{}
	for _, pool := range shieldedPools {
		fvks, err := m.store.GetViewingKeys(pool)
		if err != nil {
			return err
		}
		for account, raw := range fvks {
			fvk, err := shielded.FullViewingKeyFromBytes(pool, raw)
			if err != nil {
				return err
			}
			keys[pool] = append(keys[pool], decrypter.ViewingKey{Account: account, Ivk: m.backend.IncomingViewingKey(fvk)})
		}
		notes, err := m.store.GetUnspentNullifiers(pool)
		if err != nil {
			return err
		}
		for _, n := range notes {
			var nf [32]byte
			copy(nf[:], n.Nf)
			nullifiers[nf] = n
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = keys
	m.nullifiers = nullifiers
	m.txs = map[chainhash.Hash][]Entry{}
	m.balances = map[uint32]int64{}
	return nil
}

// ProcessTx adds a raw mempool transaction. Notes paying the wallet count
// positively, spends of wallet notes negatively. Transactions already seen
// are ignored.
func (m *Monitor) ProcessTx(raw []byte) error {
	full, err := zcash.ParseTransaction(raw)
	if err != nil {
		return errors.Wrap(err, "decode mempool transaction")
	}
	txid := crypto.TxID(full)

	ptx := parser.NewTransaction()
	rest, err := ptx.ParseFromSlice(raw)
	if err != nil {
		return errors.Wrap(err, "parse mempool transaction")
	}
	if len(rest) != 0 {
		return errors.Errorf("mempool transaction %s has %d trailing bytes", txid, len(rest))
	}
	compact := ptx.ToCompact(0)
	compact.Hash = txid[:]

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		return errors.New("mempool monitor used before Reset")
	}
	if _, ok := m.txs[txid]; ok {
		return nil
	}

	values := map[uint32]int64{}
	for _, pool := range shieldedPools {
		for _, nf := range decrypter.CompactSpends(pool, compact) {
			if n, ok := m.nullifiers[nf]; ok {
				values[n.Account] -= int64(n.Value)
			}
		}
		d := decrypter.New(m.backend, pool, m.keys[pool], 1)
		notes, _ := d.DecryptTx(compact, 0)
		for _, n := range notes {
			values[n.Account] += int64(n.Note.Value)
		}
	}

	entries := make([]Entry, 0, len(values))
	for account, v := range values {
		entries = append(entries, Entry{Txid: txid, Account: account, Value: v})
		m.balances[account] += v
		m.logger.Info("unconfirmed transaction",
			zap.String("txid", txid.String()),
			zap.Uint32("account", account),
			zap.Int64("value", v))
	}
	m.txs[txid] = entries
	return nil
}

// Balance returns the unconfirmed change of the balance of account.
func (m *Monitor) Balance(account uint32) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[account]
}

// Entries lists the tracked effects on account.
func (m *Monitor) Entries(account uint32) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []Entry
	for _, es := range m.txs {
		for _, e := range es {
			if e.Account == account {
				entries = append(entries, e)
			}
		}
	}
	return entries
}

// Run follows the mempool until ctx is done. The state is reset every time
// the stream ends since the transactions it carried are now mined.
func (m *Monitor) Run(ctx context.Context, stream Stream) error {
	for {
		if err := m.Reset(); err != nil {
			return err
		}
		err := stream.MempoolStream(ctx, func(raw []byte) error {
			if err := m.ProcessTx(raw); err != nil {
				m.logger.Warn("skipping mempool transaction", zap.Error(err))
			}
			return nil
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			continue
		}
		m.logger.Error("mempool stream failed", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.retry):
		}
	}
}
