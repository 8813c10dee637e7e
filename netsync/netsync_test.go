package netsync_test

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"

	"github.com/catalogfi/zwallet/chaintest"
	"github.com/catalogfi/zwallet/commitment"
	"github.com/catalogfi/zwallet/database"
	"github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/netsync"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/store"
	"github.com/catalogfi/zwallet/utils"
	"github.com/catalogfi/zwallet/zcash"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zcash/lightwalletd/walletrpc"
)

func TestNetsync(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Netsync Suite")
}

// memorySource serves a chaintest chain.
type memorySource struct {
	mu         sync.Mutex
	chain      *chaintest.Chain
	txs        map[string][]byte
	treeState  *walletrpc.TreeState
	rangeCalls int
	gate       chan struct{}
	entered    chan struct{}
}

func newMemorySource(chain *chaintest.Chain) *memorySource {
	return &memorySource{chain: chain, txs: map[string][]byte{}}
}

func (m *memorySource) LatestHeight(ctx context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chain.Tip(), nil
}

func (m *memorySource) GetBlock(ctx context.Context, height uint32) (*walletrpc.CompactBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if height+1 == m.chain.Start {
		return &walletrpc.CompactBlock{Height: uint64(height), Hash: m.chain.Blocks[0].PrevHash}, nil
	}
	b := m.chain.Block(height)
	if b == nil {
		return nil, fmt.Errorf("block %d not found", height)
	}
	return b, nil
}

func (m *memorySource) GetBlockRange(ctx context.Context, start, end uint32, fn func(*walletrpc.CompactBlock) error) error {
	m.mu.Lock()
	m.rangeCalls++
	gate, entered := m.gate, m.entered
	m.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	for h := start; h <= end; h++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := m.GetBlock(ctx, h)
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}

func (m *memorySource) GetTreeState(ctx context.Context, height uint32) (*walletrpc.TreeState, error) {
	if m.treeState == nil || uint32(m.treeState.Height) != height {
		return nil, fmt.Errorf("no tree state at %d", height)
	}
	return m.treeState, nil
}

func (m *memorySource) GetTransaction(ctx context.Context, txid []byte) ([]byte, error) {
	raw, ok := m.txs[hex.EncodeToString(txid)]
	if !ok {
		return nil, fmt.Errorf("transaction %x not found", txid)
	}
	return raw, nil
}

type memoryMirror struct {
	txs map[uint]model.Transaction
}

func (m *memoryMirror) PutTransactions(ctx context.Context, txs []model.Transaction) error {
	for _, tx := range txs {
		m.txs[tx.ID] = tx
	}
	return nil
}

func (m *memoryMirror) DeleteAbove(ctx context.Context, height uint32) error {
	for id, tx := range m.txs {
		if tx.Height > height {
			delete(m.txs, id)
		}
	}
	return nil
}

var _ = Describe("SyncManager", func() {
	var (
		ctx     context.Context
		chain   *chaintest.Chain
		source  *memorySource
		st      *store.Storage
		keys    shielded.Keys
		account uint32
		reg     *prometheus.Registry
		config  netsync.SyncConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		// regtest activates Sapling at 1, syncing starts right above it
		chain = chaintest.New(2, 7)
		source = newMemorySource(chain)
		db, err := store.Open(store.Config{Driver: "sqlite", DSN: ":memory:"})
		Expect(err).To(BeNil())
		st = store.NewStorage(&zcash.RegTestParams, db)
		keys = chain.Keys(zcash.Sapling, 3)
		account, err = st.PutAccount(&model.Account{Name: "bob", Fvk: keys.Fvk.Bytes(), Address: "zs"})
		Expect(err).To(BeNil())
		reg = prometheus.NewRegistry()
		config = netsync.SyncConfig{
			Source:       source,
			Store:        st,
			Backend:      chain.Backend,
			Metrics:      netsync.NewMetrics(reg),
			MaxBlocks:    2,
			RewindMargin: 1,
			Workers:      2,
		}
	})

	newManager := func() *netsync.SyncManager {
		m, err := netsync.NewSyncManager(config)
		Expect(err).To(BeNil())
		return m
	}

	balance := func() uint64 {
		b, err := st.GetBalance(account, ^uint32(0))
		Expect(err).To(BeNil())
		return b.Total
	}

	metric := func(name string) float64 {
		families, err := reg.Gather()
		Expect(err).To(BeNil())
		for _, f := range families {
			if f.GetName() == name {
				total := 0.0
				for _, m := range f.GetMetric() {
					if m.GetCounter() != nil {
						total += m.GetCounter().GetValue()
					}
					if m.GetGauge() != nil {
						total += m.GetGauge().GetValue()
					}
				}
				return total
			}
		}
		return 0
	}

	It("should sync to the tip", func() {
		chain.MineEmpty(2)
		chain.Mine(chain.Pay(zcash.Sapling, keys.Address, 30_000))
		chain.MineEmpty(3)
		m := newManager()
		h, err := m.Sync(ctx)
		Expect(err).To(BeNil())
		Expect(h).To(Equal(chain.Tip()))
		Expect(balance()).To(Equal(uint64(30_000)))
		Expect(metric("zwallet_synced_height")).To(Equal(float64(chain.Tip())))
		Expect(metric("zwallet_blocks_processed_total")).To(Equal(float64(len(chain.Blocks))))

		h, err = m.Sync(ctx)
		Expect(err).To(BeNil())
		Expect(h).To(Equal(chain.Tip()))
	})

	It("should recover from a reorganization", func() {
		chain.MineEmpty(3)
		chain.Mine(chain.Pay(zcash.Sapling, keys.Address, 10_000))
		chain.MineEmpty(3)
		chain.Mine(chain.Pay(zcash.Sapling, keys.Address, 20_000))
		chain.MineEmpty(2)
		tip := chain.Tip()
		m := newManager()
		_, err := m.Sync(ctx)
		Expect(err).To(BeNil())
		Expect(balance()).To(Equal(uint64(30_000)))

		// the block at tip-2 is replaced by one paying a different amount
		chain.Fork(tip - 3)
		chain.Mine(chain.Pay(zcash.Sapling, keys.Address, 25_000))
		chain.MineEmpty(2)
		Expect(chain.Tip()).To(Equal(tip))

		h, err := m.Sync(ctx)
		Expect(err).To(BeNil())
		Expect(h).To(Equal(tip))
		Expect(balance()).To(Equal(uint64(35_000)))
		Expect(metric("zwallet_reorgs_total")).To(BeNumerically(">=", 1))

		blocks, err := st.GetBlocks()
		Expect(err).To(BeNil())
		for _, b := range blocks {
			Expect(b.Hash).To(Equal(chain.Block(b.Height).Hash))
		}
	})

	It("should refuse a concurrent sync", func() {
		chain.MineEmpty(4)
		source.gate = make(chan struct{})
		source.entered = make(chan struct{})
		m := newManager()
		done := make(chan error)
		go func() {
			_, err := m.Sync(ctx)
			done <- err
		}()
		<-source.entered
		_, err := m.Sync(ctx)
		Expect(err).To(Equal(netsync.ErrBusy))
		close(source.gate)
		Expect(<-done).To(BeNil())
	})

	It("should not commit anything once cancelled", func() {
		chain.Mine(chain.Pay(zcash.Sapling, keys.Address, 1_000))
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := newManager().Sync(cctx)
		Expect(err).To(HaveOccurred())
		blocks, _ := st.GetBlocks()
		Expect(blocks).To(BeEmpty())
	})

	It("should rescan from the block cache", func() {
		db, err := database.NewMemLevelDB()
		Expect(err).To(BeNil())
		config.Cache = database.NewBlockCache(db)
		chain.Mine(chain.Pay(zcash.Sapling, keys.Address, 4_000))
		chain.MineEmpty(3)
		m := newManager()
		_, err = m.Sync(ctx)
		Expect(err).To(BeNil())
		calls := source.rangeCalls

		h, err := m.Rescan(ctx, 0)
		Expect(err).To(BeNil())
		Expect(h).To(Equal(chain.Tip()))
		Expect(source.rangeCalls).To(Equal(calls))
		Expect(balance()).To(Equal(uint64(4_000)))
	})

	It("should store memos and mirror the history", func() {
		mirror := &memoryMirror{txs: map[uint]model.Transaction{}}
		config.Mirror = mirror
		config.FetchMemos = true
		compact, tx := chain.PayFull(zcash.Sapling, keys.Address, 8_000, "thanks for lunch")
		source.txs[hex.EncodeToString(compact.Hash)] = tx.Bytes()
		chain.Mine(compact)
		_, err := newManager().Sync(ctx)
		Expect(err).To(BeNil())

		msgs, err := st.GetMessages(account)
		Expect(err).To(BeNil())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].Body).To(Equal("thanks for lunch"))
		txs, _ := st.GetTransactions(account)
		Expect(txs[0].Memo).To(Equal("thanks for lunch"))
		Expect(mirror.txs).To(HaveLen(1))
	})

	It("should start from the server tree state at the birth height", func() {
		start := uint32(500)
		chain = chaintest.New(start, 9)
		source = newMemorySource(chain)
		config.Source = source
		Expect(st.DeleteAccount(account)).To(Succeed())
		account, _ = st.PutAccount(&model.Account{Name: "carol", Fvk: keys.Fvk.Bytes(), Address: "zs", Birth: start})

		h := chain.Backend.Hasher(zcash.Sapling)
		tree := &commitment.CTree{}
		for i := 0; i < 37; i++ {
			Expect(tree.Append(h, commitment.Node{byte(i), 1})).To(Succeed())
		}
		chain.Mine(chain.Pay(zcash.Sapling, keys.Address, 9_000))
		source.treeState = &walletrpc.TreeState{
			Height:      uint64(start - 1),
			Hash:        utils.HashString(chain.Blocks[0].PrevHash),
			SaplingTree: hex.EncodeToString(tree.Bytes()),
		}

		_, err := newManager().Sync(ctx)
		Expect(err).To(BeNil())
		notes, err := st.GetNotes(account)
		Expect(err).To(BeNil())
		Expect(notes).To(HaveLen(1))
		Expect(notes[0].Position).To(Equal(uint64(37)))
	})
})
