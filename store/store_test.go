package store_test

import (
	"testing"

	"github.com/catalogfi/zwallet/commitment"
	"github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/store"
	"github.com/catalogfi/zwallet/zcash"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Store Suite")
}

func newStorage() *store.Storage {
	db, err := store.Open(store.Config{Driver: "sqlite", DSN: ":memory:"})
	Expect(err).To(BeNil())
	return store.NewStorage(&zcash.RegTestParams, db)
}

var hasher = commitment.NewBlake2bHasher("Zwallet_Test", commitment.Node{1})

func treeOf(n int) *commitment.CTree {
	tree := &commitment.CTree{}
	for i := 0; i < n; i++ {
		Expect(tree.Append(hasher, commitment.Node{byte(i), 7})).To(Succeed())
	}
	return tree
}

// putCheckpoint stores a block with both trees at height.
func putCheckpoint(s *store.Storage, height uint32) {
	Expect(s.PutBlock(height, []byte{byte(height), byte(height >> 8)}, 1000+height)).To(Succeed())
	Expect(s.PutTree(zcash.Sapling, height, treeOf(2))).To(Succeed())
	Expect(s.PutTree(zcash.Orchard, height, treeOf(1))).To(Succeed())
}

func putNote(s *store.Storage, account uint32, height uint32, nf byte) uint {
	tx, err := s.PutTransaction(account, []byte{nf}, height, 0, uint32(nf))
	Expect(err).To(BeNil())
	id, err := s.PutReceivedNote(&model.ReceivedNote{
		Account:     account,
		Tx:          tx,
		Height:      height,
		Position:    uint64(nf),
		Diversifier: make([]byte, 11),
		Value:       1000 * uint64(nf),
		Rcm:         make([]byte, 32),
		Nf:          []byte{nf},
	})
	Expect(err).To(BeNil())
	Expect(s.AddValue(tx, int64(1000*uint64(nf)))).To(Succeed())
	return id
}

var _ = Describe("Storage", func() {
	var s *store.Storage

	BeforeEach(func() {
		s = newStorage()
	})

	Describe("migrations", func() {
		It("should bring a new database to the latest version", func() {
			v, err := model.SchemaVersionOf(s.DB())
			Expect(err).To(BeNil())
			Expect(v).To(Equal(uint32(model.LatestVersion)))
		})

		It("should be idempotent", func() {
			Expect(model.Migrate(s.DB())).To(Succeed())
			v, err := model.SchemaVersionOf(s.DB())
			Expect(err).To(BeNil())
			Expect(v).To(Equal(uint32(model.LatestVersion)))
		})

		It("should refuse a database from a newer version", func() {
			Expect(s.DB().Save(&model.SchemaVersion{ID: 1, Version: model.LatestVersion + 1}).Error).To(BeNil())
			Expect(model.Migrate(s.DB())).NotTo(Succeed())
		})
	})

	Describe("accounts", func() {
		It("should reject a second account with the same viewing key", func() {
			_, err := s.PutAccount(&model.Account{Name: "a", Fvk: []byte{1}, Address: "zregtestsapling1"})
			Expect(err).To(BeNil())
			_, err = s.PutAccount(&model.Account{Name: "b", Fvk: []byte{1}, Address: "zregtestsapling1"})
			Expect(err).To(Equal(store.ErrDuplicateAccount))
		})

		It("should remember the active account", func() {
			_, err := s.GetActiveAccount()
			Expect(err).To(Equal(store.ErrNoActiveAccount))
			id, err := s.PutAccount(&model.Account{Name: "a", Fvk: []byte{1}, Address: "zs"})
			Expect(err).To(BeNil())
			Expect(s.SetActiveAccount(id)).To(Succeed())
			active, err := s.GetActiveAccount()
			Expect(err).To(BeNil())
			Expect(active).To(Equal(id))
			Expect(s.SetActiveAccount(id + 1)).To(Equal(store.ErrAccountNotFound))
		})

		It("should list viewing keys per pool", func() {
			a, _ := s.PutAccount(&model.Account{Name: "a", Fvk: []byte{1}, Address: "zs"})
			b, _ := s.PutAccount(&model.Account{Name: "b", Fvk: []byte{2}, Address: "zs"})
			Expect(s.PutOrchardKey(b, nil, []byte{3})).To(Succeed())

			sapling, err := s.GetViewingKeys(zcash.Sapling)
			Expect(err).To(BeNil())
			Expect(sapling).To(HaveLen(2))
			orchard, err := s.GetViewingKeys(zcash.Orchard)
			Expect(err).To(BeNil())
			Expect(orchard).To(Equal(map[uint32][]byte{b: {3}}))
			Expect(orchard).NotTo(HaveKey(a))
		})

		It("should delete an account with its notes", func() {
			id, _ := s.PutAccount(&model.Account{Name: "a", Fvk: []byte{1}, Address: "zs"})
			putNote(s, id, 10, 1)
			Expect(s.DeleteAccount(id)).To(Succeed())
			notes, err := s.GetNotes(id)
			Expect(err).To(BeNil())
			Expect(notes).To(BeEmpty())
			Expect(s.DeleteAccount(id)).To(Equal(store.ErrAccountNotFound))
		})
	})

	Describe("transactions and notes", func() {
		It("should record a transaction once per account and position", func() {
			a, err := s.PutTransaction(1, []byte{9}, 10, 0, 3)
			Expect(err).To(BeNil())
			b, err := s.PutTransaction(1, []byte{9}, 10, 0, 3)
			Expect(err).To(BeNil())
			Expect(b).To(Equal(a))
			c, err := s.PutTransaction(2, []byte{9}, 10, 0, 3)
			Expect(err).To(BeNil())
			Expect(c).NotTo(Equal(a))

			Expect(s.AddValue(a, 500)).To(Succeed())
			Expect(s.AddValue(a, -200)).To(Succeed())
			txs, err := s.GetTransactions(1)
			Expect(err).To(BeNil())
			Expect(txs).To(HaveLen(1))
			Expect(txs[0].Value).To(Equal(int64(300)))
		})

		It("should keep one note per output", func() {
			first := putNote(s, 1, 10, 4)
			tx, _ := s.PutTransaction(1, []byte{4}, 10, 0, 4)
			again, err := s.PutReceivedNote(&model.ReceivedNote{
				Account: 1, Tx: tx, Height: 10, OutputIndex: 0,
				Diversifier: make([]byte, 11), Rcm: make([]byte, 32), Nf: []byte{4}, Value: 4000,
			})
			Expect(err).To(BeNil())
			Expect(again).To(Equal(first))
		})

		It("should select spendable notes with a witness at the checkpoint", func() {
			putCheckpoint(s, 10)
			spendable := putNote(s, 1, 10, 1)
			putNote(s, 1, 10, 2)
			excluded := putNote(s, 1, 10, 3)
			spent := putNote(s, 1, 10, 4)
			w := commitment.NewWitness(treeOf(3))
			for _, id := range []uint{spendable, excluded, spent} {
				Expect(s.PutWitness(zcash.Sapling, 10, id, w)).To(Succeed())
			}
			Expect(s.ExcludeNote(excluded, true)).To(Succeed())
			Expect(s.MarkSpent(spent, 11)).To(Succeed())

			notes, err := s.GetSpendableNotes(1, zcash.Sapling, 10)
			Expect(err).To(BeNil())
			Expect(notes).To(HaveLen(1))
			Expect(notes[0].ID).To(Equal(spendable))
			Expect(notes[0].Witness).To(Equal(w.Bytes()))

			nfs, err := s.GetUnspentNullifiers(zcash.Sapling)
			Expect(err).To(BeNil())
			Expect(nfs).To(HaveLen(3))
			orchard, err := s.GetUnspentNullifiers(zcash.Orchard)
			Expect(err).To(BeNil())
			Expect(orchard).To(BeEmpty())

			witnesses, err := s.GetWitnesses(zcash.Sapling, 10)
			Expect(err).To(BeNil())
			Expect(witnesses).To(HaveLen(2))
			Expect(witnesses).NotTo(HaveKey(spent))

			Expect(s.ExcludeNote(999, true)).To(Equal(store.ErrNoteNotFound))
		})

		It("should report balances", func() {
			putNote(s, 1, 10, 1)
			putNote(s, 1, 20, 2)
			spent := putNote(s, 1, 10, 3)
			Expect(s.MarkSpent(spent, 15)).To(Succeed())
			b, err := s.GetBalance(1, 15)
			Expect(err).To(BeNil())
			Expect(b.Total).To(Equal(uint64(3000)))
			Expect(b.Spendable).To(Equal(uint64(1000)))
			Expect(b.Sapling).To(Equal(uint64(3000)))
		})
	})

	Describe("checkpoints", func() {
		It("should fall back to the activation height", func() {
			h, err := s.GetLastSyncHeight()
			Expect(err).To(BeNil())
			Expect(h).To(Equal(zcash.RegTestParams.SaplingActivation))
			putCheckpoint(s, 100)
			h, err = s.GetLastSyncHeight()
			Expect(err).To(BeNil())
			Expect(h).To(Equal(uint32(100)))
		})

		It("should round trip trees", func() {
			putCheckpoint(s, 100)
			tree, err := s.GetTree(zcash.Sapling, 100)
			Expect(err).To(BeNil())
			Expect(tree.Root(hasher)).To(Equal(treeOf(2).Root(hasher)))
			_, err = s.GetTree(zcash.Sapling, 101)
			Expect(err).To(Equal(store.ErrTreeNotFound))
		})
	})

	Describe("rewind", func() {
		var early, late uint

		BeforeEach(func() {
			for _, h := range []uint32{100, 105, 110} {
				putCheckpoint(s, h)
			}
			early = putNote(s, 1, 101, 1)
			late = putNote(s, 1, 108, 2)
			Expect(s.PutWitness(zcash.Sapling, 105, early, commitment.NewWitness(treeOf(1)))).To(Succeed())
			Expect(s.PutWitness(zcash.Sapling, 110, early, commitment.NewWitness(treeOf(1)))).To(Succeed())
			Expect(s.MarkSpent(early, 109)).To(Succeed())
		})

		It("should snap to the closest checkpoint below", func() {
			h, err := s.Rewind(107)
			Expect(err).To(BeNil())
			Expect(h).To(Equal(uint32(105)))

			blocks, err := s.GetBlocks()
			Expect(err).To(BeNil())
			Expect(blocks).To(HaveLen(2))
			Expect(blocks[1].Height).To(Equal(uint32(105)))

			_, err = s.GetNote(late)
			Expect(err).To(Equal(store.ErrNoteNotFound))
			note, err := s.GetNote(early)
			Expect(err).To(BeNil())
			Expect(note.Spent).To(BeNil())

			_, err = s.GetWitness(zcash.Sapling, early, 110)
			Expect(err).To(Equal(store.ErrWitnessNotFound))
			_, err = s.GetWitness(zcash.Sapling, early, 105)
			Expect(err).To(BeNil())
		})

		It("should be idempotent", func() {
			h1, err := s.Rewind(107)
			Expect(err).To(BeNil())
			h2, err := s.Rewind(107)
			Expect(err).To(BeNil())
			Expect(h2).To(Equal(h1))
			blocks, _ := s.GetBlocks()
			Expect(blocks).To(HaveLen(2))
			notes, _ := s.GetNotes(1)
			Expect(notes).To(HaveLen(1))
		})

		It("should rewind to zero below the first checkpoint", func() {
			h, err := s.Rewind(50)
			Expect(err).To(BeNil())
			Expect(h).To(Equal(uint32(0)))
			blocks, _ := s.GetBlocks()
			Expect(blocks).To(BeEmpty())
		})
	})

	Describe("purge", func() {
		It("should keep the oldest checkpoint of each hour", func() {
			tip := uint32(10_000)
			for h := tip - 3*store.BlocksPerHour; h <= tip; h += 4 {
				putCheckpoint(s, h)
			}
			Expect(s.PurgeOldWitnesses(tip)).To(Succeed())

			blocks, err := s.GetBlocks()
			Expect(err).To(BeNil())
			var lastHour, secondHour, thirdHour []uint32
			for _, b := range blocks {
				switch {
				case b.Height >= tip-store.BlocksPerHour:
					lastHour = append(lastHour, b.Height)
				case b.Height >= tip-2*store.BlocksPerHour:
					secondHour = append(secondHour, b.Height)
				default:
					thirdHour = append(thirdHour, b.Height)
				}
			}
			Expect(lastHour).To(HaveLen(store.BlocksPerHour/4 + 1))
			Expect(secondHour).To(Equal([]uint32{tip - 2*store.BlocksPerHour}))
			Expect(thirdHour).To(Equal([]uint32{tip - 3*store.BlocksPerHour}))

			_, err = s.GetTree(zcash.Sapling, tip-2*store.BlocksPerHour+4)
			Expect(err).To(Equal(store.ErrTreeNotFound))
		})
	})
})
