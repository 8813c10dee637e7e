package planner_test

import (
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/catalogfi/zwallet/address"
	"github.com/catalogfi/zwallet/planner"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/zcash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var params = &zcash.RegTestParams

func shieldedAddr(seed byte) *shielded.PaymentAddress {
	a := shielded.PaymentAddress{}
	a.Diversifier[0] = seed
	a.PkD[0] = seed
	a.PkD[31] = 0x11
	return &a
}

func encode(t *testing.T, r *address.Receivers) string {
	s, err := address.Encode(params, r)
	require.NoError(t, err)
	return s
}

type addresses struct {
	sapling     string
	orchard     string
	transparent string
	dual        string
	change      string
	shielded    string
}

func newAddresses(t *testing.T) addresses {
	return addresses{
		sapling:     encode(t, &address.Receivers{Sapling: shieldedAddr(1)}),
		orchard:     encode(t, &address.Receivers{Orchard: shieldedAddr(2)}),
		transparent: encode(t, &address.Receivers{Transparent: &address.Transparent{Hash: [20]byte{3}}}),
		dual:        encode(t, &address.Receivers{Sapling: shieldedAddr(4), Orchard: shieldedAddr(5)}),
		change: encode(t, &address.Receivers{
			Transparent: &address.Transparent{Hash: [20]byte{6}},
			Sapling:     shieldedAddr(7),
			Orchard:     shieldedAddr(8),
		}),
		shielded: encode(t, &address.Receivers{Sapling: shieldedAddr(9), Orchard: shieldedAddr(10)}),
	}
}

func saplingNotes(amounts ...uint64) []planner.UTXO {
	utxos := make([]planner.UTXO, len(amounts))
	for i, a := range amounts {
		utxos[i] = planner.UTXO{Source: planner.SaplingSource{NoteID: uint(i + 1), Rseed: [32]byte{byte(i)}}, Amount: a}
	}
	return utxos
}

func orchardNote(id uint, amount uint64) planner.UTXO {
	return planner.UTXO{Source: planner.OrchardSource{NoteID: id, Rho: [32]byte{byte(id)}}, Amount: amount}
}

func transparentCoin(index uint32, amount uint64) planner.UTXO {
	return planner.UTXO{Source: planner.TransparentSource{Txid: chainhash.Hash{1}, Index: index, Script: []byte{0x76, 0xa9}}, Amount: amount}
}

func newPlanner(t *testing.T, change string, policy planner.PrivacyPolicy) *planner.Planner {
	p, err := planner.New(params, planner.Config{ChangeAddress: change, Policy: policy})
	require.NoError(t, err)
	return p
}

func pay(t *testing.T, p *planner.Planner, utxos []planner.UTXO, recipients ...planner.Recipient) (*planner.TransactionPlan, error) {
	return p.PrepareMultiPayment(planner.Request{AnchorHeight: 100, ExpiryHeight: 140, UTXOs: utxos}, recipients)
}

func assertBalanced(t *testing.T, plan *planner.TransactionPlan) {
	var out uint64
	for _, f := range plan.Outputs {
		out += f.Amount
	}
	assert.Equal(t, plan.Total(), out+plan.Fee)
}

func changeOf(plan *planner.TransactionPlan) []planner.Fill {
	var change []planner.Fill
	for _, f := range plan.Outputs {
		if f.IsChange() {
			change = append(change, f)
		}
	}
	return change
}

func TestPlan(t *testing.T) {
	addrs := newAddresses(t)

	t.Run("should report the missing fee when the notes cannot cover it", func(t *testing.T) {
		p := newPlanner(t, addrs.change, planner.AnyPool)
		_, err := pay(t, p, saplingNotes(20000, 20000, 20000), planner.Recipient{Address: addrs.sapling, Amount: 50000})
		var nef *planner.NotEnoughFundsError
		require.True(t, errors.As(err, &nef), "got %v", err)
		assert.Equal(t, uint64(5000), nef.Missing)
	})

	t.Run("should converge on the fee of the selected notes", func(t *testing.T) {
		p := newPlanner(t, addrs.change, planner.AnyPool)
		plan, err := pay(t, p, saplingNotes(20000, 20000, 20000, 20000), planner.Recipient{Address: addrs.sapling, Amount: 50000})
		require.NoError(t, err)
		assert.Len(t, plan.Spends, 4)
		assert.Len(t, plan.Outputs, 2)
		assert.Equal(t, uint64(20000), plan.Fee)
		change := changeOf(plan)
		require.Len(t, change, 1)
		assert.Equal(t, zcash.Sapling, change[0].Destination.Pool())
		assert.Equal(t, uint64(10000), change[0].Amount)
		assert.Equal(t, [2]int64{-20000, 0}, plan.NetChange)
		assert.Equal(t, uint32(140), plan.ExpiryHeight)
		assertBalanced(t, plan)
	})

	t.Run("should pay a unified address from the pool holding the funds", func(t *testing.T) {
		p := newPlanner(t, addrs.change, planner.SamePoolTypeOnly)
		plan, err := pay(t, p, []planner.UTXO{orchardNote(1, 100000)}, planner.Recipient{Address: addrs.dual, Amount: 40000})
		require.NoError(t, err)
		require.Len(t, plan.Outputs, 2)
		assert.Equal(t, zcash.Orchard, plan.Outputs[0].Destination.Pool())
		assert.Equal(t, uint64(40000), plan.Outputs[0].Amount)
		assert.False(t, plan.Outputs[0].IsChange())
		assert.Equal(t, zcash.Orchard, plan.Outputs[1].Destination.Pool())
		assert.Equal(t, uint64(50000), plan.Outputs[1].Amount)
		assert.True(t, plan.Outputs[1].IsChange())
		assert.Equal(t, uint64(10000), plan.Fee)
		assert.Equal(t, [2]int64{0, -10000}, plan.NetChange)
		assertBalanced(t, plan)
	})

	t.Run("should include the estimated fee in the missing amount", func(t *testing.T) {
		p := newPlanner(t, addrs.change, planner.AnyPool)
		_, err := pay(t, p, saplingNotes(50000), planner.Recipient{Address: addrs.sapling, Amount: 100000})
		var nef *planner.NotEnoughFundsError
		require.True(t, errors.As(err, &nef), "got %v", err)
		assert.Equal(t, uint64(60000), nef.Missing)
	})

	t.Run("should take the fee from the recipient that includes it", func(t *testing.T) {
		p := newPlanner(t, addrs.change, planner.AnyPool)
		plan, err := pay(t, p, saplingNotes(100000), planner.Recipient{Address: addrs.sapling, Amount: 30000, FeeIncluded: true})
		require.NoError(t, err)
		assert.Equal(t, uint64(10000), plan.Fee)
		require.Len(t, plan.Outputs, 2)
		assert.Equal(t, uint64(20000), plan.Outputs[0].Amount)
		assert.Equal(t, uint64(70000), plan.Outputs[1].Amount)
		assertBalanced(t, plan)
	})

	t.Run("should reject two recipients including the fee", func(t *testing.T) {
		p := newPlanner(t, addrs.change, planner.AnyPool)
		_, err := pay(t, p, saplingNotes(100000),
			planner.Recipient{Address: addrs.sapling, Amount: 10000, FeeIncluded: true},
			planner.Recipient{Address: addrs.orchard, Amount: 10000, FeeIncluded: true})
		assert.ErrorIs(t, err, planner.ErrDuplicateRecipientFee)
	})

	t.Run("should keep the address error behind an invalid change address", func(t *testing.T) {
		_, err := planner.New(params, planner.Config{ChangeAddress: "not an address"})
		require.Error(t, err)
		assert.ErrorIs(t, err, address.ErrInvalidAddress)
		assert.Contains(t, err.Error(), "change address")

		_, err = planner.ParsePrivacyPolicy("everything")
		assert.Error(t, err)
	})

	t.Run("should reject a payment without recipients", func(t *testing.T) {
		p := newPlanner(t, addrs.change, planner.AnyPool)
		_, err := p.Plan(&planner.Request{UTXOs: saplingNotes(1000)})
		assert.ErrorIs(t, err, planner.ErrNoOrders)
	})

	t.Run("should keep shielded pools apart under the same pool policy", func(t *testing.T) {
		p := newPlanner(t, addrs.change, planner.SamePoolOnly)
		_, err := pay(t, p, saplingNotes(100000), planner.Recipient{Address: addrs.orchard, Amount: 10000})
		assert.ErrorIs(t, err, planner.ErrPrivacyPolicy)
	})

	t.Run("should let sapling pay orchard under the same pool type policy", func(t *testing.T) {
		p := newPlanner(t, addrs.change, planner.SamePoolTypeOnly)
		plan, err := pay(t, p, saplingNotes(100000), planner.Recipient{Address: addrs.orchard, Amount: 10000})
		require.NoError(t, err)
		assert.Equal(t, zcash.Orchard, plan.Outputs[0].Destination.Pool())
		assert.Equal(t, int64(10000), plan.NetChange[1])
		assertBalanced(t, plan)
	})

	t.Run("should refuse to unshield under the same pool type policy", func(t *testing.T) {
		p := newPlanner(t, addrs.change, planner.SamePoolTypeOnly)
		_, err := pay(t, p, saplingNotes(100000), planner.Recipient{Address: addrs.transparent, Amount: 10000})
		assert.ErrorIs(t, err, planner.ErrPrivacyPolicy)
	})

	t.Run("should route transparent change to a shielded receiver when allowed", func(t *testing.T) {
		p := newPlanner(t, addrs.shielded, planner.AnyPool)
		plan, err := pay(t, p, []planner.UTXO{transparentCoin(0, 50000)}, planner.Recipient{Address: addrs.transparent, Amount: 20000})
		require.NoError(t, err)
		assert.Equal(t, uint64(15000), plan.Fee)
		change := changeOf(plan)
		require.Len(t, change, 1)
		assert.Equal(t, zcash.Orchard, change[0].Destination.Pool())
		assert.Equal(t, uint64(15000), change[0].Amount)
		assert.Equal(t, [2]int64{0, 15000}, plan.NetChange)
		assertBalanced(t, plan)
	})

	t.Run("should fail without a change receiver the policy allows", func(t *testing.T) {
		p := newPlanner(t, addrs.shielded, planner.SamePoolTypeOnly)
		_, err := pay(t, p, []planner.UTXO{transparentCoin(0, 50000)}, planner.Recipient{Address: addrs.transparent, Amount: 20000})
		assert.ErrorIs(t, err, planner.ErrNoChangeAddress)
	})

	t.Run("should charge a flat fee when configured", func(t *testing.T) {
		p, err := planner.New(params, planner.Config{ChangeAddress: addrs.change, FeeRule: planner.FlatFee{}})
		require.NoError(t, err)
		plan, err := pay(t, p, saplingNotes(20000, 20000), planner.Recipient{Address: addrs.sapling, Amount: 30000})
		require.NoError(t, err)
		assert.Equal(t, uint64(planner.DefaultFlatFee), plan.Fee)
		assertBalanced(t, plan)
	})

	t.Run("should send the whole balance minus the fee", func(t *testing.T) {
		p := newPlanner(t, addrs.change, planner.AnyPool)
		plan, err := p.PlanMax(planner.Request{UTXOs: saplingNotes(20000, 20000, 20000)}, planner.Recipient{Address: addrs.sapling})
		require.NoError(t, err)
		require.Len(t, plan.Outputs, 1)
		assert.Equal(t, uint64(45000), plan.Outputs[0].Amount)
		assert.Equal(t, uint64(15000), plan.Fee)
		assertBalanced(t, plan)
	})

	t.Run("should skip excluded pools", func(t *testing.T) {
		utxos := append(saplingNotes(1000), orchardNote(9, 2000), transparentCoin(1, 3000))
		kept := planner.ExcludePools(utxos, 1<<zcash.Orchard|1<<zcash.Transparent)
		require.Len(t, kept, 1)
		assert.Equal(t, zcash.Sapling, kept[0].Pool())
		assert.Len(t, utxos, 3)
	})

	t.Run("should round trip a plan through json", func(t *testing.T) {
		p := newPlanner(t, addrs.change, planner.AnyPool)
		utxos := append(saplingNotes(60000), orchardNote(2, 30000), transparentCoin(3, 40000))
		plan, err := pay(t, p, utxos,
			planner.Recipient{Address: addrs.transparent, Amount: 35000, Memo: "ignored"},
			planner.Recipient{Address: addrs.dual, Amount: 50000, Memo: "rent"})
		require.NoError(t, err)
		assertBalanced(t, plan)

		b, err := json.Marshal(plan)
		require.NoError(t, err)
		var decoded planner.TransactionPlan
		require.NoError(t, json.Unmarshal(b, &decoded))
		assert.Equal(t, *plan, decoded)
	})
}

func assertNetChange(t *testing.T, plan *planner.TransactionPlan) {
	var chg [2]int64
	for _, u := range plan.Spends {
		if pool := u.Pool(); pool.Shielded() {
			chg[pool-zcash.Sapling] -= int64(u.Amount)
		}
	}
	for _, f := range plan.Outputs {
		if pool := f.Destination.Pool(); pool.Shielded() {
			chg[pool-zcash.Sapling] += int64(f.Amount)
		}
	}
	assert.Equal(t, chg, plan.NetChange)
}

func randomUTXO(r *rand.Rand, id int) planner.UTXO {
	amount := uint64(20000 + r.Intn(130000))
	switch zcash.Pool(r.Intn(3)) {
	case zcash.Transparent:
		return planner.UTXO{Source: planner.TransparentSource{Txid: chainhash.Hash{byte(id)}, Index: uint32(id), Script: []byte{0x76, 0xa9}}, Amount: amount}
	case zcash.Sapling:
		return planner.UTXO{Source: planner.SaplingSource{NoteID: uint(id), Rseed: [32]byte{byte(id)}}, Amount: amount}
	}
	return orchardNote(uint(id), amount)
}

func TestPlanRandomPayments(t *testing.T) {
	addrs := newAddresses(t)
	destinations := []string{addrs.sapling, addrs.orchard, addrs.transparent, addrs.dual}

	t.Run("should settle on a fee when a dual pool recipient flips pools", func(t *testing.T) {
		p := newPlanner(t, addrs.change, planner.AnyPool)
		utxos := []planner.UTXO{
			{Source: planner.SaplingSource{NoteID: 1, Rseed: [32]byte{1}}, Amount: 139024},
			transparentCoin(2, 74724),
			orchardNote(3, 40836),
			{Source: planner.SaplingSource{NoteID: 4, Rseed: [32]byte{4}}, Amount: 28909},
		}
		plan, err := pay(t, p, utxos,
			planner.Recipient{Address: addrs.transparent, Amount: 40376},
			planner.Recipient{Address: addrs.dual, Amount: 25431})
		require.NoError(t, err)
		assertBalanced(t, plan)
		assertNetChange(t, plan)
		assert.GreaterOrEqual(t, plan.Fee, planner.ZIP317{}.Fee(plan.Spends, plan.Outputs))
	})

	t.Run("should balance every plan of a well funded wallet", func(t *testing.T) {
		r := rand.New(rand.NewSource(317))
		p := newPlanner(t, addrs.change, planner.AnyPool)
		for i := 0; i < 500; i++ {
			utxos := make([]planner.UTXO, 1+r.Intn(5))
			var total uint64
			for j := range utxos {
				utxos[j] = randomUTXO(r, j+1)
				total += utxos[j].Amount
			}
			recipients := make([]planner.Recipient, 1+r.Intn(2))
			var requested uint64
			for j := range recipients {
				recipients[j] = planner.Recipient{
					Address: destinations[r.Intn(len(destinations))],
					Amount:  uint64(1000 + r.Intn(50000)),
				}
				requested += recipients[j].Amount
			}
			if total < requested+100000 {
				continue
			}

			plan, err := pay(t, p, utxos, recipients...)
			require.NoError(t, err, "utxos %v recipients %v", utxos, recipients)
			assertBalanced(t, plan)
			assertNetChange(t, plan)
			assert.GreaterOrEqual(t, plan.Fee, planner.ZIP317{}.Fee(plan.Spends, plan.Outputs))

			paid := make([]uint64, len(recipients))
			for _, f := range plan.Outputs {
				if !f.IsChange() {
					paid[*f.OrderID] += f.Amount
				}
			}
			for j := range recipients {
				assert.Equal(t, recipients[j].Amount, paid[j])
			}
		}
	})
}

func TestPrepareOrders(t *testing.T) {
	addrs := newAddresses(t)

	t.Run("should split a payment by the maximum amount per note", func(t *testing.T) {
		orders, err := planner.PrepareOrders(params, []planner.Recipient{
			{Address: addrs.sapling, Amount: 25000, MaxAmountPerNote: 10000, FeeIncluded: true},
			{Address: addrs.orchard, Amount: 1000},
		})
		require.NoError(t, err)
		require.Len(t, orders, 4)
		amounts := []uint64{10000, 10000, 5000, 1000}
		for i, o := range orders {
			assert.Equal(t, uint32(i), o.ID)
			assert.Equal(t, amounts[i], o.Amount)
		}
		assert.False(t, orders[0].TakeFee)
		assert.True(t, orders[2].TakeFee)
		assert.False(t, orders[3].TakeFee)
	})

	t.Run("should reject an invalid address", func(t *testing.T) {
		_, err := planner.PrepareOrders(params, []planner.Recipient{{Address: "not an address", Amount: 1}})
		assert.Error(t, err)
	})

	t.Run("should encode memos", func(t *testing.T) {
		m, err := planner.EncodeMemo("")
		require.NoError(t, err)
		assert.Equal(t, byte(0xF6), m[0])

		m, err = planner.EncodeMemo("hi")
		require.NoError(t, err)
		assert.Equal(t, []byte("hi"), m[:2])
		assert.Equal(t, byte(0), m[2])

		_, err = planner.EncodeMemo(string(make([]byte, 513)))
		assert.ErrorIs(t, err, planner.ErrMemoTooLong)
		_, err = planner.EncodeMemo("\xff\xfe")
		assert.ErrorIs(t, err, planner.ErrInvalidMemo)
	})
}

func TestZIP317(t *testing.T) {
	dest := planner.SaplingDestination{Address: *shieldedAddr(1)}
	tdest := planner.TransparentDestination{Hash: [20]byte{1}}

	t.Run("should charge the grace actions for a small shielded transfer", func(t *testing.T) {
		fee := planner.ZIP317{}.Fee(saplingNotes(1), []planner.Fill{{Destination: dest}})
		assert.Equal(t, uint64(10000), fee)
	})

	t.Run("should charge per transparent input", func(t *testing.T) {
		inputs := []planner.UTXO{transparentCoin(0, 1), transparentCoin(1, 1), transparentCoin(2, 1)}
		fee := planner.ZIP317{}.Fee(inputs, []planner.Fill{{Destination: tdest}})
		assert.Equal(t, uint64(15000), fee)
	})

	t.Run("should charge the larger side of each pool", func(t *testing.T) {
		outputs := make([]planner.Fill, 5)
		for i := range outputs {
			outputs[i].Destination = dest
		}
		fee := planner.ZIP317{}.Fee(saplingNotes(1, 1), outputs)
		assert.Equal(t, uint64(25000), fee)
	})
}
