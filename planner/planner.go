package planner

import (
	"fmt"
	"math"

	"github.com/catalogfi/zwallet/zcash"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// MaxAttempts bounds the fee iterations of a plan.
const MaxAttempts = 10

// PrivacyPolicy restricts the value flows between pools. The zero value
// allows every flow.
type PrivacyPolicy uint8

const (
	AnyPool PrivacyPolicy = iota
	// SamePoolTypeOnly allows Sapling and Orchard to pay each other but
	// keeps transparent and shielded funds apart.
	SamePoolTypeOnly
	SamePoolOnly
)

func (p PrivacyPolicy) String() string {
	switch p {
	case AnyPool:
		return "any_pool"
	case SamePoolTypeOnly:
		return "same_pool_type_only"
	case SamePoolOnly:
		return "same_pool_only"
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

// ParsePrivacyPolicy parses the names returned by PrivacyPolicy.String.
func ParsePrivacyPolicy(s string) (PrivacyPolicy, error) {
	for _, p := range []PrivacyPolicy{AnyPool, SamePoolTypeOnly, SamePoolOnly} {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, errors.Errorf("unknown privacy policy %q", s)
}

func (p PrivacyPolicy) allows(from, to zcash.Pool) bool {
	switch {
	case from == to:
		return true
	case p == AnyPool:
		return true
	case p == SamePoolTypeOnly:
		return from.Shielded() && to.Shielded()
	}
	return false
}

// Precedence orders the pools from most to least preferred.
type Precedence [3]zcash.Pool

var DefaultPrecedence = Precedence{zcash.Orchard, zcash.Sapling, zcash.Transparent}

func (p Precedence) valid() bool {
	var seen [3]bool
	for _, pool := range p {
		if int(pool) >= len(seen) || seen[pool] {
			return false
		}
		seen[pool] = true
	}
	return true
}

type Config struct {
	// ChangeAddress receives the change. It is usually the unified address
	// of the account with all its receivers.
	ChangeAddress string
	Policy        PrivacyPolicy
	// Precedence defaults to DefaultPrecedence.
	Precedence Precedence
	// FeeRule defaults to ZIP317.
	FeeRule FeeRule
}

// Request is the input of a plan. UTXOs must already exclude immature,
// spent and user excluded inputs; they are consumed in slice order.
type Request struct {
	AccountAddress string
	AnchorHeight   uint32
	ExpiryHeight   uint32
	OrchardAnchor  [32]byte
	UTXOs          []UTXO
	Orders         []Order
}

type Planner struct {
	params *zcash.Params
	config Config
	change [3]Destination
	logger *zap.Logger
}

func New(params *zcash.Params, config Config) (*Planner, error) {
	if config.Precedence == (Precedence{}) {
		config.Precedence = DefaultPrecedence
	}
	if !config.Precedence.valid() {
		return nil, errors.Errorf("invalid pool precedence %v", config.Precedence)
	}
	if config.FeeRule == nil {
		config.FeeRule = ZIP317{}
	}
	change, err := Destinations(params, config.ChangeAddress)
	if err != nil {
		return nil, errors.Wrap(err, "change address")
	}
	return &Planner{params: params, config: config, change: change, logger: zap.NewNop()}, nil
}

func (p *Planner) SetLogger(logger *zap.Logger) *Planner {
	p.logger = logger.Named("planner")
	return p
}

// poolAmounts holds one amount per pool, indexed by zcash.Pool.
type poolAmounts [3]uint64

func (a poolAmounts) total() uint64 {
	return a[0] + a[1] + a[2]
}

func sumUTXOs(utxos []UTXO) poolAmounts {
	var sum poolAmounts
	for i := range utxos {
		sum[utxos[i].Pool()] += utxos[i].Amount
	}
	return sum
}

const (
	maskT  = 1 << zcash.Transparent
	maskS  = 1 << zcash.Sapling
	maskO  = 1 << zcash.Orchard
	maskSO = maskS | maskO
)

type orderGroup struct {
	mask   uint8
	amount uint64
}

// groupAmounts sums the orders by the pools they can be paid in. X is
// payable in either shielded pool.
type groupAmounts struct {
	T0, S0, O0, X, Fee uint64
}

type allocation struct {
	// S1 and O1 split X between the shielded pools.
	S1, O1 uint64
	// T2, S2 and O2 are the inputs taken from each pool.
	T2, S2, O2 uint64
}

// groupOrders classifies the orders. Transparent receivers are only used
// when the address has nothing else. An order payable in both shielded
// pools is narrowed to the first pool by precedence that covers it alone.
func (p *Planner) groupOrders(orders []Order, balances poolAmounts, fee uint64) ([]orderGroup, groupAmounts, error) {
	groups := make([]orderGroup, len(orders))
	amounts := groupAmounts{Fee: fee}
	for i := range orders {
		o := &orders[i]
		amount, err := o.amount(fee)
		if err != nil {
			return nil, amounts, err
		}
		mask := o.mask()
		if mask != maskT {
			mask &= maskSO
		}
		if mask == maskSO {
			mask = p.narrow(amount+fee, balances)
		}
		groups[i] = orderGroup{mask: mask, amount: amount}
		switch mask {
		case maskT:
			amounts.T0 += amount
		case maskS:
			amounts.S0 += amount
		case maskO:
			amounts.O0 += amount
		case maskSO:
			amounts.X += amount
		default:
			return nil, amounts, ErrNoDestination
		}
	}
	return groups, amounts, nil
}

func (p *Planner) narrow(needed uint64, balances poolAmounts) uint8 {
	for _, pool := range p.config.Precedence {
		if pool.Shielded() && balances[pool] >= needed {
			return 1 << pool
		}
	}
	if p.config.Policy != AnyPool {
		var funded uint8
		if balances[zcash.Sapling] > 0 {
			funded |= maskS
		}
		if balances[zcash.Orchard] > 0 {
			funded |= maskO
		}
		if funded != 0 {
			return funded
		}
	}
	return maskSO
}

// shieldedChange splits the fee and the part of the transparent orders not
// paid by transparent inputs between the shielded pools.
func shieldedChange(t0, s0, o0, x, t2, fee int64) (int64, int64) {
	switch {
	case x == 0 && s0 == 0:
		return 0, t0 + fee - t2
	case x == 0 && o0 == 0:
		return t0 + fee - t2, 0
	}
	ds := (t0 - t2 + fee) / 2
	return ds, t0 + fee - t2 - ds
}

// allocateFunds decides how much each pool contributes. Shielded funds are
// used before transparent ones.
func allocateFunds(a groupAmounts, balances poolAmounts) (allocation, error) {
	t0, s0, o0, x, fee := int64(a.T0), int64(a.S0), int64(a.O0), int64(a.X), int64(a.Fee)
	tmax, smax, omax := int64(balances[0]), int64(balances[1]), int64(balances[2])
	sum := t0 + s0 + o0 + x + fee

	var s1, o1, s2, o2 int64
	t2 := sum - smax - omax
	if t2 > 0 {
		if t2 > tmax {
			return allocation{}, &NotEnoughFundsError{Missing: uint64(t2 - tmax)}
		}
		s2, o2 = smax, omax
		ds, do := shieldedChange(t0, s0, o0, x, t2, fee)
		s1 = s2 - ds - s0
		o1 = o2 - do - o0
	} else {
		t2 = 0
		ds, do := shieldedChange(t0, s0, o0, x, t2, fee)
		s2 = sum / 2
		o2 = sum - s2
		s1 = s2 - ds - s0
		o1 = o2 - do - o0
		switch {
		case s1 < 0:
			s1, o1 = 0, x
			s2 = s0 + ds
			o2 = o0 + do + x
		case o1 < 0:
			o1, s1 = 0, x
			o2 = o0 + do
			s2 = s0 + ds + x
		}
		if s2 > smax {
			s2 = smax
			o2 = sum - s2
			s1 = s2 - ds - s0
			o1 = x - s1
		}
		if o2 > omax {
			o2 = omax
			s2 = sum - o2
			o1 = o2 - do - o0
			s1 = x - o1
		}
	}
	switch {
	case s1 < 0:
		s1, o1 = 0, x
	case o1 < 0:
		o1, s1 = 0, x
	}

	if s2 < 0 || o2 < 0 || s2 > smax || o2 > omax || t2+s2+o2 != sum || s1+o1 != x {
		return allocation{}, errors.Errorf("inconsistent allocation t2=%d s2=%d o2=%d s1=%d o1=%d", t2, s2, o2, s1, o1)
	}
	return allocation{S1: uint64(s1), O1: uint64(o1), T2: uint64(t2), S2: uint64(s2), O2: uint64(o2)}, nil
}

// checkPolicy rejects an allocation moving value between pools the policy
// keeps apart. Paying the fee from any pool is allowed.
func (p *Planner) checkPolicy(a groupAmounts, alloc allocation) error {
	if p.config.Policy == AnyPool {
		return nil
	}
	outT, outS, outO := a.T0, a.S0+alloc.S1, a.O0+alloc.O1
	if outT > alloc.T2 || alloc.T2 > outT+a.Fee {
		return ErrPrivacyPolicy
	}
	if p.config.Policy == SamePoolOnly && (outS > alloc.S2 || outO > alloc.O2) {
		return ErrPrivacyPolicy
	}
	return nil
}

// fill turns the orders into outputs. Orders payable in both shielded pools
// are split in the ratio of the allocation.
func fill(orders []Order, groups []orderGroup, a groupAmounts, alloc allocation) []Fill {
	ratio := 0.0
	if a.X != 0 {
		ratio = float64(alloc.S1) / float64(a.X)
	}
	var fills []Fill
	for i := range orders {
		o, g := &orders[i], groups[i]
		id := o.ID
		push := func(pool zcash.Pool, amount uint64) {
			if amount == 0 && g.mask == maskSO {
				return
			}
			fills = append(fills, Fill{OrderID: &id, Destination: o.Destinations[pool], Amount: amount, Memo: o.Memo})
		}
		switch g.mask {
		case maskT:
			push(zcash.Transparent, g.amount)
		case maskS:
			push(zcash.Sapling, g.amount)
		case maskO:
			push(zcash.Orchard, g.amount)
		case maskSO:
			s := uint64(math.Round(float64(g.amount) * ratio))
			if s > g.amount {
				s = g.amount
			}
			push(zcash.Sapling, s)
			push(zcash.Orchard, g.amount-s)
		}
	}
	return fills
}

// selectInputs takes utxos in order until each pool allocation is covered.
// The excess of each pool is returned as change.
func selectInputs(utxos []UTXO, alloc allocation) ([]UTXO, poolAmounts) {
	needed := poolAmounts{alloc.T2, alloc.S2, alloc.O2}
	var change poolAmounts
	var inputs []UTXO
	for _, u := range utxos {
		pool := u.Pool()
		if needed[pool] == 0 {
			continue
		}
		a := u.Amount
		if a > needed[pool] {
			a = needed[pool]
		}
		inputs = append(inputs, u)
		needed[pool] -= a
		change[pool] += u.Amount - a
	}
	return inputs, change
}

var emptyMemo = Memo{0xF6}

// outputsForChange returns the change outputs. Change goes back to its own
// pool when the change address has a receiver there, or else to the first
// pool by precedence the policy allows.
func (p *Planner) outputsForChange(change poolAmounts) ([]Fill, error) {
	var to poolAmounts
	for _, from := range zcash.Pools {
		if change[from] == 0 {
			continue
		}
		if p.change[from] != nil {
			to[from] += change[from]
			continue
		}
		routed := false
		for _, pool := range p.config.Precedence {
			if p.change[pool] != nil && p.config.Policy.allows(from, pool) {
				to[pool] += change[from]
				routed = true
				break
			}
		}
		if !routed {
			return nil, ErrNoChangeAddress
		}
	}
	var fills []Fill
	for _, pool := range zcash.Pools {
		if to[pool] != 0 {
			fills = append(fills, Fill{Destination: p.change[pool], Amount: to[pool], Memo: emptyMemo})
		}
	}
	return fills, nil
}

func netChange(inputs []UTXO, outputs []Fill) [2]int64 {
	var chg [2]int64
	for i := range outputs {
		if pool := outputs[i].Destination.Pool(); pool.Shielded() {
			chg[pool-zcash.Sapling] += int64(outputs[i].Amount)
		}
	}
	for i := range inputs {
		if pool := inputs[i].Pool(); pool.Shielded() {
			chg[pool-zcash.Sapling] -= int64(inputs[i].Amount)
		}
	}
	return chg
}

// Plan selects the inputs and outputs paying the orders of req. The fee is
// recomputed from the selection until the rule asks for no more than the
// fee the selection was made with.
func (p *Planner) Plan(req *Request) (*TransactionPlan, error) {
	if len(req.Orders) == 0 {
		return nil, ErrNoOrders
	}
	balances := sumUTXOs(req.UTXOs)
	var fee uint64
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		groups, amounts, err := p.groupOrders(req.Orders, balances, fee)
		if err != nil {
			return nil, err
		}
		alloc, err := allocateFunds(amounts, balances)
		if err != nil {
			var nef *NotEnoughFundsError
			if errors.As(err, &nef) {
				nef.Missing += p.feeShortfall(req, groups, fee)
			}
			return nil, err
		}
		if err := p.checkPolicy(amounts, alloc); err != nil {
			return nil, err
		}
		fills := fill(req.Orders, groups, amounts, alloc)
		inputs, change := selectInputs(req.UTXOs, alloc)
		changeFills, err := p.outputsForChange(change)
		if err != nil {
			return nil, err
		}
		fills = append(fills, changeFills...)

		// fee never decreases between attempts.
		updated := p.config.FeeRule.Fee(inputs, fills)
		if updated <= fee {
			plan := &TransactionPlan{
				AccountAddress: req.AccountAddress,
				AnchorHeight:   req.AnchorHeight,
				ExpiryHeight:   req.ExpiryHeight,
				OrchardAnchor:  req.OrchardAnchor,
				Spends:         inputs,
				Outputs:        fills,
				Fee:            fee,
				NetChange:      netChange(inputs, fills),
			}
			p.logger.Debug("plan ready",
				zap.Int("inputs", len(inputs)),
				zap.Int("outputs", len(fills)),
				zap.Uint64("fee", fee),
				zap.Int("attempts", attempt+1))
			return plan, nil
		}
		p.logger.Debug("fee changed", zap.Uint64("from", fee), zap.Uint64("to", updated))
		fee = updated
	}
	return nil, ErrTxTooComplex
}

// feeShortfall estimates how much more fee than fee a plan spending every
// input would need.
func (p *Planner) feeShortfall(req *Request, groups []orderGroup, fee uint64) uint64 {
	fills := make([]Fill, 0, len(req.Orders))
	for i := range req.Orders {
		for _, pool := range p.config.Precedence {
			if groups[i].mask&(1<<pool) != 0 {
				fills = append(fills, Fill{Destination: req.Orders[i].Destinations[pool], Amount: groups[i].amount})
				break
			}
		}
	}
	estimate := p.config.FeeRule.Fee(req.UTXOs, fills)
	if estimate > fee {
		return estimate - fee
	}
	return 0
}

// PrepareMultiPayment plans a payment to recipients, splitting those with
// a maximum amount per note.
func (p *Planner) PrepareMultiPayment(req Request, recipients []Recipient) (*TransactionPlan, error) {
	orders, err := PrepareOrders(p.params, recipients)
	if err != nil {
		return nil, err
	}
	req.Orders = orders
	return p.Plan(&req)
}

// PlanMax plans a payment of every input to recipient, with the fee taken
// from the payment. The recipient amount is ignored.
func (p *Planner) PlanMax(req Request, recipient Recipient) (*TransactionPlan, error) {
	recipient.Amount = sumUTXOs(req.UTXOs).total()
	recipient.MaxAmountPerNote = 0
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		plan, err := p.PrepareMultiPayment(req, []Recipient{recipient})
		var nef *NotEnoughFundsError
		if !errors.As(err, &nef) {
			return plan, err
		}
		if nef.Missing >= recipient.Amount {
			return nil, err
		}
		recipient.Amount -= nef.Missing
	}
	return nil, ErrTxTooComplex
}

// ExcludePools drops the utxos of the pools set in mask, a bitmask of
// 1<<pool.
func ExcludePools(utxos []UTXO, mask uint8) []UTXO {
	kept := utxos[:0:0]
	for _, u := range utxos {
		if mask&(1<<u.Pool()) == 0 {
			kept = append(kept, u)
		}
	}
	return kept
}
