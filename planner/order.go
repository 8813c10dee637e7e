package planner

import (
	"math"
	"unicode/utf8"

	"github.com/catalogfi/zwallet/address"
	"github.com/catalogfi/zwallet/zcash"
)

// Recipient is a payment requested by the user.
type Recipient struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
	Memo    string `json:"memo"`
	// FeeIncluded deducts the fee from this recipient.
	FeeIncluded bool `json:"fee_included"`
	// MaxAmountPerNote splits the payment into outputs of at most this
	// amount. Zero means no limit.
	MaxAmountPerNote uint64 `json:"max_amount_per_note"`
}

// Order is a payment to one recipient. Destinations holds one candidate
// receiver per pool, indexed by zcash.Pool.
type Order struct {
	ID           uint32
	Destinations [3]Destination
	Amount       uint64
	Memo         Memo
	TakeFee      bool
}

// EncodeMemo returns the memo field carrying text. An empty text gives the
// "no memo" marker.
func EncodeMemo(text string) (Memo, error) {
	var m Memo
	if text == "" {
		m[0] = 0xF6
		return m, nil
	}
	if len(text) > len(m) {
		return m, ErrMemoTooLong
	}
	if !utf8.ValidString(text) {
		return m, ErrInvalidMemo
	}
	copy(m[:], text)
	return m, nil
}

// Destinations decodes an address into its pool receivers.
func Destinations(params *zcash.Params, addr string) ([3]Destination, error) {
	var d [3]Destination
	r, err := address.Decode(params, addr)
	if err != nil {
		return d, err
	}
	if r.Transparent != nil {
		d[zcash.Transparent] = TransparentDestination{Hash: r.Transparent.Hash, Script: r.Transparent.Script}
	}
	if r.Sapling != nil {
		d[zcash.Sapling] = SaplingDestination{Address: *r.Sapling}
	}
	if r.Orchard != nil {
		d[zcash.Orchard] = OrchardDestination{Address: *r.Orchard}
	}
	return d, nil
}

// NewOrder decodes addr into an order.
func NewOrder(params *zcash.Params, id uint32, addr string, amount uint64, memo Memo, takeFee bool) (*Order, error) {
	d, err := Destinations(params, addr)
	if err != nil {
		return nil, err
	}
	return &Order{ID: id, Destinations: d, Amount: amount, Memo: memo, TakeFee: takeFee}, nil
}

func (o *Order) mask() uint8 {
	var m uint8
	for p, d := range o.Destinations {
		if d != nil {
			m |= 1 << p
		}
	}
	return m
}

// amount is the value paid to the recipient once the fee is deducted.
func (o *Order) amount(fee uint64) (uint64, error) {
	if !o.TakeFee {
		return o.Amount, nil
	}
	if o.Amount < fee {
		return 0, &NotEnoughFundsError{Missing: fee - o.Amount}
	}
	return o.Amount - fee, nil
}

// PrepareOrders turns recipients into orders. A recipient with a
// MaxAmountPerNote gets one order per note; the fee is taken from its last
// one.
func PrepareOrders(params *zcash.Params, recipients []Recipient) ([]Order, error) {
	if len(recipients) == 0 {
		return nil, ErrNoOrders
	}
	feePayer := false
	for _, r := range recipients {
		if r.FeeIncluded {
			if feePayer {
				return nil, ErrDuplicateRecipientFee
			}
			feePayer = true
		}
	}

	var orders []Order
	var id uint32
	for _, r := range recipients {
		d, err := Destinations(params, r.Address)
		if err != nil {
			return nil, err
		}
		memo, err := EncodeMemo(r.Memo)
		if err != nil {
			return nil, err
		}
		perNote := r.MaxAmountPerNote
		if perNote == 0 {
			perNote = math.MaxUint64
		}
		amount := r.Amount
		for {
			a := amount
			if a > perNote {
				a = perNote
			}
			orders = append(orders, Order{ID: id, Destinations: d, Amount: a, Memo: memo})
			id++
			amount -= a
			if amount == 0 {
				break
			}
		}
		orders[len(orders)-1].TakeFee = r.FeeIncluded
	}
	return orders, nil
}
