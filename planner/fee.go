package planner

import "github.com/catalogfi/zwallet/zcash"

const (
	MarginalFee  = 5000
	GraceActions = 2
	// DefaultFlatFee is the fee of FlatFee when no amount is set.
	DefaultFlatFee = 1000
)

// FeeRule computes the fee of a transaction from its inputs and outputs.
type FeeRule interface {
	Fee(inputs []UTXO, outputs []Fill) uint64
}

// ZIP317 is the conventional fee: MarginalFee per logical action with a
// minimum of GraceActions. A shielded pool that is used counts at least two
// outputs since the builder pads its bundle.
type ZIP317 struct{}

func (ZIP317) Fee(inputs []UTXO, outputs []Fill) uint64 {
	var in, out [3]uint64
	for i := range inputs {
		in[inputs[i].Pool()]++
	}
	for i := range outputs {
		out[outputs[i].Destination.Pool()]++
	}
	var actions uint64
	for _, p := range zcash.Pools {
		o := out[p]
		if p.Shielded() && (in[p] > 0 || o > 0) && o < 2 {
			o = 2
		}
		actions += max64(in[p], o)
	}
	return MarginalFee * max64(actions, GraceActions)
}

// FlatFee charges the same amount for every transaction.
type FlatFee struct {
	Amount uint64
}

func (f FlatFee) Fee([]UTXO, []Fill) uint64 {
	if f.Amount == 0 {
		return DefaultFlatFee
	}
	return f.Amount
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
