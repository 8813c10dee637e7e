// Package planner selects the inputs and outputs of a payment. It produces
// a TransactionPlan that the builder turns into a signed transaction.
package planner

import (
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/zcash"
	"github.com/pkg/errors"
)

// Source is the spend authority of a UTXO. It is one of TransparentSource,
// SaplingSource or OrchardSource.
type Source interface {
	Pool() zcash.Pool
	source()
}

type TransparentSource struct {
	Txid   chainhash.Hash
	Index  uint32
	Script []byte
	Height uint32
}

// SaplingSource is a received Sapling note with its witness at the anchor.
type SaplingSource struct {
	NoteID      uint
	Diversifier [11]byte
	Rseed       [32]byte
	Witness     []byte
}

// OrchardSource is a received Orchard note with its witness at the anchor.
type OrchardSource struct {
	NoteID      uint
	Diversifier [11]byte
	Rseed       [32]byte
	Rho         [32]byte
	Witness     []byte
}

func (TransparentSource) Pool() zcash.Pool { return zcash.Transparent }
func (SaplingSource) Pool() zcash.Pool     { return zcash.Sapling }
func (OrchardSource) Pool() zcash.Pool     { return zcash.Orchard }

func (TransparentSource) source() {}
func (SaplingSource) source()     {}
func (OrchardSource) source()     {}

// UTXO is a spendable input of any pool.
type UTXO struct {
	Source Source
	Amount uint64
}

func (u *UTXO) Pool() zcash.Pool {
	return u.Source.Pool()
}

// Destination is an output receiver. It is one of TransparentDestination,
// SaplingDestination or OrchardDestination.
type Destination interface {
	Pool() zcash.Pool
	destination()
}

type TransparentDestination struct {
	Hash   [20]byte
	Script bool
}

type SaplingDestination struct {
	Address shielded.PaymentAddress
}

type OrchardDestination struct {
	Address shielded.PaymentAddress
}

func (TransparentDestination) Pool() zcash.Pool { return zcash.Transparent }
func (SaplingDestination) Pool() zcash.Pool     { return zcash.Sapling }
func (OrchardDestination) Pool() zcash.Pool     { return zcash.Orchard }

func (TransparentDestination) destination() {}
func (SaplingDestination) destination()     {}
func (OrchardDestination) destination()     {}

// Memo is the content of a shielded output memo field.
type Memo [zcash.MemoSize]byte

// Fill is an output of the plan. Change outputs have no order.
type Fill struct {
	OrderID     *uint32
	Destination Destination
	Amount      uint64
	Memo        Memo
}

// IsChange reports whether the fill returns funds to the wallet.
func (f *Fill) IsChange() bool {
	return f.OrderID == nil
}

// TransactionPlan is an unsigned payment. For every plan the spends equal
// the outputs plus the fee.
type TransactionPlan struct {
	AccountAddress string
	AnchorHeight   uint32
	ExpiryHeight   uint32
	OrchardAnchor  [32]byte
	Spends         []UTXO
	Outputs        []Fill
	Fee            uint64
	// NetChange is the signed change of the Sapling and Orchard pools.
	NetChange [2]int64
}

// Total returns the value of the spends.
func (p *TransactionPlan) Total() uint64 {
	var total uint64
	for i := range p.Spends {
		total += p.Spends[i].Amount
	}
	return total
}

type hexBytes []byte

func (h hexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(h))
}

func (h *hexBytes) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*h = v
	return nil
}

func fixed(dst []byte, src hexBytes, name string) error {
	if len(src) != len(dst) {
		return errors.Errorf("%s: expected %d bytes, got %d", name, len(dst), len(src))
	}
	copy(dst, src)
	return nil
}

type utxoJSON struct {
	Pool        string   `json:"pool"`
	Amount      uint64   `json:"amount"`
	Txid        string   `json:"txid,omitempty"`
	Index       uint32   `json:"index,omitempty"`
	Script      hexBytes `json:"script,omitempty"`
	Height      uint32   `json:"height,omitempty"`
	NoteID      uint     `json:"id_note,omitempty"`
	Diversifier hexBytes `json:"diversifier,omitempty"`
	Rseed       hexBytes `json:"rseed,omitempty"`
	Rho         hexBytes `json:"rho,omitempty"`
	Witness     hexBytes `json:"witness,omitempty"`
}

func (u UTXO) MarshalJSON() ([]byte, error) {
	j := utxoJSON{Amount: u.Amount}
	switch s := u.Source.(type) {
	case TransparentSource:
		j.Pool, j.Txid, j.Index, j.Script, j.Height = "transparent", s.Txid.String(), s.Index, s.Script, s.Height
	case SaplingSource:
		j.Pool, j.NoteID, j.Diversifier, j.Rseed, j.Witness = "sapling", s.NoteID, s.Diversifier[:], s.Rseed[:], s.Witness
	case OrchardSource:
		j.Pool, j.NoteID, j.Diversifier, j.Rseed, j.Witness = "orchard", s.NoteID, s.Diversifier[:], s.Rseed[:], s.Witness
		j.Rho = s.Rho[:]
	default:
		return nil, errors.Errorf("unknown utxo source %T", u.Source)
	}
	return json.Marshal(j)
}

func (u *UTXO) UnmarshalJSON(b []byte) error {
	var j utxoJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	u.Amount = j.Amount
	switch j.Pool {
	case "transparent":
		txid, err := chainhash.NewHashFromStr(j.Txid)
		if err != nil {
			return err
		}
		u.Source = TransparentSource{Txid: *txid, Index: j.Index, Script: j.Script, Height: j.Height}
	case "sapling":
		s := SaplingSource{NoteID: j.NoteID, Witness: j.Witness}
		if err := fixed(s.Diversifier[:], j.Diversifier, "diversifier"); err != nil {
			return err
		}
		if err := fixed(s.Rseed[:], j.Rseed, "rseed"); err != nil {
			return err
		}
		u.Source = s
	case "orchard":
		s := OrchardSource{NoteID: j.NoteID, Witness: j.Witness}
		if err := fixed(s.Diversifier[:], j.Diversifier, "diversifier"); err != nil {
			return err
		}
		if err := fixed(s.Rseed[:], j.Rseed, "rseed"); err != nil {
			return err
		}
		if err := fixed(s.Rho[:], j.Rho, "rho"); err != nil {
			return err
		}
		u.Source = s
	default:
		return errors.Errorf("unknown utxo pool %q", j.Pool)
	}
	return nil
}

type fillJSON struct {
	OrderID *uint32  `json:"id_order"`
	Pool    string   `json:"pool"`
	Address hexBytes `json:"address"`
	Script  bool     `json:"script,omitempty"`
	Amount  uint64   `json:"amount"`
	Memo    hexBytes `json:"memo"`
}

func (f Fill) MarshalJSON() ([]byte, error) {
	j := fillJSON{OrderID: f.OrderID, Amount: f.Amount, Memo: f.Memo[:]}
	switch d := f.Destination.(type) {
	case TransparentDestination:
		j.Pool, j.Address, j.Script = "transparent", d.Hash[:], d.Script
	case SaplingDestination:
		j.Pool, j.Address = "sapling", d.Address.Bytes()
	case OrchardDestination:
		j.Pool, j.Address = "orchard", d.Address.Bytes()
	default:
		return nil, errors.Errorf("unknown fill destination %T", f.Destination)
	}
	return json.Marshal(j)
}

func (f *Fill) UnmarshalJSON(b []byte) error {
	var j fillJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	f.OrderID, f.Amount = j.OrderID, j.Amount
	if err := fixed(f.Memo[:], j.Memo, "memo"); err != nil {
		return err
	}
	switch j.Pool {
	case "transparent":
		d := TransparentDestination{Script: j.Script}
		if err := fixed(d.Hash[:], j.Address, "address"); err != nil {
			return err
		}
		f.Destination = d
	case "sapling", "orchard":
		addr, err := shielded.PaymentAddressFromBytes(j.Address)
		if err != nil {
			return err
		}
		if j.Pool == "sapling" {
			f.Destination = SaplingDestination{Address: addr}
		} else {
			f.Destination = OrchardDestination{Address: addr}
		}
	default:
		return errors.Errorf("unknown fill pool %q", j.Pool)
	}
	return nil
}

type planJSON struct {
	AccountAddress string   `json:"account_address"`
	AnchorHeight   uint32   `json:"anchor_height"`
	ExpiryHeight   uint32   `json:"expiry_height"`
	OrchardAnchor  hexBytes `json:"orchard_anchor"`
	Spends         []UTXO   `json:"spends"`
	Outputs        []Fill   `json:"outputs"`
	Fee            uint64   `json:"fee"`
	NetChange      [2]int64 `json:"net_chg"`
}

func (p TransactionPlan) MarshalJSON() ([]byte, error) {
	return json.Marshal(planJSON{
		AccountAddress: p.AccountAddress,
		AnchorHeight:   p.AnchorHeight,
		ExpiryHeight:   p.ExpiryHeight,
		OrchardAnchor:  p.OrchardAnchor[:],
		Spends:         p.Spends,
		Outputs:        p.Outputs,
		Fee:            p.Fee,
		NetChange:      p.NetChange,
	})
}

func (p *TransactionPlan) UnmarshalJSON(b []byte) error {
	var j planJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	*p = TransactionPlan{
		AccountAddress: j.AccountAddress,
		AnchorHeight:   j.AnchorHeight,
		ExpiryHeight:   j.ExpiryHeight,
		Spends:         j.Spends,
		Outputs:        j.Outputs,
		Fee:            j.Fee,
		NetChange:      j.NetChange,
	}
	return fixed(p.OrchardAnchor[:], j.OrchardAnchor, "orchard anchor")
}
