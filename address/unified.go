package address

import (
	"bytes"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/wire"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/zcash"
)

// Typecode identifies an item of a unified encoding.
type Typecode uint64

const (
	TypeP2PKH   Typecode = 0x00
	TypeP2SH    Typecode = 0x01
	TypeSapling Typecode = 0x02
	TypeOrchard Typecode = 0x03
)

const uaPaddingSize = 16

// Item is one typecode and value pair of a unified address.
type Item struct {
	Typecode Typecode
	Data     []byte
}

// Unified is a decoded unified address. Items keep their encoded order so
// that decoding and encoding round trip; unknown items are preserved.
type Unified struct {
	Items []Item
}

// NewUnified builds a UA with its receivers in ascending typecode order.
func NewUnified(r *Receivers) *Unified {
	ua := &Unified{}
	if r.Transparent != nil {
		tc := TypeP2PKH
		if r.Transparent.Script {
			tc = TypeP2SH
		}
		ua.Items = append(ua.Items, Item{Typecode: tc, Data: append([]byte(nil), r.Transparent.Hash[:]...)})
	}
	if r.Sapling != nil {
		ua.Items = append(ua.Items, Item{Typecode: TypeSapling, Data: r.Sapling.Bytes()})
	}
	if r.Orchard != nil {
		ua.Items = append(ua.Items, Item{Typecode: TypeOrchard, Data: r.Orchard.Bytes()})
	}
	sort.SliceStable(ua.Items, func(i, j int) bool { return ua.Items[i].Typecode < ua.Items[j].Typecode })
	return ua
}

// Receivers returns the known receivers of the UA.
func (u *Unified) Receivers() *Receivers {
	r := &Receivers{}
	for _, it := range u.Items {
		switch it.Typecode {
		case TypeP2PKH, TypeP2SH:
			t := &Transparent{Script: it.Typecode == TypeP2SH}
			copy(t.Hash[:], it.Data)
			r.Transparent = t
		case TypeSapling:
			if a, err := shielded.PaymentAddressFromBytes(it.Data); err == nil {
				r.Sapling = &a
			}
		case TypeOrchard:
			if a, err := shielded.PaymentAddressFromBytes(it.Data); err == nil {
				r.Orchard = &a
			}
		}
	}
	return r
}

func hrpPadding(hrp string) []byte {
	pad := make([]byte, uaPaddingSize)
	copy(pad, hrp)
	return pad
}

func expectedLength(tc Typecode) int {
	switch tc {
	case TypeP2PKH, TypeP2SH:
		return 20
	case TypeSapling, TypeOrchard:
		return shielded.AddressSize
	}
	return -1
}

// EncodeUnified serializes the items, appends the padded HRP, jumbles the
// result and encodes it as bech32m.
func EncodeUnified(params *zcash.Params, u *Unified) (string, error) {
	if len(u.Items) == 0 {
		return "", ErrNoReceivers
	}
	var buf bytes.Buffer
	for _, it := range u.Items {
		if err := wire.WriteVarInt(&buf, 0, uint64(it.Typecode)); err != nil {
			return "", err
		}
		if err := wire.WriteVarInt(&buf, 0, uint64(len(it.Data))); err != nil {
			return "", err
		}
		buf.Write(it.Data)
	}
	buf.Write(hrpPadding(params.UnifiedHRP))
	jumbled, err := f4Jumble(buf.Bytes())
	if err != nil {
		return "", err
	}
	data, err := bech32.ConvertBits(jumbled, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.EncodeM(params.UnifiedHRP, data)
}

// DecodeUnified parses a unified address for the network.
func DecodeUnified(params *zcash.Params, s string) (*Unified, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return nil, ErrInvalidAddress
	}
	if hrp != params.UnifiedHRP {
		return nil, ErrWrongNetwork
	}
	if check, _ := bech32.EncodeM(hrp, data); check != strings.ToLower(s) {
		return nil, ErrInvalidChecksum
	}
	jumbled, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, ErrInvalidAddress
	}
	raw, err := f4Unjumble(jumbled)
	if err != nil {
		return nil, err
	}
	if len(raw) < uaPaddingSize || !bytes.Equal(raw[len(raw)-uaPaddingSize:], hrpPadding(hrp)) {
		return nil, ErrInvalidPadding
	}
	r := bytes.NewReader(raw[:len(raw)-uaPaddingSize])
	u := &Unified{}
	seen := map[Typecode]bool{}
	for r.Len() > 0 {
		tc, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return nil, ErrInvalidAddress
		}
		length, err := wire.ReadVarInt(r, 0)
		if err != nil || length > uint64(r.Len()) {
			return nil, ErrInvalidAddress
		}
		item := Item{Typecode: Typecode(tc), Data: make([]byte, length)}
		if _, err := r.Read(item.Data); err != nil && length > 0 {
			return nil, ErrInvalidAddress
		}
		if want := expectedLength(item.Typecode); want >= 0 && int(length) != want {
			return nil, ErrReceiverLength
		}
		if seen[item.Typecode] {
			return nil, ErrTypecodeOrder
		}
		seen[item.Typecode] = true
		u.Items = append(u.Items, item)
	}
	if seen[TypeP2PKH] && seen[TypeP2SH] {
		return nil, ErrTransparentPair
	}
	if len(u.Items) == 0 {
		return nil, ErrNoReceivers
	}
	return u, nil
}
