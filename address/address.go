// Package address encodes and decodes the recipient formats of the wallet:
// transparent base58check, Sapling bech32 and unified bech32m addresses.
package address

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/zcash"
)

// Transparent is a P2PKH or P2SH receiver.
type Transparent struct {
	Hash   [20]byte
	Script bool
}

// Receivers is the set of pool receivers an address string resolves to.
type Receivers struct {
	Transparent *Transparent
	Sapling     *shielded.PaymentAddress
	Orchard     *shielded.PaymentAddress
}

// Has reports whether a receiver exists for pool.
func (r *Receivers) Has(pool zcash.Pool) bool {
	switch pool {
	case zcash.Transparent:
		return r.Transparent != nil
	case zcash.Sapling:
		return r.Sapling != nil
	case zcash.Orchard:
		return r.Orchard != nil
	}
	return false
}

// Mask returns a bitmask with bit 1<<pool set for each receiver.
func (r *Receivers) Mask() uint8 {
	var m uint8
	for _, p := range zcash.Pools {
		if r.Has(p) {
			m |= 1 << p
		}
	}
	return m
}

// Decode parses any supported address kind for the network.
func Decode(params *zcash.Params, s string) (*Receivers, error) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '1'); i > 0 {
		hrp := strings.ToLower(s[:i])
		switch hrp {
		case params.SaplingHRP:
			addr, err := DecodeSapling(params, s)
			if err != nil {
				return nil, err
			}
			return &Receivers{Sapling: addr}, nil
		case params.UnifiedHRP:
			ua, err := DecodeUnified(params, s)
			if err != nil {
				return nil, err
			}
			return ua.Receivers(), nil
		}
	}
	t, err := DecodeTransparent(params, s)
	if err != nil {
		return nil, err
	}
	return &Receivers{Transparent: t}, nil
}

// Validate reports whether s is a valid address on the network.
func Validate(params *zcash.Params, s string) bool {
	_, err := Decode(params, s)
	return err == nil
}

// EncodeTransparent encodes a transparent receiver with its two byte prefix.
func EncodeTransparent(params *zcash.Params, t *Transparent) string {
	prefix := params.P2PKHPrefix
	if t.Script {
		prefix = params.P2SHPrefix
	}
	return base58.CheckEncode(append([]byte{prefix[1]}, t.Hash[:]...), prefix[0])
}

// DecodeTransparent parses a t-address.
func DecodeTransparent(params *zcash.Params, s string) (*Transparent, error) {
	payload, version, err := base58.CheckDecode(s)
	if err != nil || len(payload) != 21 {
		return nil, ErrInvalidAddress
	}
	t := &Transparent{}
	copy(t.Hash[:], payload[1:])
	switch [2]byte{version, payload[0]} {
	case params.P2PKHPrefix:
	case params.P2SHPrefix:
		t.Script = true
	default:
		return nil, ErrWrongNetwork
	}
	return t, nil
}

// EncodeSapling encodes a Sapling payment address in bech32.
func EncodeSapling(params *zcash.Params, addr *shielded.PaymentAddress) (string, error) {
	data, err := bech32.ConvertBits(addr.Bytes(), 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(params.SaplingHRP, data)
}

// DecodeSapling parses a Sapling bech32 address.
func DecodeSapling(params *zcash.Params, s string) (*shielded.PaymentAddress, error) {
	hrp, data, err := bech32.DecodeNoLimit(s)
	if err != nil {
		return nil, ErrInvalidAddress
	}
	if hrp != params.SaplingHRP {
		return nil, ErrWrongNetwork
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, ErrInvalidAddress
	}
	if check, _ := bech32.Encode(hrp, data); check != strings.ToLower(s) {
		return nil, ErrInvalidChecksum
	}
	addr, err := shielded.PaymentAddressFromBytes(raw)
	if err != nil {
		return nil, ErrReceiverLength
	}
	return &addr, nil
}

// Encode returns the shortest address that carries all receivers: a plain
// Sapling or transparent address when only one is present, otherwise a UA.
func Encode(params *zcash.Params, r *Receivers) (string, error) {
	switch {
	case r.Orchard == nil && r.Transparent == nil && r.Sapling != nil:
		return EncodeSapling(params, r.Sapling)
	case r.Orchard == nil && r.Sapling == nil && r.Transparent != nil:
		return EncodeTransparent(params, r.Transparent), nil
	}
	return EncodeUnified(params, NewUnified(r))
}
