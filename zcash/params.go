package zcash

import (
	"fmt"
	"time"
)

// Pool identifies one of the three value pools of a Zcash transaction.
type Pool uint8

const (
	Transparent Pool = iota
	Sapling
	Orchard
)

// Pools lists the pools in their canonical order.
var Pools = []Pool{Transparent, Sapling, Orchard}

func (p Pool) String() string {
	switch p {
	case Transparent:
		return "transparent"
	case Sapling:
		return "sapling"
	case Orchard:
		return "orchard"
	}
	return fmt.Sprintf("pool(%d)", uint8(p))
}

// Shielded reports whether p is Sapling or Orchard.
func (p Pool) Shielded() bool {
	return p == Sapling || p == Orchard
}

const (
	// TxVersion5 is the v5 transaction format introduced by NU5.
	TxVersion5 uint32 = 5
	// TxVersionGroupIDv5 is the version group id of v5 transactions.
	TxVersionGroupIDv5 uint32 = 0x26A7270A
	// BranchIDNU5 is the consensus branch id of NU5.
	BranchIDNU5 uint32 = 0xC2D6D0B4
	// DefaultExpiryDelta is added to the anchor height to compute the expiry height.
	DefaultExpiryDelta = 40
	// MemoSize is the size of a memo field in bytes.
	MemoSize = 512
)

// Params is the set of network constants the wallet needs.
type Params struct {
	Name string

	CoinType uint32

	SaplingActivation uint32
	NU5Activation     uint32

	SaplingHRP string
	UnifiedHRP string

	// Two-byte base58check prefixes.
	P2PKHPrefix [2]byte
	P2SHPrefix  [2]byte

	// URIScheme is the scheme used by payment URIs on this network.
	URIScheme string

	BlockSpacing time.Duration
}

var MainNetParams = Params{
	Name:              "mainnet",
	CoinType:          133,
	SaplingActivation: 419200,
	NU5Activation:     1687104,
	SaplingHRP:        "zs",
	UnifiedHRP:        "u",
	P2PKHPrefix:       [2]byte{0x1C, 0xB8},
	P2SHPrefix:        [2]byte{0x1C, 0xBD},
	URIScheme:         "zcash",
	BlockSpacing:      75 * time.Second,
}

var TestNetParams = Params{
	Name:              "testnet",
	CoinType:          1,
	SaplingActivation: 280000,
	NU5Activation:     1842420,
	SaplingHRP:        "ztestsapling",
	UnifiedHRP:        "utest",
	P2PKHPrefix:       [2]byte{0x1D, 0x25},
	P2SHPrefix:        [2]byte{0x1C, 0xBA},
	URIScheme:         "zcash",
	BlockSpacing:      75 * time.Second,
}

var RegTestParams = Params{
	Name:              "regtest",
	CoinType:          1,
	SaplingActivation: 1,
	NU5Activation:     1,
	SaplingHRP:        "zregtestsapling",
	UnifiedHRP:        "uregtest",
	P2PKHPrefix:       [2]byte{0x1D, 0x25},
	P2SHPrefix:        [2]byte{0x1C, 0xBA},
	URIScheme:         "zcash",
	BlockSpacing:      75 * time.Second,
}

// ParamsByName returns the parameters for mainnet, testnet or regtest.
func ParamsByName(name string) (*Params, error) {
	switch name {
	case "mainnet", "main":
		return &MainNetParams, nil
	case "testnet", "test":
		return &TestNetParams, nil
	case "regtest":
		return &RegTestParams, nil
	}
	return nil, fmt.Errorf("invalid network %q", name)
}

// BlocksPerHour approximates the number of blocks mined in an hour.
func (p *Params) BlocksPerHour() uint32 {
	return uint32(time.Hour / p.BlockSpacing)
}
