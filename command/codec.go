package command

import (
	"github.com/catalogfi/zwallet/address"
	"github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/store"
	"github.com/catalogfi/zwallet/utils"
	"github.com/catalogfi/zwallet/zcash"
)

// getbalance
type Balance struct {
	store.Balance
	// Unconfirmed is the net effect of mempool transactions.
	Unconfirmed int64 `json:"unconfirmed"`
}

// listnotes
type Note struct {
	ID       uint    `json:"id"`
	Height   uint32  `json:"height"`
	Pool     string  `json:"pool"`
	Value    uint64  `json:"value"`
	Spent    *uint32 `json:"spent,omitempty"`
	Excluded bool    `json:"excluded"`
}

func EncodeNote(n *model.ReceivedNote) Note {
	pool := zcash.Sapling
	if n.Orchard {
		pool = zcash.Orchard
	}
	return Note{
		ID:       n.ID,
		Height:   n.Height,
		Pool:     pool.String(),
		Value:    n.Value,
		Spent:    n.Spent,
		Excluded: n.Excluded,
	}
}

// listtransactions
type Transaction struct {
	Txid      string `json:"txid"`
	Height    uint32 `json:"height"`
	Timestamp uint32 `json:"timestamp"`
	Value     int64  `json:"value"`
	Address   string `json:"address,omitempty"`
	Memo      string `json:"memo,omitempty"`
}

func EncodeTransaction(tx *model.Transaction) Transaction {
	return Transaction{
		Txid:      utils.HashString(tx.Txid),
		Height:    tx.Height,
		Timestamp: tx.Timestamp,
		Value:     tx.Value,
		Address:   tx.Address,
		Memo:      tx.Memo,
	}
}

// build
type BuiltTransaction struct {
	Txid string `json:"txid"`
	Raw  string `json:"raw"`
}

// decodeaddress
type AddressInfo struct {
	Transparent bool `json:"transparent"`
	Script      bool `json:"script,omitempty"`
	Sapling     bool `json:"sapling"`
	Orchard     bool `json:"orchard"`
}

func EncodeReceivers(r *address.Receivers) AddressInfo {
	info := AddressInfo{
		Transparent: r.Has(zcash.Transparent),
		Sapling:     r.Has(zcash.Sapling),
		Orchard:     r.Has(zcash.Orchard),
	}
	if r.Transparent != nil {
		info.Script = r.Transparent.Script
	}
	return info
}

// newaccount
type Account struct {
	ID      uint32 `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}
