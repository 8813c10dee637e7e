package model

import (
	wallet "github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Transaction is the mirrored history entry of one account.
type Transaction struct {
	ID primitive.ObjectID `bson:"_id,omitempty"`

	Account   uint32 `bson:"account"`
	Txid      string `bson:"txid"`
	Height    uint32 `bson:"height"`
	Timestamp uint32 `bson:"timestamp"`
	TxIndex   uint32 `bson:"tx_index"`
	Value     int64  `bson:"value"`
	Address   string `bson:"address,omitempty"`
	Memo      string `bson:"memo,omitempty"`
}

// FromWallet converts a wallet transaction. The txid is shown in the
// reversed byte order of block explorers.
func FromWallet(tx *wallet.Transaction) Transaction {
	return Transaction{
		Account:   tx.Account,
		Txid:      utils.HashString(tx.Txid),
		Height:    tx.Height,
		Timestamp: tx.Timestamp,
		TxIndex:   tx.TxIndex,
		Value:     tx.Value,
		Address:   tx.Address,
		Memo:      tx.Memo,
	}
}

type Transactions []Transaction

func (transactions Transactions) Len() int {
	return len(transactions)
}

func (transactions Transactions) Less(i, j int) bool {
	if transactions[i].Height != transactions[j].Height {
		return transactions[i].Height > transactions[j].Height
	}
	return transactions[i].TxIndex > transactions[j].TxIndex
}

func (transactions Transactions) Swap(i, j int) {
	transactions[i], transactions[j] = transactions[j], transactions[i]
}
