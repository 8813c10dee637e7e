package command

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/catalogfi/zwallet/crypto"
	"github.com/catalogfi/zwallet/zcash"
	"go.uber.org/zap"
)

type broadcastParams struct {
	Raw string `json:"raw"`
}

type broadcastResult struct {
	Txid string `json:"txid"`
}

// broadcast sends a signed transaction to the light wallet server.
type broadcast struct {
	wallet *Wallet
}

func (b *broadcast) Name() string {
	return "broadcast"
}

func (b *broadcast) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p broadcastParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(p.Raw)
	if err != nil {
		return nil, invalidParams(err)
	}
	tx, err := zcash.ParseTransaction(raw)
	if err != nil {
		return nil, invalidParams(err)
	}
	txid := crypto.TxID(tx)

	if _, err := b.wallet.Chain.SendTransaction(ctx, raw); err != nil {
		return nil, err
	}
	b.wallet.logger().Info("broadcast transaction", zap.String("txid", txid.String()))
	return broadcastResult{Txid: txid.String()}, nil
}

func Broadcast(w *Wallet) Command {
	return &broadcast{wallet: w}
}
