package command

import (
	"context"
	"encoding/json"

	"github.com/catalogfi/zwallet/address"
	"github.com/catalogfi/zwallet/payment"
)

// parsepaymenturi

type uriParams struct {
	URI string `json:"uri"`
}

type parsePaymentURI struct {
	wallet *Wallet
}

func (p *parsePaymentURI) Name() string {
	return "parsepaymenturi"
}

func (p *parsePaymentURI) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req uriParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	return payment.Parse(p.wallet.params(), req.URI)
}

func ParsePaymentURI(w *Wallet) Command {
	return &parsePaymentURI{wallet: w}
}

// makepaymenturi

type makePaymentURI struct {
	wallet *Wallet
}

func (m *makePaymentURI) Name() string {
	return "makepaymenturi"
}

func (m *makePaymentURI) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req payment.URI
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	return payment.Make(m.wallet.params(), req.Address, req.Amount, req.Memo)
}

func MakePaymentURI(w *Wallet) Command {
	return &makePaymentURI{wallet: w}
}

// decodeaddress

type addressParams struct {
	Address string `json:"address"`
}

type decodeAddress struct {
	wallet *Wallet
}

func (d *decodeAddress) Name() string {
	return "decodeaddress"
}

func (d *decodeAddress) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req addressParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	r, err := address.Decode(d.wallet.params(), req.Address)
	if err != nil {
		return nil, err
	}
	return EncodeReceivers(r), nil
}

func DecodeAddress(w *Wallet) Command {
	return &decodeAddress{wallet: w}
}
