package command

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/catalogfi/zwallet/crypto"
	"github.com/catalogfi/zwallet/planner"
	"go.uber.org/zap"
)

// getbalance

type getBalance struct {
	wallet *Wallet
}

func (g *getBalance) Name() string {
	return "getbalance"
}

func (g *getBalance) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p accountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	account, err := g.wallet.account(p.Account)
	if err != nil {
		return nil, err
	}
	confirmed, err := g.wallet.confirmedHeight()
	if err != nil {
		return nil, err
	}
	b, err := g.wallet.Store.GetBalance(account, confirmed)
	if err != nil {
		return nil, err
	}
	balance := Balance{Balance: *b}
	if g.wallet.Mempool != nil {
		balance.Unconfirmed = g.wallet.Mempool.Balance(account)
	}
	return balance, nil
}

func GetBalance(w *Wallet) Command {
	return &getBalance{wallet: w}
}

// listnotes

type listNotes struct {
	wallet *Wallet
}

func (l *listNotes) Name() string {
	return "listnotes"
}

func (l *listNotes) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p accountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	account, err := l.wallet.account(p.Account)
	if err != nil {
		return nil, err
	}
	notes, err := l.wallet.Store.GetNotes(account)
	if err != nil {
		return nil, err
	}
	res := make([]Note, len(notes))
	for i := range notes {
		res[i] = EncodeNote(&notes[i])
	}
	return res, nil
}

func ListNotes(w *Wallet) Command {
	return &listNotes{wallet: w}
}

// excludenote

type excludeNoteParams struct {
	ID       uint `json:"id"`
	Excluded bool `json:"excluded"`
}

type excludeNote struct {
	wallet *Wallet
}

func (e *excludeNote) Name() string {
	return "excludenote"
}

func (e *excludeNote) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p excludeNoteParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := e.wallet.Store.ExcludeNote(p.ID, p.Excluded); err != nil {
		return nil, err
	}
	note, err := e.wallet.Store.GetNote(p.ID)
	if err != nil {
		return nil, err
	}
	return EncodeNote(note), nil
}

func ExcludeNote(w *Wallet) Command {
	return &excludeNote{wallet: w}
}

// listtransactions

type listTransactions struct {
	wallet *Wallet
}

func (l *listTransactions) Name() string {
	return "listtransactions"
}

func (l *listTransactions) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p accountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	account, err := l.wallet.account(p.Account)
	if err != nil {
		return nil, err
	}
	txs, err := l.wallet.Store.GetTransactions(account)
	if err != nil {
		return nil, err
	}
	res := make([]Transaction, len(txs))
	for i := range txs {
		res[i] = EncodeTransaction(&txs[i])
	}
	return res, nil
}

func ListTransactions(w *Wallet) Command {
	return &listTransactions{wallet: w}
}

// plan

type planParams struct {
	Account    *uint32             `json:"account"`
	Recipients []planner.Recipient `json:"recipients"`
	// Policy is one of any_pool, same_pool_type_only or same_pool_only.
	Policy string `json:"policy"`
	// Max sends all the funds to the single recipient.
	Max bool `json:"max"`
	// ExcludedPools is a bitmask of pools whose inputs are not spent.
	ExcludedPools uint8 `json:"excluded_pools"`
}

type plan struct {
	wallet *Wallet
}

func (p *plan) Name() string {
	return "plan"
}

func (p *plan) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var req planParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if len(req.Recipients) == 0 {
		return nil, invalidParams(planner.ErrNoOrders)
	}
	if req.Max && len(req.Recipients) != 1 {
		return nil, invalidParams(errors.New("max payments have a single recipient"))
	}
	var policy *planner.PrivacyPolicy
	if req.Policy != "" {
		pp, err := planner.ParsePrivacyPolicy(req.Policy)
		if err != nil {
			return nil, invalidParams(err)
		}
		policy = &pp
	}
	account, err := p.wallet.account(req.Account)
	if err != nil {
		return nil, err
	}
	pl, err := p.wallet.planner(account, policy)
	if err != nil {
		return nil, err
	}
	r, err := p.wallet.request(ctx, account)
	if err != nil {
		return nil, err
	}
	r.UTXOs = planner.ExcludePools(r.UTXOs, req.ExcludedPools)
	if req.Max {
		return pl.PlanMax(r, req.Recipients[0])
	}
	return pl.PrepareMultiPayment(r, req.Recipients)
}

func Plan(w *Wallet) Command {
	return &plan{wallet: w}
}

// build

type buildParams struct {
	Account *uint32                  `json:"account"`
	Plan    *planner.TransactionPlan `json:"plan"`
}

type build struct {
	wallet *Wallet
}

func (b *build) Name() string {
	return "build"
}

func (b *build) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p buildParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Plan == nil {
		return nil, invalidParams(errors.New("missing plan"))
	}
	account, err := b.wallet.account(p.Account)
	if err != nil {
		return nil, err
	}
	keys, err := b.wallet.secretKeys(account)
	if err != nil {
		return nil, err
	}
	tx, err := b.wallet.Builder.Build(p.Plan, keys)
	if err != nil {
		return nil, err
	}
	txid := crypto.TxID(tx)
	b.wallet.logger().Info("built transaction", zap.Uint32("account", account), zap.String("txid", txid.String()))
	return BuiltTransaction{Txid: txid.String(), Raw: hex.EncodeToString(tx.Bytes())}, nil
}

func Build(w *Wallet) Command {
	return &build{wallet: w}
}
