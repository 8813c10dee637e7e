package command

import (
	"context"

	"github.com/catalogfi/zwallet/address"
	"github.com/catalogfi/zwallet/builder"
	"github.com/catalogfi/zwallet/crypto"
	"github.com/catalogfi/zwallet/peer"
	"github.com/catalogfi/zwallet/planner"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/store"
	"github.com/catalogfi/zwallet/zcash"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultAnchorOffset = 3
	DefaultExpiryDelta  = 40
)

// Chain is the part of the light wallet server used by the commands.
type Chain interface {
	LatestHeight(ctx context.Context) (uint32, error)
	GetAddressUtxos(ctx context.Context, addresses []string, minHeight uint32) ([]peer.TransparentOutput, error)
	SendTransaction(ctx context.Context, raw []byte) (string, error)
}

type Syncer interface {
	Sync(ctx context.Context) (uint32, error)
	Rewind(ctx context.Context, height uint32) (uint32, error)
	Rescan(ctx context.Context, height uint32) (uint32, error)
}

// Unconfirmed reports the mempool effect on an account balance.
type Unconfirmed interface {
	Balance(account uint32) int64
}

// Wallet bundles the components the commands operate on. Mempool is
// optional.
type Wallet struct {
	Store   *store.Storage
	Chain   Chain
	Syncer  Syncer
	Mempool Unconfirmed
	Backend shielded.Backend
	Builder *builder.Builder

	// AnchorOffset is the number of blocks between the synced height and
	// the anchor of new transactions.
	AnchorOffset uint32
	ExpiryDelta  uint32
	Policy       planner.PrivacyPolicy
	FeeRule      planner.FeeRule
	Logger       *zap.Logger
}

func (w *Wallet) params() *zcash.Params {
	return w.Store.Params()
}

func (w *Wallet) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

func (w *Wallet) account(id *uint32) (uint32, error) {
	if id != nil {
		if _, err := w.Store.GetAccount(*id); err != nil {
			return 0, err
		}
		return *id, nil
	}
	return w.Store.GetActiveAccount()
}

// confirmedHeight is the highest block whose notes are spendable.
func (w *Wallet) confirmedHeight() (uint32, error) {
	synced, err := w.Store.GetLastSyncHeight()
	if err != nil {
		return 0, err
	}
	if synced < w.AnchorOffset {
		return 0, nil
	}
	return synced - w.AnchorOffset, nil
}

// anchorHeight is the newest checkpoint at or below the confirmed height.
func (w *Wallet) anchorHeight() (uint32, error) {
	confirmed, err := w.confirmedHeight()
	if err != nil {
		return 0, err
	}
	height, ok, err := w.Store.GetCheckpointHeight(confirmed)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotSynced
	}
	return height, nil
}

// receivers returns the receivers of the account's unified address.
func (w *Wallet) receivers(account uint32) (*address.Receivers, error) {
	acc, err := w.Store.GetAccount(account)
	if err != nil {
		return nil, err
	}
	r := &address.Receivers{}
	fvk, err := shielded.FullViewingKeyFromBytes(zcash.Sapling, acc.Fvk)
	if err != nil {
		return nil, err
	}
	saddr, err := w.Backend.Address(fvk, 0)
	if err != nil {
		return nil, err
	}
	r.Sapling = &saddr

	okey, err := w.Store.GetOrchardKey(account)
	if err != nil {
		return nil, err
	}
	if okey != nil {
		ofvk, err := shielded.FullViewingKeyFromBytes(zcash.Orchard, okey.Fvk)
		if err != nil {
			return nil, err
		}
		oaddr, err := w.Backend.Address(ofvk, 0)
		if err != nil {
			return nil, err
		}
		r.Orchard = &oaddr
	}

	taddr, err := w.Store.GetTransparentKey(account)
	if err != nil {
		return nil, err
	}
	if taddr != nil {
		t, err := address.DecodeTransparent(w.params(), taddr.Address)
		if err != nil {
			return nil, err
		}
		r.Transparent = t
	}
	return r, nil
}

func (w *Wallet) changeAddress(account uint32) (string, error) {
	r, err := w.receivers(account)
	if err != nil {
		return "", err
	}
	return address.Encode(w.params(), r)
}

// utxos lists the inputs the account can spend at the anchor height.
// Shielded notes come first, newest first within a pool.
func (w *Wallet) utxos(ctx context.Context, account, anchor uint32) ([]planner.UTXO, error) {
	var utxos []planner.UTXO
	for _, pool := range []zcash.Pool{zcash.Orchard, zcash.Sapling} {
		notes, err := w.Store.GetSpendableNotes(account, pool, anchor)
		if err != nil {
			return nil, err
		}
		for _, n := range notes {
			var d [11]byte
			var rseed [32]byte
			copy(d[:], n.Diversifier)
			copy(rseed[:], n.Rcm)
			u := planner.UTXO{Amount: n.Value}
			if pool == zcash.Orchard {
				var rho [32]byte
				copy(rho[:], n.Rho)
				u.Source = planner.OrchardSource{NoteID: n.ID, Diversifier: d, Rseed: rseed, Rho: rho, Witness: n.Witness}
			} else {
				u.Source = planner.SaplingSource{NoteID: n.ID, Diversifier: d, Rseed: rseed, Witness: n.Witness}
			}
			utxos = append(utxos, u)
		}
	}

	taddr, err := w.Store.GetTransparentKey(account)
	if err != nil {
		return nil, err
	}
	if taddr == nil || w.Chain == nil {
		return utxos, nil
	}
	outs, err := w.Chain.GetAddressUtxos(ctx, []string{taddr.Address}, 0)
	if err != nil {
		return nil, err
	}
	for _, o := range outs {
		if o.Height > anchor {
			continue
		}
		utxos = append(utxos, planner.UTXO{
			Amount: o.Value,
			Source: planner.TransparentSource{Txid: o.Txid, Index: o.Index, Script: o.Script, Height: o.Height},
		})
	}
	return utxos, nil
}

// secretKeys loads the spending keys of account.
func (w *Wallet) secretKeys(account uint32) (*builder.SecretKeys, error) {
	acc, err := w.Store.GetAccount(account)
	if err != nil {
		return nil, err
	}
	keys := &builder.SecretKeys{}
	if len(acc.Sk) > 0 {
		var sk shielded.SpendingKey
		copy(sk[:], acc.Sk)
		keys.Sapling = &sk
	}
	okey, err := w.Store.GetOrchardKey(account)
	if err != nil {
		return nil, err
	}
	if okey != nil && len(okey.Sk) > 0 {
		var sk shielded.SpendingKey
		copy(sk[:], okey.Sk)
		keys.Orchard = &sk
	}
	taddr, err := w.Store.GetTransparentKey(account)
	if err != nil {
		return nil, err
	}
	if taddr != nil && len(taddr.Sk) > 0 {
		tk, err := crypto.TransparentKeyFromBytes(taddr.Sk)
		if err != nil {
			return nil, errors.Wrap(err, "transparent key")
		}
		keys.Transparent = tk
	}
	if keys.Sapling == nil && keys.Orchard == nil && keys.Transparent == nil {
		return nil, ErrWatchOnly
	}
	return keys, nil
}

func (w *Wallet) planner(account uint32, policy *planner.PrivacyPolicy) (*planner.Planner, error) {
	change, err := w.changeAddress(account)
	if err != nil {
		return nil, err
	}
	config := planner.Config{ChangeAddress: change, Policy: w.Policy, FeeRule: w.FeeRule}
	if policy != nil {
		config.Policy = *policy
	}
	p, err := planner.New(w.params(), config)
	if err != nil {
		return nil, err
	}
	return p.SetLogger(w.logger()), nil
}

// request prepares a plan request for the account at the current anchor.
func (w *Wallet) request(ctx context.Context, account uint32) (planner.Request, error) {
	anchor, err := w.anchorHeight()
	if err != nil {
		return planner.Request{}, err
	}
	utxos, err := w.utxos(ctx, account, anchor)
	if err != nil {
		return planner.Request{}, err
	}
	synced, err := w.Store.GetLastSyncHeight()
	if err != nil {
		return planner.Request{}, err
	}
	req := planner.Request{
		AnchorHeight: anchor,
		ExpiryHeight: synced + 1 + w.ExpiryDelta,
		UTXOs:        utxos,
	}
	if req.AccountAddress, err = w.changeAddress(account); err != nil {
		return planner.Request{}, err
	}
	tree, err := w.Store.GetTree(zcash.Orchard, anchor)
	if err != nil {
		return planner.Request{}, err
	}
	req.OrchardAnchor = [32]byte(tree.Root(w.Backend.Hasher(zcash.Orchard)))
	return req, nil
}
