package command

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/catalogfi/zwallet/address"
	"github.com/catalogfi/zwallet/crypto"
	"github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/store"
	"github.com/catalogfi/zwallet/zcash"
	"go.uber.org/zap"
)

var accountKeyPersonalization = []byte("ZWallet_AcctKeys")

// deriveKey expands the account seed into the secret of one pool.
func deriveKey(seed []byte, index uint32, pool zcash.Pool) [32]byte {
	h := crypto.NewHash256(accountKeyPersonalization)
	h.Write(seed)
	var b [5]byte
	binary.LittleEndian.PutUint32(b[:4], index)
	b[4] = byte(pool)
	h.Write(b[:])
	var k [32]byte
	copy(k[:], h.Sum(nil))
	return k
}

// newaccount

type newAccountParams struct {
	Name string `json:"name"`
	// Seed is hex encoded. A random seed is generated when both Seed and
	// ViewingKey are empty.
	Seed  string `json:"seed"`
	Index uint32 `json:"index"`
	// ViewingKey is a hex encoded Sapling full viewing key. It creates a
	// watch only account.
	ViewingKey  string `json:"viewing_key"`
	Transparent *bool  `json:"transparent"`
	Orchard     *bool  `json:"orchard"`
	Birth       uint32 `json:"birth"`
}

func enabled(b *bool) bool {
	return b == nil || *b
}

type newAccount struct {
	wallet *Wallet
}

func (n *newAccount) Name() string {
	return "newaccount"
}

func (n *newAccount) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p newAccountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, invalidParams(errors.New("missing account name"))
	}
	if p.ViewingKey != "" {
		return n.watchOnly(p)
	}

	seed, err := hex.DecodeString(p.Seed)
	if err != nil {
		return nil, invalidParams(err)
	}
	if len(seed) == 0 {
		seed = make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, err
		}
	} else if len(seed) < 32 {
		return nil, invalidParams(errors.New("seed is shorter than 32 bytes"))
	}

	backend := n.wallet.Backend
	netParams := n.wallet.params()
	sapling, err := shielded.DeriveKeys(backend, zcash.Sapling, deriveKey(seed, p.Index, zcash.Sapling))
	if err != nil {
		return nil, err
	}
	r := &address.Receivers{Sapling: &sapling.Address}

	var orchard shielded.Keys
	if enabled(p.Orchard) {
		if orchard, err = shielded.DeriveKeys(backend, zcash.Orchard, deriveKey(seed, p.Index, zcash.Orchard)); err != nil {
			return nil, err
		}
		r.Orchard = &orchard.Address
	}

	var tkey *crypto.TransparentKey
	var taddr string
	if enabled(p.Transparent) {
		secret := deriveKey(seed, p.Index, zcash.Transparent)
		if tkey, err = crypto.TransparentKeyFromBytes(secret[:]); err != nil {
			return nil, err
		}
		r.Transparent = &address.Transparent{Hash: tkey.PubKeyHash()}
		taddr = address.EncodeTransparent(netParams, r.Transparent)
	}

	ua, err := address.Encode(netParams, r)
	if err != nil {
		return nil, err
	}
	account := &model.Account{
		Name:    p.Name,
		Seed:    hex.EncodeToString(seed),
		AIndex:  p.Index,
		Sk:      sapling.Sk[:],
		Fvk:     sapling.Fvk.Bytes(),
		Address: ua,
		Birth:   p.Birth,
	}
	err = n.wallet.Store.Transaction(func(tx *store.Storage) error {
		id, err := tx.PutAccount(account)
		if err != nil {
			return err
		}
		if orchard.Sk != nil {
			if err := tx.PutOrchardKey(id, orchard.Sk[:], orchard.Fvk.Bytes()); err != nil {
				return err
			}
		}
		if tkey != nil {
			if err := tx.PutTransparentKey(id, tkey.Bytes(), taddr); err != nil {
				return err
			}
		}
		return tx.PutUASetting(&model.UASetting{
			Account:     id,
			Transparent: tkey != nil,
			Sapling:     true,
			Orchard:     orchard.Sk != nil,
		})
	})
	if err != nil {
		return nil, err
	}
	if err := n.activateFirst(account.ID); err != nil {
		return nil, err
	}
	n.wallet.logger().Info("account created", zap.Uint32("account", account.ID), zap.String("name", account.Name))
	return Account{ID: account.ID, Name: account.Name, Address: ua}, nil
}

func (n *newAccount) watchOnly(p newAccountParams) (interface{}, error) {
	raw, err := hex.DecodeString(p.ViewingKey)
	if err != nil {
		return nil, invalidParams(err)
	}
	fvk, err := shielded.FullViewingKeyFromBytes(zcash.Sapling, raw)
	if err != nil {
		return nil, invalidParams(err)
	}
	keys, err := shielded.ViewingKeys(n.wallet.Backend, fvk)
	if err != nil {
		return nil, err
	}
	addr, err := address.EncodeSapling(n.wallet.params(), &keys.Address)
	if err != nil {
		return nil, err
	}
	account := &model.Account{Name: p.Name, Fvk: raw, Address: addr, Birth: p.Birth}
	if _, err := n.wallet.Store.PutAccount(account); err != nil {
		return nil, err
	}
	if err := n.activateFirst(account.ID); err != nil {
		return nil, err
	}
	return Account{ID: account.ID, Name: account.Name, Address: addr}, nil
}

// activateFirst selects id when no account is active yet.
func (n *newAccount) activateFirst(id uint32) error {
	_, err := n.wallet.Store.GetActiveAccount()
	if errors.Is(err, store.ErrNoActiveAccount) {
		return n.wallet.Store.SetActiveAccount(id)
	}
	return err
}

func NewAccount(w *Wallet) Command {
	return &newAccount{wallet: w}
}

// setactiveaccount

type setActiveAccountParams struct {
	Account uint32 `json:"account"`
}

type setActiveAccount struct {
	wallet *Wallet
}

func (s *setActiveAccount) Name() string {
	return "setactiveaccount"
}

func (s *setActiveAccount) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p setActiveAccountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := s.wallet.Store.SetActiveAccount(p.Account); err != nil {
		return nil, err
	}
	return p.Account, nil
}

func SetActiveAccount(w *Wallet) Command {
	return &setActiveAccount{wallet: w}
}
