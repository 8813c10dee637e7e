package shielded

import "github.com/catalogfi/zwallet/zcash"

// Keys is the key set of one shielded pool of an account. Sk is nil for
// watch only accounts.
type Keys struct {
	Sk      *SpendingKey
	Fvk     FullViewingKey
	Ivk     IncomingViewingKey
	Address PaymentAddress
}

// DeriveKeys expands a spending key into viewing keys and the default address.
func DeriveKeys(b Backend, pool zcash.Pool, sk SpendingKey) (Keys, error) {
	fvk := b.FullViewingKey(pool, sk)
	keys, err := ViewingKeys(b, fvk)
	if err != nil {
		return keys, err
	}
	keys.Sk = &sk
	return keys, nil
}

// ViewingKeys derives the watch only key set of fvk.
func ViewingKeys(b Backend, fvk FullViewingKey) (Keys, error) {
	addr, err := b.Address(fvk, 0)
	if err != nil {
		return Keys{}, err
	}
	return Keys{
		Fvk:     fvk,
		Ivk:     b.IncomingViewingKey(fvk),
		Address: addr,
	}, nil
}
