package address

import "errors"

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidLength    = errors.New("invalid unified encoding length")
	ErrWrongNetwork     = errors.New("address belongs to another network")
	ErrInvalidChecksum  = errors.New("address uses the wrong checksum variant")
	ErrInvalidPadding   = errors.New("invalid unified encoding padding")
	ErrTypecodeOrder    = errors.New("duplicate receiver typecode")
	ErrNoReceivers      = errors.New("unified address has no receivers")
	ErrTransparentPair  = errors.New("unified address has both p2pkh and p2sh receivers")
	ErrReceiverLength   = errors.New("invalid receiver length")
	ErrNoShieldedTarget = errors.New("unified address has no shielded receiver")
)
