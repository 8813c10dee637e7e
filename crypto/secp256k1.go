package crypto

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

var ErrInvalidPrivateKey = errors.New("invalid transparent private key")

// TransparentKey is the secp256k1 key of a P2PKH address.
type TransparentKey struct {
	key *btcec.PrivateKey
}

// TransparentKeyFromBytes parses a raw 32 byte secret.
func TransparentKeyFromBytes(b []byte) (*TransparentKey, error) {
	if len(b) != btcec.PrivKeyBytesLen {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPrivateKey, btcec.PrivKeyBytesLen, len(b))
	}
	key, _ := btcec.PrivKeyFromBytes(b)
	return &TransparentKey{key: key}, nil
}

// Bytes returns the raw secret.
func (k *TransparentKey) Bytes() []byte {
	return k.key.Serialize()
}

// PubKey returns the compressed public key.
func (k *TransparentKey) PubKey() []byte {
	return k.key.PubKey().SerializeCompressed()
}

// PubKeyHash returns hash160 of the compressed public key.
func (k *TransparentKey) PubKeyHash() [20]byte {
	var h [20]byte
	copy(h[:], btcutil.Hash160(k.PubKey()))
	return h
}

// Sign returns a DER signature with the hash type byte appended.
func (k *TransparentKey) Sign(sighash [32]byte, hashType uint8) []byte {
	sig := ecdsa.Sign(k.key, sighash[:])
	return append(sig.Serialize(), hashType)
}

// SignatureScript builds the scriptSig of a P2PKH input.
func (k *TransparentKey) SignatureScript(sighash [32]byte, hashType uint8) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(k.Sign(sighash, hashType)).
		AddData(k.PubKey()).
		Script()
}

// VerifySignature checks a DER signature, with or without hash type byte,
// against a compressed public key.
func VerifySignature(pubKey []byte, sighash [32]byte, sig []byte) bool {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil && len(sig) > 0 {
		s, err = ecdsa.ParseDERSignature(sig[:len(sig)-1])
	}
	if err != nil {
		return false
	}
	return s.Verify(sighash[:], pub)
}

// PayToPubKeyHash returns the P2PKH locking script of hash.
func PayToPubKeyHash(hash [20]byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(hash[:]).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// PayToScriptHash returns the P2SH locking script of hash.
func PayToScriptHash(hash [20]byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(hash[:]).
		AddOp(txscript.OP_EQUAL).
		Script()
}
