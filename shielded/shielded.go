// Package shielded defines the note level primitives of the Sapling and
// Orchard pools: key derivation, note commitments, nullifiers and note
// encryption. Consensus implementations live behind the Backend interface.
package shielded

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/catalogfi/zwallet/commitment"
	"github.com/catalogfi/zwallet/zcash"
)

const (
	// CompactCiphertextSize is the prefix of the note ciphertext carried by compact blocks.
	CompactCiphertextSize = 52
	// PlaintextSize is lead byte, diversifier, value, rseed and memo.
	PlaintextSize = 1 + 11 + 8 + 32 + zcash.MemoSize
	// EncCiphertextSize is the note plaintext plus the AEAD tag.
	EncCiphertextSize = PlaintextSize + 16
	// OutCiphertextSize is pk_d and esk plus the AEAD tag.
	OutCiphertextSize = 32 + 32 + 16
	// AddressSize is the raw size of a Sapling or Orchard receiver.
	AddressSize = 43

	noteLeadByte = 0x02
)

var (
	ErrInvalidAddress = errors.New("invalid shielded address bytes")
	ErrInvalidKey     = errors.New("invalid shielded key")
)

// SpendingKey is the 32 byte spending key of one pool.
type SpendingKey [32]byte

// FullViewingKey allows detecting incoming and outgoing notes and computing nullifiers.
type FullViewingKey struct {
	Pool zcash.Pool
	Ak   [32]byte
	Nk   [32]byte
	Ovk  [32]byte
	Dk   [32]byte
}

// Bytes encodes the key as ak || nk || ovk || dk.
func (k FullViewingKey) Bytes() []byte {
	b := make([]byte, 0, 128)
	b = append(b, k.Ak[:]...)
	b = append(b, k.Nk[:]...)
	b = append(b, k.Ovk[:]...)
	return append(b, k.Dk[:]...)
}

// FullViewingKeyFromBytes parses the encoding produced by Bytes.
func FullViewingKeyFromBytes(pool zcash.Pool, b []byte) (FullViewingKey, error) {
	var k FullViewingKey
	if len(b) != 128 {
		return k, ErrInvalidKey
	}
	k.Pool = pool
	copy(k.Ak[:], b[0:32])
	copy(k.Nk[:], b[32:64])
	copy(k.Ovk[:], b[64:96])
	copy(k.Dk[:], b[96:128])
	return k, nil
}

// IncomingViewingKey decrypts notes sent to the addresses of one key.
type IncomingViewingKey struct {
	Pool zcash.Pool
	Ivk  [32]byte
}

// PaymentAddress is a Sapling or Orchard receiver.
type PaymentAddress struct {
	Diversifier [11]byte
	PkD         [32]byte
}

// Bytes returns d || pk_d.
func (a PaymentAddress) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a.Diversifier[:])
	copy(b[11:], a.PkD[:])
	return b
}

// PaymentAddressFromBytes parses d || pk_d.
func PaymentAddressFromBytes(b []byte) (PaymentAddress, error) {
	var a PaymentAddress
	if len(b) != AddressSize {
		return a, ErrInvalidAddress
	}
	copy(a.Diversifier[:], b[:11])
	copy(a.PkD[:], b[11:])
	return a, nil
}

// Note is a shielded value record. Rho is only meaningful for Orchard where
// it is the nullifier of the spend paired in the same action.
type Note struct {
	Pool    zcash.Pool
	Address PaymentAddress
	Value   uint64
	Rseed   [32]byte
	Rho     [32]byte
}

// CompactOutput is a Sapling output or Orchard action as carried by compact blocks.
type CompactOutput struct {
	Commitment   commitment.Node
	EphemeralKey [32]byte
	Ciphertext   []byte
	// Rho is the nullifier revealed by the same Orchard action.
	Rho [32]byte
}

// Blank reports whether the output was stripped by a spam filter.
func (o *CompactOutput) Blank() bool {
	if len(o.Ciphertext) < CompactCiphertextSize {
		return true
	}
	for _, b := range o.EphemeralKey {
		if b != 0 {
			return false
		}
	}
	return true
}

// EncryptedNote is a full shielded output.
type EncryptedNote struct {
	Commitment    commitment.Node
	EphemeralKey  [32]byte
	EncCiphertext [EncCiphertextSize]byte
	OutCiphertext [OutCiphertextSize]byte
}

// Compact returns the compact form of the output.
func (e *EncryptedNote) Compact(rho [32]byte) CompactOutput {
	return CompactOutput{
		Commitment:   e.Commitment,
		EphemeralKey: e.EphemeralKey,
		Ciphertext:   append([]byte(nil), e.EncCiphertext[:CompactCiphertextSize]...),
		Rho:          rho,
	}
}

// Backend implements the pool specific cryptography.
type Backend interface {
	Hasher(pool zcash.Pool) commitment.Hasher
	FullViewingKey(pool zcash.Pool, sk SpendingKey) FullViewingKey
	IncomingViewingKey(fvk FullViewingKey) IncomingViewingKey
	Address(fvk FullViewingKey, index uint32) (PaymentAddress, error)
	// DiversifiedAddress returns the address of ivk with diversifier d.
	DiversifiedAddress(ivk IncomingViewingKey, d [11]byte) (PaymentAddress, error)
	NoteCommitment(note Note) commitment.Node
	Nullifier(fvk FullViewingKey, note Note, position uint64) [32]byte
	// DecryptCompact trial decrypts a compact output and checks its commitment.
	DecryptCompact(ivk IncomingViewingKey, out *CompactOutput) (*Note, bool)
	// Encrypt produces the full output for note. rng is only used for
	// values that are not derived from the note seed.
	Encrypt(note Note, ovk [32]byte, memo [zcash.MemoSize]byte, rng io.Reader) (*EncryptedNote, error)
	// DecryptFull recovers note and memo from a full output.
	DecryptFull(ivk IncomingViewingKey, out *EncryptedNote, rho [32]byte) (*Note, [zcash.MemoSize]byte, bool)
}

func putUint64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}
