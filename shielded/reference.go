package shielded

import (
	"bytes"
	"crypto/subtle"
	"encoding/binary"
	"io"

	"github.com/catalogfi/zwallet/commitment"
	"github.com/catalogfi/zwallet/zcash"
	blake2b "github.com/minio/blake2b-simd"
	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// Reference is a self consistent backend built from BLAKE2b, X25519 and
// ChaCha20. Its notes, trees and nullifiers round trip with each other but
// are NOT compatible with Zcash consensus; it exists for development
// networks and tests. Production hosts inject a consensus Backend.
type Reference struct {
	sapling *commitment.Blake2bHasher
	orchard *commitment.Blake2bHasher
}

var _ Backend = (*Reference)(nil)

// NewReference builds the reference backend. The empty leaves follow the
// pool conventions: 1 for Sapling and 2 for Orchard.
func NewReference() *Reference {
	return &Reference{
		sapling: commitment.NewBlake2bHasher("Zwallet_SaplMH", commitment.Node{1}),
		orchard: commitment.NewBlake2bHasher("Zwallet_OrchMH", commitment.Node{2}),
	}
}

func hash256(person string, parts ...[]byte) [32]byte {
	d, err := blake2b.New(&blake2b.Config{Size: 32, Person: []byte(person)})
	if err != nil {
		panic(err)
	}
	for _, p := range parts {
		d.Write(p)
	}
	var out [32]byte
	copy(out[:], d.Sum(nil))
	return out
}

func (r *Reference) Hasher(pool zcash.Pool) commitment.Hasher {
	if pool == zcash.Orchard {
		return r.orchard
	}
	return r.sapling
}

func (r *Reference) FullViewingKey(pool zcash.Pool, sk SpendingKey) FullViewingKey {
	p := []byte{byte(pool)}
	ask := hash256("Zwallet_PRF", p, sk[:], []byte{0})
	nsk := hash256("Zwallet_PRF", p, sk[:], []byte{1})
	return FullViewingKey{
		Pool: pool,
		Ak:   hash256("Zwallet_Ak", ask[:]),
		Nk:   hash256("Zwallet_Nk", nsk[:]),
		Ovk:  hash256("Zwallet_PRF", p, sk[:], []byte{2}),
		Dk:   hash256("Zwallet_PRF", p, sk[:], []byte{3}),
	}
}

// SpendAuthKey returns the spend authorizing key ask of sk.
func (r *Reference) SpendAuthKey(pool zcash.Pool, sk SpendingKey) [32]byte {
	return hash256("Zwallet_PRF", []byte{byte(pool)}, sk[:], []byte{0})
}

func (r *Reference) IncomingViewingKey(fvk FullViewingKey) IncomingViewingKey {
	return IncomingViewingKey{
		Pool: fvk.Pool,
		Ivk:  hash256("Zwallet_Ivk", []byte{byte(fvk.Pool)}, fvk.Ak[:], fvk.Nk[:]),
	}
}

func diversifiedBase(d [11]byte) [32]byte {
	return hash256("Zwallet_GD", d[:])
}

func (r *Reference) Address(fvk FullViewingKey, index uint32) (PaymentAddress, error) {
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], index)
	var a PaymentAddress
	h := hash256("Zwallet_Div", fvk.Dk[:], idx[:])
	copy(a.Diversifier[:], h[:11])
	ivk := r.IncomingViewingKey(fvk)
	gd := diversifiedBase(a.Diversifier)
	pkd, err := curve25519.X25519(ivk.Ivk[:], gd[:])
	if err != nil {
		return a, errors.Wrap(err, "derive pk_d")
	}
	copy(a.PkD[:], pkd)
	return a, nil
}

func (r *Reference) DiversifiedAddress(ivk IncomingViewingKey, d [11]byte) (PaymentAddress, error) {
	a := PaymentAddress{Diversifier: d}
	gd := diversifiedBase(d)
	pkd, err := curve25519.X25519(ivk.Ivk[:], gd[:])
	if err != nil {
		return a, errors.Wrap(err, "derive pk_d")
	}
	copy(a.PkD[:], pkd)
	return a, nil
}

func (r *Reference) NoteCommitment(note Note) commitment.Node {
	rcm := hash256("Zwallet_Rcm", note.Rseed[:])
	parts := [][]byte{
		{byte(note.Pool)},
		note.Address.Diversifier[:],
		note.Address.PkD[:],
		putUint64(note.Value),
		rcm[:],
	}
	if note.Pool == zcash.Orchard {
		parts = append(parts, note.Rho[:])
	}
	return commitment.Node(hash256("Zwallet_NoteCm", parts...))
}

func (r *Reference) Nullifier(fvk FullViewingKey, note Note, position uint64) [32]byte {
	cm := r.NoteCommitment(note)
	if note.Pool == zcash.Orchard {
		return hash256("Zwallet_Nf", []byte{byte(note.Pool)}, fvk.Nk[:], note.Rho[:], cm[:])
	}
	return hash256("Zwallet_Nf", []byte{byte(note.Pool)}, fvk.Nk[:], cm[:], putUint64(position))
}

func kdf(shared []byte, epk [32]byte) [32]byte {
	return hash256("Zwallet_KDF", shared, epk[:])
}

var zeroNonce = make([]byte, chacha20poly1305.NonceSize)

func parsePlaintext(pool zcash.Pool, pt []byte) (Note, bool) {
	var note Note
	if len(pt) < CompactCiphertextSize || pt[0] != noteLeadByte {
		return note, false
	}
	note.Pool = pool
	copy(note.Address.Diversifier[:], pt[1:12])
	note.Value = binary.LittleEndian.Uint64(pt[12:20])
	copy(note.Rseed[:], pt[20:52])
	return note, true
}

// complete fills pk_d from ivk and accepts the note only if its commitment matches.
func (r *Reference) complete(ivk IncomingViewingKey, note Note, cm commitment.Node) (*Note, bool) {
	gd := diversifiedBase(note.Address.Diversifier)
	pkd, err := curve25519.X25519(ivk.Ivk[:], gd[:])
	if err != nil {
		return nil, false
	}
	copy(note.Address.PkD[:], pkd)
	got := r.NoteCommitment(note)
	if subtle.ConstantTimeCompare(got[:], cm[:]) != 1 {
		return nil, false
	}
	return &note, true
}

func (r *Reference) DecryptCompact(ivk IncomingViewingKey, out *CompactOutput) (*Note, bool) {
	if out.Blank() {
		return nil, false
	}
	shared, err := curve25519.X25519(ivk.Ivk[:], out.EphemeralKey[:])
	if err != nil {
		return nil, false
	}
	key := kdf(shared, out.EphemeralKey)
	c, err := chacha20.NewUnauthenticatedCipher(key[:], zeroNonce)
	if err != nil {
		return nil, false
	}
	// the AEAD keystream starts at block 1, block 0 keys the MAC
	c.SetCounter(1)
	pt := make([]byte, CompactCiphertextSize)
	c.XORKeyStream(pt, out.Ciphertext[:CompactCiphertextSize])
	note, ok := parsePlaintext(ivk.Pool, pt)
	if !ok {
		return nil, false
	}
	note.Rho = out.Rho
	return r.complete(ivk, note, out.Commitment)
}

func (r *Reference) Encrypt(note Note, ovk [32]byte, memo [zcash.MemoSize]byte, rng io.Reader) (*EncryptedNote, error) {
	esk := hash256("Zwallet_Esk", note.Rseed[:])
	gd := diversifiedBase(note.Address.Diversifier)
	epk, err := curve25519.X25519(esk[:], gd[:])
	if err != nil {
		return nil, errors.Wrap(err, "derive epk")
	}
	shared, err := curve25519.X25519(esk[:], note.Address.PkD[:])
	if err != nil {
		return nil, errors.Wrap(err, "key agreement")
	}
	out := &EncryptedNote{Commitment: r.NoteCommitment(note)}
	copy(out.EphemeralKey[:], epk)
	key := kdf(shared, out.EphemeralKey)

	var pt bytes.Buffer
	pt.WriteByte(noteLeadByte)
	pt.Write(note.Address.Diversifier[:])
	pt.Write(putUint64(note.Value))
	pt.Write(note.Rseed[:])
	pt.Write(memo[:])
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	copy(out.EncCiphertext[:], aead.Seal(nil, zeroNonce, pt.Bytes(), nil))

	ock := hash256("Zwallet_OCK", ovk[:], out.Commitment[:], out.EphemeralKey[:])
	aead, err = chacha20poly1305.New(ock[:])
	if err != nil {
		return nil, err
	}
	copy(out.OutCiphertext[:], aead.Seal(nil, zeroNonce, append(note.Address.PkD[:], esk[:]...), nil))
	return out, nil
}

func (r *Reference) DecryptFull(ivk IncomingViewingKey, out *EncryptedNote, rho [32]byte) (*Note, [zcash.MemoSize]byte, bool) {
	var memo [zcash.MemoSize]byte
	shared, err := curve25519.X25519(ivk.Ivk[:], out.EphemeralKey[:])
	if err != nil {
		return nil, memo, false
	}
	key := kdf(shared, out.EphemeralKey)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, memo, false
	}
	pt, err := aead.Open(nil, zeroNonce, out.EncCiphertext[:], nil)
	if err != nil {
		return nil, memo, false
	}
	note, ok := parsePlaintext(ivk.Pool, pt)
	if !ok {
		return nil, memo, false
	}
	note.Rho = rho
	n, ok := r.complete(ivk, note, out.Commitment)
	if !ok {
		return nil, memo, false
	}
	copy(memo[:], pt[52:])
	return n, memo, true
}
