package builder

import (
	"encoding/binary"
	"io"

	"github.com/catalogfi/zwallet/commitment"
	"github.com/catalogfi/zwallet/crypto"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/zcash"
)

// SpendInfo is the witness of a shielded spend.
type SpendInfo struct {
	Note      shielded.Note
	Fvk       shielded.FullViewingKey
	Path      *commitment.MerklePath
	Anchor    commitment.Node
	Nullifier [32]byte
	// Alpha randomizes the spend validating key.
	Alpha [32]byte
	// Dummy spends pad Orchard bundles. Their path is not checked.
	Dummy bool
}

// ValueCommitment is a value commitment with its trapdoor. The trapdoors
// of a bundle make up its binding signing key.
type ValueCommitment struct {
	Cv  [32]byte
	Rcv [32]byte
}

type SpendProof struct {
	ValueCommitment
	Rk    [32]byte
	Proof [zcash.SaplingProofSize]byte
}

type OutputProof struct {
	ValueCommitment
	Proof [zcash.SaplingProofSize]byte
}

// ActionProof is the part of an Orchard action that depends on its spend
// and its output. The zero knowledge proof covers the whole bundle.
type ActionProof struct {
	ValueCommitment
	Rk [32]byte
}

// Prover produces the zero knowledge proofs and the signatures that need
// the group arithmetic of the shielded pools.
type Prover interface {
	ProveSpend(spend *SpendInfo, rng io.Reader) (*SpendProof, error)
	ProveOutput(note *shielded.Note, rng io.Reader) (*OutputProof, error)
	ProveAction(spend *SpendInfo, output *shielded.Note, rng io.Reader) (*ActionProof, error)
	ProveOrchard(spends []*SpendInfo, outputs []*shielded.Note) ([]byte, error)
	// SignSpend signs sighash with the spend authorizing key of sk
	// randomized by alpha.
	SignSpend(pool zcash.Pool, sk shielded.SpendingKey, alpha, sighash [32]byte) ([zcash.SignatureSize]byte, error)
	BindingSignature(pool zcash.Pool, rcvs [][32]byte, valueBalance int64, sighash [32]byte) ([zcash.SignatureSize]byte, error)
}

// ReferenceProver pairs with shielded.Reference. It checks the witnesses
// and note commitments it is given and derives every proof and signature
// from personalized BLAKE2b digests. Its output is not verifiable by
// consensus nodes.
type ReferenceProver struct {
	backend *shielded.Reference
}

var _ Prover = (*ReferenceProver)(nil)

func NewReferenceProver(backend *shielded.Reference) *ReferenceProver {
	return &ReferenceProver{backend: backend}
}

func digest(person string, parts ...[]byte) [32]byte {
	p := make([]byte, 16)
	copy(p, person)
	h := crypto.NewHash256(p)
	for _, part := range parts {
		h.Write(part)
	}
	var d [32]byte
	copy(d[:], h.Sum(nil))
	return d
}

func expand(dst []byte, person string, seed [32]byte) {
	var ctr [4]byte
	for i := 0; i < len(dst); i += 32 {
		binary.LittleEndian.PutUint32(ctr[:], uint32(i/32))
		d := digest(person, seed[:], ctr[:])
		copy(dst[i:], d[:])
	}
}

func (p *ReferenceProver) commitValue(pool zcash.Pool, value int64, rng io.Reader) (ValueCommitment, error) {
	var vc ValueCommitment
	if _, err := io.ReadFull(rng, vc.Rcv[:]); err != nil {
		return vc, &ProverError{Code: ProverInvalidNote, Message: "sample rcv", Cause: err}
	}
	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], uint64(value))
	vc.Cv = digest("Zwallet_Cv", []byte{byte(pool)}, v[:], vc.Rcv[:])
	return vc, nil
}

func (p *ReferenceProver) checkSpend(spend *SpendInfo) error {
	if spend.Dummy {
		return nil
	}
	if spend.Path == nil {
		return &ProverError{Code: ProverInvalidWitness, Message: "missing merkle path"}
	}
	cm := p.backend.NoteCommitment(spend.Note)
	if spend.Path.Root(p.backend.Hasher(spend.Note.Pool), cm) != spend.Anchor {
		return &ProverError{Code: ProverInvalidWitness, Message: "merkle path does not lead to the anchor"}
	}
	return nil
}

func (p *ReferenceProver) ProveSpend(spend *SpendInfo, rng io.Reader) (*SpendProof, error) {
	if err := p.checkSpend(spend); err != nil {
		return nil, err
	}
	vc, err := p.commitValue(zcash.Sapling, int64(spend.Note.Value), rng)
	if err != nil {
		return nil, err
	}
	proof := &SpendProof{ValueCommitment: vc, Rk: digest("Zwallet_Rk", spend.Fvk.Ak[:], spend.Alpha[:])}
	expand(proof.Proof[:], "Zwallet_SpendPf", digest("Zwallet_SpendIn", vc.Cv[:], proof.Rk[:], spend.Nullifier[:], spend.Anchor[:]))
	return proof, nil
}

func (p *ReferenceProver) ProveOutput(note *shielded.Note, rng io.Reader) (*OutputProof, error) {
	vc, err := p.commitValue(zcash.Sapling, -int64(note.Value), rng)
	if err != nil {
		return nil, err
	}
	cm := p.backend.NoteCommitment(*note)
	proof := &OutputProof{ValueCommitment: vc}
	expand(proof.Proof[:], "Zwallet_OutPf", digest("Zwallet_OutIn", vc.Cv[:], cm[:]))
	return proof, nil
}

func (p *ReferenceProver) ProveAction(spend *SpendInfo, output *shielded.Note, rng io.Reader) (*ActionProof, error) {
	if err := p.checkSpend(spend); err != nil {
		return nil, err
	}
	if output.Rho != spend.Nullifier {
		return nil, &ProverError{Code: ProverInvalidNote, Message: "output rho is not the action nullifier"}
	}
	vc, err := p.commitValue(zcash.Orchard, int64(spend.Note.Value)-int64(output.Value), rng)
	if err != nil {
		return nil, err
	}
	return &ActionProof{ValueCommitment: vc, Rk: digest("Zwallet_Rk", spend.Fvk.Ak[:], spend.Alpha[:])}, nil
}

func (p *ReferenceProver) ProveOrchard(spends []*SpendInfo, outputs []*shielded.Note) ([]byte, error) {
	if len(spends) != len(outputs) {
		return nil, &ProverError{Code: ProverInvalidNote, Message: "actions need one spend and one output"}
	}
	h := crypto.NewHash256([]byte("Zwallet_OrchPfIn"))
	for i := range spends {
		cm := p.backend.NoteCommitment(*outputs[i])
		h.Write(spends[i].Nullifier[:])
		h.Write(cm[:])
	}
	var seed [32]byte
	copy(seed[:], h.Sum(nil))
	proof := make([]byte, 32*(2+len(spends)))
	expand(proof, "Zwallet_OrchPf", seed)
	return proof, nil
}

func (p *ReferenceProver) SignSpend(pool zcash.Pool, sk shielded.SpendingKey, alpha, sighash [32]byte) ([zcash.SignatureSize]byte, error) {
	var sig [zcash.SignatureSize]byte
	ask := p.backend.SpendAuthKey(pool, sk)
	expand(sig[:], "Zwallet_SpendSig", digest("Zwallet_SpendMsg", ask[:], alpha[:], sighash[:]))
	return sig, nil
}

func (p *ReferenceProver) BindingSignature(pool zcash.Pool, rcvs [][32]byte, valueBalance int64, sighash [32]byte) ([zcash.SignatureSize]byte, error) {
	var sig [zcash.SignatureSize]byte
	h := crypto.NewHash256([]byte("Zwallet_BindKey_"))
	h.Write([]byte{byte(pool)})
	for i := range rcvs {
		h.Write(rcvs[i][:])
	}
	var bsk [32]byte
	copy(bsk[:], h.Sum(nil))
	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], uint64(valueBalance))
	expand(sig[:], "Zwallet_BindSig", digest("Zwallet_BindMsg", bsk[:], v[:], sighash[:]))
	return sig, nil
}
