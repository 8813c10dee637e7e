// Package crypto computes v5 transaction digests and signs transparent inputs.
//
// The digest tree follows ZIP 244: a header digest, a transparent digest, a
// Sapling digest and an Orchard digest are hashed together under a
// personalization that carries the consensus branch id.
package crypto

import (
	"encoding/binary"
	"errors"
	"hash"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/catalogfi/zwallet/zcash"
	blake2b "github.com/minio/blake2b-simd"
)

const (
	txHashPersonalization = "ZcashTxHash_"

	headerPersonalization      = "ZTxIdHeadersHash"
	transparentPersonalization = "ZTxIdTranspaHash"
	saplingPersonalization     = "ZTxIdSaplingHash"
	orchardPersonalization     = "ZTxIdOrchardHash"

	prevoutPersonalization  = "ZTxIdPrevoutHash"
	sequencePersonalization = "ZTxIdSequencHash"
	outputsPersonalization  = "ZTxIdOutputsHash"
	amountsPersonalization  = "ZTxTrAmountsHash"
	scriptsPersonalization  = "ZTxTrScriptsHash"
	txInPersonalization     = "Zcash___TxInHash"

	saplingSpendsPersonalization      = "ZTxIdSSpendsHash"
	saplingSpendsCompactPersonal      = "ZTxIdSSpendCHash"
	saplingSpendsNoncompactPersonal   = "ZTxIdSSpendNHash"
	saplingOutputsPersonalization     = "ZTxIdSOutputHash"
	saplingOutputsCompactPersonal     = "ZTxIdSOutC__Hash"
	saplingOutputsMemosPersonal       = "ZTxIdSOutM__Hash"
	saplingOutputsNoncompactPersonal  = "ZTxIdSOutN__Hash"
	orchardActionsCompactPersonal     = "ZTxIdOrcActCHash"
	orchardActionsMemosPersonal       = "ZTxIdOrcActMHash"
	orchardActionsNoncompactPersonal  = "ZTxIdOrcActNHash"
	compactCiphertextSize             = 52
	memoEnd                           = compactCiphertextSize + zcash.MemoSize
)

// Sighash types of transparent signatures.
const (
	SigHashAll          uint8 = 0x01
	SigHashNone         uint8 = 0x02
	SigHashSingle       uint8 = 0x03
	SigHashAnyoneCanPay uint8 = 0x80
)

var ErrInputIndex = errors.New("transparent input index out of range")

// NewHash256 returns a personalized BLAKE2b-256 hash.
func NewHash256(person []byte) hash.Hash {
	h, err := blake2b.New(&blake2b.Config{Size: 32, Person: person})
	if err != nil {
		panic(err)
	}
	return h
}

func sum(h hash.Hash) (d [32]byte) {
	copy(d[:], h.Sum(nil))
	return
}

func le(h hash.Hash, v interface{}) {
	_ = binary.Write(h, binary.LittleEndian, v)
}

// Digests are the four top level components of the txid.
type Digests struct {
	Header      [32]byte
	Transparent [32]byte
	Sapling     [32]byte
	Orchard     [32]byte
}

// ComputeDigests computes the txid digests of tx.
func ComputeDigests(tx *zcash.Transaction) *Digests {
	return &Digests{
		Header:      headerDigest(tx),
		Transparent: transparentDigest(tx),
		Sapling:     saplingDigest(&tx.Sapling),
		Orchard:     orchardDigest(&tx.Orchard),
	}
}

func txPersonalization(branch uint32) []byte {
	p := make([]byte, 16)
	copy(p, txHashPersonalization)
	binary.LittleEndian.PutUint32(p[12:], branch)
	return p
}

func (d *Digests) combine(branch uint32, transparent [32]byte) [32]byte {
	h := NewHash256(txPersonalization(branch))
	h.Write(d.Header[:])
	h.Write(transparent[:])
	h.Write(d.Sapling[:])
	h.Write(d.Orchard[:])
	return sum(h)
}

// TxID returns the non malleable transaction id.
func TxID(tx *zcash.Transaction) chainhash.Hash {
	d := ComputeDigests(tx)
	return chainhash.Hash(d.combine(tx.BranchID, d.Transparent))
}

// ShieldedSigHash is the digest signed by spend authorization and binding
// signatures. Without transparent inputs it equals the txid digest.
func ShieldedSigHash(tx *zcash.Transaction, prevOuts []*wire.TxOut) [32]byte {
	d := ComputeDigests(tx)
	if len(tx.TxIn) == 0 {
		return d.combine(tx.BranchID, d.Transparent)
	}
	return d.combine(tx.BranchID, transparentSigDigest(tx, prevOuts, -1, SigHashAll))
}

// TransparentSigHash is the digest signed by the transparent input at index.
// prevOuts holds the outputs spent by every input, in input order.
func TransparentSigHash(tx *zcash.Transaction, prevOuts []*wire.TxOut, index int, hashType uint8) ([32]byte, error) {
	if index < 0 || index >= len(tx.TxIn) || len(prevOuts) != len(tx.TxIn) {
		return [32]byte{}, ErrInputIndex
	}
	d := ComputeDigests(tx)
	return d.combine(tx.BranchID, transparentSigDigest(tx, prevOuts, index, hashType)), nil
}

func headerDigest(tx *zcash.Transaction) [32]byte {
	h := NewHash256([]byte(headerPersonalization))
	le(h, zcash.TxVersion5|1<<31)
	le(h, zcash.TxVersionGroupIDv5)
	le(h, tx.BranchID)
	le(h, tx.LockTime)
	le(h, tx.ExpiryHeight)
	return sum(h)
}

func transparentDigest(tx *zcash.Transaction) [32]byte {
	h := NewHash256([]byte(transparentPersonalization))
	if len(tx.TxIn) == 0 && len(tx.TxOut) == 0 {
		return sum(h)
	}
	prevouts := prevoutsDigest(tx.TxIn)
	sequences := sequenceDigest(tx.TxIn)
	outputs := outputsDigest(tx.TxOut)
	h.Write(prevouts[:])
	h.Write(sequences[:])
	h.Write(outputs[:])
	return sum(h)
}

func prevoutsDigest(ins []*wire.TxIn) [32]byte {
	h := NewHash256([]byte(prevoutPersonalization))
	for _, in := range ins {
		h.Write(in.PreviousOutPoint.Hash[:])
		le(h, in.PreviousOutPoint.Index)
	}
	return sum(h)
}

func sequenceDigest(ins []*wire.TxIn) [32]byte {
	h := NewHash256([]byte(sequencePersonalization))
	for _, in := range ins {
		le(h, in.Sequence)
	}
	return sum(h)
}

func writeTxOut(h hash.Hash, out *wire.TxOut) {
	_ = wire.WriteTxOut(h, 0, 0, out)
}

func outputsDigest(outs []*wire.TxOut) [32]byte {
	h := NewHash256([]byte(outputsPersonalization))
	for _, out := range outs {
		writeTxOut(h, out)
	}
	return sum(h)
}

// transparentSigDigest is S.2. index -1 selects the shielded variant in
// which no input is being signed.
func transparentSigDigest(tx *zcash.Transaction, prevOuts []*wire.TxOut, index int, hashType uint8) [32]byte {
	h := NewHash256([]byte(transparentPersonalization))
	anyoneCanPay := hashType&SigHashAnyoneCanPay != 0

	h.Write([]byte{hashType})

	prevouts := NewHash256([]byte(prevoutPersonalization))
	amounts := NewHash256([]byte(amountsPersonalization))
	scripts := NewHash256([]byte(scriptsPersonalization))
	sequences := NewHash256([]byte(sequencePersonalization))
	if !anyoneCanPay {
		for i, in := range tx.TxIn {
			prevouts.Write(in.PreviousOutPoint.Hash[:])
			le(prevouts, in.PreviousOutPoint.Index)
			le(amounts, prevOuts[i].Value)
			_ = wire.WriteVarBytes(scripts, 0, prevOuts[i].PkScript)
			le(sequences, in.Sequence)
		}
	}
	for _, d := range []hash.Hash{prevouts, amounts, scripts, sequences} {
		h.Write(d.Sum(nil))
	}

	outputs := NewHash256([]byte(outputsPersonalization))
	switch hashType & 0x1f {
	case SigHashAll:
		for _, out := range tx.TxOut {
			writeTxOut(outputs, out)
		}
	case SigHashSingle:
		if index >= 0 && index < len(tx.TxOut) {
			writeTxOut(outputs, tx.TxOut[index])
		}
	}
	h.Write(outputs.Sum(nil))

	txin := NewHash256([]byte(txInPersonalization))
	if index >= 0 {
		in := tx.TxIn[index]
		txin.Write(in.PreviousOutPoint.Hash[:])
		le(txin, in.PreviousOutPoint.Index)
		le(txin, prevOuts[index].Value)
		_ = wire.WriteVarBytes(txin, 0, prevOuts[index].PkScript)
		le(txin, in.Sequence)
	}
	h.Write(txin.Sum(nil))
	return sum(h)
}

func saplingDigest(s *zcash.SaplingBundle) [32]byte {
	h := NewHash256([]byte(saplingPersonalization))
	if s.Empty() {
		return sum(h)
	}

	spends := NewHash256([]byte(saplingSpendsPersonalization))
	if len(s.Spends) > 0 {
		compact := NewHash256([]byte(saplingSpendsCompactPersonal))
		noncompact := NewHash256([]byte(saplingSpendsNoncompactPersonal))
		for i := range s.Spends {
			sp := &s.Spends[i]
			compact.Write(sp.Nullifier[:])
			noncompact.Write(sp.Cv[:])
			noncompact.Write(s.Anchor[:])
			noncompact.Write(sp.Rk[:])
		}
		spends.Write(compact.Sum(nil))
		spends.Write(noncompact.Sum(nil))
	}
	h.Write(spends.Sum(nil))

	outputs := NewHash256([]byte(saplingOutputsPersonalization))
	if len(s.Outputs) > 0 {
		compact := NewHash256([]byte(saplingOutputsCompactPersonal))
		memos := NewHash256([]byte(saplingOutputsMemosPersonal))
		noncompact := NewHash256([]byte(saplingOutputsNoncompactPersonal))
		for i := range s.Outputs {
			o := &s.Outputs[i]
			compact.Write(o.Cmu[:])
			compact.Write(o.EphemeralKey[:])
			compact.Write(o.EncCiphertext[:compactCiphertextSize])
			memos.Write(o.EncCiphertext[compactCiphertextSize:memoEnd])
			noncompact.Write(o.Cv[:])
			noncompact.Write(o.EncCiphertext[memoEnd:])
			noncompact.Write(o.OutCiphertext[:])
		}
		outputs.Write(compact.Sum(nil))
		outputs.Write(memos.Sum(nil))
		outputs.Write(noncompact.Sum(nil))
	}
	h.Write(outputs.Sum(nil))

	le(h, s.ValueBalance)
	return sum(h)
}

func orchardDigest(o *zcash.OrchardBundle) [32]byte {
	h := NewHash256([]byte(orchardPersonalization))
	if len(o.Actions) == 0 {
		return sum(h)
	}
	compact := NewHash256([]byte(orchardActionsCompactPersonal))
	memos := NewHash256([]byte(orchardActionsMemosPersonal))
	noncompact := NewHash256([]byte(orchardActionsNoncompactPersonal))
	for i := range o.Actions {
		a := &o.Actions[i]
		compact.Write(a.Nullifier[:])
		compact.Write(a.Cmx[:])
		compact.Write(a.EphemeralKey[:])
		compact.Write(a.EncCiphertext[:compactCiphertextSize])
		memos.Write(a.EncCiphertext[compactCiphertextSize:memoEnd])
		noncompact.Write(a.Cv[:])
		noncompact.Write(a.Rk[:])
		noncompact.Write(a.EncCiphertext[memoEnd:])
		noncompact.Write(a.OutCiphertext[:])
	}
	h.Write(compact.Sum(nil))
	h.Write(memos.Sum(nil))
	h.Write(noncompact.Sum(nil))
	h.Write([]byte{o.Flags})
	le(h, o.ValueBalance)
	h.Write(o.Anchor[:])
	return sum(h)
}
