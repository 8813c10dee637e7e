package zcash

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	overwinteredFlag = 1 << 31
	maxScriptSize    = 10_000
	maxBundleItems   = 1 << 16

	EncCiphertextSize = 580
	OutCiphertextSize = 80
	SaplingProofSize  = 192
	SignatureSize     = 64
)

var ErrInvalidTx = errors.New("invalid v5 transaction")

// SaplingSpend is a Sapling spend description.
type SaplingSpend struct {
	Cv           [32]byte
	Nullifier    [32]byte
	Rk           [32]byte
	Proof        [SaplingProofSize]byte
	SpendAuthSig [SignatureSize]byte
}

// SaplingOutput is a Sapling output description.
type SaplingOutput struct {
	Cv            [32]byte
	Cmu           [32]byte
	EphemeralKey  [32]byte
	EncCiphertext [EncCiphertextSize]byte
	OutCiphertext [OutCiphertextSize]byte
	Proof         [SaplingProofSize]byte
}

// SaplingBundle is the Sapling part of a v5 transaction.
type SaplingBundle struct {
	Spends       []SaplingSpend
	Outputs      []SaplingOutput
	ValueBalance int64
	Anchor       [32]byte
	BindingSig   [SignatureSize]byte
}

// Empty reports whether the bundle has neither spends nor outputs.
func (b *SaplingBundle) Empty() bool {
	return len(b.Spends) == 0 && len(b.Outputs) == 0
}

// OrchardAction pairs one spend and one output.
type OrchardAction struct {
	Cv            [32]byte
	Nullifier     [32]byte
	Rk            [32]byte
	Cmx           [32]byte
	EphemeralKey  [32]byte
	EncCiphertext [EncCiphertextSize]byte
	OutCiphertext [OutCiphertextSize]byte
	SpendAuthSig  [SignatureSize]byte
}

// Orchard bundle flags.
const (
	OrchardSpendsEnabled  uint8 = 0x01
	OrchardOutputsEnabled uint8 = 0x02
)

// OrchardBundle is the Orchard part of a v5 transaction.
type OrchardBundle struct {
	Actions      []OrchardAction
	Flags        uint8
	ValueBalance int64
	Anchor       [32]byte
	Proof        []byte
	BindingSig   [SignatureSize]byte
}

// Transaction is a version 5 transaction. Transparent inputs and outputs
// reuse the bitcoin wire types.
type Transaction struct {
	BranchID     uint32
	LockTime     uint32
	ExpiryHeight uint32
	TxIn         []*wire.TxIn
	TxOut        []*wire.TxOut
	Sapling      SaplingBundle
	Orchard      OrchardBundle
}

// NewTransaction returns an empty NU5 transaction expiring at expiry.
func NewTransaction(expiry uint32) *Transaction {
	return &Transaction{BranchID: BranchIDNU5, ExpiryHeight: expiry}
}

func writeLE(w io.Writer, v interface{}) error {
	return binary.Write(w, binary.LittleEndian, v)
}

// Serialize writes the transaction in the v5 wire format.
func (tx *Transaction) Serialize(w io.Writer) error {
	for _, v := range []uint32{TxVersion5 | overwinteredFlag, TxVersionGroupIDv5, tx.BranchID, tx.LockTime, tx.ExpiryHeight} {
		if err := writeLE(w, v); err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(tx.TxIn))); err != nil {
		return err
	}
	for _, in := range tx.TxIn {
		if _, err := w.Write(in.PreviousOutPoint.Hash[:]); err != nil {
			return err
		}
		if err := writeLE(w, in.PreviousOutPoint.Index); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(w, 0, in.SignatureScript); err != nil {
			return err
		}
		if err := writeLE(w, in.Sequence); err != nil {
			return err
		}
	}
	if err := wire.WriteVarInt(w, 0, uint64(len(tx.TxOut))); err != nil {
		return err
	}
	for _, out := range tx.TxOut {
		if err := wire.WriteTxOut(w, 0, 0, out); err != nil {
			return err
		}
	}

	if err := tx.writeSapling(w); err != nil {
		return err
	}
	return tx.writeOrchard(w)
}

func (tx *Transaction) writeSapling(w io.Writer) error {
	s := &tx.Sapling
	if err := wire.WriteVarInt(w, 0, uint64(len(s.Spends))); err != nil {
		return err
	}
	for i := range s.Spends {
		sp := &s.Spends[i]
		if err := writeLE(w, [][32]byte{sp.Cv, sp.Nullifier, sp.Rk}); err != nil {
			return err
		}
	}
	if err := wire.WriteVarInt(w, 0, uint64(len(s.Outputs))); err != nil {
		return err
	}
	for i := range s.Outputs {
		o := &s.Outputs[i]
		if err := writeLE(w, [][32]byte{o.Cv, o.Cmu, o.EphemeralKey}); err != nil {
			return err
		}
		if _, err := w.Write(o.EncCiphertext[:]); err != nil {
			return err
		}
		if _, err := w.Write(o.OutCiphertext[:]); err != nil {
			return err
		}
	}
	if s.Empty() {
		return nil
	}
	if err := writeLE(w, s.ValueBalance); err != nil {
		return err
	}
	if len(s.Spends) > 0 {
		if _, err := w.Write(s.Anchor[:]); err != nil {
			return err
		}
	}
	for i := range s.Spends {
		if _, err := w.Write(s.Spends[i].Proof[:]); err != nil {
			return err
		}
	}
	for i := range s.Spends {
		if _, err := w.Write(s.Spends[i].SpendAuthSig[:]); err != nil {
			return err
		}
	}
	for i := range s.Outputs {
		if _, err := w.Write(s.Outputs[i].Proof[:]); err != nil {
			return err
		}
	}
	_, err := w.Write(s.BindingSig[:])
	return err
}

func (tx *Transaction) writeOrchard(w io.Writer) error {
	o := &tx.Orchard
	if err := wire.WriteVarInt(w, 0, uint64(len(o.Actions))); err != nil {
		return err
	}
	if len(o.Actions) == 0 {
		return nil
	}
	for i := range o.Actions {
		a := &o.Actions[i]
		if err := writeLE(w, [][32]byte{a.Cv, a.Nullifier, a.Rk, a.Cmx, a.EphemeralKey}); err != nil {
			return err
		}
		if _, err := w.Write(a.EncCiphertext[:]); err != nil {
			return err
		}
		if _, err := w.Write(a.OutCiphertext[:]); err != nil {
			return err
		}
	}
	if err := writeLE(w, o.Flags); err != nil {
		return err
	}
	if err := writeLE(w, o.ValueBalance); err != nil {
		return err
	}
	if _, err := w.Write(o.Anchor[:]); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, o.Proof); err != nil {
		return err
	}
	for i := range o.Actions {
		if _, err := w.Write(o.Actions[i].SpendAuthSig[:]); err != nil {
			return err
		}
	}
	_, err := w.Write(o.BindingSig[:])
	return err
}

// Bytes returns the serialized transaction.
func (tx *Transaction) Bytes() []byte {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)
	return buf.Bytes()
}

func readCount(r io.Reader) (int, error) {
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, err
	}
	if n > maxBundleItems {
		return 0, fmt.Errorf("%w: too many items (%d)", ErrInvalidTx, n)
	}
	return int(n), nil
}

// Deserialize reads a v5 transaction.
func (tx *Transaction) Deserialize(r io.Reader) error {
	var header [5]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return err
	}
	if header[0] != TxVersion5|overwinteredFlag || header[1] != TxVersionGroupIDv5 {
		return fmt.Errorf("%w: unsupported header %08x/%08x", ErrInvalidTx, header[0], header[1])
	}
	tx.BranchID, tx.LockTime, tx.ExpiryHeight = header[2], header[3], header[4]

	n, err := readCount(r)
	if err != nil {
		return err
	}
	tx.TxIn = make([]*wire.TxIn, n)
	for i := range tx.TxIn {
		in := &wire.TxIn{}
		if _, err := io.ReadFull(r, in.PreviousOutPoint.Hash[:]); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &in.PreviousOutPoint.Index); err != nil {
			return err
		}
		if in.SignatureScript, err = wire.ReadVarBytes(r, 0, maxScriptSize, "scriptSig"); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &in.Sequence); err != nil {
			return err
		}
		tx.TxIn[i] = in
	}
	if n, err = readCount(r); err != nil {
		return err
	}
	tx.TxOut = make([]*wire.TxOut, n)
	for i := range tx.TxOut {
		out := &wire.TxOut{}
		if err := binary.Read(r, binary.LittleEndian, &out.Value); err != nil {
			return err
		}
		if out.PkScript, err = wire.ReadVarBytes(r, 0, maxScriptSize, "scriptPubKey"); err != nil {
			return err
		}
		tx.TxOut[i] = out
	}

	if err := tx.readSapling(r); err != nil {
		return err
	}
	return tx.readOrchard(r)
}

func (tx *Transaction) readSapling(r io.Reader) error {
	s := &tx.Sapling
	n, err := readCount(r)
	if err != nil {
		return err
	}
	s.Spends = make([]SaplingSpend, n)
	for i := range s.Spends {
		sp := &s.Spends[i]
		for _, f := range [][]byte{sp.Cv[:], sp.Nullifier[:], sp.Rk[:]} {
			if _, err := io.ReadFull(r, f); err != nil {
				return err
			}
		}
	}
	if n, err = readCount(r); err != nil {
		return err
	}
	s.Outputs = make([]SaplingOutput, n)
	for i := range s.Outputs {
		o := &s.Outputs[i]
		for _, f := range [][]byte{o.Cv[:], o.Cmu[:], o.EphemeralKey[:], o.EncCiphertext[:], o.OutCiphertext[:]} {
			if _, err := io.ReadFull(r, f); err != nil {
				return err
			}
		}
	}
	if s.Empty() {
		return nil
	}
	if err := binary.Read(r, binary.LittleEndian, &s.ValueBalance); err != nil {
		return err
	}
	if len(s.Spends) > 0 {
		if _, err := io.ReadFull(r, s.Anchor[:]); err != nil {
			return err
		}
	}
	for i := range s.Spends {
		if _, err := io.ReadFull(r, s.Spends[i].Proof[:]); err != nil {
			return err
		}
	}
	for i := range s.Spends {
		if _, err := io.ReadFull(r, s.Spends[i].SpendAuthSig[:]); err != nil {
			return err
		}
	}
	for i := range s.Outputs {
		if _, err := io.ReadFull(r, s.Outputs[i].Proof[:]); err != nil {
			return err
		}
	}
	_, err = io.ReadFull(r, s.BindingSig[:])
	return err
}

func (tx *Transaction) readOrchard(r io.Reader) error {
	o := &tx.Orchard
	n, err := readCount(r)
	if err != nil || n == 0 {
		return err
	}
	o.Actions = make([]OrchardAction, n)
	for i := range o.Actions {
		a := &o.Actions[i]
		for _, f := range [][]byte{a.Cv[:], a.Nullifier[:], a.Rk[:], a.Cmx[:], a.EphemeralKey[:], a.EncCiphertext[:], a.OutCiphertext[:]} {
			if _, err := io.ReadFull(r, f); err != nil {
				return err
			}
		}
	}
	if err := binary.Read(r, binary.LittleEndian, &o.Flags); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &o.ValueBalance); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, o.Anchor[:]); err != nil {
		return err
	}
	if o.Proof, err = wire.ReadVarBytes(r, 0, uint32(maxBundleItems)*2048, "orchardProof"); err != nil {
		return err
	}
	for i := range o.Actions {
		if _, err := io.ReadFull(r, o.Actions[i].SpendAuthSig[:]); err != nil {
			return err
		}
	}
	_, err = io.ReadFull(r, o.BindingSig[:])
	return err
}

// ParseTransaction decodes raw bytes and rejects trailing data.
func ParseTransaction(raw []byte) (*Transaction, error) {
	r := bytes.NewReader(raw)
	tx := &Transaction{}
	if err := tx.Deserialize(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidTx, r.Len())
	}
	return tx, nil
}

// OutPoint is a convenience constructor for a transparent previous output.
func OutPoint(txid chainhash.Hash, index uint32) *wire.OutPoint {
	return wire.NewOutPoint(&txid, index)
}
