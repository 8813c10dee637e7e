package commitment

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
)

// Trees and witnesses use the zcashd encoding: optional nodes are a tag byte
// followed by the node, vectors are CompactSize prefixed.

func writeOptional(w io.Writer, n *Node) error {
	if n == nil {
		_, err := w.Write([]byte{0})
		return err
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}
	_, err := w.Write(n[:])
	return err
}

func readOptional(r io.Reader) (*Node, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}
	switch tag[0] {
	case 0:
		return nil, nil
	case 1:
		var n Node
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return nil, err
		}
		return &n, nil
	}
	return nil, ErrInvalidEncoding
}

// Write serializes the tree.
func (t *CTree) Write(w io.Writer) error {
	if err := writeOptional(w, t.Left); err != nil {
		return err
	}
	if err := writeOptional(w, t.Right); err != nil {
		return err
	}
	if err := wire.WriteVarInt(w, 0, uint64(len(t.Parents))); err != nil {
		return err
	}
	for _, p := range t.Parents {
		if err := writeOptional(w, p); err != nil {
			return err
		}
	}
	return nil
}

// Bytes returns the serialized tree.
func (t *CTree) Bytes() []byte {
	var buf bytes.Buffer
	_ = t.Write(&buf)
	return buf.Bytes()
}

// ReadTree deserializes a tree.
func ReadTree(r io.Reader) (*CTree, error) {
	t := &CTree{}
	var err error
	if t.Left, err = readOptional(r); err != nil {
		return nil, errors.Wrap(err, "tree left")
	}
	if t.Right, err = readOptional(r); err != nil {
		return nil, errors.Wrap(err, "tree right")
	}
	if t.Right != nil && t.Left == nil {
		return nil, ErrInvalidEncoding
	}
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, errors.Wrap(err, "tree parents")
	}
	if count >= Depth {
		return nil, ErrInvalidEncoding
	}
	t.Parents = make([]*Node, count)
	for i := range t.Parents {
		if t.Parents[i], err = readOptional(r); err != nil {
			return nil, errors.Wrap(err, "tree parent")
		}
	}
	return t, nil
}

// TreeFromBytes deserializes a tree and rejects trailing bytes.
func TreeFromBytes(b []byte) (*CTree, error) {
	r := bytes.NewReader(b)
	t, err := ReadTree(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, ErrInvalidEncoding
	}
	return t, nil
}

// Write serializes the witness: frozen tree, filled vector, optional cursor.
func (w *Witness) Write(wr io.Writer) error {
	if err := w.Tree.Write(wr); err != nil {
		return err
	}
	if err := wire.WriteVarInt(wr, 0, uint64(len(w.Filled))); err != nil {
		return err
	}
	for _, n := range w.Filled {
		if _, err := wr.Write(n[:]); err != nil {
			return err
		}
	}
	if w.Cursor == nil {
		_, err := wr.Write([]byte{0})
		return err
	}
	if _, err := wr.Write([]byte{1}); err != nil {
		return err
	}
	return w.Cursor.Write(wr)
}

// Bytes returns the serialized witness.
func (w *Witness) Bytes() []byte {
	var buf bytes.Buffer
	_ = w.Write(&buf)
	return buf.Bytes()
}

// ReadWitness deserializes a witness.
func ReadWitness(r io.Reader) (*Witness, error) {
	tree, err := ReadTree(r)
	if err != nil {
		return nil, err
	}
	w := &Witness{Tree: tree}
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, errors.Wrap(err, "witness filled")
	}
	if count > Depth {
		return nil, ErrInvalidEncoding
	}
	w.Filled = make([]Node, count)
	for i := range w.Filled {
		if _, err := io.ReadFull(r, w.Filled[i][:]); err != nil {
			return nil, errors.Wrap(err, "witness filled node")
		}
	}
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, errors.Wrap(err, "witness cursor")
	}
	switch tag[0] {
	case 0:
	case 1:
		if w.Cursor, err = ReadTree(r); err != nil {
			return nil, err
		}
		w.cursorDepth = w.nextDepth()
	default:
		return nil, ErrInvalidEncoding
	}
	return w, nil
}

// WitnessFromBytes deserializes a witness and rejects trailing bytes.
func WitnessFromBytes(b []byte) (*Witness, error) {
	r := bytes.NewReader(b)
	w, err := ReadWitness(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, ErrInvalidEncoding
	}
	return w, nil
}
