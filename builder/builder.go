// Package builder turns a transaction plan into a signed v5 transaction.
// Proofs and shielded signatures are delegated to a Prover.
package builder

import (
	"bytes"
	"crypto/rand"
	"io"

	"github.com/btcsuite/btcd/wire"
	"github.com/catalogfi/zwallet/commitment"
	"github.com/catalogfi/zwallet/crypto"
	"github.com/catalogfi/zwallet/planner"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/zcash"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// minActions is the padded size of a Sapling output list or an Orchard
// action list that is used at all.
const minActions = 2

// SecretKeys are the spending keys of an account. A nil key means the
// account cannot spend from that pool.
type SecretKeys struct {
	Transparent *crypto.TransparentKey
	Sapling     *shielded.SpendingKey
	Orchard     *shielded.SpendingKey
}

func (k *SecretKeys) shielded(pool zcash.Pool) *shielded.SpendingKey {
	if pool == zcash.Orchard {
		return k.Orchard
	}
	return k.Sapling
}

// TreeSource loads the commitment tree of a pool at a checkpoint height.
type TreeSource interface {
	GetTree(pool zcash.Pool, height uint32) (*commitment.CTree, error)
}

type Builder struct {
	backend shielded.Backend
	prover  Prover
	trees   TreeSource
	rng     io.Reader
	logger  *zap.Logger
}

func New(backend shielded.Backend, prover Prover, trees TreeSource) *Builder {
	return &Builder{
		backend: backend,
		prover:  prover,
		trees:   trees,
		rng:     rand.Reader,
		logger:  zap.NewNop(),
	}
}

func (b *Builder) SetLogger(logger *zap.Logger) *Builder {
	b.logger = logger.Named("builder")
	return b
}

// SetRand replaces the randomness of rseed, alpha and dummy notes.
func (b *Builder) SetRand(rng io.Reader) *Builder {
	b.rng = rng
	return b
}

type spendAuth struct {
	sk    shielded.SpendingKey
	alpha [32]byte
}

// bundle accumulates the shielded part of one pool.
type bundle struct {
	pool     zcash.Pool
	spends   []*SpendInfo
	auths    []spendAuth
	outputs  []*shielded.Note
	memos    []planner.Memo
	rcvs     [][32]byte
	balance  int64
	anchor   commitment.Node
	anchored bool
}

func (bd *bundle) empty() bool {
	return len(bd.spends) == 0 && len(bd.outputs) == 0
}

type session struct {
	*Builder
	plan     *planner.TransactionPlan
	keys     *SecretKeys
	tx       *zcash.Transaction
	prevOuts []*wire.TxOut
	sapling  bundle
	orchard  bundle
}

func (s *session) random32() ([32]byte, error) {
	var b [32]byte
	_, err := io.ReadFull(s.rng, b[:])
	return b, errors.Wrap(err, "read randomness")
}

// Build signs a transaction spending the inputs of plan. Shielded spends
// are proven against the trees stored at the plan anchor height.
func (b *Builder) Build(plan *planner.TransactionPlan, keys *SecretKeys) (*zcash.Transaction, error) {
	var out uint64
	for i := range plan.Outputs {
		out += plan.Outputs[i].Amount
	}
	if plan.Total() != out+plan.Fee {
		return nil, ErrUnbalancedPlan
	}

	s := &session{
		Builder: b,
		plan:    plan,
		keys:    keys,
		tx:      zcash.NewTransaction(plan.ExpiryHeight),
		sapling: bundle{pool: zcash.Sapling},
		orchard: bundle{pool: zcash.Orchard},
	}
	for i := range plan.Spends {
		if err := s.addSpend(&plan.Spends[i]); err != nil {
			return nil, err
		}
	}
	for i := range plan.Outputs {
		if err := s.addOutput(&plan.Outputs[i]); err != nil {
			return nil, err
		}
	}
	if err := s.buildSapling(); err != nil {
		return nil, err
	}
	if err := s.buildOrchard(); err != nil {
		return nil, err
	}
	if err := s.sign(); err != nil {
		return nil, err
	}

	txid := crypto.TxID(s.tx)
	b.logger.Info("transaction built",
		zap.String("txid", txid.String()),
		zap.Int("transparent inputs", len(s.tx.TxIn)),
		zap.Int("sapling spends", len(s.tx.Sapling.Spends)),
		zap.Int("orchard actions", len(s.tx.Orchard.Actions)),
		zap.Uint64("fee", plan.Fee))
	return s.tx, nil
}

func (s *session) addSpend(u *planner.UTXO) error {
	switch src := u.Source.(type) {
	case planner.TransparentSource:
		return s.addTransparentInput(src, u.Amount)
	case planner.SaplingSource:
		return s.addShieldedSpend(&s.sapling, src.Diversifier, src.Rseed, [32]byte{}, src.Witness, u.Amount)
	case planner.OrchardSource:
		return s.addShieldedSpend(&s.orchard, src.Diversifier, src.Rseed, src.Rho, src.Witness, u.Amount)
	}
	return ErrUnknownSource
}

func (s *session) addTransparentInput(src planner.TransparentSource, amount uint64) error {
	if s.keys.Transparent == nil {
		return errors.Wrap(ErrMissingKey, "transparent")
	}
	script, err := crypto.PayToPubKeyHash(s.keys.Transparent.PubKeyHash())
	if err != nil {
		return err
	}
	if !bytes.Equal(script, src.Script) {
		return ErrKeyMismatch
	}
	in := wire.NewTxIn(zcash.OutPoint(src.Txid, src.Index), nil, nil)
	s.tx.TxIn = append(s.tx.TxIn, in)
	s.prevOuts = append(s.prevOuts, wire.NewTxOut(int64(amount), script))
	return nil
}

// loadAnchor reads the root of the pool tree at the anchor height.
func (s *session) loadAnchor(bd *bundle) error {
	if bd.anchored {
		return nil
	}
	tree, err := s.trees.GetTree(bd.pool, s.plan.AnchorHeight)
	if err != nil {
		return errors.Wrapf(err, "load %s tree at %d", bd.pool, s.plan.AnchorHeight)
	}
	bd.anchor = tree.Root(s.backend.Hasher(bd.pool))
	bd.anchored = true
	return nil
}

func (s *session) addShieldedSpend(bd *bundle, d [11]byte, rseed, rho [32]byte, witness []byte, amount uint64) error {
	sk := s.keys.shielded(bd.pool)
	if sk == nil {
		return errors.Wrap(ErrMissingKey, bd.pool.String())
	}
	if err := s.loadAnchor(bd); err != nil {
		return err
	}
	h := s.backend.Hasher(bd.pool)
	w, err := commitment.WitnessFromBytes(witness)
	if err != nil {
		return errors.Wrap(err, "decode witness")
	}
	if w.Root(h) != bd.anchor {
		return ErrAnchorMismatch
	}
	path, err := w.Path(h)
	if err != nil {
		return err
	}

	fvk := s.backend.FullViewingKey(bd.pool, *sk)
	addr, err := s.backend.DiversifiedAddress(s.backend.IncomingViewingKey(fvk), d)
	if err != nil {
		return err
	}
	note := shielded.Note{Pool: bd.pool, Address: addr, Value: amount, Rseed: rseed, Rho: rho}
	alpha, err := s.random32()
	if err != nil {
		return err
	}
	bd.spends = append(bd.spends, &SpendInfo{
		Note:      note,
		Fvk:       fvk,
		Path:      path,
		Anchor:    bd.anchor,
		Nullifier: s.backend.Nullifier(fvk, note, w.Position()),
		Alpha:     alpha,
	})
	bd.auths = append(bd.auths, spendAuth{sk: *sk, alpha: alpha})
	bd.balance += int64(amount)
	return nil
}

func (s *session) addOutput(f *planner.Fill) error {
	switch d := f.Destination.(type) {
	case planner.TransparentDestination:
		var script []byte
		var err error
		if d.Script {
			script, err = crypto.PayToScriptHash(d.Hash)
		} else {
			script, err = crypto.PayToPubKeyHash(d.Hash)
		}
		if err != nil {
			return err
		}
		s.tx.TxOut = append(s.tx.TxOut, wire.NewTxOut(int64(f.Amount), script))
		return nil
	case planner.SaplingDestination:
		return s.addShieldedOutput(&s.sapling, d.Address, f.Amount, f.Memo)
	case planner.OrchardDestination:
		return s.addShieldedOutput(&s.orchard, d.Address, f.Amount, f.Memo)
	}
	return planner.ErrNoDestination
}

// addShieldedOutput queues a note. Its rseed is drawn now; the rho of an
// Orchard note is only known once it is paired with a spend.
func (s *session) addShieldedOutput(bd *bundle, addr shielded.PaymentAddress, amount uint64, memo planner.Memo) error {
	rseed, err := s.random32()
	if err != nil {
		return err
	}
	bd.outputs = append(bd.outputs, &shielded.Note{Pool: bd.pool, Address: addr, Value: amount, Rseed: rseed})
	bd.memos = append(bd.memos, memo)
	bd.balance -= int64(amount)
	return nil
}

// dummyKey returns a throwaway spending key with its viewing key and
// default address.
func (s *session) dummyKey(pool zcash.Pool) (shielded.SpendingKey, shielded.FullViewingKey, shielded.PaymentAddress, error) {
	seed, err := s.random32()
	if err != nil {
		return seed, shielded.FullViewingKey{}, shielded.PaymentAddress{}, err
	}
	sk := shielded.SpendingKey(seed)
	fvk := s.backend.FullViewingKey(pool, sk)
	addr, err := s.backend.Address(fvk, 0)
	return sk, fvk, addr, err
}

func (s *session) padOutputs(bd *bundle, n int) error {
	for len(bd.outputs) < n {
		_, _, addr, err := s.dummyKey(bd.pool)
		if err != nil {
			return err
		}
		if err := s.addShieldedOutput(bd, addr, 0, planner.Memo{0xF6}); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) ovk(pool zcash.Pool) [32]byte {
	if sk := s.keys.shielded(pool); sk != nil {
		return s.backend.FullViewingKey(pool, *sk).Ovk
	}
	return [32]byte{}
}

func (s *session) buildSapling() error {
	bd := &s.sapling
	if bd.empty() {
		return nil
	}
	if err := s.padOutputs(bd, minActions); err != nil {
		return err
	}
	sb := &s.tx.Sapling
	for _, spend := range bd.spends {
		proof, err := s.prover.ProveSpend(spend, s.rng)
		if err != nil {
			return err
		}
		bd.rcvs = append(bd.rcvs, proof.Rcv)
		sb.Spends = append(sb.Spends, zcash.SaplingSpend{
			Cv:        proof.Cv,
			Nullifier: spend.Nullifier,
			Rk:        proof.Rk,
			Proof:     proof.Proof,
		})
	}
	ovk := s.ovk(zcash.Sapling)
	for i, note := range bd.outputs {
		enc, err := s.backend.Encrypt(*note, ovk, bd.memos[i], s.rng)
		if err != nil {
			return err
		}
		proof, err := s.prover.ProveOutput(note, s.rng)
		if err != nil {
			return err
		}
		bd.rcvs = append(bd.rcvs, proof.Rcv)
		sb.Outputs = append(sb.Outputs, zcash.SaplingOutput{
			Cv:            proof.Cv,
			Cmu:           enc.Commitment,
			EphemeralKey:  enc.EphemeralKey,
			EncCiphertext: enc.EncCiphertext,
			OutCiphertext: enc.OutCiphertext,
			Proof:         proof.Proof,
		})
	}
	sb.ValueBalance = bd.balance
	if len(bd.spends) > 0 {
		sb.Anchor = bd.anchor
	}
	return nil
}

// padSpends adds zero valued spends of throwaway notes. Orchard actions
// always carry a spend and an output.
func (s *session) padSpends(bd *bundle, n int) error {
	for len(bd.spends) < n {
		sk, fvk, addr, err := s.dummyKey(bd.pool)
		if err != nil {
			return err
		}
		rseed, err := s.random32()
		if err != nil {
			return err
		}
		rho, err := s.random32()
		if err != nil {
			return err
		}
		alpha, err := s.random32()
		if err != nil {
			return err
		}
		note := shielded.Note{Pool: bd.pool, Address: addr, Rseed: rseed, Rho: rho}
		bd.spends = append(bd.spends, &SpendInfo{
			Note:      note,
			Fvk:       fvk,
			Anchor:    bd.anchor,
			Nullifier: s.backend.Nullifier(fvk, note, 0),
			Alpha:     alpha,
			Dummy:     true,
		})
		bd.auths = append(bd.auths, spendAuth{sk: sk, alpha: alpha})
	}
	return nil
}

func (s *session) buildOrchard() error {
	bd := &s.orchard
	if bd.empty() {
		return nil
	}
	if !bd.anchored {
		bd.anchor = s.plan.OrchardAnchor
		if bd.anchor == (commitment.Node{}) {
			bd.anchor = s.backend.Hasher(zcash.Orchard).EmptyRoot(commitment.Depth)
		}
	} else if s.plan.OrchardAnchor != ([32]byte{}) && s.plan.OrchardAnchor != bd.anchor {
		return ErrAnchorMismatch
	}

	n := len(bd.spends)
	if len(bd.outputs) > n {
		n = len(bd.outputs)
	}
	if n < minActions {
		n = minActions
	}
	if err := s.padSpends(bd, n); err != nil {
		return err
	}
	if err := s.padOutputs(bd, n); err != nil {
		return err
	}

	ob := &s.tx.Orchard
	ovk := s.ovk(zcash.Orchard)
	for i := 0; i < n; i++ {
		spend, note := bd.spends[i], bd.outputs[i]
		note.Rho = spend.Nullifier
		enc, err := s.backend.Encrypt(*note, ovk, bd.memos[i], s.rng)
		if err != nil {
			return err
		}
		proof, err := s.prover.ProveAction(spend, note, s.rng)
		if err != nil {
			return err
		}
		bd.rcvs = append(bd.rcvs, proof.Rcv)
		ob.Actions = append(ob.Actions, zcash.OrchardAction{
			Cv:            proof.Cv,
			Nullifier:     spend.Nullifier,
			Rk:            proof.Rk,
			Cmx:           enc.Commitment,
			EphemeralKey:  enc.EphemeralKey,
			EncCiphertext: enc.EncCiphertext,
			OutCiphertext: enc.OutCiphertext,
		})
	}
	proof, err := s.prover.ProveOrchard(bd.spends, bd.outputs)
	if err != nil {
		return err
	}
	ob.Flags = zcash.OrchardSpendsEnabled | zcash.OrchardOutputsEnabled
	ob.ValueBalance = bd.balance
	ob.Anchor = bd.anchor
	ob.Proof = proof
	return nil
}

// sign authorizes the shielded spends and bundles over the shielded sighash
// and then every transparent input.
func (s *session) sign() error {
	sighash := crypto.ShieldedSigHash(s.tx, s.prevOuts)

	if !s.sapling.empty() {
		for i, auth := range s.sapling.auths {
			sig, err := s.prover.SignSpend(zcash.Sapling, auth.sk, auth.alpha, sighash)
			if err != nil {
				return err
			}
			s.tx.Sapling.Spends[i].SpendAuthSig = sig
		}
		sig, err := s.prover.BindingSignature(zcash.Sapling, s.sapling.rcvs, s.sapling.balance, sighash)
		if err != nil {
			return err
		}
		s.tx.Sapling.BindingSig = sig
	}
	if !s.orchard.empty() {
		for i, auth := range s.orchard.auths {
			sig, err := s.prover.SignSpend(zcash.Orchard, auth.sk, auth.alpha, sighash)
			if err != nil {
				return err
			}
			s.tx.Orchard.Actions[i].SpendAuthSig = sig
		}
		sig, err := s.prover.BindingSignature(zcash.Orchard, s.orchard.rcvs, s.orchard.balance, sighash)
		if err != nil {
			return err
		}
		s.tx.Orchard.BindingSig = sig
	}

	for i := range s.tx.TxIn {
		h, err := crypto.TransparentSigHash(s.tx, s.prevOuts, i, crypto.SigHashAll)
		if err != nil {
			return err
		}
		script, err := s.keys.Transparent.SignatureScript(h, crypto.SigHashAll)
		if err != nil {
			return errors.Wrapf(err, "sign input %d", i)
		}
		s.tx.TxIn[i].SignatureScript = script
	}
	return nil
}
