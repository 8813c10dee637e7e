package netsync

import (
	"bytes"
	"context"
	"unicode/utf8"

	"github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/shielded"
	"github.com/catalogfi/zwallet/syncer"
	"github.com/catalogfi/zwallet/zcash"
	"go.uber.org/zap"
)

// MemoText returns the text of a memo, or "" when it carries no text.
func MemoText(memo [zcash.MemoSize]byte) string {
	if memo[0] > 0xF4 {
		return ""
	}
	text := bytes.TrimRight(memo[:], "\x00")
	if !utf8.Valid(text) {
		return ""
	}
	return string(text)
}

// fetchMessages downloads the transactions that paid the wallet in a batch
// and stores their memos. Failures are logged and skipped.
func (s *SyncManager) fetchMessages(ctx context.Context, results []*syncer.Result) {
	seen := map[uint]bool{}
	keys := map[zcash.Pool]map[uint32]shielded.IncomingViewingKey{}
	for _, r := range results {
		for _, rx := range r.Received {
			if seen[rx.ID] {
				continue
			}
			seen[rx.ID] = true
			if err := s.fetchMessage(ctx, rx, keys); err != nil {
				s.logger.Warn("error fetching memo", zap.Uint("tx", rx.ID), zap.Error(err))
			}
		}
	}
}

func (s *SyncManager) ivk(pool zcash.Pool, account uint32, cache map[zcash.Pool]map[uint32]shielded.IncomingViewingKey) (shielded.IncomingViewingKey, bool, error) {
	if cache[pool] == nil {
		fvks, err := s.store.GetViewingKeys(pool)
		if err != nil {
			return shielded.IncomingViewingKey{}, false, err
		}
		cache[pool] = map[uint32]shielded.IncomingViewingKey{}
		for a, raw := range fvks {
			fvk, err := shielded.FullViewingKeyFromBytes(pool, raw)
			if err != nil {
				return shielded.IncomingViewingKey{}, false, err
			}
			cache[pool][a] = s.backend.IncomingViewingKey(fvk)
		}
	}
	ivk, ok := cache[pool][account]
	return ivk, ok, nil
}

func (s *SyncManager) fetchMessage(ctx context.Context, rx syncer.ReceivedTx, cache map[zcash.Pool]map[uint32]shielded.IncomingViewingKey) error {
	raw, err := s.source.GetTransaction(ctx, rx.Txid)
	if err != nil {
		return err
	}
	tx, err := zcash.ParseTransaction(raw)
	if err != nil {
		return err
	}

	var outputs []shielded.EncryptedNote
	var rhos [][32]byte
	var pools []zcash.Pool
	for _, o := range tx.Sapling.Outputs {
		outputs = append(outputs, shielded.EncryptedNote{
			Commitment:    o.Cmu,
			EphemeralKey:  o.EphemeralKey,
			EncCiphertext: o.EncCiphertext,
			OutCiphertext: o.OutCiphertext,
		})
		rhos = append(rhos, [32]byte{})
		pools = append(pools, zcash.Sapling)
	}
	for _, a := range tx.Orchard.Actions {
		outputs = append(outputs, shielded.EncryptedNote{
			Commitment:    a.Cmx,
			EphemeralKey:  a.EphemeralKey,
			EncCiphertext: a.EncCiphertext,
			OutCiphertext: a.OutCiphertext,
		})
		rhos = append(rhos, a.Nullifier)
		pools = append(pools, zcash.Orchard)
	}

	for i := range outputs {
		ivk, ok, err := s.ivk(pools[i], rx.Account, cache)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		_, memo, ok := s.backend.DecryptFull(ivk, &outputs[i], rhos[i])
		if !ok {
			continue
		}
		text := MemoText(memo)
		if text == "" {
			continue
		}
		account, err := s.store.GetAccount(rx.Account)
		if err != nil {
			return err
		}
		if err := s.store.SetTransactionMemo(rx.ID, "", text); err != nil {
			return err
		}
		return s.store.PutMessage(&model.Message{
			Account:   rx.Account,
			Recipient: account.Address,
			Body:      text,
			Timestamp: rx.Timestamp,
			Height:    rx.Height,
			Incoming:  true,
			Tx:        rx.ID,
		})
	}
	return nil
}
