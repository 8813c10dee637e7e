package store

import (
	"errors"

	"github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/zcash"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PutTransaction records a transaction of account and returns its id. A
// transaction touching several pools is recorded once.
func (s *Storage) PutTransaction(account uint32, txid []byte, height, timestamp, txIndex uint32) (uint, error) {
	tx := &model.Transaction{
		Account:   account,
		Txid:      txid,
		Height:    height,
		Timestamp: timestamp,
		TxIndex:   txIndex,
	}
	if res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(tx); res.Error != nil {
		return 0, res.Error
	}
	existing := &model.Transaction{}
	if res := s.db.Where("account = ? AND height = ? AND tx_index = ?", account, height, txIndex).First(existing); res.Error != nil {
		return 0, res.Error
	}
	return existing.ID, nil
}

// AddValue adds delta to the net value of a transaction.
func (s *Storage) AddValue(id uint, delta int64) error {
	return s.db.Model(&model.Transaction{}).Where("id = ?", id).
		Update("value", gorm.Expr("value + ?", delta)).Error
}

// SetTransactionMemo stores the counterparty address and memo of a transaction.
func (s *Storage) SetTransactionMemo(id uint, address, memo string) error {
	return s.db.Model(&model.Transaction{}).Where("id = ?", id).
		Updates(map[string]interface{}{"address": address, "memo": memo}).Error
}

// GetTransactions lists the transactions of account, newest first.
func (s *Storage) GetTransactions(account uint32) ([]model.Transaction, error) {
	var txs []model.Transaction
	if res := s.db.Where("account = ?", account).Order("height DESC, tx_index DESC").Find(&txs); res.Error != nil {
		return nil, res.Error
	}
	return txs, nil
}

// GetTransactionsAbove lists the transactions of every account above height.
func (s *Storage) GetTransactionsAbove(height uint32) ([]model.Transaction, error) {
	var txs []model.Transaction
	if res := s.db.Where("height > ?", height).Order("height, tx_index").Find(&txs); res.Error != nil {
		return nil, res.Error
	}
	return txs, nil
}

// PutReceivedNote records a decrypted note and returns its id.
func (s *Storage) PutReceivedNote(note *model.ReceivedNote) (uint, error) {
	if res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(note); res.Error != nil {
		return 0, res.Error
	}
	existing := &model.ReceivedNote{}
	res := s.db.Where("tx = ? AND output_index = ? AND orchard = ?", note.Tx, note.OutputIndex, note.Orchard).First(existing)
	if res.Error != nil {
		return 0, res.Error
	}
	return existing.ID, nil
}

// MarkSpent records the height at which a note was spent.
func (s *Storage) MarkSpent(id uint, height uint32) error {
	return s.db.Model(&model.ReceivedNote{}).Where("id = ?", id).Update("spent", height).Error
}

// ExcludeNote hides a note from, or returns it to, the spendable set.
func (s *Storage) ExcludeNote(id uint, excluded bool) error {
	res := s.db.Model(&model.ReceivedNote{}).Where("id = ?", id).Update("excluded", excluded)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNoteNotFound
	}
	return nil
}

func (s *Storage) GetNote(id uint) (*model.ReceivedNote, error) {
	note := &model.ReceivedNote{}
	if res := s.db.First(note, id); res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNoteNotFound
		}
		return nil, res.Error
	}
	return note, nil
}

// GetNotes lists the notes of account, newest first.
func (s *Storage) GetNotes(account uint32) ([]model.ReceivedNote, error) {
	var notes []model.ReceivedNote
	if res := s.db.Where("account = ?", account).Order("height DESC, id DESC").Find(&notes); res.Error != nil {
		return nil, res.Error
	}
	return notes, nil
}

// GetUnspentNullifiers returns the unspent notes of pool of every account.
func (s *Storage) GetUnspentNullifiers(pool zcash.Pool) ([]model.ReceivedNote, error) {
	var notes []model.ReceivedNote
	res := s.db.Select("id, account, nf, value").
		Where("spent IS NULL AND orchard = ?", pool == zcash.Orchard).
		Find(&notes)
	if res.Error != nil {
		return nil, res.Error
	}
	return notes, nil
}

// SpendableNote is an unspent note with its witness at a checkpoint.
type SpendableNote struct {
	model.ReceivedNote
	Witness []byte
}

// GetSpendableNotes returns the unspent, non excluded notes of account in
// pool that have a witness at the checkpoint height, newest first.
func (s *Storage) GetSpendableNotes(account uint32, pool zcash.Pool, checkpoint uint32) ([]SpendableNote, error) {
	var notes []SpendableNote
	res := s.db.Table("received_notes AS r").
		Select("r.*, w.data AS witness").
		Joins("JOIN "+witnessTable(pool)+" w ON w.note = r.id AND w.height = ?", checkpoint).
		Where("r.account = ? AND r.orchard = ? AND r.spent IS NULL AND NOT r.excluded", account, pool == zcash.Orchard).
		Order("r.height DESC, r.id DESC").
		Scan(&notes)
	if res.Error != nil {
		return nil, res.Error
	}
	return notes, nil
}

// Balance summarizes the notes of an account.
type Balance struct {
	// Total counts every unspent note.
	Total uint64 `json:"total"`
	// Spendable counts the unspent, non excluded notes confirmed at or
	// below the anchor height.
	Spendable uint64 `json:"spendable"`
	Sapling   uint64 `json:"sapling"`
	Orchard   uint64 `json:"orchard"`
}

func (s *Storage) GetBalance(account uint32, anchor uint32) (*Balance, error) {
	notes := []model.ReceivedNote{}
	if res := s.db.Where("account = ? AND spent IS NULL", account).Find(&notes); res.Error != nil {
		return nil, res.Error
	}
	b := &Balance{}
	for _, n := range notes {
		b.Total += n.Value
		if n.Orchard {
			b.Orchard += n.Value
		} else {
			b.Sapling += n.Value
		}
		if n.Height <= anchor && !n.Excluded {
			b.Spendable += n.Value
		}
	}
	return b, nil
}
