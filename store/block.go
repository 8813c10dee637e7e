package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/catalogfi/zwallet/commitment"
	"github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/zcash"
	"gorm.io/gorm"
)

// GetLastSyncHeight returns the height of the latest checkpoint, or the
// Sapling activation height when nothing was synced yet.
func (s *Storage) GetLastSyncHeight() (uint32, error) {
	height, ok, err := s.GetCheckpointHeight(^uint32(0))
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.params.SaplingActivation, nil
	}
	return height, nil
}

// GetCheckpointHeight returns the greatest checkpoint height not above max.
func (s *Storage) GetCheckpointHeight(max uint32) (uint32, bool, error) {
	var height sql.NullInt64
	if err := s.db.Model(&model.Block{}).Where("height <= ?", max).Select("MAX(height)").Row().Scan(&height); err != nil {
		return 0, false, err
	}
	if !height.Valid {
		return 0, false, nil
	}
	return uint32(height.Int64), true, nil
}

func (s *Storage) GetBlock(height uint32) (*model.Block, error) {
	block := &model.Block{}
	if res := s.db.First(block, "height = ?", height); res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrBlockNotFound
		}
		return nil, res.Error
	}
	return block, nil
}

// GetBlocks lists the checkpoints in ascending height order.
func (s *Storage) GetBlocks() ([]model.Block, error) {
	var blocks []model.Block
	if res := s.db.Order("height").Find(&blocks); res.Error != nil {
		return nil, res.Error
	}
	return blocks, nil
}

func (s *Storage) PutBlock(height uint32, hash []byte, timestamp uint32) error {
	return s.db.Create(&model.Block{Height: height, Hash: hash, Timestamp: timestamp}).Error
}

func (s *Storage) PutTree(pool zcash.Pool, height uint32, tree *commitment.CTree) error {
	t := model.Tree{Height: height, Data: tree.Bytes()}
	switch pool {
	case zcash.Sapling:
		return s.db.Save(&model.SaplingTree{Tree: t}).Error
	case zcash.Orchard:
		return s.db.Save(&model.OrchardTree{Tree: t}).Error
	}
	return fmt.Errorf("no commitment tree for pool %s", pool)
}

// GetTree loads the commitment tree of pool at height.
func (s *Storage) GetTree(pool zcash.Pool, height uint32) (*commitment.CTree, error) {
	var t model.Tree
	var res *gorm.DB
	switch pool {
	case zcash.Sapling:
		var st model.SaplingTree
		res = s.db.Limit(1).Find(&st, "height = ?", height)
		t = st.Tree
	case zcash.Orchard:
		var ot model.OrchardTree
		res = s.db.Limit(1).Find(&ot, "height = ?", height)
		t = ot.Tree
	default:
		return nil, fmt.Errorf("no commitment tree for pool %s", pool)
	}
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrTreeNotFound
	}
	return commitment.TreeFromBytes(t.Data)
}

func witnessTable(pool zcash.Pool) string {
	if pool == zcash.Orchard {
		return "orchard_witnesses"
	}
	return "sapling_witnesses"
}

func (s *Storage) PutWitness(pool zcash.Pool, height uint32, note uint, w *commitment.Witness) error {
	if pool == zcash.Orchard {
		return s.db.Create(&model.OrchardWitness{Note: note, Height: height, Data: w.Bytes()}).Error
	}
	return s.db.Create(&model.SaplingWitness{Note: note, Height: height, Data: w.Bytes()}).Error
}

type witnessRow struct {
	Note uint
	Data []byte
}

// GetWitnesses loads the witnesses of the unspent notes of pool at height,
// keyed by note id.
func (s *Storage) GetWitnesses(pool zcash.Pool, height uint32) (map[uint]*commitment.Witness, error) {
	var rows []witnessRow
	res := s.db.Table(witnessTable(pool)+" AS w").
		Select("w.note, w.data").
		Joins("JOIN received_notes r ON r.id = w.note").
		Where("w.height = ? AND r.spent IS NULL", height).
		Order("w.note").
		Scan(&rows)
	if res.Error != nil {
		return nil, res.Error
	}
	witnesses := make(map[uint]*commitment.Witness, len(rows))
	for _, row := range rows {
		w, err := commitment.WitnessFromBytes(row.Data)
		if err != nil {
			return nil, fmt.Errorf("witness of note %d: %w", row.Note, err)
		}
		witnesses[row.Note] = w
	}
	return witnesses, nil
}

// GetWitness loads the witness of one note at height.
func (s *Storage) GetWitness(pool zcash.Pool, note uint, height uint32) (*commitment.Witness, error) {
	var rows []witnessRow
	res := s.db.Table(witnessTable(pool)).Select("note, data").Where("note = ? AND height = ?", note, height).Limit(1).Scan(&rows)
	if res.Error != nil {
		return nil, res.Error
	}
	if len(rows) == 0 {
		return nil, ErrWitnessNotFound
	}
	return commitment.WitnessFromBytes(rows[0].Data)
}
