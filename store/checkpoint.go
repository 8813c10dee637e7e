package store

import (
	"github.com/catalogfi/zwallet/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	BlocksPerHour  = 60 * 60 / 75
	BlocksPerDay   = 24 * BlocksPerHour
	BlocksPerMonth = 30 * BlocksPerDay
)

var checkpointTables = []string{"blocks", "sapling_tree", "orchard_tree", "sapling_witnesses", "orchard_witnesses"}

// Rewind snaps height down to the closest checkpoint and deletes everything
// recorded above it. Notes spent above the checkpoint become unspent again.
// It returns the checkpoint height, 0 when no checkpoint is old enough.
func (s *Storage) Rewind(height uint32) (uint32, error) {
	snapped, _, err := s.GetCheckpointHeight(height)
	if err != nil {
		return 0, err
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		for _, table := range append(checkpointTables, "received_notes", "transactions", "messages") {
			if err := tx.Exec("DELETE FROM "+table+" WHERE height > ?", snapped).Error; err != nil {
				return err
			}
		}
		return tx.Model(&model.ReceivedNote{}).Where("spent > ?", snapped).Update("spent", nil).Error
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("rewound", zap.Uint32("requested", height), zap.Uint32("height", snapped))
	return snapped, nil
}

// PurgeOldWitnesses thins out the checkpoints below tip: the last hour is
// kept whole, then one checkpoint per hour for a day, one per day for a
// month and one per 30 days for a year. The oldest checkpoint of each
// interval survives.
func (s *Storage) PurgeOldWitnesses(tip uint32) error {
	type interval struct{ width, from, to int64 }
	schedule := []interval{
		{BlocksPerHour, 2, 24},
		{BlocksPerDay, 2, 30},
		{BlocksPerMonth, 2, 12},
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, it := range schedule {
			for i := it.from; i <= it.to; i++ {
				high := int64(tip) - (i-1)*it.width
				low := int64(tip) - i*it.width
				if high <= 0 {
					break
				}
				if low < 0 {
					low = 0
				}
				if err := pruneInterval(tx, low, high); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// pruneInterval keeps only the oldest checkpoint in [low, high).
func pruneInterval(tx *gorm.DB, low, high int64) error {
	var keep *int64
	row := tx.Model(&model.Block{}).Where("height >= ? AND height < ?", low, high).Select("MIN(height)").Row()
	if err := row.Scan(&keep); err != nil {
		return err
	}
	if keep == nil {
		return nil
	}
	for _, table := range checkpointTables {
		err := tx.Exec("DELETE FROM "+table+" WHERE height >= ? AND height < ? AND height != ?", low, high, *keep).Error
		if err != nil {
			return err
		}
	}
	return nil
}
