package model

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LatestVersion is the schema version produced by Migrate.
const LatestVersion = 4

// migrations[i] upgrades the schema from version i to i+1. Each step only
// creates tables and columns, so running it twice is harmless.
var migrations = []func(tx *gorm.DB) error{
	func(tx *gorm.DB) error {
		return tx.AutoMigrate(&Account{}, &Block{}, &SaplingTree{}, &SaplingWitness{}, &Transaction{}, &ReceivedNote{})
	},
	func(tx *gorm.DB) error {
		return tx.AutoMigrate(&TAddr{}, &Contact{}, &HistoricalPrice{}, &Property{})
	},
	func(tx *gorm.DB) error {
		return tx.AutoMigrate(&OrchardAddr{}, &UASetting{}, &OrchardTree{}, &OrchardWitness{})
	},
	func(tx *gorm.DB) error {
		return tx.AutoMigrate(&Message{}, &SendTemplate{})
	},
}

// SchemaVersionOf returns the applied schema version, 0 for a new database.
func SchemaVersionOf(db *gorm.DB) (uint32, error) {
	if !db.Migrator().HasTable(&SchemaVersion{}) {
		return 0, nil
	}
	var v SchemaVersion
	if res := db.Limit(1).Find(&v, 1); res.Error != nil {
		return 0, res.Error
	}
	return v.Version, nil
}

// Migrate applies the pending migrations, each in its own transaction.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&SchemaVersion{}); err != nil {
		return err
	}
	version, err := SchemaVersionOf(db)
	if err != nil {
		return err
	}
	if version > LatestVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, LatestVersion)
	}
	for v := version; v < LatestVersion; v++ {
		step := migrations[v]
		next := v + 1
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := step(tx); err != nil {
				return err
			}
			return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&SchemaVersion{ID: 1, Version: next}).Error
		})
		if err != nil {
			return fmt.Errorf("migration to version %d: %w", next, err)
		}
	}
	return nil
}
