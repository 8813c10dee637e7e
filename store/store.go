package store

import (
	"fmt"
	"strings"

	"github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/zcash"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage is the wallet database of one chain.
type Storage struct {
	db     *gorm.DB
	params *zcash.Params
	logger *zap.Logger
}

func NewStorage(params *zcash.Params, db *gorm.DB) *Storage {
	return &Storage{
		db:     db,
		params: params,
		logger: zap.NewNop(),
	}
}

func (s *Storage) SetLogger(logger *zap.Logger) *Storage {
	s.logger = logger
	return s
}

func (s *Storage) DB() *gorm.DB {
	return s.db
}

func (s *Storage) Params() *zcash.Params {
	return s.params
}

// Transaction runs fn with a storage bound to a single database
// transaction. Every write of fn is committed or rolled back together.
func (s *Storage) Transaction(fn func(tx *Storage) error) error {
	return s.db.Transaction(func(db *gorm.DB) error {
		return fn(&Storage{db: db, params: s.params, logger: s.logger})
	})
}

// Config selects the database backend.
type Config struct {
	// Driver is sqlite or postgres.
	Driver string
	// DSN is the sqlite file path or the postgres connection string.
	DSN string
	// Password unlocks a SQLCipher database. Ignored by postgres.
	Password string
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Open connects to the configured database and migrates it.
func Open(cfg Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	switch cfg.Driver {
	case "", "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.DSN), gcfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// the cipher key is per connection
		sqlDB.SetMaxOpenConns(1)
		if cfg.Password != "" {
			if err := db.Exec("PRAGMA key = " + quote(cfg.Password)).Error; err != nil {
				return nil, err
			}
		}
		if err := model.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		return model.NewDB(postgres.Open(cfg.DSN), gcfg)
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// Rekey changes the SQLCipher passphrase of the database.
func (s *Storage) Rekey(password string) error {
	if s.db.Dialector.Name() != "sqlite" {
		return ErrUnsupportedRekey
	}
	return s.db.Exec("PRAGMA rekey = " + quote(password)).Error
}

// GetProperty returns a stored property or "" when unset.
func (s *Storage) GetProperty(name string) (string, error) {
	var props []model.Property
	if res := s.db.Where("name = ?", name).Limit(1).Find(&props); res.Error != nil {
		return "", res.Error
	}
	if len(props) == 0 {
		return "", nil
	}
	return props[0].Value, nil
}

func (s *Storage) SetProperty(name, value string) error {
	return s.db.Save(&model.Property{Name: name, Value: value}).Error
}
