package database

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"
)

type LevelDB struct {
	db     *leveldb.DB
	logger *zap.Logger
}

func NewLevelDB(path string, logger *zap.Logger) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		BlockCacheCapacity: 64 * opt.MiB,
		WriteBuffer:        16 * opt.MiB,
	})
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	return &LevelDB{db: db, logger: logger}, nil
}

// NewMemLevelDB returns a database that lives in memory only.
func NewMemLevelDB() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db, logger: zap.NewNop()}, nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

func (l *LevelDB) Get(key string) ([]byte, error) {
	val, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	return val, err
}

func (l *LevelDB) Put(key string, value []byte) error {
	return l.db.Put([]byte(key), value, nil)
}

func (l *LevelDB) PutMulti(keys []string, values [][]byte) error {
	if len(keys) != len(values) {
		return fmt.Errorf("got %d keys for %d values", len(keys), len(values))
	}
	batch := new(leveldb.Batch)
	for i := range keys {
		batch.Put([]byte(keys[i]), values[i])
	}
	return l.db.Write(batch, nil)
}

func (l *LevelDB) Delete(key string) error {
	return l.db.Delete([]byte(key), nil)
}

func (l *LevelDB) DeleteMulti(keys []string) error {
	batch := new(leveldb.Batch)
	for _, k := range keys {
		batch.Delete([]byte(k))
	}
	return l.db.Write(batch, nil)
}

func (l *LevelDB) GetWithPrefix(prefix string) ([][]byte, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()
	vals := make([][]byte, 0)
	for iter.Next() {
		vals = append(vals, append([]byte(nil), iter.Value()...))
	}
	return vals, iter.Error()
}
