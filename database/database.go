package database

import "errors"

var ErrKeyNotFound = errors.New("key not found")

// Db is a flat key/value store. Keys are ordered, so GetWithPrefix returns
// values in ascending key order.
type Db interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	// PutMulti writes all pairs in a single batch.
	PutMulti(keys []string, values [][]byte) error
	Delete(key string) error
	DeleteMulti(keys []string) error
	GetWithPrefix(prefix string) ([][]byte, error)
	Close() error
}
