// Package mongodb mirrors the wallet history into a MongoDB database so
// that other services can query it.
package mongodb

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const transactionsCollection = "transactions"

type Storage struct {
	db     *mongo.Database
	logger *zap.Logger
}

func NewStorage(db *mongo.Database) *Storage {
	return &Storage{
		db:     db,
		logger: zap.NewNop(),
	}
}

func (s *Storage) SetLogger(logger *zap.Logger) *Storage {
	s.logger = logger.Named("mongodb")
	return s
}

// Connect opens a client on uri and returns the storage of database name.
func Connect(ctx context.Context, uri, name string) (*Storage, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, errors.Wrap(err, "ping mongodb")
	}
	return NewStorage(client.Database(name)), client, nil
}

// EnsureIndexes creates the unique index that makes mirrored writes
// idempotent.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(transactionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "account", Value: 1}, {Key: "height", Value: 1}, {Key: "tx_index", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return errors.Wrap(err, "create transaction index")
}
