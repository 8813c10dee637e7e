package mongodb

import (
	"context"
	"sort"

	"github.com/catalogfi/zwallet/model"
	mmodel "github.com/catalogfi/zwallet/mongodb/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// PutTransactions upserts the history entries. An entry is identified by
// its account and its position in the chain.
func (s *Storage) PutTransactions(ctx context.Context, txs []model.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, len(txs))
	for i := range txs {
		doc := mmodel.FromWallet(&txs[i])
		filter := bson.M{"account": doc.Account, "height": doc.Height, "tx_index": doc.TxIndex}
		writes[i] = mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(bson.M{"$set": doc}).
			SetUpsert(true)
	}
	res, err := s.db.Collection(transactionsCollection).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return errors.Wrap(err, "mirror transactions")
	}
	s.logger.Debug("mirrored transactions",
		zap.Int64("upserted", res.UpsertedCount),
		zap.Int64("modified", res.ModifiedCount))
	return nil
}

// DeleteAbove removes the entries mined above height after a rewind.
func (s *Storage) DeleteAbove(ctx context.Context, height uint32) error {
	res, err := s.db.Collection(transactionsCollection).DeleteMany(ctx, bson.M{"height": bson.M{"$gt": height}})
	if err != nil {
		return errors.Wrapf(err, "delete mirrored transactions above %d", height)
	}
	s.logger.Info("deleted mirrored transactions", zap.Uint32("height", height), zap.Int64("count", res.DeletedCount))
	return nil
}

// GetTransactions returns the mirrored history of account, newest first.
func (s *Storage) GetTransactions(ctx context.Context, account uint32) ([]mmodel.Transaction, error) {
	cur, err := s.db.Collection(transactionsCollection).Find(ctx, bson.M{"account": account})
	if err != nil {
		return nil, errors.Wrap(err, "find mirrored transactions")
	}
	var txs mmodel.Transactions
	if err := cur.All(ctx, &txs); err != nil {
		return nil, errors.Wrap(err, "decode mirrored transactions")
	}
	sort.Sort(txs)
	return txs, nil
}
