package mongodb_test

import (
	"context"
	"testing"

	"github.com/catalogfi/zwallet/model"
	"github.com/catalogfi/zwallet/mongodb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestHistory(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("should upsert transactions", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 2},
			bson.E{Key: "nModified", Value: 0},
		))
		st := mongodb.NewStorage(mt.DB)
		err := st.PutTransactions(context.Background(), []model.Transaction{
			{Account: 1, Txid: make([]byte, 32), Height: 10, TxIndex: 0, Value: 5000},
			{Account: 1, Txid: make([]byte, 32), Height: 11, TxIndex: 2, Value: -2000},
		})
		require.NoError(mt, err)
	})

	mt.Run("should skip empty batches", func(mt *mtest.T) {
		st := mongodb.NewStorage(mt.DB)
		require.NoError(mt, st.PutTransactions(context.Background(), nil))
	})

	mt.Run("should report write errors", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    11000,
			Message: "duplicate key",
		}))
		st := mongodb.NewStorage(mt.DB)
		err := st.PutTransactions(context.Background(), []model.Transaction{{Account: 1, Txid: make([]byte, 32)}})
		assert.Error(mt, err)
	})

	mt.Run("should delete transactions above a height", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}))
		st := mongodb.NewStorage(mt.DB)
		require.NoError(mt, st.DeleteAbove(context.Background(), 100))
	})

	mt.Run("should list transactions newest first", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "account", Value: 1}, {Key: "height", Value: 10}, {Key: "tx_index", Value: 0}, {Key: "value", Value: 5000}},
			bson.D{{Key: "account", Value: 1}, {Key: "height", Value: 12}, {Key: "tx_index", Value: 1}, {Key: "value", Value: -2000}},
			bson.D{{Key: "account", Value: 1}, {Key: "height", Value: 12}, {Key: "tx_index", Value: 3}, {Key: "value", Value: 700}},
		))
		st := mongodb.NewStorage(mt.DB)
		txs, err := st.GetTransactions(context.Background(), 1)
		require.NoError(mt, err)
		require.Len(mt, txs, 3)
		assert.Equal(mt, uint32(12), txs[0].Height)
		assert.Equal(mt, uint32(3), txs[0].TxIndex)
		assert.Equal(mt, int64(-2000), txs[1].Value)
		assert.Equal(mt, uint32(10), txs[2].Height)
	})
}
