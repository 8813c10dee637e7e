// Package peer talks to a lightwalletd server over gRPC.
package peer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/zcash/lightwalletd/walletrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Client is a lightwalletd client. It serves as the block source of the
// sync manager and as the mempool stream of the mempool monitor.
type Client struct {
	conn   *grpc.ClientConn
	lwd    walletrpc.CompactTxStreamerClient
	logger *zap.Logger
}

// Dial connects to url. An https:// scheme selects TLS, anything else a
// plaintext connection.
func Dial(ctx context.Context, url string, opts ...grpc.DialOption) (*Client, error) {
	target, creds := url, insecure.NewCredentials()
	switch {
	case strings.HasPrefix(url, "https://"):
		target = strings.TrimPrefix(url, "https://")
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	case strings.HasPrefix(url, "http://"):
		target = strings.TrimPrefix(url, "http://")
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	c := NewClient(walletrpc.NewCompactTxStreamerClient(conn))
	c.conn = conn
	return c, nil
}

// NewClient wraps an existing stub.
func NewClient(lwd walletrpc.CompactTxStreamerClient) *Client {
	return &Client{lwd: lwd, logger: zap.NewNop()}
}

func (c *Client) SetLogger(logger *zap.Logger) *Client {
	c.logger = logger.Named("peer")
	return c
}

func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) LatestHeight(ctx context.Context) (uint32, error) {
	id, err := c.lwd.GetLatestBlock(ctx, &walletrpc.ChainSpec{})
	if err != nil {
		return 0, errors.Wrap(err, "get latest block")
	}
	return uint32(id.Height), nil
}

func (c *Client) GetBlock(ctx context.Context, height uint32) (*walletrpc.CompactBlock, error) {
	block, err := c.lwd.GetBlock(ctx, &walletrpc.BlockID{Height: uint64(height)})
	if err != nil {
		return nil, errors.Wrapf(err, "get block %d", height)
	}
	return block, nil
}

// GetBlockRange streams [start, end] to fn. An error returned by fn aborts
// the stream and is returned unchanged.
func (c *Client) GetBlockRange(ctx context.Context, start, end uint32, fn func(*walletrpc.CompactBlock) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := c.lwd.GetBlockRange(ctx, &walletrpc.BlockRange{
		Start: &walletrpc.BlockID{Height: uint64(start)},
		End:   &walletrpc.BlockID{Height: uint64(end)},
	})
	if err != nil {
		return errors.Wrapf(err, "get block range %d-%d", start, end)
	}
	for {
		block, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(err, "receive block range %d-%d", start, end)
		}
		if err := fn(block); err != nil {
			return err
		}
	}
}

func (c *Client) GetTreeState(ctx context.Context, height uint32) (*walletrpc.TreeState, error) {
	ts, err := c.lwd.GetTreeState(ctx, &walletrpc.BlockID{Height: uint64(height)})
	if err != nil {
		return nil, errors.Wrapf(err, "get tree state %d", height)
	}
	return ts, nil
}

// GetTransaction returns the raw transaction with the given txid, in
// internal byte order.
func (c *Client) GetTransaction(ctx context.Context, txid []byte) ([]byte, error) {
	raw, err := c.lwd.GetTransaction(ctx, &walletrpc.TxFilter{Hash: txid})
	if err != nil {
		return nil, errors.Wrapf(err, "get transaction %x", txid)
	}
	return raw.Data, nil
}

// BroadcastError is a transaction rejected by the node.
type BroadcastError struct {
	Code    int32
	Message string
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("transaction rejected (%d): %s", e.Code, e.Message)
}

// SendTransaction broadcasts raw and returns the server response message,
// which is the txid on success.
func (c *Client) SendTransaction(ctx context.Context, raw []byte) (string, error) {
	resp, err := c.lwd.SendTransaction(ctx, &walletrpc.RawTransaction{Data: raw})
	if err != nil {
		return "", errors.Wrap(err, "send transaction")
	}
	if resp.ErrorCode != 0 {
		return "", &BroadcastError{Code: resp.ErrorCode, Message: resp.ErrorMessage}
	}
	c.logger.Info("transaction sent", zap.String("txid", resp.ErrorMessage))
	return strings.Trim(resp.ErrorMessage, "\""), nil
}

func (c *Client) Info(ctx context.Context) (*walletrpc.LightdInfo, error) {
	info, err := c.lwd.GetLightdInfo(ctx, &walletrpc.Empty{})
	if err != nil {
		return nil, errors.Wrap(err, "get lightd info")
	}
	return info, nil
}

// MempoolStream passes the raw transactions entering the mempool to fn
// until the server closes the stream, which it does when a block is mined.
func (c *Client) MempoolStream(ctx context.Context, fn func(raw []byte) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stream, err := c.lwd.GetMempoolStream(ctx, &walletrpc.Empty{})
	if err != nil {
		return errors.Wrap(err, "get mempool stream")
	}
	for {
		tx, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "receive mempool tx")
		}
		if err := fn(tx.Data); err != nil {
			return err
		}
	}
}
