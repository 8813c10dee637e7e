package command

import (
	"context"
	"encoding/json"
)

type heightResult struct {
	Height uint32 `json:"height"`
}

// getlatestheight

type latestHeight struct {
	wallet *Wallet
}

func (l *latestHeight) Name() string {
	return "getlatestheight"
}

func (l *latestHeight) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return l.wallet.Chain.LatestHeight(ctx)
}

func LatestHeight(w *Wallet) Command {
	return &latestHeight{wallet: w}
}

// sync

type syncCmd struct {
	wallet *Wallet
}

func (s *syncCmd) Name() string {
	return "sync"
}

func (s *syncCmd) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	height, err := s.wallet.Syncer.Sync(ctx)
	if err != nil {
		return nil, err
	}
	return heightResult{Height: height}, nil
}

func Sync(w *Wallet) Command {
	return &syncCmd{wallet: w}
}

// rewind

type heightParams struct {
	Height uint32 `json:"height"`
}

type rewind struct {
	wallet *Wallet
}

func (r *rewind) Name() string {
	return "rewind"
}

func (r *rewind) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p heightParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	height, err := r.wallet.Syncer.Rewind(ctx, p.Height)
	if err != nil {
		return nil, err
	}
	return heightResult{Height: height}, nil
}

func Rewind(w *Wallet) Command {
	return &rewind{wallet: w}
}

// rescan

type rescan struct {
	wallet *Wallet
}

func (r *rescan) Name() string {
	return "rescan"
}

func (r *rescan) Execute(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p heightParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	height, err := r.wallet.Syncer.Rescan(ctx, p.Height)
	if err != nil {
		return nil, err
	}
	return heightResult{Height: height}, nil
}

func Rescan(w *Wallet) Command {
	return &rescan{wallet: w}
}
