// Package command implements the JSON-RPC wallet commands.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidParams = errors.New("invalid params")
	ErrWatchOnly     = errors.New("account has no spending keys")
	ErrNotSynced     = errors.New("wallet has no checkpoint at the anchor height")
)

type Command interface {
	Name() string
	Execute(ctx context.Context, params json.RawMessage) (interface{}, error)
}

// decodeParams reads the params object into v. Missing params leave v
// untouched.
func decodeParams(params json.RawMessage, v interface{}) error {
	trimmed := bytes.TrimSpace(params)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidParams(err)
	}
	return nil
}

func invalidParams(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidParams, err)
}

// accountParams selects an account. The active account is used when
// Account is not set.
type accountParams struct {
	Account *uint32 `json:"account"`
}

// Default returns every wallet command bound to w.
func Default(w *Wallet) []Command {
	return []Command{
		LatestHeight(w),
		Sync(w),
		Rewind(w),
		Rescan(w),
		GetBalance(w),
		ListNotes(w),
		ExcludeNote(w),
		ListTransactions(w),
		Plan(w),
		Build(w),
		Broadcast(w),
		ParsePaymentURI(w),
		MakePaymentURI(w),
		DecodeAddress(w),
		NewAccount(w),
		SetActiveAccount(w),
	}
}
