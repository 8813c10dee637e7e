package rpc

import (
	"errors"

	"github.com/catalogfi/zwallet/address"
	"github.com/catalogfi/zwallet/command"
	"github.com/catalogfi/zwallet/netsync"
	"github.com/catalogfi/zwallet/planner"
)

// JSON-RPC 2.0 error codes followed by the wallet codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeNotEnoughFunds = -32001
	CodeBusy           = -32002
	CodeInvalidAddress = -32003
	CodeReorg          = -32004
)

type RpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func NewRpcError(code int, message string, data interface{}) *RpcError {
	return &RpcError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

func NewParsingError(message string) *RpcError {
	return NewRpcError(CodeParseError, message, nil)
}

func NewInvalidRequestError(message string) *RpcError {
	return NewRpcError(CodeInvalidRequest, message, nil)
}

func NewMethodNotFoundError() *RpcError {
	return NewRpcError(CodeMethodNotFound, "method not found", nil)
}

func NewInvalidParamsError(message string) *RpcError {
	return NewRpcError(CodeInvalidParams, message, nil)
}

func NewInternalError(message string) *RpcError {
	return NewRpcError(CodeInternalError, message, nil)
}

func (e *RpcError) Error() string {
	return e.Message
}

var addressErrors = []error{
	address.ErrInvalidAddress,
	address.ErrInvalidLength,
	address.ErrWrongNetwork,
	address.ErrInvalidChecksum,
	address.ErrInvalidPadding,
	address.ErrTypecodeOrder,
	address.ErrNoReceivers,
	address.ErrTransparentPair,
	address.ErrReceiverLength,
	address.ErrNoShieldedTarget,
	planner.ErrNoDestination,
}

// toRpcError maps a command failure to its JSON-RPC error.
func toRpcError(err error) *RpcError {
	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var funds *planner.NotEnoughFundsError
	if errors.As(err, &funds) {
		return NewRpcError(CodeNotEnoughFunds, err.Error(), map[string]uint64{"missing": funds.Missing})
	}
	var reorg *netsync.ReorgError
	if errors.As(err, &reorg) {
		return NewRpcError(CodeReorg, err.Error(), map[string]uint32{"height": reorg.Height})
	}
	if errors.Is(err, netsync.ErrTooManyReorgs) {
		return NewRpcError(CodeReorg, err.Error(), nil)
	}
	if errors.Is(err, netsync.ErrBusy) {
		return NewRpcError(CodeBusy, err.Error(), nil)
	}
	if errors.Is(err, command.ErrInvalidParams) {
		return NewInvalidParamsError(err.Error())
	}
	for _, target := range addressErrors {
		if errors.Is(err, target) {
			return NewRpcError(CodeInvalidAddress, err.Error(), nil)
		}
	}
	return NewInternalError(err.Error())
}
