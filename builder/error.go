package builder

import (
	"errors"
	"fmt"
)

var (
	ErrMissingKey     = errors.New("account has no spending key for the pool")
	ErrKeyMismatch    = errors.New("transparent input is not locked to the account key")
	ErrAnchorMismatch = errors.New("note witness does not match the anchor")
	ErrUnbalancedPlan = errors.New("plan inputs do not cover its outputs and fee")
	ErrUnknownSource  = errors.New("unknown utxo source")
)

// Prover error codes.
const (
	ProverInvalidWitness = iota + 1
	ProverInvalidNote
)

// ProverError is returned when the prover cannot produce a proof or a
// signature.
type ProverError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ProverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("prover error %d: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("prover error %d: %s", e.Code, e.Message)
}

func (e *ProverError) Unwrap() error {
	return e.Cause
}
