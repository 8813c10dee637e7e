package planner

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrDuplicateRecipientFee = errors.New("more than one recipient pays the fee")
	ErrTxTooComplex          = errors.New("fee did not converge")
	ErrNoChangeAddress       = errors.New("change address has no receiver for the change pool")
	ErrPrivacyPolicy         = errors.New("payment needs a pool crossing the privacy policy forbids")
	ErrNoDestination         = errors.New("address has no receiver the wallet can pay")
	ErrNoOrders              = errors.New("payment has no recipients")
	ErrMemoTooLong           = errors.New("memo is longer than 512 bytes")
	ErrInvalidMemo           = errors.New("memo is not valid UTF-8")
)

// NotEnoughFundsError is returned when the inputs cannot cover the orders
// and the fee.
type NotEnoughFundsError struct {
	Missing uint64
}

func (e *NotEnoughFundsError) Error() string {
	return fmt.Sprintf("not enough funds: %d zats missing", e.Missing)
}
