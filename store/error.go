package store

import "errors"

// Storage errors
var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrDuplicateAccount = errors.New("an account with the same viewing key already exists")
	ErrNoActiveAccount  = errors.New("no active account")
	ErrTreeNotFound     = errors.New("commitment tree not found at checkpoint")
	ErrWitnessNotFound  = errors.New("witness not found at checkpoint")
	ErrNoteNotFound     = errors.New("note not found")
	ErrBlockNotFound    = errors.New("block not found")
	ErrUnsupportedRekey = errors.New("rekey is only supported on sqlite databases")
)
