package netsync

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a sync of the same chain is already running.
	ErrBusy            = errors.New("sync already in progress")
	ErrMissingSource   = errors.New("sync config has no block source")
	ErrMissingStore    = errors.New("sync config has no store")
	ErrMissingBackend  = errors.New("sync config has no shielded backend")
	ErrTooManyReorgs   = errors.New("chain keeps reorganizing")
	ErrUnexpectedBlock = errors.New("block source returned an unexpected block")
)

// ReorgError reports that the block stored at Height is no longer part of
// the server's chain.
type ReorgError struct {
	Height uint32
}

func (e *ReorgError) Error() string {
	return fmt.Sprintf("chain reorganization detected at height %d", e.Height)
}
