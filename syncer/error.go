package syncer

import "errors"

var (
	ErrNotContiguous = errors.New("blocks are not contiguous")
	ErrNoPools       = errors.New("no pool synchronizer configured")
)
