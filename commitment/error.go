package commitment

import "errors"

var (
	ErrTreeFull        = errors.New("commitment tree is full")
	ErrEmptyWitness    = errors.New("witness tree has no leaf")
	ErrMarkOutOfBatch  = errors.New("marked position is outside of the appended batch")
	ErrUnorderedMarks  = errors.New("marked positions must be strictly increasing")
	ErrInvalidEncoding = errors.New("invalid tree encoding")
)
