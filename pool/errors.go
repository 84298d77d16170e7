package pool

import "errors"

var (
	// ErrClosed indicates use of a closed pool.
	ErrClosed = errors.New("pool: closed")

	// ErrLayoutMismatch indicates Open found a different layout name.
	ErrLayoutMismatch = errors.New("pool: layout mismatch")

	// ErrTxOpen indicates Close while a transaction is running.
	ErrTxOpen = errors.New("pool: transaction still open")
)
