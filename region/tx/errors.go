package tx

import "errors"

var (
	// ErrNotInTransaction indicates a journaled operation outside Begin/Commit.
	ErrNotInTransaction = errors.New("tx: not in a transaction")

	// ErrAborted is returned by Commit when a nested scope aborted the
	// transaction. Nothing was committed.
	ErrAborted = errors.New("tx: transaction aborted")

	// ErrLogFull indicates the undo log cannot hold another snapshot.
	// The transaction must be aborted.
	ErrLogFull = errors.New("tx: undo log full")

	// ErrLogCorrupt indicates an undo-log entry outside the region.
	ErrLogCorrupt = errors.New("tx: corrupt undo log")

	// ErrDoubleFree indicates the same cell was freed twice in one transaction.
	ErrDoubleFree = errors.New("tx: cell freed twice")
)
