package session

import "errors"

// Failure taxonomy for engine operations. Results wrap one of these with %w.
var (
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrLedgerUnavailable  = errors.New("ledger unavailable")
	ErrCompletionFailure  = errors.New("completion failure")
)

// ErrUnknownOption marks a selection or mode id that is not in the catalog.
// It is user input, so it never aborts the process.
var ErrUnknownOption = errors.New("unknown option")
