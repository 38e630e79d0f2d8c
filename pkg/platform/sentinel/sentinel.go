package sentinel

import "errors"

// Sentinel errors for storage facts. Ledger stores return these (optionally
// wrapped) and the registry service translates them into domain errors.
//
//   - ErrNotFound: record does not exist
//   - ErrConflict: record with the same key already exists
//   - ErrAlreadyUsed: a one-shot fact (a purchase) was already recorded
//   - ErrReadOnly: write attempted through a read-only view
//   - ErrUnavailable: backing store temporarily unavailable
//
// For validation errors use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrAlreadyUsed = errors.New("already used")
	ErrReadOnly    = errors.New("read-only view")
	ErrUnavailable = errors.New("unavailable")
)
