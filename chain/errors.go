// Package chain holds the closed, machine-readable error taxonomy shared by
// the verifier, runtime, consensus, and store packages. Every error that
// crosses a component boundary is wrapped in an Error so callers can branch
// on Kind without string-matching.
package chain

import "fmt"

// Kind enumerates the closed set of error categories a component may
// originate. New categories must be added here, not invented ad hoc at the
// call site.
type Kind string

const (
	// Verifier
	KindFormatError       Kind = "format_error"
	KindSignatureError    Kind = "signature_error"
	KindUnknownValidator  Kind = "unknown_validator"

	// Runtime admission (submit_transaction)
	KindInvalidNonce      Kind = "invalid_nonce"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindDuplicateTx       Kind = "duplicate_tx"

	// Runtime validation (validate_block)
	KindPrevHashMismatch  Kind = "prev_hash_mismatch"
	KindHeightMismatch    Kind = "height_mismatch"
	KindStateRootMismatch Kind = "state_root_mismatch"

	// Consensus
	KindDuplicateVote Kind = "duplicate_vote"
	KindPhaseTimeout  Kind = "phase_timeout"
	KindStaleMessage  Kind = "stale_message"

	// Store
	KindStoreIOError   Kind = "store_io_error"
	KindStoreCorrupt   Kind = "store_corruption"
	KindFsyncFailure   Kind = "fsync_failure"
)

// Error wraps an underlying error with a machine-readable Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with kind. Returns nil if err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Newf builds an Error from a format string, the way the teacher builds
// sentinel errors with fmt.Errorf.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err (or something it wraps) carries kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			ce = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return ce != nil && ce.Kind == kind
}
