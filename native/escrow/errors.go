package escrow

import "errors"

// Sentinel errors returned by the engine. Callers match them with errors.Is;
// the RPC layer maps them onto structured error codes.
var (
	// ErrNotFound marks lookups for contract ids that were never created.
	ErrNotFound = errors.New("escrow: contract not found")
	// ErrNotAvailable is returned when the contract is in the wrong state
	// for the requested transition, including the loss of an accept race.
	ErrNotAvailable = errors.New("escrow: contract not available for transition")
	// ErrUnauthorized marks caller-identity mismatches on guarded
	// transitions.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")
	// ErrInsufficientFunds is returned when an account cannot cover a
	// required transfer.
	ErrInsufficientFunds = errors.New("escrow: insufficient funds")
	// ErrInsufficientFee is returned when the offered reservation stake is
	// below the contract's fee.
	ErrInsufficientFee = errors.New("escrow: insufficient fee")
	// ErrTrustBelowThreshold rejects fulfillers whose trust metrics do not
	// meet the contract's requirements.
	ErrTrustBelowThreshold = errors.New("escrow: trust metrics below required threshold")
	// ErrContractNotClosed rejects reviews submitted before the contract
	// reached its terminal state.
	ErrContractNotClosed = errors.New("escrow: contract not closed")
	// ErrDuplicateReview rejects a second review from the same reviewer on
	// the same contract.
	ErrDuplicateReview = errors.New("escrow: duplicate review")
	// ErrTransferFailed wraps value-transfer failures; the triggering
	// transition is aborted and the contract left in its pre-call state.
	ErrTransferFailed = errors.New("escrow: transfer failed")
	// ErrInvalidState marks arbitration attempts against contracts that are
	// not contested, or reviews against contracts that never had a
	// fulfiller.
	ErrInvalidState = errors.New("escrow: invalid state")
)
