package escrow

import (
	"fmt"
	"math/big"

	"github.com/ElLibertador/remittance/native/trust"
)

// Status represents the lifecycle states of an escrow contract.
type Status uint8

const (
	// StatusOpen marks a listed contract with no fulfiller committed.
	StatusOpen Status = iota + 1
	// StatusReserved marks a contract exclusively held by a fulfiller until
	// the reservation deadline.
	StatusReserved
	// StatusFulfilled marks a contract whose fulfiller has declared the
	// off-chain payment delivered.
	StatusFulfilled
	// StatusContested marks a fulfilled contract under dispute, awaiting
	// arbitration.
	StatusContested
	// StatusCompleted is the transient marker recorded when the creator
	// confirms delivery; the contract moves straight on to Closed.
	StatusCompleted
	// StatusClosed is terminal. No further value movement is permitted;
	// reviews may still be appended.
	StatusClosed
)

// Outcome records how a contract reached its terminal state, retained for
// audit and review accounting.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	// OutcomeCompleted: creator confirmed, funds released to the fulfiller.
	OutcomeCompleted
	// OutcomeCreatorAward: arbitration found for the creator, fee forfeit.
	OutcomeCreatorAward
	// OutcomeFulfillerAward: arbitration found for the fulfiller.
	OutcomeFulfillerAward
	// OutcomeCancelled: creator withdrew a still-open listing.
	OutcomeCancelled
)

// String renders the outcome for logs and query responses.
func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeCompleted:
		return "completed"
	case OutcomeCreatorAward:
		return "creator_award"
	case OutcomeFulfillerAward:
		return "fulfiller_award"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Contract captures the metadata and runtime status of a single escrow
// agreement. The identifier is the keccak256 hash of the creator, arbiter and
// a registry-issued sequence number, so ids never collide across the system's
// lifetime.
type Contract struct {
	ID        [32]byte
	Creator   [20]byte
	Arbiter   [20]byte
	Fulfiller [20]byte // zero while no reservation is held

	// Amount is the value locked at creation; the per-contract vault
	// balance tracks how much of it (plus any staked fee) is still held.
	Amount *big.Int
	// Rate is the agreed exchange rate in fiat units per escrowed unit,
	// fixed at creation and carried for the off-chain settlement.
	Rate uint64
	// Fee is the stake a fulfiller posts on reservation. It is refunded on
	// release, lapse or successful completion and forfeit when arbitration
	// finds fraud.
	Fee *big.Int

	Requirements trust.Requirements

	// ReserveDeadline is the unix time after which a reservation lapses.
	ReserveDeadline int64
	CreatedAt       int64
	AcceptedAt      int64
	FulfilledAt     int64
	ClosedAt        int64

	Nonce         uint64 // registry sequence number feeding the id hash
	Status        Status
	Outcome       Outcome
	ContestReason string // present only once contested
}

// Clone returns a deep copy of the contract so callers can safely mutate the
// copy without affecting the stored instance.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Amount != nil {
		clone.Amount = new(big.Int).Set(c.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if c.Fee != nil {
		clone.Fee = new(big.Int).Set(c.Fee)
	} else {
		clone.Fee = big.NewInt(0)
	}
	return &clone
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusReserved, StatusFulfilled, StatusContested, StatusCompleted, StatusClosed:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase name used in events and RPC
// responses.
func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusReserved:
		return "reserved"
	case StatusFulfilled:
		return "fulfilled"
	case StatusContested:
		return "contested"
	case StatusCompleted:
		return "completed"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether the contract permits further value movement.
func (s Status) Terminal() bool { return s == StatusClosed }

// SanitizeContract validates and normalises the supplied contract definition,
// returning a cloned instance with non-nil amount fields. The function does
// not mutate the original value.
func SanitizeContract(c *Contract) (*Contract, error) {
	if c == nil {
		return nil, fmt.Errorf("escrow: nil contract")
	}
	clone := c.Clone()
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow: amount must be non-negative")
	}
	if clone.Fee.Sign() < 0 {
		return nil, fmt.Errorf("escrow: fee must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status: %d", clone.Status)
	}
	if clone.Status == StatusOpen && clone.Fulfiller != ([20]byte{}) {
		return nil, fmt.Errorf("escrow: open contract must not carry a fulfiller")
	}
	if clone.Status != StatusOpen && clone.Status != StatusClosed && clone.Fulfiller == ([20]byte{}) {
		return nil, fmt.Errorf("escrow: status %s requires a fulfiller", clone.Status)
	}
	return clone, nil
}

// Role distinguishes the two participant positions a contract index tracks.
type Role uint8

const (
	RoleCreator Role = iota + 1
	RoleFulfiller
)

// Valid reports whether the role value is supported.
func (r Role) Valid() bool { return r == RoleCreator || r == RoleFulfiller }

// Review is an immutable post-closure satisfaction statement by one party
// about the other. At most one review exists per (contract, reviewer) pair.
type Review struct {
	ContractID [32]byte
	Reviewer   [20]byte
	Subject    [20]byte
	Satisfied  bool
	Comment    string
	CreatedAt  int64
}
