package escrow

import (
	"encoding/hex"
	"strconv"

	"github.com/ElLibertador/remittance/core/types"
)

const (
	EventTypeContractCreated     = "escrow.contract.created"
	EventTypeContractReserved    = "escrow.contract.reserved"
	EventTypeReservationLapsed   = "escrow.contract.reservation_lapsed"
	EventTypeReservationReleased = "escrow.contract.reservation_released"
	EventTypeContractFulfilled   = "escrow.contract.fulfilled"
	EventTypeContractCompleted   = "escrow.contract.completed"
	EventTypeContractContested   = "escrow.contract.contested"
	EventTypeContractArbitrated  = "escrow.contract.arbitrated"
	EventTypeContractCancelled   = "escrow.contract.cancelled"
	EventTypeContractClosed      = "escrow.contract.closed"
	EventTypeReviewSubmitted     = "escrow.review.submitted"
)

// NewCreatedEvent returns the canonical event payload for a newly listed
// contract.
func NewCreatedEvent(c *Contract) *types.Event { return newContractEvent(EventTypeContractCreated, c) }

// NewReservedEvent returns the payload emitted when a fulfiller wins the
// reservation.
func NewReservedEvent(c *Contract) *types.Event {
	return newContractEvent(EventTypeContractReserved, c)
}

// NewReservationLapsedEvent returns the payload emitted when a lazy timeout
// check reclaims an expired reservation. The lapsed fulfiller is recorded in
// the attributes since the contract itself no longer carries it.
func NewReservationLapsedEvent(c *Contract, lapsed [20]byte) *types.Event {
	evt := newContractEvent(EventTypeReservationLapsed, c)
	evt.Attributes["lapsedFulfiller"] = hex.EncodeToString(lapsed[:])
	return evt
}

// NewReservationReleasedEvent returns the payload emitted when the fulfiller
// voluntarily walks away before fulfillment.
func NewReservationReleasedEvent(c *Contract, released [20]byte) *types.Event {
	evt := newContractEvent(EventTypeReservationReleased, c)
	evt.Attributes["releasedFulfiller"] = hex.EncodeToString(released[:])
	return evt
}

// NewFulfilledEvent returns the payload emitted when the fulfiller declares
// the off-chain payment delivered.
func NewFulfilledEvent(c *Contract) *types.Event {
	return newContractEvent(EventTypeContractFulfilled, c)
}

// NewCompletedEvent returns the payload for the transient completion marker
// recorded when the creator confirms delivery.
func NewCompletedEvent(c *Contract) *types.Event {
	return newContractEvent(EventTypeContractCompleted, c)
}

// NewContestedEvent returns the payload emitted when a party raises a dispute.
func NewContestedEvent(c *Contract) *types.Event {
	evt := newContractEvent(EventTypeContractContested, c)
	if c != nil {
		evt.Attributes["reason"] = c.ContestReason
	}
	return evt
}

// NewArbitratedEvent returns the payload emitted when arbitration settles a
// contested contract.
func NewArbitratedEvent(c *Contract, winner [20]byte) *types.Event {
	evt := newContractEvent(EventTypeContractArbitrated, c)
	evt.Attributes["winner"] = hex.EncodeToString(winner[:])
	return evt
}

// NewCancelledEvent returns the payload emitted when the creator withdraws an
// open listing.
func NewCancelledEvent(c *Contract) *types.Event {
	return newContractEvent(EventTypeContractCancelled, c)
}

// NewClosedEvent returns the payload emitted when the contract reaches its
// terminal state.
func NewClosedEvent(c *Contract) *types.Event { return newContractEvent(EventTypeContractClosed, c) }

// NewReviewEvent returns the payload emitted when a post-closure review is
// appended.
func NewReviewEvent(r *Review) *types.Event {
	attrs := make(map[string]string)
	if r != nil {
		attrs["contractId"] = hex.EncodeToString(r.ContractID[:])
		attrs["reviewer"] = hex.EncodeToString(r.Reviewer[:])
		attrs["subject"] = hex.EncodeToString(r.Subject[:])
		attrs["satisfied"] = strconv.FormatBool(r.Satisfied)
	}
	return &types.Event{Type: EventTypeReviewSubmitted, Attributes: attrs}
}

func newContractEvent(eventType string, c *Contract) *types.Event {
	attrs := make(map[string]string)
	if c == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeContract(c)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["creator"] = hex.EncodeToString(sanitized.Creator[:])
	attrs["arbiter"] = hex.EncodeToString(sanitized.Arbiter[:])
	attrs["amount"] = sanitized.Amount.String()
	attrs["fee"] = sanitized.Fee.String()
	attrs["rate"] = strconv.FormatUint(sanitized.Rate, 10)
	attrs["status"] = sanitized.Status.String()
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	if sanitized.Fulfiller != ([20]byte{}) {
		attrs["fulfiller"] = hex.EncodeToString(sanitized.Fulfiller[:])
	}
	if sanitized.ReserveDeadline > 0 {
		attrs["reserveDeadline"] = strconv.FormatInt(sanitized.ReserveDeadline, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
