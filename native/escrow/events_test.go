package escrow

import (
	"encoding/hex"
	"math/big"
	"testing"
)

func TestContractEventAttributes(t *testing.T) {
	contract := &Contract{
		ID:              [32]byte{0x01},
		Creator:         newTestAddress(0x01),
		Arbiter:         newTestAddress(0x02),
		Fulfiller:       newTestAddress(0x03),
		Amount:          big.NewInt(600),
		Fee:             big.NewInt(25),
		Rate:            36_50,
		ReserveDeadline: 1_700_003_600,
		CreatedAt:       1_700_000_000,
		Status:          StatusReserved,
	}
	evt := NewReservedEvent(contract)
	if evt.Type != EventTypeContractReserved {
		t.Fatalf("type: got %q", evt.Type)
	}
	if evt.Attributes["id"] != hex.EncodeToString(contract.ID[:]) {
		t.Fatalf("id attribute: got %q", evt.Attributes["id"])
	}
	if evt.Attributes["amount"] != "600" || evt.Attributes["fee"] != "25" {
		t.Fatalf("amount attributes: %v", evt.Attributes)
	}
	if evt.Attributes["status"] != "reserved" {
		t.Fatalf("status attribute: got %q", evt.Attributes["status"])
	}
	if evt.Attributes["fulfiller"] != hex.EncodeToString(contract.Fulfiller[:]) {
		t.Fatalf("fulfiller attribute: got %q", evt.Attributes["fulfiller"])
	}
	if evt.Attributes["reserveDeadline"] != "1700003600" {
		t.Fatalf("deadline attribute: got %q", evt.Attributes["reserveDeadline"])
	}
}

func TestOpenContractEventOmitsFulfiller(t *testing.T) {
	contract := &Contract{
		ID:        [32]byte{0x02},
		Creator:   newTestAddress(0x01),
		Arbiter:   newTestAddress(0x02),
		Amount:    big.NewInt(100),
		Fee:       big.NewInt(0),
		CreatedAt: 1_700_000_000,
		Status:    StatusOpen,
	}
	evt := NewCreatedEvent(contract)
	if _, ok := evt.Attributes["fulfiller"]; ok {
		t.Fatal("open contract event must not carry a fulfiller attribute")
	}
	if _, ok := evt.Attributes["reserveDeadline"]; ok {
		t.Fatal("open contract event must not carry a deadline attribute")
	}
}

func TestLapsedEventCarriesLapsedFulfiller(t *testing.T) {
	lapsed := newTestAddress(0x03)
	contract := &Contract{
		ID:        [32]byte{0x03},
		Creator:   newTestAddress(0x01),
		Arbiter:   newTestAddress(0x02),
		Amount:    big.NewInt(100),
		Fee:       big.NewInt(5),
		CreatedAt: 1_700_000_000,
		Status:    StatusOpen,
	}
	evt := NewReservationLapsedEvent(contract, lapsed)
	if evt.Attributes["lapsedFulfiller"] != hex.EncodeToString(lapsed[:]) {
		t.Fatalf("lapsed attribute: got %q", evt.Attributes["lapsedFulfiller"])
	}
}

func TestReviewEventAttributes(t *testing.T) {
	review := &Review{
		ContractID: [32]byte{0x04},
		Reviewer:   newTestAddress(0x01),
		Subject:    newTestAddress(0x03),
		Satisfied:  true,
	}
	evt := NewReviewEvent(review)
	if evt.Type != EventTypeReviewSubmitted {
		t.Fatalf("type: got %q", evt.Type)
	}
	if evt.Attributes["satisfied"] != "true" {
		t.Fatalf("satisfied attribute: got %q", evt.Attributes["satisfied"])
	}
	if evt.Attributes["subject"] != hex.EncodeToString(review.Subject[:]) {
		t.Fatalf("subject attribute: got %q", evt.Attributes["subject"])
	}
}
