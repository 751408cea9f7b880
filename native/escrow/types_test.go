package escrow

import (
	"math/big"
	"testing"

	"github.com/ElLibertador/remittance/native/trust"
)

func TestStatusStrings(t *testing.T) {
	cases := map[Status]string{
		StatusOpen:      "open",
		StatusReserved:  "reserved",
		StatusFulfilled: "fulfilled",
		StatusContested: "contested",
		StatusCompleted: "completed",
		StatusClosed:    "closed",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("status %d: expected %q, got %q", status, want, got)
		}
		if !status.Valid() {
			t.Fatalf("status %s should be valid", status)
		}
	}
	if Status(0).Valid() || Status(99).Valid() {
		t.Fatal("out-of-range statuses must be invalid")
	}
	if !StatusClosed.Terminal() {
		t.Fatal("closed is the terminal state")
	}
	if StatusContested.Terminal() {
		t.Fatal("contested is not terminal")
	}
}

func TestOutcomeStrings(t *testing.T) {
	cases := map[Outcome]string{
		OutcomeNone:           "none",
		OutcomeCompleted:      "completed",
		OutcomeCreatorAward:   "creator_award",
		OutcomeFulfillerAward: "fulfiller_award",
		OutcomeCancelled:      "cancelled",
	}
	for outcome, want := range cases {
		if got := outcome.String(); got != want {
			t.Fatalf("outcome %d: expected %q, got %q", outcome, want, got)
		}
	}
}

func TestContractCloneIsIndependent(t *testing.T) {
	original := &Contract{
		ID:      [32]byte{0x01},
		Creator: newTestAddress(0x01),
		Arbiter: newTestAddress(0x02),
		Amount:  big.NewInt(100),
		Fee:     big.NewInt(5),
		Status:  StatusOpen,
	}
	clone := original.Clone()
	clone.Amount.SetInt64(999)
	clone.Status = StatusClosed
	if original.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatal("mutating the clone's amount leaked into the original")
	}
	if original.Status != StatusOpen {
		t.Fatal("mutating the clone's status leaked into the original")
	}
}

func TestSanitizeContract(t *testing.T) {
	base := func() *Contract {
		return &Contract{
			ID:      [32]byte{0x01},
			Creator: newTestAddress(0x01),
			Arbiter: newTestAddress(0x02),
			Amount:  big.NewInt(100),
			Fee:     big.NewInt(5),
			Status:  StatusOpen,
		}
	}

	if _, err := SanitizeContract(nil); err == nil {
		t.Fatal("nil contract must be rejected")
	}

	ok := base()
	sanitized, err := SanitizeContract(ok)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	sanitized.Amount.SetInt64(0)
	if ok.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatal("sanitize must return an independent copy")
	}

	missingAmounts := base()
	missingAmounts.Amount = nil
	missingAmounts.Fee = nil
	sanitized, err = SanitizeContract(missingAmounts)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if sanitized.Amount == nil || sanitized.Fee == nil {
		t.Fatal("sanitize must normalise nil amounts")
	}

	negative := base()
	negative.Amount = big.NewInt(-1)
	if _, err := SanitizeContract(negative); err == nil {
		t.Fatal("negative amount must be rejected")
	}

	badStatus := base()
	badStatus.Status = Status(42)
	if _, err := SanitizeContract(badStatus); err == nil {
		t.Fatal("invalid status must be rejected")
	}

	openWithFulfiller := base()
	openWithFulfiller.Fulfiller = newTestAddress(0x03)
	if _, err := SanitizeContract(openWithFulfiller); err == nil {
		t.Fatal("open contract with a fulfiller must be rejected")
	}

	reservedWithout := base()
	reservedWithout.Status = StatusReserved
	if _, err := SanitizeContract(reservedWithout); err == nil {
		t.Fatal("reserved contract without a fulfiller must be rejected")
	}

	closedWithout := base()
	closedWithout.Status = StatusClosed
	closedWithout.Outcome = OutcomeCancelled
	if _, err := SanitizeContract(closedWithout); err != nil {
		t.Fatalf("cancelled contract legitimately has no fulfiller: %v", err)
	}
}

func TestRequirementsZeroValueIsPermissive(t *testing.T) {
	if !trust.Satisfies(nil, (trust.Requirements{})) {
		t.Fatal("zero requirements must admit anyone")
	}
}
