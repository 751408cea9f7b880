package escrow

import (
	"fmt"
	"strings"

	nativecommon "github.com/ElLibertador/remittance/native/common"
)

// SubmitReview appends an immutable post-closure satisfaction review and
// forwards the aggregate to the trust ledger. Reviews only exist for closed
// contracts that actually had a fulfiller; each party may review once.
func (e *Engine) SubmitReview(id [32]byte, reviewer [20]byte, satisfied bool, comment string) (*Review, error) {
	contract, err := e.loadContract(id)
	if err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.trust == nil {
		return nil, errNilTrust
	}
	if contract.Status != StatusClosed {
		return nil, fmt.Errorf("%w: status %s", ErrContractNotClosed, contract.Status)
	}
	if contract.Fulfiller == ([20]byte{}) {
		return nil, fmt.Errorf("%w: contract closed without a fulfiller", ErrInvalidState)
	}
	var subject [20]byte
	switch reviewer {
	case contract.Creator:
		subject = contract.Fulfiller
	case contract.Fulfiller:
		subject = contract.Creator
	default:
		return nil, fmt.Errorf("%w: reviewer is not a contract party", ErrUnauthorized)
	}
	if _, exists, err := e.state.ReviewGet(id, reviewer); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %x already reviewed %x", ErrDuplicateReview, reviewer, id)
	}
	review := &Review{
		ContractID: id,
		Reviewer:   reviewer,
		Subject:    subject,
		Satisfied:  satisfied,
		Comment:    strings.TrimSpace(comment),
		CreatedAt:  e.now(),
	}
	if err := e.state.ReviewPut(review); err != nil {
		return nil, err
	}
	if err := e.trust.RecordReview(subject, satisfied); err != nil {
		return nil, err
	}
	e.emit(NewReviewEvent(review))
	return review, nil
}
