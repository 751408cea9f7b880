package escrow

import "fmt"

// Resolver decides which party receives the locked value of a contested
// contract. It carries no state of its own; the engine performs the fund
// release. The interface leaves room for a committee or oracle implementation
// without changing the engine.
type Resolver interface {
	Resolve(c *Contract, caller, proposed [20]byte) ([20]byte, error)
}

// SingleArbiterResolver implements the current-stage policy: one trusted
// arbiter per contract, designated at creation, whose proposed winner is
// accepted as long as it names a contract party.
type SingleArbiterResolver struct{}

// Resolve validates that the caller is the contract's designated arbiter, the
// contract is contested, and the proposed winner is one of the two parties.
func (SingleArbiterResolver) Resolve(c *Contract, caller, proposed [20]byte) ([20]byte, error) {
	if c == nil {
		return [20]byte{}, ErrNotFound
	}
	if c.Status != StatusContested {
		return [20]byte{}, fmt.Errorf("%w: status %s, arbitration requires contested", ErrInvalidState, c.Status)
	}
	if caller != c.Arbiter {
		return [20]byte{}, fmt.Errorf("%w: only the designated arbiter may resolve", ErrUnauthorized)
	}
	if proposed != c.Creator && proposed != c.Fulfiller {
		return [20]byte{}, fmt.Errorf("%w: winner must be the creator or the fulfiller", ErrUnauthorized)
	}
	return proposed, nil
}
