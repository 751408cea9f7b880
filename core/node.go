package core

import (
	"math/big"
	"sync"

	"github.com/ElLibertador/remittance/core/events"
	"github.com/ElLibertador/remittance/core/state"
	nativecommon "github.com/ElLibertador/remittance/native/common"
	"github.com/ElLibertador/remittance/native/escrow"
	"github.com/ElLibertador/remittance/native/trust"
	"github.com/ElLibertador/remittance/observability/metrics"
	"github.com/ElLibertador/remittance/storage"
)

// PauseSet is a static pause view built from configuration.
type PauseSet map[string]bool

// IsPaused implements the native/common.PauseView interface.
func (p PauseSet) IsPaused(module string) bool { return p[module] }

// Node is the serializing execution layer. Every state-mutating call runs to
// completion under a single mutex, inside a state overlay that commits only on
// success, so one entry point's side effects are all-or-nothing and calls on a
// contract are totally ordered by arrival. There is no background scheduler;
// reservation timeouts are applied lazily by the engine on the next
// interaction.
type Node struct {
	mu     sync.Mutex
	state  *state.Manager
	engine *escrow.Engine
	trust  *trust.Ledger
}

// NewNode wires the state manager, trust ledger and escrow engine over the
// provided database.
func NewNode(db storage.Database) *Node {
	manager := state.NewManager(db)
	ledger := trust.NewLedger(manager)
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetTrustLedger(ledger)
	return &Node{state: manager, engine: engine, trust: ledger}
}

// SetEmitter configures the event emitter used for contract transitions.
func (n *Node) SetEmitter(emitter events.Emitter) { n.engine.SetEmitter(emitter) }

// SetFeeTreasury configures the address that collects forfeited fees.
func (n *Node) SetFeeTreasury(addr [20]byte) { n.engine.SetFeeTreasury(addr) }

// SetPauses installs the administrative pause view.
func (n *Node) SetPauses(p nativecommon.PauseView) { n.engine.SetPauses(p) }

// SetNowFunc overrides the time source, primarily for tests.
func (n *Node) SetNowFunc(now func() int64) { n.engine.SetNowFunc(now) }

// withTxn serializes the call and stages its writes in an overlay. On error
// the overlay is discarded and no partial mutation remains observable.
func (n *Node) withTxn(op string, fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state.Begin()
	if err := fn(); err != nil {
		n.state.Discard()
		metrics.Escrow().ObserveTransition(op, false)
		return err
	}
	if err := n.state.Commit(); err != nil {
		n.state.Discard()
		metrics.Escrow().ObserveTransition(op, false)
		return err
	}
	metrics.Escrow().ObserveTransition(op, true)
	return nil
}

// EscrowCreate lists a new contract, locking the creator's value atomically
// with creation.
func (n *Node) EscrowCreate(creator, arbiter [20]byte, amount *big.Int, rate uint64, fee *big.Int, req trust.Requirements) (*escrow.Contract, error) {
	var contract *escrow.Contract
	err := n.withTxn("create", func() error {
		var innerErr error
		contract, innerErr = n.engine.Create(creator, arbiter, amount, rate, fee, req)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return contract, nil
}

// EscrowAccept reserves the contract for the fulfiller.
func (n *Node) EscrowAccept(id [32]byte, fulfiller [20]byte, fee *big.Int, reserveSecs int64) error {
	return n.withTxn("accept", func() error {
		return n.engine.Accept(id, fulfiller, fee, reserveSecs)
	})
}

// EscrowFulfill records the off-chain payment as delivered.
func (n *Node) EscrowFulfill(id [32]byte, caller [20]byte) error {
	return n.withTxn("fulfill", func() error {
		return n.engine.Fulfill(id, caller)
	})
}

// EscrowRelease lets the fulfiller abandon a reservation.
func (n *Node) EscrowRelease(id [32]byte, caller [20]byte) error {
	return n.withTxn("release", func() error {
		return n.engine.ReleaseReservation(id, caller)
	})
}

// EscrowCancel withdraws a still-open listing.
func (n *Node) EscrowCancel(id [32]byte, caller [20]byte) error {
	return n.withTxn("cancel", func() error {
		return n.engine.Cancel(id, caller)
	})
}

// EscrowComplete settles the contract in the fulfiller's favour.
func (n *Node) EscrowComplete(id [32]byte, caller [20]byte) error {
	return n.withTxn("complete", func() error {
		return n.engine.Complete(id, caller)
	})
}

// EscrowContest raises a dispute on a fulfilled contract.
func (n *Node) EscrowContest(id [32]byte, caller [20]byte, reason string) error {
	return n.withTxn("contest", func() error {
		return n.engine.Contest(id, caller, reason)
	})
}

// EscrowArbitrate settles a contested contract.
func (n *Node) EscrowArbitrate(id [32]byte, caller, winner [20]byte) error {
	return n.withTxn("arbitrate", func() error {
		return n.engine.Arbitrate(id, caller, winner)
	})
}

// EscrowSubmitReview appends a post-closure review.
func (n *Node) EscrowSubmitReview(id [32]byte, reviewer [20]byte, satisfied bool, comment string) (*escrow.Review, error) {
	var review *escrow.Review
	err := n.withTxn("submit_review", func() error {
		var innerErr error
		review, innerErr = n.engine.SubmitReview(id, reviewer, satisfied, comment)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

// EscrowGet returns the contract. The lazy reclamation check runs first, so
// an expired reservation is observed (and persisted) as Open.
func (n *Node) EscrowGet(id [32]byte) (*escrow.Contract, error) {
	var contract *escrow.Contract
	err := n.withTxn("get", func() error {
		var innerErr error
		contract, innerErr = n.engine.Get(id)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return contract, nil
}

// EscrowVaultBalance reports the value still held for the contract.
func (n *Node) EscrowVaultBalance(id [32]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.VaultBalance(id)
}

// EscrowContractIDs returns every contract id ever registered, in creation
// order.
func (n *Node) EscrowContractIDs() ([][32]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.ContractIDs()
}

// EscrowListByParticipant returns contracts the address has participated in
// under the given role.
func (n *Node) EscrowListByParticipant(addr [20]byte, role escrow.Role) ([]*escrow.Contract, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.ListByParticipant(addr, role)
}

// EscrowReviews returns every review recorded against the contract.
func (n *Node) EscrowReviews(id [32]byte) ([]*escrow.Review, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.ReviewsByContract(id)
}

// TrustMetrics derives the aggregate trust statistics for an address.
func (n *Node) TrustMetrics(addr [20]byte) (trust.Metrics, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.trust.Metrics(addr)
}

// TrustRecord returns the raw counters behind an address's metrics.
func (n *Node) TrustRecord(addr [20]byte) (*trust.Record, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.trust.Record(addr)
}

// Balance reports the spendable balance of an account.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// FundAccount credits an account. It backs genesis allocations and local
// development faucets; settlement against an external ledger is out of scope.
func (n *Node) FundAccount(addr [20]byte, amount *big.Int) error {
	return n.withTxn("fund", func() error {
		account, err := n.state.GetAccount(addr[:])
		if err != nil {
			return err
		}
		account.Balance = new(big.Int).Add(account.Balance, amount)
		return n.state.PutAccount(addr[:], account)
	})
}
