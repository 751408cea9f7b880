package escrow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/ElLibertador/remittance/core/events"
	"github.com/ElLibertador/remittance/core/types"
	nativecommon "github.com/ElLibertador/remittance/native/common"
	"github.com/ElLibertador/remittance/native/trust"
)

var (
	errNilState = errors.New("escrow engine: state not configured")
	errNilTrust = errors.New("escrow engine: trust ledger not configured")
)

const moduleName = "escrow"

type engineState interface {
	ContractPut(*Contract) error
	ContractGet(id [32]byte) (*Contract, bool)
	ContractNextNonce() (uint64, error)
	ContractsByParticipant(addr [20]byte, role Role) ([][32]byte, error)
	EscrowVaultAddress() ([20]byte, error)
	EscrowCredit(id [32]byte, amt *big.Int) error
	EscrowDebit(id [32]byte, amt *big.Int) error
	EscrowBalance(id [32]byte) (*big.Int, error)
	ReviewPut(*Review) error
	ReviewGet(id [32]byte, reviewer [20]byte) (*Review, bool, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

type trustLedger interface {
	CheckRequirements(addr [20]byte, req trust.Requirements) (bool, error)
	RecordCompletion(addr [20]byte, completed bool, durationSecs uint64) error
	RecordReview(addr [20]byte, satisfied bool) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the contract state machine with external state, the trust
// ledger and event emitters. Every state-mutating entry point first applies
// the lazy reservation-timeout check; there is no background scheduler.
type Engine struct {
	state       engineState
	trust       trustLedger
	resolver    Resolver
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	feeTreasury [20]byte
	nowFn       func() int64
}

// NewEngine creates an escrow engine with a no-op emitter and the single
// trusted arbiter resolver. Callers can override both via the setters.
func NewEngine() *Engine {
	return &Engine{
		resolver: SingleArbiterResolver{},
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTrustLedger configures the ledger consulted for admission checks and
// notified on contract closure and review submission.
func (e *Engine) SetTrustLedger(ledger trustLedger) { e.trust = ledger }

// SetResolver overrides the arbitration decision capability. Passing nil
// restores the single trusted arbiter behaviour.
func (e *Engine) SetResolver(r Resolver) {
	if r == nil {
		e.resolver = SingleArbiterResolver{}
		return
	}
	e.resolver = r
}

// SetFeeTreasury configures the address that collects forfeited reservation
// fees. When unset, forfeits accrue to the derived DefaultFeeTreasury
// account.
func (e *Engine) SetFeeTreasury(addr [20]byte) { e.feeTreasury = addr }

// SetPauses configures the administrative pause view consulted before
// state-mutating transitions.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) loadContract(id [32]byte) (*Contract, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	contract, ok := e.state.ContractGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrNotFound, id)
	}
	return contract, nil
}

func (e *Engine) storeContract(c *Contract) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.ContractPut(c)
}

// transferValue moves amount between accounts. Shortfalls surface as
// ErrInsufficientFunds; backend failures are wrapped in ErrTransferFailed so
// the caller aborts the whole transition.
func (e *Engine) transferValue(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: %x", ErrInsufficientFunds, from)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := e.state.PutAccount(to[:], toAcc); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return nil
}

// DefaultFeeTreasury derives the deterministic module account that collects
// forfeited stakes when no treasury has been configured, the same way the
// escrow vault address is derived.
func DefaultFeeTreasury() [20]byte {
	digest := ethcrypto.Keccak256([]byte("escrow/feetreasury"))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

func (e *Engine) treasuryAddress() [20]byte {
	if e == nil || e.feeTreasury == ([20]byte{}) {
		return DefaultFeeTreasury()
	}
	return e.feeTreasury
}

// ComputeContractID derives the collision-free contract identifier from the
// immutable parties and the registry-issued sequence number.
func ComputeContractID(creator, arbiter [20]byte, nonce uint64) [32]byte {
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], nonce)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(creator[:], arbiter[:], seq[:]))
	return id
}

// reclaimIfLapsed applies the lazy timeout check: a Reserved contract whose
// deadline has passed reverts to Open, the fulfiller's stake is returned and
// the lapse leaves no trust signal. The check runs at the top of every entry
// point; an expired reservation that is never revisited stays Reserved until
// the next interaction.
func (e *Engine) reclaimIfLapsed(c *Contract) (*Contract, error) {
	if c == nil || c.Status != StatusReserved {
		return c, nil
	}
	if e.now() <= c.ReserveDeadline {
		return c, nil
	}
	lapsed := c.Fulfiller
	if c.Fee.Sign() > 0 {
		vault, err := e.state.EscrowVaultAddress()
		if err != nil {
			return nil, err
		}
		if err := e.transferValue(vault, lapsed, c.Fee); err != nil {
			return nil, err
		}
		if err := e.state.EscrowDebit(c.ID, c.Fee); err != nil {
			return nil, err
		}
	}
	c.Fulfiller = [20]byte{}
	c.ReserveDeadline = 0
	c.AcceptedAt = 0
	c.Status = StatusOpen
	if err := e.storeContract(c); err != nil {
		return nil, err
	}
	e.emit(NewReservationLapsedEvent(c, lapsed))
	return c, nil
}

// Create initialises a new contract in the Open state, locking the creator's
// value into the escrow vault atomically with creation.
func (e *Engine) Create(creator, arbiter [20]byte, amount *big.Int, rate uint64, fee *big.Int, req trust.Requirements) (*Contract, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: amount must be positive")
	}
	stake := cloneBigInt(fee)
	if stake.Sign() < 0 {
		return nil, fmt.Errorf("escrow: fee must be non-negative")
	}
	if arbiter == ([20]byte{}) {
		return nil, fmt.Errorf("escrow: arbiter required")
	}
	if arbiter == creator {
		return nil, fmt.Errorf("escrow: creator cannot arbitrate their own contract")
	}
	nonce, err := e.state.ContractNextNonce()
	if err != nil {
		return nil, err
	}
	id := ComputeContractID(creator, arbiter, nonce)
	if _, exists := e.state.ContractGet(id); exists {
		return nil, fmt.Errorf("escrow: contract id collision for nonce %d", nonce)
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return nil, err
	}
	if err := e.transferValue(creator, vault, amt); err != nil {
		return nil, err
	}
	if err := e.state.EscrowCredit(id, amt); err != nil {
		return nil, err
	}
	contract := &Contract{
		ID:           id,
		Creator:      creator,
		Arbiter:      arbiter,
		Amount:       amt,
		Rate:         rate,
		Fee:          stake,
		Requirements: req,
		CreatedAt:    e.now(),
		Nonce:        nonce,
		Status:       StatusOpen,
	}
	if err := e.storeContract(contract); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(contract))
	return contract.Clone(), nil
}

// Accept reserves the contract for the fulfiller. The contract's state field
// is the mutual-exclusion token: the first caller to accept an Open contract
// wins and any later attempt observes Reserved and fails with ErrNotAvailable.
func (e *Engine) Accept(id [32]byte, fulfiller [20]byte, feeOffered *big.Int, reserveSecs int64) error {
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.trust == nil {
		return errNilTrust
	}
	contract, err = e.reclaimIfLapsed(contract)
	if err != nil {
		return err
	}
	if contract.Status != StatusOpen {
		return fmt.Errorf("%w: status %s", ErrNotAvailable, contract.Status)
	}
	if fulfiller == contract.Creator {
		// The contract creator cannot accept their own contract.
		return fmt.Errorf("%w: creator cannot fulfill own contract", ErrUnauthorized)
	}
	if fulfiller == ([20]byte{}) {
		return fmt.Errorf("escrow: fulfiller required")
	}
	if reserveSecs <= 0 {
		return fmt.Errorf("escrow: reservation window must be positive")
	}
	if cloneBigInt(feeOffered).Cmp(contract.Fee) < 0 {
		return fmt.Errorf("%w: offered %s, required %s", ErrInsufficientFee, cloneBigInt(feeOffered), contract.Fee)
	}
	ok, err := e.trust.CheckRequirements(fulfiller, contract.Requirements)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %x", ErrTrustBelowThreshold, fulfiller)
	}
	if contract.Fee.Sign() > 0 {
		vault, err := e.state.EscrowVaultAddress()
		if err != nil {
			return err
		}
		if err := e.transferValue(fulfiller, vault, contract.Fee); err != nil {
			return err
		}
		if err := e.state.EscrowCredit(id, contract.Fee); err != nil {
			return err
		}
	}
	now := e.now()
	contract.Fulfiller = fulfiller
	contract.AcceptedAt = now
	contract.ReserveDeadline = now + reserveSecs
	contract.Status = StatusReserved
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewReservedEvent(contract))
	return nil
}

// Fulfill records that the fulfiller has delivered the off-chain payment.
// Only the current fulfiller may invoke it, and only while the reservation has
// not lapsed.
func (e *Engine) Fulfill(id [32]byte, caller [20]byte) error {
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	contract, err = e.reclaimIfLapsed(contract)
	if err != nil {
		return err
	}
	if contract.Status != StatusReserved {
		return fmt.Errorf("%w: status %s", ErrNotAvailable, contract.Status)
	}
	if caller != contract.Fulfiller {
		return fmt.Errorf("%w: only the fulfiller may declare fulfillment", ErrUnauthorized)
	}
	contract.FulfilledAt = e.now()
	contract.Status = StatusFulfilled
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewFulfilledEvent(contract))
	return nil
}

// ReleaseReservation lets the fulfiller walk away from a reservation before
// declaring fulfillment. The stake is returned and the contract relists as
// Open; like a lapse, walking away leaves no trust signal.
func (e *Engine) ReleaseReservation(id [32]byte, caller [20]byte) error {
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	contract, err = e.reclaimIfLapsed(contract)
	if err != nil {
		return err
	}
	if contract.Status != StatusReserved {
		return fmt.Errorf("%w: status %s", ErrNotAvailable, contract.Status)
	}
	if caller != contract.Fulfiller {
		return fmt.Errorf("%w: only the fulfiller may release the reservation", ErrUnauthorized)
	}
	if contract.Fee.Sign() > 0 {
		vault, err := e.state.EscrowVaultAddress()
		if err != nil {
			return err
		}
		if err := e.transferValue(vault, caller, contract.Fee); err != nil {
			return err
		}
		if err := e.state.EscrowDebit(id, contract.Fee); err != nil {
			return err
		}
	}
	contract.Fulfiller = [20]byte{}
	contract.ReserveDeadline = 0
	contract.AcceptedAt = 0
	contract.Status = StatusOpen
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewReservationReleasedEvent(contract, caller))
	return nil
}

// Cancel lets the creator withdraw a still-Open listing, refunding the locked
// value. A contract with a live reservation cannot be cancelled.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	contract, err = e.reclaimIfLapsed(contract)
	if err != nil {
		return err
	}
	if contract.Status != StatusOpen {
		return fmt.Errorf("%w: status %s", ErrNotAvailable, contract.Status)
	}
	if caller != contract.Creator {
		return fmt.Errorf("%w: only the creator may cancel", ErrUnauthorized)
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	if err := e.transferValue(vault, contract.Creator, contract.Amount); err != nil {
		return err
	}
	if err := e.state.EscrowDebit(id, contract.Amount); err != nil {
		return err
	}
	contract.Status = StatusClosed
	contract.Outcome = OutcomeCancelled
	contract.ClosedAt = e.now()
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(contract))
	return nil
}

// Complete settles the contract in the fulfiller's favour: the creator
// confirms the off-chain payment arrived, the locked value and the stake both
// release to the fulfiller, and the fulfiller's trust record gains a
// completion.
func (e *Engine) Complete(id [32]byte, caller [20]byte) error {
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.trust == nil {
		return errNilTrust
	}
	contract, err = e.reclaimIfLapsed(contract)
	if err != nil {
		return err
	}
	if contract.Status != StatusFulfilled {
		return fmt.Errorf("%w: status %s", ErrNotAvailable, contract.Status)
	}
	if caller != contract.Creator {
		return fmt.Errorf("%w: only the creator may complete", ErrUnauthorized)
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	payout := new(big.Int).Add(contract.Amount, contract.Fee)
	if err := e.transferValue(vault, contract.Fulfiller, payout); err != nil {
		return err
	}
	if err := e.state.EscrowDebit(id, payout); err != nil {
		return err
	}
	if err := e.trust.RecordCompletion(contract.Fulfiller, true, completionSecs(contract)); err != nil {
		return err
	}
	contract.Status = StatusCompleted
	e.emit(NewCompletedEvent(contract))
	contract.Status = StatusClosed
	contract.Outcome = OutcomeCompleted
	contract.ClosedAt = e.now()
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewClosedEvent(contract))
	return nil
}

// Contest flags a fulfilled contract as disputed. Either party may raise it;
// the reason is retained for the arbiter.
func (e *Engine) Contest(id [32]byte, caller [20]byte, reason string) error {
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	contract, err = e.reclaimIfLapsed(contract)
	if err != nil {
		return err
	}
	if contract.Status != StatusFulfilled {
		return fmt.Errorf("%w: status %s", ErrNotAvailable, contract.Status)
	}
	if caller != contract.Creator && caller != contract.Fulfiller {
		return fmt.Errorf("%w: only a contract party may contest", ErrUnauthorized)
	}
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return fmt.Errorf("escrow: contest reason required")
	}
	contract.Status = StatusContested
	contract.ContestReason = trimmed
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewContestedEvent(contract))
	return nil
}

// Arbitrate settles a contested contract. The resolver validates the caller
// and the proposed winner; the locked value releases to the winner. A creator
// win forfeits the fulfiller's stake to the fee treasury and counts against
// the fulfiller's completion rate; a fulfiller win refunds the stake and
// counts as a completion.
func (e *Engine) Arbitrate(id [32]byte, caller [20]byte, winner [20]byte) error {
	contract, err := e.loadContract(id)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.trust == nil {
		return errNilTrust
	}
	contract, err = e.reclaimIfLapsed(contract)
	if err != nil {
		return err
	}
	recipient, err := e.resolver.Resolve(contract, caller, winner)
	if err != nil {
		return err
	}
	vault, err := e.state.EscrowVaultAddress()
	if err != nil {
		return err
	}
	fulfillerWon := recipient == contract.Fulfiller
	if fulfillerWon {
		payout := new(big.Int).Add(contract.Amount, contract.Fee)
		if err := e.transferValue(vault, contract.Fulfiller, payout); err != nil {
			return err
		}
		if err := e.state.EscrowDebit(id, payout); err != nil {
			return err
		}
	} else {
		if err := e.transferValue(vault, contract.Creator, contract.Amount); err != nil {
			return err
		}
		if contract.Fee.Sign() > 0 {
			if err := e.transferValue(vault, e.treasuryAddress(), contract.Fee); err != nil {
				return err
			}
		}
		if err := e.state.EscrowDebit(id, new(big.Int).Add(contract.Amount, contract.Fee)); err != nil {
			return err
		}
	}
	duration := uint64(0)
	if fulfillerWon {
		duration = completionSecs(contract)
	}
	if err := e.trust.RecordCompletion(contract.Fulfiller, fulfillerWon, duration); err != nil {
		return err
	}
	contract.Status = StatusClosed
	if fulfillerWon {
		contract.Outcome = OutcomeFulfillerAward
	} else {
		contract.Outcome = OutcomeCreatorAward
	}
	contract.ClosedAt = e.now()
	if err := e.storeContract(contract); err != nil {
		return err
	}
	e.emit(NewArbitratedEvent(contract, recipient))
	return nil
}

// Get returns the contract, applying the lazy reclamation check first so an
// expired reservation is observed as Open. Reclamation is permissionless, so
// running it from a read path is safe.
func (e *Engine) Get(id [32]byte) (*Contract, error) {
	contract, err := e.loadContract(id)
	if err != nil {
		return nil, err
	}
	contract, err = e.reclaimIfLapsed(contract)
	if err != nil {
		return nil, err
	}
	return contract.Clone(), nil
}

// ListByParticipant returns every contract the address has participated in
// under the given role. The slice is finite and rebuilt per call, so the
// iteration is restartable by calling again.
func (e *Engine) ListByParticipant(addr [20]byte, role Role) ([]*Contract, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if !role.Valid() {
		return nil, fmt.Errorf("escrow: invalid role %d", role)
	}
	ids, err := e.state.ContractsByParticipant(addr, role)
	if err != nil {
		return nil, err
	}
	contracts := make([]*Contract, 0, len(ids))
	for _, id := range ids {
		contract, ok := e.state.ContractGet(id)
		if !ok {
			continue
		}
		contracts = append(contracts, contract.Clone())
	}
	return contracts, nil
}

// VaultBalance reports the value still held for the contract (locked amount
// plus any staked fee).
func (e *Engine) VaultBalance(id [32]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.EscrowBalance(id)
}

func completionSecs(c *Contract) uint64 {
	if c == nil || c.FulfilledAt <= c.AcceptedAt {
		return 0
	}
	return uint64(c.FulfilledAt - c.AcceptedAt)
}
