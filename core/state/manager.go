package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"reflect"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/ElLibertador/remittance/core/types"
	"github.com/ElLibertador/remittance/native/escrow"
	"github.com/ElLibertador/remittance/native/trust"
	"github.com/ElLibertador/remittance/storage"
)

// Manager persists contracts, accounts, trust records and reviews in a
// keccak-addressed key space using RLP encoding. Writes can be staged in an
// overlay so that all side effects of a single entry point commit together or
// not at all; the serializing layer owns the begin/commit/discard lifecycle.
type Manager struct {
	db      storage.Database
	overlay map[string][]byte
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	contractPrefix   = []byte("escrow/contract/")
	contractListKey  = []byte("escrow/contracts")
	contractNonceKey = []byte("escrow/nonce")
	byAddrPrefix     = []byte("escrow/byaddr/")
	vaultBalPrefix   = []byte("escrow/vaultbal/")
	reviewPrefix     = []byte("escrow/review/")
	reviewListPrefix = []byte("escrow/reviews/")
	accountPrefix    = []byte("account/")
	vaultSeed        = []byte("escrow/vault")
)

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func contractKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", contractPrefix, id))
}

func participantKey(addr [20]byte, role escrow.Role) []byte {
	suffix := "creator"
	if role == escrow.RoleFulfiller {
		suffix = "fulfiller"
	}
	return []byte(fmt.Sprintf("%s%x/%s", byAddrPrefix, addr, suffix))
}

func vaultBalanceKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", vaultBalPrefix, id))
}

func reviewKey(id [32]byte, reviewer [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x/%x", reviewPrefix, id, reviewer))
}

func reviewListKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", reviewListPrefix, id))
}

func accountKey(addr []byte) []byte {
	return []byte(fmt.Sprintf("%s%x", accountPrefix, addr))
}

// Begin opens a write overlay. Subsequent puts stage in memory until Commit.
func (m *Manager) Begin() {
	if m == nil {
		return
	}
	m.overlay = make(map[string][]byte)
}

// Commit flushes the overlay to the backing database as a single atomic
// batch, so a storage fault cannot leave an entry point half applied.
func (m *Manager) Commit() error {
	if m == nil || m.overlay == nil {
		return nil
	}
	if err := m.db.WriteBatch(m.overlay); err != nil {
		return err
	}
	m.overlay = nil
	return nil
}

// Discard drops every staged write, restoring the pre-Begin view.
func (m *Manager) Discard() {
	if m == nil {
		return
	}
	m.overlay = nil
}

func (m *Manager) rawGet(key []byte) ([]byte, bool, error) {
	if m.overlay != nil {
		if value, ok := m.overlay[string(key)]; ok {
			return value, true, nil
		}
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) rawPut(key, value []byte) error {
	if m.overlay != nil {
		m.overlay[string(key)] = append([]byte(nil), value...)
		return nil
	}
	return m.db.Put(key, value)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before hitting the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.rawPut(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.rawGet(kvKey(key))
	if err != nil {
		return false, err
	}
	if !ok || len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVAppend appends the provided value to the RLP-encoded byte slice list
// stored under the supplied key. Duplicate values are ignored to keep indices
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, ok, err := m.rawGet(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if ok && len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.rawPut(hashed, encoded)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.rawGet(kvKey(key))
	if err != nil {
		return err
	}
	if !ok || len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}

// --- accounts ---

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount loads the account for addr. Unknown addresses yield a fresh
// zero-balance account rather than an error.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	balance := stored.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	return &types.Account{Nonce: stored.Nonce, Balance: balance}, nil
}

// PutAccount persists the account under addr.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("state: negative balance for %x", addr)
	}
	return m.KVPut(accountKey(addr), &storedAccount{Nonce: account.Nonce, Balance: balance})
}

// --- contracts ---

type storedRequirements struct {
	PercentCompleted  uint8
	TotalCompleted    uint64
	PercentSatisfied  uint8
	AvgCompletionSecs uint64
}

type storedContract struct {
	ID              [32]byte
	Creator         [20]byte
	Arbiter         [20]byte
	Fulfiller       [20]byte
	Amount          *big.Int
	Rate            uint64
	Fee             *big.Int
	Requirements    storedRequirements
	ReserveDeadline uint64
	CreatedAt       uint64
	AcceptedAt      uint64
	FulfilledAt     uint64
	ClosedAt        uint64
	Nonce           uint64
	Status          uint8
	Outcome         uint8
	ContestReason   string
}

func clampTime(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// ContractPut sanitizes and persists the contract, maintaining the global id
// list and the per-address participant indices.
func (m *Manager) ContractPut(c *escrow.Contract) error {
	sanitized, err := escrow.SanitizeContract(c)
	if err != nil {
		return err
	}
	stored := storedContract{
		ID:        sanitized.ID,
		Creator:   sanitized.Creator,
		Arbiter:   sanitized.Arbiter,
		Fulfiller: sanitized.Fulfiller,
		Amount:    sanitized.Amount,
		Rate:      sanitized.Rate,
		Fee:       sanitized.Fee,
		Requirements: storedRequirements{
			PercentCompleted:  sanitized.Requirements.PercentCompleted,
			TotalCompleted:    sanitized.Requirements.TotalCompleted,
			PercentSatisfied:  sanitized.Requirements.PercentSatisfied,
			AvgCompletionSecs: sanitized.Requirements.AvgCompletionSecs,
		},
		ReserveDeadline: clampTime(sanitized.ReserveDeadline),
		CreatedAt:       clampTime(sanitized.CreatedAt),
		AcceptedAt:      clampTime(sanitized.AcceptedAt),
		FulfilledAt:     clampTime(sanitized.FulfilledAt),
		ClosedAt:        clampTime(sanitized.ClosedAt),
		Nonce:           sanitized.Nonce,
		Status:          uint8(sanitized.Status),
		Outcome:         uint8(sanitized.Outcome),
		ContestReason:   sanitized.ContestReason,
	}
	if err := m.KVPut(contractKey(sanitized.ID), &stored); err != nil {
		return err
	}
	if err := m.KVAppend(contractListKey, sanitized.ID[:]); err != nil {
		return err
	}
	if err := m.KVAppend(participantKey(sanitized.Creator, escrow.RoleCreator), sanitized.ID[:]); err != nil {
		return err
	}
	if sanitized.Fulfiller != ([20]byte{}) {
		if err := m.KVAppend(participantKey(sanitized.Fulfiller, escrow.RoleFulfiller), sanitized.ID[:]); err != nil {
			return err
		}
	}
	return nil
}

// ContractGet loads the contract stored under id.
func (m *Manager) ContractGet(id [32]byte) (*escrow.Contract, bool) {
	var stored storedContract
	ok, err := m.KVGet(contractKey(id), &stored)
	if err != nil || !ok {
		return nil, false
	}
	contract := &escrow.Contract{
		ID:        stored.ID,
		Creator:   stored.Creator,
		Arbiter:   stored.Arbiter,
		Fulfiller: stored.Fulfiller,
		Amount:    stored.Amount,
		Rate:      stored.Rate,
		Fee:       stored.Fee,
		Requirements: trust.Requirements{
			PercentCompleted:  stored.Requirements.PercentCompleted,
			TotalCompleted:    stored.Requirements.TotalCompleted,
			PercentSatisfied:  stored.Requirements.PercentSatisfied,
			AvgCompletionSecs: stored.Requirements.AvgCompletionSecs,
		},
		ReserveDeadline: int64(stored.ReserveDeadline),
		CreatedAt:       int64(stored.CreatedAt),
		AcceptedAt:      int64(stored.AcceptedAt),
		FulfilledAt:     int64(stored.FulfilledAt),
		ClosedAt:        int64(stored.ClosedAt),
		Nonce:           stored.Nonce,
		Status:          escrow.Status(stored.Status),
		Outcome:         escrow.Outcome(stored.Outcome),
		ContestReason:   stored.ContestReason,
	}
	return contract, true
}

// ContractNextNonce increments and returns the registry sequence counter that
// feeds contract id derivation. The first issued nonce is 1.
func (m *Manager) ContractNextNonce() (uint64, error) {
	var current uint64
	if _, err := m.KVGet(contractNonceKey, &current); err != nil {
		return 0, err
	}
	next := current + 1
	if err := m.KVPut(contractNonceKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

// ContractIDs returns every contract id ever registered, in creation order.
func (m *Manager) ContractIDs() ([][32]byte, error) {
	var raw [][]byte
	if err := m.KVGetList(contractListKey, &raw); err != nil {
		return nil, err
	}
	return decodeIDList(raw)
}

// ContractsByParticipant returns the ids of contracts the address has held the
// given role in at any point. Lapsed and released reservations keep their
// index entries; the stored contract is the source of truth for the current
// holder.
func (m *Manager) ContractsByParticipant(addr [20]byte, role escrow.Role) ([][32]byte, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("state: invalid role %d", role)
	}
	var raw [][]byte
	if err := m.KVGetList(participantKey(addr, role), &raw); err != nil {
		return nil, err
	}
	return decodeIDList(raw)
}

func decodeIDList(raw [][]byte) ([][32]byte, error) {
	ids := make([][32]byte, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 32 {
			return nil, fmt.Errorf("state: malformed contract id of length %d", len(entry))
		}
		var id [32]byte
		copy(id[:], entry)
		ids = append(ids, id)
	}
	return ids, nil
}

// --- vault ---

// EscrowVaultAddress derives the deterministic module vault address that holds
// locked value and staked fees.
func (m *Manager) EscrowVaultAddress() ([20]byte, error) {
	digest := ethcrypto.Keccak256(vaultSeed)
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr, nil
}

// EscrowBalance reports how much value the vault still holds for the contract.
func (m *Manager) EscrowBalance(id [32]byte) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.KVGet(vaultBalanceKey(id), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// EscrowCredit increases the per-contract vault balance.
func (m *Manager) EscrowCredit(id [32]byte, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	balance, err := m.EscrowBalance(id)
	if err != nil {
		return err
	}
	return m.KVPut(vaultBalanceKey(id), new(big.Int).Add(balance, amt))
}

// EscrowDebit decreases the per-contract vault balance. Over-debits are
// rejected so a release can never exceed what the contract still holds.
func (m *Manager) EscrowDebit(id [32]byte, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: debit amount must be non-negative")
	}
	balance, err := m.EscrowBalance(id)
	if err != nil {
		return err
	}
	if balance.Cmp(amt) < 0 {
		return fmt.Errorf("state: vault underflow for contract %x", id)
	}
	return m.KVPut(vaultBalanceKey(id), new(big.Int).Sub(balance, amt))
}

// --- reviews ---

type storedReview struct {
	ContractID [32]byte
	Reviewer   [20]byte
	Subject    [20]byte
	Satisfied  bool
	Comment    string
	CreatedAt  uint64
}

// ReviewPut appends the immutable review record and indexes it under its
// contract.
func (m *Manager) ReviewPut(r *escrow.Review) error {
	if r == nil {
		return fmt.Errorf("state: nil review")
	}
	stored := storedReview{
		ContractID: r.ContractID,
		Reviewer:   r.Reviewer,
		Subject:    r.Subject,
		Satisfied:  r.Satisfied,
		Comment:    r.Comment,
		CreatedAt:  clampTime(r.CreatedAt),
	}
	if err := m.KVPut(reviewKey(r.ContractID, r.Reviewer), &stored); err != nil {
		return err
	}
	return m.KVAppend(reviewListKey(r.ContractID), r.Reviewer[:])
}

// ReviewGet loads the review submitted by reviewer for the contract, if any.
func (m *Manager) ReviewGet(id [32]byte, reviewer [20]byte) (*escrow.Review, bool, error) {
	var stored storedReview
	ok, err := m.KVGet(reviewKey(id, reviewer), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &escrow.Review{
		ContractID: stored.ContractID,
		Reviewer:   stored.Reviewer,
		Subject:    stored.Subject,
		Satisfied:  stored.Satisfied,
		Comment:    stored.Comment,
		CreatedAt:  int64(stored.CreatedAt),
	}, true, nil
}

// ReviewsByContract returns every review recorded against the contract.
func (m *Manager) ReviewsByContract(id [32]byte) ([]*escrow.Review, error) {
	var reviewers [][]byte
	if err := m.KVGetList(reviewListKey(id), &reviewers); err != nil {
		return nil, err
	}
	reviews := make([]*escrow.Review, 0, len(reviewers))
	for _, raw := range reviewers {
		if len(raw) != 20 {
			return nil, fmt.Errorf("state: malformed reviewer address of length %d", len(raw))
		}
		var reviewer [20]byte
		copy(reviewer[:], raw)
		review, ok, err := m.ReviewGet(id, reviewer)
		if err != nil {
			return nil, err
		}
		if ok {
			reviews = append(reviews, review)
		}
	}
	return reviews, nil
}
