package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ElLibertador/remittance/crypto"
	"github.com/ElLibertador/remittance/native/common"
	"github.com/ElLibertador/remittance/native/escrow"
	"github.com/ElLibertador/remittance/native/trust"
)

const (
	codeEscrowNotFound  = -32060
	codeEscrowForbidden = -32061
	codeEscrowConflict  = -32062
	codeEscrowRejected  = -32063
)

type escrowCreateParams struct {
	Creator      string            `json:"creator"`
	Arbiter      string            `json:"arbiter"`
	Amount       string            `json:"amount"`
	Rate         uint64            `json:"rate"`
	Fee          string            `json:"fee"`
	Requirements *requirementsJSON `json:"requirements,omitempty"`
}

type escrowAcceptParams struct {
	ID             string `json:"id"`
	Fulfiller      string `json:"fulfiller"`
	Fee            string `json:"fee"`
	ReserveSeconds int64  `json:"reserveSeconds"`
}

type escrowActionParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type escrowContestParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Reason string `json:"reason"`
}

type escrowArbitrateParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Winner string `json:"winner"`
}

type escrowReviewParams struct {
	ID        string `json:"id"`
	Reviewer  string `json:"reviewer"`
	Satisfied bool   `json:"satisfied"`
	Comment   string `json:"comment,omitempty"`
}

type escrowGetParams struct {
	ID string `json:"id"`
}

type escrowListParams struct {
	Address string `json:"address"`
	Role    string `json:"role"`
}

type requirementsJSON struct {
	PercentCompleted  uint8  `json:"percentCompleted"`
	TotalCompleted    uint64 `json:"totalCompleted"`
	PercentSatisfied  uint8  `json:"percentSatisfied"`
	AvgCompletionSecs uint64 `json:"avgCompletionSecs"`
}

type contractJSON struct {
	ID              string           `json:"id"`
	Creator         string           `json:"creator"`
	Arbiter         string           `json:"arbiter"`
	Fulfiller       string           `json:"fulfiller,omitempty"`
	Amount          string           `json:"amount"`
	Fee             string           `json:"fee"`
	Rate            uint64           `json:"rate"`
	Requirements    requirementsJSON `json:"requirements"`
	Status          string           `json:"status"`
	Outcome         string           `json:"outcome,omitempty"`
	ContestReason   string           `json:"contestReason,omitempty"`
	ReserveDeadline int64            `json:"reserveDeadline,omitempty"`
	CreatedAt       int64            `json:"createdAt"`
	AcceptedAt      int64            `json:"acceptedAt,omitempty"`
	FulfilledAt     int64            `json:"fulfilledAt,omitempty"`
	ClosedAt        int64            `json:"closedAt,omitempty"`
}

type reviewJSON struct {
	ContractID string `json:"contractId"`
	Reviewer   string `json:"reviewer"`
	Subject    string `json:"subject"`
	Satisfied  bool   `json:"satisfied"`
	Comment    string `json:"comment,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
}

func contractToJSON(c *escrow.Contract) contractJSON {
	out := contractJSON{
		ID:      "0x" + hex.EncodeToString(c.ID[:]),
		Creator: crypto.NewAddress(crypto.RMSPrefix, c.Creator[:]).String(),
		Arbiter: crypto.NewAddress(crypto.RMSPrefix, c.Arbiter[:]).String(),
		Amount:  c.Amount.String(),
		Fee:     c.Fee.String(),
		Rate:    c.Rate,
		Requirements: requirementsJSON{
			PercentCompleted:  c.Requirements.PercentCompleted,
			TotalCompleted:    c.Requirements.TotalCompleted,
			PercentSatisfied:  c.Requirements.PercentSatisfied,
			AvgCompletionSecs: c.Requirements.AvgCompletionSecs,
		},
		Status:          c.Status.String(),
		ContestReason:   c.ContestReason,
		ReserveDeadline: c.ReserveDeadline,
		CreatedAt:       c.CreatedAt,
		AcceptedAt:      c.AcceptedAt,
		FulfilledAt:     c.FulfilledAt,
		ClosedAt:        c.ClosedAt,
	}
	if c.Fulfiller != ([20]byte{}) {
		out.Fulfiller = crypto.NewAddress(crypto.RMSPrefix, c.Fulfiller[:]).String()
	}
	if c.Outcome != escrow.OutcomeNone {
		out.Outcome = c.Outcome.String()
	}
	return out
}

func reviewToJSON(r *escrow.Review) reviewJSON {
	return reviewJSON{
		ContractID: "0x" + hex.EncodeToString(r.ContractID[:]),
		Reviewer:   crypto.NewAddress(crypto.RMSPrefix, r.Reviewer[:]).String(),
		Subject:    crypto.NewAddress(crypto.RMSPrefix, r.Subject[:]).String(),
		Satisfied:  r.Satisfied,
		Comment:    r.Comment,
		CreatedAt:  r.CreatedAt,
	}
}

func parseBech32Address(value string) ([20]byte, error) {
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return decoded.Array(), nil
}

func parseEscrowID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("invalid escrow id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid escrow id: expected %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func parseBigInt(value string, allowZero bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if allowZero {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("amount must be provided")
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", value)
	}
	if parsed.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	if !allowZero && parsed.Sign() == 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return parsed, nil
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one params object")
	}
	return json.Unmarshal(req.Params[0], out)
}

// writeEscrowError translates engine sentinel errors into RPC error codes.
func writeEscrowError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeEscrowNotFound, "not_found", err.Error())
	case errors.Is(err, escrow.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeEscrowForbidden, "forbidden", err.Error())
	case errors.Is(err, escrow.ErrNotAvailable),
		errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrContractNotClosed),
		errors.Is(err, escrow.ErrDuplicateReview):
		writeError(w, http.StatusConflict, id, codeEscrowConflict, "conflict", err.Error())
	case errors.Is(err, escrow.ErrInsufficientFunds),
		errors.Is(err, escrow.ErrInsufficientFee),
		errors.Is(err, escrow.ErrTrustBelowThreshold):
		writeError(w, http.StatusUnprocessableEntity, id, codeEscrowRejected, "rejected", err.Error())
	case errors.Is(err, common.ErrModulePaused):
		writeError(w, http.StatusServiceUnavailable, id, codeServerError, "module_paused", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "server_error", err.Error())
	}
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params escrowCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	creator, err := parseBech32Address(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("creator: %v", err))
		return
	}
	arbiter, err := parseBech32Address(params.Arbiter)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("arbiter: %v", err))
		return
	}
	amount, err := parseBigInt(params.Amount, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("amount: %v", err))
		return
	}
	fee, err := parseBigInt(params.Fee, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("fee: %v", err))
		return
	}
	var requirements trust.Requirements
	if params.Requirements != nil {
		if params.Requirements.PercentCompleted > 100 || params.Requirements.PercentSatisfied > 100 {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "requirement percentages must not exceed 100")
			return
		}
		requirements = trust.Requirements{
			PercentCompleted:  params.Requirements.PercentCompleted,
			TotalCompleted:    params.Requirements.TotalCompleted,
			PercentSatisfied:  params.Requirements.PercentSatisfied,
			AvgCompletionSecs: params.Requirements.AvgCompletionSecs,
		}
	}
	contract, err := s.node.EscrowCreate(creator, arbiter, amount, params.Rate, fee, requirements)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, contractToJSON(contract))
}

func (s *Server) handleEscrowAccept(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params escrowAcceptParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	fulfiller, err := parseBech32Address(params.Fulfiller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("fulfiller: %v", err))
		return
	}
	fee, err := parseBigInt(params.Fee, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("fee: %v", err))
		return
	}
	if params.ReserveSeconds <= 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "reserveSeconds must be positive")
		return
	}
	if err := s.node.EscrowAccept(id, fulfiller, fee, params.ReserveSeconds); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeContract(w, req.ID, id)
}

func (s *Server) handleEscrowFulfill(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowAction(w, r, req, s.node.EscrowFulfill)
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowAction(w, r, req, s.node.EscrowRelease)
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowAction(w, r, req, s.node.EscrowCancel)
}

func (s *Server) handleEscrowComplete(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.handleEscrowAction(w, r, req, s.node.EscrowComplete)
}

func (s *Server) handleEscrowAction(w http.ResponseWriter, r *http.Request, req *RPCRequest, action func([32]byte, [20]byte) error) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params escrowActionParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("caller: %v", err))
		return
	}
	if err := action(id, caller); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeContract(w, req.ID, id)
}

func (s *Server) handleEscrowContest(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params escrowContestParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("caller: %v", err))
		return
	}
	if strings.TrimSpace(params.Reason) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "reason must not be empty")
		return
	}
	if err := s.node.EscrowContest(id, caller, params.Reason); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeContract(w, req.ID, id)
}

func (s *Server) handleEscrowArbitrate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params escrowArbitrateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("caller: %v", err))
		return
	}
	winner, err := parseBech32Address(params.Winner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("winner: %v", err))
		return
	}
	if err := s.node.EscrowArbitrate(id, caller, winner); err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	s.writeContract(w, req.ID, id)
}

func (s *Server) handleEscrowSubmitReview(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if rpcErr := s.requireAuth(r); rpcErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	var params escrowReviewParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	reviewer, err := parseBech32Address(params.Reviewer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("reviewer: %v", err))
		return
	}
	review, err := s.node.EscrowSubmitReview(id, reviewer, params.Satisfied, params.Comment)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, reviewToJSON(review))
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowGetParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	s.writeContract(w, req.ID, id)
}

func (s *Server) handleEscrowListByParticipant(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowListParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("address: %v", err))
		return
	}
	var role escrow.Role
	switch strings.ToLower(strings.TrimSpace(params.Role)) {
	case "creator":
		role = escrow.RoleCreator
	case "fulfiller":
		role = escrow.RoleFulfiller
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "role must be creator or fulfiller")
		return
	}
	contracts, err := s.node.EscrowListByParticipant(addr, role)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	out := make([]contractJSON, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, contractToJSON(c))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleEscrowList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "method takes no params")
		return
	}
	ids, err := s.node.EscrowContractIDs()
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, "0x"+hex.EncodeToString(id[:]))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleEscrowListReviews(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowGetParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	reviews, err := s.node.EscrowReviews(id)
	if err != nil {
		writeEscrowError(w, req.ID, err)
		return
	}
	out := make([]reviewJSON, 0, len(reviews))
	for _, rv := range reviews {
		out = append(out, reviewToJSON(rv))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) writeContract(w http.ResponseWriter, id interface{}, contractID [32]byte) {
	contract, err := s.node.EscrowGet(contractID)
	if err != nil {
		writeEscrowError(w, id, err)
		return
	}
	writeResult(w, id, contractToJSON(contract))
}
