package rpc

import (
	"fmt"
	"net/http"
)

type addressParams struct {
	Address string `json:"address"`
}

type trustMetricsJSON struct {
	Address           string `json:"address"`
	PercentCompleted  uint8  `json:"percentCompleted"`
	TotalCompleted    uint64 `json:"totalCompleted"`
	PercentSatisfied  uint8  `json:"percentSatisfied"`
	AvgCompletionSecs uint64 `json:"avgCompletionSecs"`
}

type balanceJSON struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (s *Server) handleTrustGetMetrics(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("address: %v", err))
		return
	}
	metrics, err := s.node.TrustMetrics(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	writeResult(w, req.ID, trustMetricsJSON{
		Address:           params.Address,
		PercentCompleted:  metrics.PercentCompleted,
		TotalCompleted:    metrics.TotalCompleted,
		PercentSatisfied:  metrics.PercentSatisfied,
		AvgCompletionSecs: metrics.AvgCompletionSecs,
	})
}

func (s *Server) handleAccountGetBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params addressParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("address: %v", err))
		return
	}
	balance, err := s.node.Balance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "server_error", err.Error())
		return
	}
	writeResult(w, req.ID, balanceJSON{Address: params.Address, Balance: balance.String()})
}
