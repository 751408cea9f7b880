package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ElLibertador/remittance/core"
	"github.com/ElLibertador/remittance/crypto"
	"github.com/ElLibertador/remittance/storage"
)

const testToken = "test-token"

func testBech32(t *testing.T, fill byte) string {
	t.Helper()
	var raw [20]byte
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(crypto.RMSPrefix, raw[:]).String()
}

func newTestServer(t *testing.T) (*Server, *core.Node) {
	t.Helper()
	t.Setenv("REMESA_RPC_TOKEN", testToken)
	node := core.NewNode(storage.NewMemDB())
	var treasury [20]byte
	treasury[0] = 0xFE
	node.SetFeeTreasury(treasury)
	return NewServer(node), node
}

func fundBech32(t *testing.T, node *core.Node, bech string, amount int64) {
	t.Helper()
	decoded, err := crypto.DecodeAddress(bech)
	require.NoError(t, err)
	require.NoError(t, node.FundAccount(decoded.Array(), big.NewInt(amount)))
}

func rpcCall(t *testing.T, server *Server, method string, params interface{}, token string) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	var body string
	if params == nil {
		body = fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q,"params":[]}`, method)
	} else {
		encoded, err := json.Marshal(params)
		require.NoError(t, err)
		body = fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q,"params":[%s]}`, method, encoded)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	server.handle(recorder, req)
	var resp RPCResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	return recorder, resp
}

func TestEscrowCreateOverRPC(t *testing.T) {
	server, node := newTestServer(t)
	creator := testBech32(t, 0x01)
	arbiter := testBech32(t, 0x02)
	fundBech32(t, node, creator, 1_000)

	recorder, resp := rpcCall(t, server, "escrow_create", escrowCreateParams{
		Creator: creator,
		Arbiter: arbiter,
		Amount:  "600",
		Rate:    3_650,
		Fee:     "25",
	}, testToken)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)
	payload, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var contract contractJSON
	require.NoError(t, json.Unmarshal(payload, &contract))
	require.Equal(t, "open", contract.Status)
	require.Equal(t, "600", contract.Amount)
	require.Equal(t, creator, contract.Creator)
	require.Empty(t, contract.Fulfiller)
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	server, _ := newTestServer(t)
	creator := testBech32(t, 0x01)

	recorder, resp := rpcCall(t, server, "escrow_create", escrowCreateParams{
		Creator: creator,
		Arbiter: testBech32(t, 0x02),
		Amount:  "600",
	}, "")
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	recorder, resp = rpcCall(t, server, "escrow_create", escrowCreateParams{
		Creator: creator,
		Arbiter: testBech32(t, 0x02),
		Amount:  "600",
	}, "wrong-token")
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.NotNil(t, resp.Error)
}

func TestReadMethodsSkipAuth(t *testing.T) {
	server, node := newTestServer(t)
	creator := testBech32(t, 0x01)
	fundBech32(t, node, creator, 1_000)

	recorder, resp := rpcCall(t, server, "trust_getMetrics", addressParams{Address: creator}, "")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Nil(t, resp.Error)

	recorder, resp = rpcCall(t, server, "account_getBalance", addressParams{Address: creator}, "")
	require.Equal(t, http.StatusOK, recorder.Code)
	payload, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var balance balanceJSON
	require.NoError(t, json.Unmarshal(payload, &balance))
	require.Equal(t, "1000", balance.Balance)
}

func TestUnknownMethod(t *testing.T) {
	server, _ := newTestServer(t)
	recorder, resp := rpcCall(t, server, "escrow_bogus", struct{}{}, "")
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestInvalidParamsRejected(t *testing.T) {
	server, _ := newTestServer(t)

	recorder, resp := rpcCall(t, server, "escrow_get", escrowGetParams{ID: "not-hex"}, "")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	recorder, resp = rpcCall(t, server, "trust_getMetrics", addressParams{Address: "bogus"}, "")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestEscrowGetNotFound(t *testing.T) {
	server, _ := newTestServer(t)
	missing := fmt.Sprintf("0x%064d", 1)
	recorder, resp := rpcCall(t, server, "escrow_get", escrowGetParams{ID: missing}, "")
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Equal(t, codeEscrowNotFound, resp.Error.Code)
}

func TestLifecycleOverRPC(t *testing.T) {
	server, node := newTestServer(t)
	creator := testBech32(t, 0x01)
	arbiter := testBech32(t, 0x02)
	fulfiller := testBech32(t, 0x03)
	fundBech32(t, node, creator, 1_000)
	fundBech32(t, node, fulfiller, 100)

	_, resp := rpcCall(t, server, "escrow_create", escrowCreateParams{
		Creator: creator,
		Arbiter: arbiter,
		Amount:  "600",
		Fee:     "25",
	}, testToken)
	require.Nil(t, resp.Error)
	payload, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	var created contractJSON
	require.NoError(t, json.Unmarshal(payload, &created))

	_, resp = rpcCall(t, server, "escrow_accept", escrowAcceptParams{
		ID:             created.ID,
		Fulfiller:      fulfiller,
		Fee:            "25",
		ReserveSeconds: 3_600,
	}, testToken)
	require.Nil(t, resp.Error)

	_, resp = rpcCall(t, server, "escrow_fulfill", escrowActionParams{ID: created.ID, Caller: fulfiller}, testToken)
	require.Nil(t, resp.Error)

	_, resp = rpcCall(t, server, "escrow_complete", escrowActionParams{ID: created.ID, Caller: creator}, testToken)
	require.Nil(t, resp.Error)
	payload, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	var settled contractJSON
	require.NoError(t, json.Unmarshal(payload, &settled))
	require.Equal(t, "closed", settled.Status)
	require.Equal(t, "completed", settled.Outcome)

	_, resp = rpcCall(t, server, "escrow_submitReview", escrowReviewParams{
		ID:        created.ID,
		Reviewer:  creator,
		Satisfied: true,
		Comment:   "prompt",
	}, testToken)
	require.Nil(t, resp.Error)

	// Conflict mapping: a second review from the same party.
	recorder, resp := rpcCall(t, server, "escrow_submitReview", escrowReviewParams{
		ID:       created.ID,
		Reviewer: creator,
	}, testToken)
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.Equal(t, codeEscrowConflict, resp.Error.Code)

	_, resp = rpcCall(t, server, "trust_getMetrics", addressParams{Address: fulfiller}, "")
	require.Nil(t, resp.Error)
	payload, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	var metrics trustMetricsJSON
	require.NoError(t, json.Unmarshal(payload, &metrics))
	require.Equal(t, uint64(1), metrics.TotalCompleted)
	require.Equal(t, uint8(100), metrics.PercentSatisfied)

	_, resp = rpcCall(t, server, "escrow_listByParticipant", escrowListParams{Address: creator, Role: "creator"}, "")
	require.Nil(t, resp.Error)
	payload, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	var listed []contractJSON
	require.NoError(t, json.Unmarshal(payload, &listed))
	require.Len(t, listed, 1)

	_, resp = rpcCall(t, server, "escrow_list", nil, "")
	require.Nil(t, resp.Error)
	payload, err = json.Marshal(resp.Result)
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.Unmarshal(payload, &ids))
	require.Equal(t, []string{created.ID}, ids)
}
