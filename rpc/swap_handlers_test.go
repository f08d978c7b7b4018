package rpc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"swaplock/core/state"
	"swaplock/native/htlc"
	"swaplock/storage"
)

const testToken = "test-token"

type testEnv struct {
	server  *Server
	handler http.Handler
	engine  *htlc.Engine
	manager *state.Manager
	now     int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	engine := htlc.NewEngine()
	engine.SetState(manager)
	env := &testEnv{engine: engine, manager: manager, now: 1000}
	engine.SetNowFunc(func() int64 { return env.now })
	env.server = NewServer(engine, manager, testToken, 0, 0)
	env.handler = env.server.Handler()
	return env
}

type rpcResult struct {
	status int
	result json.RawMessage
	rpcErr *RPCError
}

func (env *testEnv) call(t *testing.T, token, method string, params interface{}) rpcResult {
	t.Helper()
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		request["params"] = []interface{}{params}
	}
	body, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, recorder.Body.String())
	}
	return rpcResult{status: recorder.Code, result: resp.Result, rpcErr: resp.Error}
}

func (env *testEnv) openSwap(t *testing.T, initiator, recipient string, amount int64, secret []byte) string {
	t.Helper()
	res := env.call(t, testToken, "htlc_fund", map[string]interface{}{
		"address": initiator, "asset": "TOKEN", "amount": "100000",
	})
	if res.rpcErr != nil {
		t.Fatalf("fund: %+v", res.rpcErr)
	}
	lock := sha256.Sum256(secret)
	res = env.call(t, testToken, "htlc_open", map[string]interface{}{
		"initiator": initiator,
		"recipient": recipient,
		"asset":     "TOKEN",
		"amount":    big.NewInt(amount).String(),
		"hashLock":  "0x" + hex.EncodeToString(lock[:]),
		"timeout":   200,
	})
	if res.rpcErr != nil {
		t.Fatalf("open: %+v", res.rpcErr)
	}
	var opened swapOpenResult
	if err := json.Unmarshal(res.result, &opened); err != nil {
		t.Fatalf("decode open result: %v", err)
	}
	return opened.ID
}

const (
	addrAlice = "0x0101010101010101010101010101010101010101"
	addrBob   = "0x0202020202020202020202020202020202020202"
)

func TestOpenClaimGetOverRPC(t *testing.T) {
	env := newTestEnv(t)
	secret := []byte("secret")
	id := env.openSwap(t, addrAlice, addrBob, 1000, secret)

	res := env.call(t, "", "htlc_get", map[string]interface{}{"id": id})
	if res.rpcErr != nil {
		t.Fatalf("get without auth: %+v", res.rpcErr)
	}
	var record swapJSON
	if err := json.Unmarshal(res.result, &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.Status != "open" || record.Preimage != "" {
		t.Fatalf("unexpected open record %+v", record)
	}
	if record.Deadline != 1200 {
		t.Fatalf("unexpected deadline %d", record.Deadline)
	}

	res = env.call(t, testToken, "htlc_claim", map[string]interface{}{
		"id":       id,
		"preimage": "0x" + hex.EncodeToString(secret),
		"asset":    "TOKEN",
		"caller":   addrBob,
	})
	if res.rpcErr != nil {
		t.Fatalf("claim: %+v", res.rpcErr)
	}

	res = env.call(t, "", "htlc_get", map[string]interface{}{"id": id})
	if err := json.Unmarshal(res.result, &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.Status != "claimed" {
		t.Fatalf("status %s", record.Status)
	}
	if record.Preimage != "0x"+hex.EncodeToString(secret) {
		t.Fatalf("preimage %s", record.Preimage)
	}

	res = env.call(t, "", "htlc_balance", map[string]interface{}{"address": addrBob, "asset": "TOKEN"})
	var balance ledgerBalanceResult
	if err := json.Unmarshal(res.result, &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if balance.Balance != "1000" {
		t.Fatalf("balance %s", balance.Balance)
	}
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	res := env.call(t, "", "htlc_open", map[string]interface{}{})
	if res.status != http.StatusUnauthorized || res.rpcErr == nil || res.rpcErr.Code != codeUnauthorized {
		t.Fatalf("unexpected response %d %+v", res.status, res.rpcErr)
	}
	res = env.call(t, "wrong-token", "htlc_claim", map[string]interface{}{})
	if res.status != http.StatusUnauthorized {
		t.Fatalf("bad token accepted: %d", res.status)
	}
}

func TestClaimErrorsMapToConflict(t *testing.T) {
	env := newTestEnv(t)
	id := env.openSwap(t, addrAlice, addrBob, 1000, []byte("secret"))

	res := env.call(t, testToken, "htlc_claim", map[string]interface{}{
		"id":       id,
		"preimage": "0x" + hex.EncodeToString([]byte("wrong")),
		"asset":    "TOKEN",
		"caller":   addrBob,
	})
	if res.status != http.StatusConflict || res.rpcErr == nil || res.rpcErr.Code != codeSwapConflict {
		t.Fatalf("wrong preimage: %d %+v", res.status, res.rpcErr)
	}

	res = env.call(t, testToken, "htlc_claim", map[string]interface{}{
		"id":       id,
		"preimage": "0x" + hex.EncodeToString([]byte("secret")),
		"asset":    "TOKEN",
		"caller":   addrAlice,
	})
	if res.status != http.StatusForbidden || res.rpcErr == nil || res.rpcErr.Code != codeSwapForbidden {
		t.Fatalf("wrong caller: %d %+v", res.status, res.rpcErr)
	}
}

func TestRefundLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t)
	id := env.openSwap(t, addrAlice, addrBob, 500, []byte("secret"))

	res := env.call(t, testToken, "htlc_refund", map[string]interface{}{
		"id": id, "asset": "TOKEN", "caller": addrAlice,
	})
	if res.status != http.StatusConflict {
		t.Fatalf("early refund: %d %+v", res.status, res.rpcErr)
	}

	env.now = 2000
	res = env.call(t, testToken, "htlc_refund", map[string]interface{}{
		"id": id, "asset": "TOKEN", "caller": addrAlice,
	})
	if res.rpcErr != nil {
		t.Fatalf("refund: %+v", res.rpcErr)
	}

	res = env.call(t, testToken, "htlc_claim", map[string]interface{}{
		"id":       id,
		"preimage": "0x" + hex.EncodeToString([]byte("secret")),
		"asset":    "TOKEN",
		"caller":   addrBob,
	})
	if res.status != http.StatusConflict {
		t.Fatalf("claim after refund: %d %+v", res.status, res.rpcErr)
	}
}

func TestGetMissingSwapReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)
	res := env.call(t, "", "htlc_get", map[string]interface{}{
		"id": "0x" + hex.EncodeToString(bytes.Repeat([]byte{0xFF}, 32)),
	})
	if res.status != http.StatusNotFound || res.rpcErr == nil || res.rpcErr.Code != codeSwapNotFound {
		t.Fatalf("unexpected response %d %+v", res.status, res.rpcErr)
	}
}

func TestUnknownMethodRejected(t *testing.T) {
	env := newTestEnv(t)
	res := env.call(t, "", "htlc_destroy", nil)
	if res.status != http.StatusNotFound || res.rpcErr == nil || res.rpcErr.Code != codeMethodNotFound {
		t.Fatalf("unexpected response %d %+v", res.status, res.rpcErr)
	}
}

func TestOpenRejectsMalformedAsset(t *testing.T) {
	env := newTestEnv(t)
	lock := sha256.Sum256([]byte("secret"))
	res := env.call(t, testToken, "htlc_open", map[string]interface{}{
		"initiator": addrAlice,
		"recipient": addrBob,
		"asset":     "usd coin",
		"amount":    "10",
		"hashLock":  "0x" + hex.EncodeToString(lock[:]),
		"timeout":   100,
	})
	if res.status != http.StatusBadRequest || res.rpcErr == nil || res.rpcErr.Code != codeSwapInvalidParams {
		t.Fatalf("unexpected response %d %+v", res.status, res.rpcErr)
	}
}

func TestOpenBatchRejectsMalformedAsset(t *testing.T) {
	env := newTestEnv(t)
	lock := sha256.Sum256([]byte("secret"))
	res := env.call(t, testToken, "htlc_openBatch", map[string]interface{}{
		"initiator":  addrAlice,
		"recipients": []string{addrBob},
		"assets":     []string{"usd coin"},
		"amounts":    []string{"10"},
		"hashLocks":  []string{"0x" + hex.EncodeToString(lock[:])},
		"timeout":    100,
	})
	if res.status != http.StatusBadRequest || res.rpcErr == nil || res.rpcErr.Code != codeSwapInvalidParams {
		t.Fatalf("unexpected response %d %+v", res.status, res.rpcErr)
	}
}

func TestInvalidParamsRejected(t *testing.T) {
	env := newTestEnv(t)
	res := env.call(t, testToken, "htlc_open", map[string]interface{}{
		"initiator": "nope",
	})
	if res.status != http.StatusBadRequest || res.rpcErr == nil || res.rpcErr.Code != codeSwapInvalidParams {
		t.Fatalf("unexpected response %d %+v", res.status, res.rpcErr)
	}
}

func TestRateLimiterThrottles(t *testing.T) {
	env := newTestEnv(t)
	env.server = NewServer(env.engine, env.manager, testToken, 60, 1)
	env.handler = env.server.Handler()

	first := env.call(t, "", "htlc_get", map[string]interface{}{
		"id": "0x" + hex.EncodeToString(bytes.Repeat([]byte{0x01}, 32)),
	})
	if first.status == http.StatusTooManyRequests {
		t.Fatalf("first request throttled")
	}
	second := env.call(t, "", "htlc_get", map[string]interface{}{
		"id": "0x" + hex.EncodeToString(bytes.Repeat([]byte{0x01}, 32)),
	})
	if second.status != http.StatusTooManyRequests || second.rpcErr == nil || second.rpcErr.Code != codeRateLimited {
		t.Fatalf("expected throttle, got %d %+v", second.status, second.rpcErr)
	}
}
