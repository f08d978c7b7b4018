package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"swaplock/native/htlc"
)

type swapOpenParams struct {
	Initiator string `json:"initiator"`
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	HashLock  string `json:"hashLock"`
	Timeout   int64  `json:"timeout,omitempty"`
}

type swapOpenBatchParams struct {
	Initiator  string   `json:"initiator"`
	Recipients []string `json:"recipients"`
	Assets     []string `json:"assets"`
	Amounts    []string `json:"amounts"`
	HashLocks  []string `json:"hashLocks"`
	Timeout    int64    `json:"timeout,omitempty"`
}

type swapClaimParams struct {
	ID       string `json:"id"`
	Preimage string `json:"preimage"`
	Asset    string `json:"asset"`
	Caller   string `json:"caller"`
}

type swapRefundParams struct {
	ID     string `json:"id"`
	Asset  string `json:"asset"`
	Caller string `json:"caller"`
}

type swapIDParams struct {
	ID string `json:"id"`
}

type swapSetPausedParams struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

type ledgerFundParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type ledgerBalanceParams struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
}

type swapOpenResult struct {
	ID string `json:"id"`
}

type swapOpenBatchResult struct {
	BatchID string   `json:"batchId"`
	IDs     []string `json:"ids"`
}

type swapOKResult struct {
	OK bool `json:"ok"`
}

type ledgerBalanceResult struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type swapJSON struct {
	ID        string `json:"id"`
	Initiator string `json:"initiator"`
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	HashLock  string `json:"hashLock"`
	Deadline  int64  `json:"deadline"`
	CreatedAt int64  `json:"createdAt"`
	Status    string `json:"status"`
	Preimage  string `json:"preimage,omitempty"`
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleSwapOpen(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params swapOpenParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	initiator, err := parseAddress(params.Initiator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	recipient, err := parseAddress(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	if _, err := htlc.NormalizeAsset(params.Asset); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	hashLock, err := parseHash32(params.HashLock, "hashLock")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	if params.Timeout < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", "timeout must be non-negative")
		return
	}
	id, err := s.engine.Open(initiator, recipient, params.Asset, amount, hashLock, params.Timeout)
	if err != nil {
		writeSwapError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, swapOpenResult{ID: formatSwapID(id)})
}

func (s *Server) handleSwapOpenBatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params swapOpenBatchParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	initiator, err := parseAddress(params.Initiator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	recipients := make([][20]byte, len(params.Recipients))
	for i, raw := range params.Recipients {
		recipients[i], err = parseAddress(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	amounts := make([]*big.Int, len(params.Amounts))
	for i, raw := range params.Amounts {
		amounts[i], err = parseAmount(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	for _, asset := range params.Assets {
		if _, err := htlc.NormalizeAsset(asset); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	hashLocks := make([][32]byte, len(params.HashLocks))
	for i, raw := range params.HashLocks {
		hashLocks[i], err = parseHash32(raw, "hashLock")
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	batchID, ids, err := s.engine.OpenBatch(initiator, recipients, params.Assets, amounts, hashLocks, params.Timeout)
	if err != nil {
		writeSwapError(w, req.ID, err)
		return
	}
	formatted := make([]string, len(ids))
	for i, id := range ids {
		formatted[i] = formatSwapID(id)
	}
	writeResult(w, req.ID, swapOpenBatchResult{BatchID: formatSwapID(batchID), IDs: formatted})
}

func (s *Server) handleSwapClaim(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params swapClaimParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseHash32(params.ID, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	preimage, err := parseHexBytes(params.Preimage)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.Claim(id, preimage, params.Asset, caller); err != nil {
		writeSwapError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, swapOKResult{OK: true})
}

func (s *Server) handleSwapRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params swapRefundParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseHash32(params.ID, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.Refund(id, params.Asset, caller); err != nil {
		writeSwapError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, swapOKResult{OK: true})
}

func (s *Server) handleSwapGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params swapIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseHash32(params.ID, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.engine.Get(id)
	if err != nil {
		writeSwapError(w, req.ID, err)
		return
	}
	result := swapJSON{
		ID:        formatSwapID(record.ID),
		Initiator: formatAddress(record.Initiator),
		Recipient: formatAddress(record.Recipient),
		Asset:     record.Asset,
		Amount:    record.Amount.String(),
		HashLock:  formatSwapID(record.HashLock),
		Deadline:  record.Deadline,
		CreatedAt: record.CreatedAt,
		Status:    record.Status.String(),
	}
	if record.Preimage != nil {
		result.Preimage = "0x" + hex.EncodeToString(record.Preimage)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleSwapSetPaused(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params swapSetPausedParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.engine.SetPaused(caller, params.Paused); err != nil {
		writeSwapError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, swapOKResult{OK: true})
}

func (s *Server) handleLedgerFund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params ledgerFundParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	asset, err := htlc.NormalizeAsset(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.ledger.Mint(addr, asset, amount); err != nil {
		writeSwapError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, swapOKResult{OK: true})
}

func (s *Server) handleLedgerBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params ledgerBalanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	asset, err := htlc.NormalizeAsset(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSwapInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.ledger.BalanceOf(addr, asset)
	if err != nil {
		writeSwapError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ledgerBalanceResult{
		Address: formatAddress(addr),
		Asset:   asset,
		Balance: balance.String(),
	})
}

func parseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("address required")
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned) != 40 {
		return out, fmt.Errorf("address must be 20 bytes")
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded)
	return out, nil
}

func parseHash32(value, field string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return out, fmt.Errorf("%s required", field)
	}
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(cleaned) != 64 {
		return out, fmt.Errorf("%s must be 32 bytes", field)
	}
	decoded, err := hex.DecodeString(cleaned)
	if err != nil {
		return out, err
	}
	copy(out[:], decoded)
	return out, nil
}

func parseHexBytes(value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	cleaned := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if cleaned == "" {
		return []byte{}, nil
	}
	return hex.DecodeString(cleaned)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must be non-negative")
	}
	return amount, nil
}

func formatSwapID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}
