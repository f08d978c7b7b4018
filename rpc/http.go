package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"swaplock/native/htlc"
	"swaplock/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// visitorTTL bounds how long an idle client keeps its rate-limiter entry.
	visitorTTL = 5 * time.Minute
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeUnauthorized   = -32001
	codeRateLimited    = -32020

	codeSwapInvalidParams = -32061
	codeSwapNotFound      = -32062
	codeSwapForbidden     = -32063
	codeSwapConflict      = -32064
	codeSwapInternal      = -32065
)

// SwapEngine is the lifecycle surface the server exposes over JSON-RPC.
type SwapEngine interface {
	Open(initiator, recipient [20]byte, asset string, amount *big.Int, hashLock [32]byte, timeout int64) ([32]byte, error)
	OpenBatch(initiator [20]byte, recipients [][20]byte, assets []string, amounts []*big.Int, hashLocks [][32]byte, timeout int64) ([32]byte, [][32]byte, error)
	Claim(id [32]byte, preimage []byte, asset string, caller [20]byte) error
	Refund(id [32]byte, asset string, caller [20]byte) error
	Get(id [32]byte) (*htlc.Swap, error)
	SetPaused(caller [20]byte, paused bool) error
}

// Ledger is the custody-ledger surface used by the operator endpoints.
type Ledger interface {
	Mint(to [20]byte, asset string, amount *big.Int) error
	BalanceOf(addr [20]byte, asset string) (*big.Int, error)
}

// Server serves the swap engine over JSON-RPC 2.0. Mutating methods require
// the bearer token; reads are public, matching the registry's public-by-
// construction data model.
type Server struct {
	engine    SwapEngine
	ledger    Ledger
	authToken string

	ratePerSecond rate.Limit
	rateBurst     int
	mu            sync.Mutex
	visitors      map[string]*visitorEntry
	lastSweep     time.Time
	clockNow      func() time.Time
}

type visitorEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewServer wires a server around the engine and ledger. An empty authToken
// disables every mutating method.
func NewServer(engine SwapEngine, ledger Ledger, authToken string, ratePerMinute float64, burst int) *Server {
	if ratePerMinute <= 0 {
		ratePerMinute = 600
	}
	if burst <= 0 {
		burst = 20
	}
	return &Server{
		engine:        engine,
		ledger:        ledger,
		authToken:     strings.TrimSpace(authToken),
		ratePerSecond: rate.Limit(ratePerMinute / 60.0),
		rateBurst:     burst,
		visitors:      make(map[string]*visitorEntry),
		lastSweep:     time.Now(),
		clockNow:      time.Now,
	}
}

// Handler returns the HTTP surface: JSON-RPC on POST /, liveness on /healthz
// and prometheus exposition on /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "mutating methods disabled: no auth token configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid bearer token"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clockNow()
	// Prune idle clients once per TTL window so the visitor map stays bounded
	// by the set of recently active sources.
	if now.Sub(s.lastSweep) >= visitorTTL {
		for id, entry := range s.visitors {
			if now.Sub(entry.lastSeen) >= visitorTTL {
				delete(s.visitors, id)
			}
		}
		s.lastSweep = now
	}
	entry, ok := s.visitors[source]
	if !ok {
		entry = &visitorEntry{limiter: rate.NewLimiter(s.ratePerSecond, s.rateBurst)}
		s.visitors[source] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

func clientSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handle is the main request handler that routes to specific methods.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", "failed to read request body")
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "unsupported jsonrpc version")
		return
	}

	if !s.allowSource(clientSource(r)) {
		observability.RPCMetrics().RecordThrottle(req.Method)
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate_limited", nil)
		return
	}

	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	started := time.Now()
	s.dispatch(recorder, r, &req)
	observability.RPCMetrics().Observe(req.Method, recorder.status, time.Since(started))
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "htlc_open":
		s.handleSwapOpen(w, r, req)
	case "htlc_openBatch":
		s.handleSwapOpenBatch(w, r, req)
	case "htlc_claim":
		s.handleSwapClaim(w, r, req)
	case "htlc_refund":
		s.handleSwapRefund(w, r, req)
	case "htlc_get":
		s.handleSwapGet(w, r, req)
	case "htlc_setPaused":
		s.handleSwapSetPaused(w, r, req)
	case "htlc_fund":
		s.handleLedgerFund(w, r, req)
	case "htlc_balance":
		s.handleLedgerBalance(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeSwapError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeSwapInternal
	message := "internal_error"
	data := err.Error()
	switch {
	case errors.Is(err, htlc.ErrNotFound):
		status = http.StatusNotFound
		code = codeSwapNotFound
		message = "not_found"
	case errors.Is(err, htlc.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeSwapForbidden
		message = "forbidden"
	case errors.Is(err, htlc.ErrInvalidInputList) || errors.Is(err, htlc.ErrMismatchedLists) ||
		errors.Is(err, htlc.ErrInvalidRecipient):
		status = http.StatusBadRequest
		code = codeSwapInvalidParams
		message = "invalid_params"
	case errors.Is(err, htlc.ErrInvalidPreimage) || errors.Is(err, htlc.ErrExpired) ||
		errors.Is(err, htlc.ErrTooEarly) || errors.Is(err, htlc.ErrAlreadyCompleted) ||
		errors.Is(err, htlc.ErrAlreadyRefunded) || errors.Is(err, htlc.ErrAlreadyExists) ||
		errors.Is(err, htlc.ErrInsufficientFunds):
		status = http.StatusConflict
		code = codeSwapConflict
		message = "conflict"
	}
	writeError(w, status, id, code, message, data)
}
