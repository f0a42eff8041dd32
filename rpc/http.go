package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payvault/native/custody"
	"payvault/native/distribution"
	"payvault/native/payroll"
	"payvault/native/roles"
	"payvault/observability/metrics"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeForbidden      = -32002
	codeNotFound       = -32003
	codeConflict       = -32004
)

// Server exposes the engines over JSON-RPC 2.0. Mutating methods require the
// bearer token from PAYVAULT_RPC_TOKEN; reads are public.
type Server struct {
	custody      *custody.Engine
	payroll      *payroll.Engine
	distribution *distribution.Engine
	registry     *roles.Registry
	authToken    string
	log          *slog.Logger
}

// NewServer wires the engines into an RPC server.
func NewServer(custodyEngine *custody.Engine, payrollEngine *payroll.Engine, distributionEngine *distribution.Engine, registry *roles.Registry, log *slog.Logger) *Server {
	token := strings.TrimSpace(os.Getenv("PAYVAULT_RPC_TOKEN"))
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		custody:      custodyEngine,
		payroll:      payrollEngine,
		distribution: distributionEngine,
		registry:     registry,
		authToken:    token,
		log:          log,
	}
}

// Router returns the HTTP mux: the RPC endpoint at /, a liveness probe and the
// Prometheus scrape endpoint.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/", s.handle)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start serves the router on addr and blocks.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
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

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "unsupported jsonrpc version")
		return
	}
	method := strings.TrimSpace(req.Method)
	handler, ok := s.methods()[method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", method)
		return
	}
	module, _, _ := strings.Cut(method, "_")
	start := time.Now()
	outcome := handler(w, r, &req)
	metrics.Engine().Observe(module, method, outcome, time.Since(start))
}

// handlerFunc processes one request and reports the outcome label recorded in
// metrics.
type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest) string

func (s *Server) methods() map[string]handlerFunc {
	return map[string]handlerFunc{
		"custody_deposit":           s.handleCustodyDeposit,
		"custody_withdraw":          s.handleCustodyWithdraw,
		"custody_emergencyWithdraw": s.handleCustodyEmergencyWithdraw,
		"custody_allocate":          s.handleCustodyAllocate,
		"custody_recall":            s.handleCustodyRecall,
		"custody_pause":             s.handleCustodyPause,
		"custody_unpause":           s.handleCustodyUnpause,
		"custody_balances":          s.handleCustodyBalances,
		"payroll_createSession":     s.handlePayrollCreateSession,
		"payroll_startSession":      s.handlePayrollStartSession,
		"payroll_closeSession":      s.handlePayrollCloseSession,
		"payroll_settleSession":     s.handlePayrollSettleSession,
		"payroll_cancelSession":     s.handlePayrollCancelSession,
		"payroll_claim":             s.handlePayrollClaim,
		"payroll_verify":            s.handlePayrollVerify,
		"payroll_getSession":        s.handlePayrollGetSession,
		"payroll_claimed":           s.handlePayrollClaimed,
		"distribution_singlePayout": s.handleDistributionSinglePayout,
		"distribution_batchPayout":  s.handleDistributionBatchPayout,
		"distribution_estimateFees": s.handleDistributionEstimateFees,
		"distribution_bridgeFee":    s.handleDistributionBridgeFee,
		"roles_grant":               s.handleRolesGrant,
		"roles_revoke":              s.handleRolesRevoke,
		"roles_members":             s.handleRolesMembers,
		"roles_has":                 s.handleRolesHas,
	}
}

type rpcAuthError struct {
	Code    int
	Message string
	Data    interface{}
}

func (s *Server) requireAuth(r *http.Request) *rpcAuthError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) || strings.TrimSpace(header[len(prefix):]) != s.authToken {
		return &rpcAuthError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing or invalid bearer token"}
	}
	return nil
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

// --- param helpers ---

func singleParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q", value)
	}
	if len(decoded) != 20 {
		return addr, fmt.Errorf("invalid address %q: want 20 bytes", value)
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseHash(value string) ([32]byte, error) {
	var hash [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return hash, fmt.Errorf("invalid hash %q", value)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("invalid hash %q: want 32 bytes", value)
	}
	copy(hash[:], decoded)
	return hash, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseProof(entries []string) ([][32]byte, error) {
	proof := make([][32]byte, 0, len(entries))
	for _, entry := range entries {
		node, err := parseHash(entry)
		if err != nil {
			return nil, err
		}
		proof = append(proof, node)
	}
	return proof, nil
}

func encodeHash(hash [32]byte) string { return hex.EncodeToString(hash[:]) }

func encodeAddr(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

func bigString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

// errorStatus maps an engine error to an HTTP status and RPC code.
func errorStatus(err error) (int, int, string) {
	switch {
	case errors.Is(err, custody.ErrUnauthorized),
		errors.Is(err, payroll.ErrUnauthorized),
		errors.Is(err, distribution.ErrUnauthorized),
		errors.Is(err, roles.ErrUnauthorized):
		return http.StatusForbidden, codeForbidden, "forbidden"
	case errors.Is(err, payroll.ErrSessionNotFound),
		errors.Is(err, custody.ErrNotLocked),
		errors.Is(err, roles.ErrUnknownRole):
		return http.StatusNotFound, codeNotFound, "not_found"
	case errors.Is(err, payroll.ErrSessionExists),
		errors.Is(err, payroll.ErrInvalidStatus),
		errors.Is(err, payroll.ErrAlreadyClaimed),
		errors.Is(err, custody.ErrAlreadyLocked),
		errors.Is(err, custody.ErrPaused),
		errors.Is(err, roles.ErrBootstrapped):
		return http.StatusConflict, codeConflict, "conflict"
	case errors.Is(err, custody.ErrInvalidAmount),
		errors.Is(err, custody.ErrZeroRecipient),
		errors.Is(err, custody.ErrTokenNotSupported),
		errors.Is(err, custody.ErrInsufficientBalance),
		errors.Is(err, custody.ErrInsufficientAllocated),
		errors.Is(err, payroll.ErrInvalidAmount),
		errors.Is(err, payroll.ErrInvalidSessionID),
		errors.Is(err, payroll.ErrTokenNotSupported),
		errors.Is(err, payroll.ErrZeroRoot),
		errors.Is(err, payroll.ErrZeroRecipient),
		errors.Is(err, payroll.ErrInvalidProof):
		return http.StatusBadRequest, codeInvalidParams, "invalid_params"
	default:
		return http.StatusInternalServerError, codeServerError, "server_error"
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, id interface{}, err error) string {
	status, code, message := errorStatus(err)
	writeError(w, status, id, code, message, err.Error())
	return "error"
}
