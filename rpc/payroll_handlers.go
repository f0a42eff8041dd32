package rpc

import (
	"math/big"
	"net/http"

	"payvault/native/payroll"
)

type payrollCreateParams struct {
	Caller        string `json:"caller"`
	ID            string `json:"id"`
	Token         string `json:"token"`
	TotalAmount   string `json:"totalAmount"`
	EmployeeCount uint32 `json:"employeeCount"`
}

type payrollSessionParams struct {
	Caller string `json:"caller"`
	ID     string `json:"id"`
}

type payrollCloseParams struct {
	Caller string `json:"caller"`
	ID     string `json:"id"`
	Root   string `json:"root"`
}

type payrollClaimParams struct {
	SessionID string   `json:"sessionId"`
	PayeeID   string   `json:"payeeId"`
	Recipient string   `json:"recipient"`
	Amount    string   `json:"amount"`
	Proof     []string `json:"proof"`
}

type payrollIDParams struct {
	ID string `json:"id"`
}

type payrollClaimedParams struct {
	SessionID string `json:"sessionId"`
	PayeeID   string `json:"payeeId"`
}

type sessionJSON struct {
	ID            string `json:"id"`
	Company       string `json:"company"`
	Token         string `json:"token"`
	TotalAmount   string `json:"totalAmount"`
	EmployeeCount uint32 `json:"employeeCount"`
	StartTime     int64  `json:"startTime"`
	EndTime       int64  `json:"endTime"`
	StateRoot     string `json:"stateRoot,omitempty"`
	Status        string `json:"status"`
	CreatedAt     int64  `json:"createdAt"`
}

func sessionToJSON(s *payroll.Session) sessionJSON {
	out := sessionJSON{
		ID:            encodeHash(s.ID),
		Company:       encodeAddr(s.Company),
		Token:         s.Token,
		TotalAmount:   bigString(s.TotalAmount),
		EmployeeCount: s.EmployeeCount,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		Status:        s.Status.String(),
		CreatedAt:     s.CreatedAt,
	}
	if s.StateRoot != ([32]byte{}) {
		out.StateRoot = encodeHash(s.StateRoot)
	}
	return out
}

func (s *Server) handlePayrollCreateSession(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params payrollCreateParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	id, err := parseHash(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	amount, err := parsePositiveBigInt(params.TotalAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	session, err := s.payroll.CreateSession(caller, id, params.Token, amount, params.EmployeeCount)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, sessionToJSON(session))
	return "ok"
}

func (s *Server) handlePayrollStartSession(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.payrollTransition(w, r, req, func(caller [20]byte, id [32]byte) error {
		return s.payroll.StartSession(caller, id)
	})
}

func (s *Server) handlePayrollSettleSession(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.payrollTransition(w, r, req, func(caller [20]byte, id [32]byte) error {
		return s.payroll.SettleSession(caller, id)
	})
}

func (s *Server) handlePayrollCancelSession(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.payrollTransition(w, r, req, func(caller [20]byte, id [32]byte) error {
		return s.payroll.CancelSession(caller, id)
	})
}

func (s *Server) payrollTransition(w http.ResponseWriter, r *http.Request, req *RPCRequest, op func([20]byte, [32]byte) error) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params payrollSessionParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	id, err := parseHash(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	if err := op(caller, id); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, true)
	return "ok"
}

func (s *Server) handlePayrollCloseSession(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params payrollCloseParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	id, err := parseHash(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	root, err := parseHash(params.Root)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	if err := s.payroll.CloseSession(caller, id, root); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, true)
	return "ok"
}

type claimInputs struct {
	sessionID [32]byte
	payeeID   [32]byte
	recipient [20]byte
	amount    *big.Int
	proof     [][32]byte
}

func parseClaimParams(req *RPCRequest) (*claimInputs, error) {
	var params payrollClaimParams
	if err := singleParams(req, &params); err != nil {
		return nil, err
	}
	sessionID, err := parseHash(params.SessionID)
	if err != nil {
		return nil, err
	}
	payeeID, err := parseHash(params.PayeeID)
	if err != nil {
		return nil, err
	}
	recipient, err := parseAddress(params.Recipient)
	if err != nil {
		return nil, err
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		return nil, err
	}
	proof, err := parseProof(params.Proof)
	if err != nil {
		return nil, err
	}
	return &claimInputs{sessionID: sessionID, payeeID: payeeID, recipient: recipient, amount: amount, proof: proof}, nil
}

func (s *Server) handlePayrollClaim(w http.ResponseWriter, _ *http.Request, req *RPCRequest) string {
	inputs, err := parseClaimParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	if err := s.payroll.ClaimPayout(inputs.sessionID, inputs.payeeID, inputs.recipient, inputs.amount, inputs.proof); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, true)
	return "ok"
}

func (s *Server) handlePayrollVerify(w http.ResponseWriter, _ *http.Request, req *RPCRequest) string {
	inputs, err := parseClaimParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	valid, err := s.payroll.VerifyAllocation(inputs.sessionID, inputs.payeeID, inputs.recipient, inputs.amount, inputs.proof)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]bool{"valid": valid})
	return "ok"
}

func (s *Server) handlePayrollGetSession(w http.ResponseWriter, _ *http.Request, req *RPCRequest) string {
	var params payrollIDParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	id, err := parseHash(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	session, ok, err := s.payroll.GetSession(id)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeNotFound, "not_found", "session not found")
		return "error"
	}
	writeResult(w, req.ID, sessionToJSON(session))
	return "ok"
}

func (s *Server) handlePayrollClaimed(w http.ResponseWriter, _ *http.Request, req *RPCRequest) string {
	var params payrollClaimedParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	sessionID, err := parseHash(params.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	payeeID, err := parseHash(params.PayeeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	claimed, err := s.payroll.Claimed(sessionID, payeeID)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]bool{"claimed": claimed})
	return "ok"
}
