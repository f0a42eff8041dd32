package rpc

import (
	"math/big"
	"net/http"
)

type custodyAmountParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type custodyWithdrawParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
	To     string `json:"to"`
}

type custodySweepParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	To     string `json:"to"`
}

type custodyCallerParams struct {
	Caller string `json:"caller"`
}

type custodyTokenParams struct {
	Token string `json:"token"`
}

type custodyBalancesResult struct {
	Token          string `json:"token"`
	Available      string `json:"available"`
	Locked         string `json:"locked"`
	Allocated      string `json:"allocated"`
	TotalCustodied string `json:"totalCustodied"`
	Paused         bool   `json:"paused"`
}

func (s *Server) handleCustodyDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.custodyAmountOp(w, r, req, s.custody.Deposit)
}

func (s *Server) handleCustodyAllocate(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.custodyAmountOp(w, r, req, s.custody.AllocateToVenue)
}

func (s *Server) handleCustodyRecall(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.custodyAmountOp(w, r, req, s.custody.RecallFromVenue)
}

func (s *Server) custodyAmountOp(w http.ResponseWriter, r *http.Request, req *RPCRequest, op func([20]byte, string, *big.Int) error) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params custodyAmountParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	if err := op(caller, params.Token, amount); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, true)
	return "ok"
}

func (s *Server) handleCustodyWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params custodyWithdrawParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	to, err := parseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	if err := s.custody.Withdraw(caller, params.Token, amount, to); err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, true)
	return "ok"
}

func (s *Server) handleCustodyEmergencyWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params custodySweepParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	to, err := parseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	swept, err := s.custody.EmergencyWithdraw(caller, params.Token, to)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]string{"swept": bigString(swept)})
	return "ok"
}

func (s *Server) handleCustodyPause(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.custodyPauseOp(w, r, req, true)
}

func (s *Server) handleCustodyUnpause(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.custodyPauseOp(w, r, req, false)
}

func (s *Server) custodyPauseOp(w http.ResponseWriter, r *http.Request, req *RPCRequest, pause bool) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params custodyCallerParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	if pause {
		err = s.custody.Pause(caller)
	} else {
		err = s.custody.Unpause(caller)
	}
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, true)
	return "ok"
}

func (s *Server) handleCustodyBalances(w http.ResponseWriter, _ *http.Request, req *RPCRequest) string {
	var params custodyTokenParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	available, err := s.custody.Available(params.Token)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	locked, err := s.custody.Locked(params.Token)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	allocated, err := s.custody.Allocated(params.Token)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	total, err := s.custody.TotalCustodied(params.Token)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	paused, err := s.custody.Paused()
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, custodyBalancesResult{
		Token:          params.Token,
		Available:      bigString(available),
		Locked:         bigString(locked),
		Allocated:      bigString(allocated),
		TotalCustodied: bigString(total),
		Paused:         paused,
	})
	return "ok"
}
