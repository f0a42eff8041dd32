package rpc

import (
	"net/http"

	"payvault/native/distribution"
)

type payoutInstructionJSON struct {
	DestinationDomain uint64 `json:"destinationDomain"`
	Token             string `json:"token"`
	Recipient         string `json:"recipient"`
	Amount            string `json:"amount"`
	PayeeID           string `json:"payeeId"`
}

type payoutResultJSON struct {
	PayeeID       string `json:"payeeId"`
	Success       bool   `json:"success"`
	ExternalTxRef string `json:"externalTxRef,omitempty"`
	ActualAmount  string `json:"actualAmount"`
}

type distributionSingleParams struct {
	Caller      string                `json:"caller"`
	Instruction payoutInstructionJSON `json:"instruction"`
}

type distributionBatchParams struct {
	Caller       string                  `json:"caller"`
	Instructions []payoutInstructionJSON `json:"instructions"`
}

type distributionEstimateParams struct {
	Instructions []payoutInstructionJSON `json:"instructions"`
}

type distributionFeeParams struct {
	Domain uint64 `json:"domain"`
	Amount string `json:"amount"`
}

func instructionFromJSON(in payoutInstructionJSON) (distribution.PayoutInstruction, error) {
	inst := distribution.PayoutInstruction{
		DestinationDomain: in.DestinationDomain,
		Token:             in.Token,
	}
	// Malformed recipients and amounts stay in the instruction so the engine
	// can report them as per-item failures instead of rejecting the batch.
	if recipient, err := parseAddress(in.Recipient); err == nil {
		inst.Recipient = recipient
	}
	if amount, err := parsePositiveBigInt(in.Amount); err == nil {
		inst.Amount = amount
	}
	payeeID, err := parseHash(in.PayeeID)
	if err != nil {
		return inst, err
	}
	inst.PayeeID = payeeID
	return inst, nil
}

func resultToJSON(result distribution.PayoutResult) payoutResultJSON {
	out := payoutResultJSON{
		PayeeID:      encodeHash(result.PayeeID),
		Success:      result.Success,
		ActualAmount: bigString(result.ActualAmount),
	}
	if result.ExternalTxRef != ([32]byte{}) {
		out.ExternalTxRef = encodeHash(result.ExternalTxRef)
	}
	return out
}

func (s *Server) handleDistributionSinglePayout(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params distributionSingleParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	inst, err := instructionFromJSON(params.Instruction)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	result, err := s.distribution.SinglePayout(caller, inst)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, resultToJSON(result))
	return "ok"
}

func (s *Server) handleDistributionBatchPayout(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params distributionBatchParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	insts := make([]distribution.PayoutInstruction, 0, len(params.Instructions))
	for _, in := range params.Instructions {
		inst, err := instructionFromJSON(in)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return "error"
		}
		insts = append(insts, inst)
	}
	results, err := s.distribution.BatchPayout(caller, insts)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	out := make([]payoutResultJSON, 0, len(results))
	for _, result := range results {
		out = append(out, resultToJSON(result))
	}
	writeResult(w, req.ID, out)
	return "ok"
}

func (s *Server) handleDistributionEstimateFees(w http.ResponseWriter, _ *http.Request, req *RPCRequest) string {
	var params distributionEstimateParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	insts := make([]distribution.PayoutInstruction, 0, len(params.Instructions))
	for _, in := range params.Instructions {
		inst, err := instructionFromJSON(in)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return "error"
		}
		insts = append(insts, inst)
	}
	total := s.distribution.EstimateFees(insts)
	writeResult(w, req.ID, map[string]string{"totalFees": bigString(total)})
	return "ok"
}

func (s *Server) handleDistributionBridgeFee(w http.ResponseWriter, _ *http.Request, req *RPCRequest) string {
	var params distributionFeeParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	fee := s.distribution.BridgeFee(params.Domain, amount)
	writeResult(w, req.ID, map[string]string{"fee": bigString(fee)})
	return "ok"
}
