package rpc

import (
	"net/http"
)

type rolesMutateParams struct {
	Caller string `json:"caller"`
	Role   string `json:"role"`
	Member string `json:"member"`
}

type rolesRoleParams struct {
	Role string `json:"role"`
}

type rolesHasParams struct {
	Address string `json:"address"`
	Role    string `json:"role"`
}

func (s *Server) handleRolesGrant(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.rolesMutate(w, r, req, true)
}

func (s *Server) handleRolesRevoke(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.rolesMutate(w, r, req, false)
}

func (s *Server) rolesMutate(w http.ResponseWriter, r *http.Request, req *RPCRequest, grant bool) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "unauthorized"
	}
	var params rolesMutateParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	member, err := parseAddress(params.Member)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	if grant {
		err = s.registry.Grant(caller, params.Role, member)
	} else {
		err = s.registry.Revoke(caller, params.Role, member)
	}
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	writeResult(w, req.ID, true)
	return "ok"
}

func (s *Server) handleRolesMembers(w http.ResponseWriter, _ *http.Request, req *RPCRequest) string {
	var params rolesRoleParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	members, err := s.registry.Members(params.Role)
	if err != nil {
		return s.writeEngineError(w, req.ID, err)
	}
	encoded := make([]string, 0, len(members))
	for _, member := range members {
		encoded = append(encoded, encodeAddr(member))
	}
	writeResult(w, req.ID, encoded)
	return "ok"
}

func (s *Server) handleRolesHas(w http.ResponseWriter, _ *http.Request, req *RPCRequest) string {
	var params rolesHasParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	writeResult(w, req.ID, map[string]bool{"has": s.registry.HasCapability(addr, params.Role)})
	return "ok"
}
