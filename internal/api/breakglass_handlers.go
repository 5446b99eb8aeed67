package api

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/breakglass"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/gatekeeper"
)

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req gatekeeper.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err))
		return
	}

	decision, err := s.gate.Validate(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.stream != nil && !decision.Authorized {
		s.stream.Broadcast("decision", decision)
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err))
		return
	}

	event, err := s.monitor.VerifyOTP(r.Context(), mux.Vars(r)["id"], req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleVerifyLiveness(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method   string `json:"method"`
		Artifact string `json:"artifact"` // base64
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err))
		return
	}
	artifact, err := base64.StdEncoding.DecodeString(req.Artifact)
	if err != nil {
		writeError(w, fmt.Errorf("%w: artifact must be base64", core.ErrInvalidArgument))
		return
	}

	event, err := s.monitor.VerifyLiveness(r.Context(), mux.Vars(r)["id"], req.Method, artifact)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DenierID string `json:"denier_id"`
		Reason   string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err))
		return
	}

	event, err := s.monitor.Deny(r.Context(), mux.Vars(r)["id"], req.DenierID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handlePendingEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.monitor.Pending(r.Context(), r.URL.Query().Get("advocate_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []*breakglass.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
