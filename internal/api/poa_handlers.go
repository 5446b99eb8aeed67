package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/vault"
)

func (s *Server) handlePOACreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrincipalID string   `json:"principal_id"`
		AgentID     string   `json:"agent_id"`
		Scope       string   `json:"scope"`
		SpendLimit  float64  `json:"spend_limit"`
		ExpiryDays  int      `json:"expiry_days"`
		Services    []string `json:"allowed_services"`
		CreatorID   string   `json:"creator_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err))
		return
	}

	poa, err := s.registry.Create(r.Context(), vault.CreateParams{
		PrincipalID: req.PrincipalID,
		AgentID:     req.AgentID,
		Scope:       req.Scope,
		SpendLimit:  req.SpendLimit,
		ExpiryDays:  req.ExpiryDays,
		Services:    req.Services,
		CreatorID:   req.CreatorID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, poa)
}

func (s *Server) handlePOAGet(w http.ResponseWriter, r *http.Request) {
	poa, err := s.registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*vault.POA
		Valid bool `json:"valid"`
	}{poa, poa.Valid(time.Now().UTC())})
}

func (s *Server) handlePOARevoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason    string `json:"reason"`
		RevokerID string `json:"revoker_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err))
		return
	}

	revoked, err := s.registry.Revoke(r.Context(), mux.Vars(r)["id"], req.Reason, req.RevokerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

func (s *Server) handlePOAList(w http.ResponseWriter, r *http.Request) {
	principal := r.URL.Query().Get("principal")
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active_only"))

	poas, err := s.registry.ListByPrincipal(r.Context(), principal, activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	if poas == nil {
		poas = []*vault.POA{}
	}
	writeJSON(w, http.StatusOK, poas)
}

func (s *Server) handleTokenStore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		POAID       string `json:"poa_id"`
		ServiceName string `json:"service_name"`
		Token       string `json:"token"`
		Kind        string `json:"kind"`
		TTLSeconds  int64  `json:"ttl_seconds"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err))
		return
	}

	tk, err := s.tokens.Store(r.Context(), req.POAID, req.ServiceName, req.Token,
		req.Kind, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tk)
}

func (s *Server) handleTokenReveal(w http.ResponseWriter, r *http.Request) {
	plaintext, err := s.tokens.Reveal(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": plaintext})
}

func (s *Server) handlePresent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To     string `json:"presented_to"`
		Method string `json:"method"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err))
		return
	}

	rec, err := s.presenter.Present(r.Context(), mux.Vars(r)["id"], req.To, req.Method)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handlePresentationConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"verification_code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err))
		return
	}

	rec, err := s.presenter.Confirm(r.Context(), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePresentationList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.presenter.List(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []*vault.Presentation{}
	}
	writeJSON(w, http.StatusOK, recs)
}
