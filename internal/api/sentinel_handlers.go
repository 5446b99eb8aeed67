package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/sentinel"
)

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transcript string                 `json:"transcript"`
		UserID     string                 `json:"user_id"`
		Metadata   map[string]interface{} `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err))
		return
	}

	analysis := s.analyzer.Analyze(req.Transcript)

	if s.events != nil {
		event := sentinel.NewEvent(sentinel.EventVoiceAnalysis, req.UserID)
		event.RiskScore = analysis.FraudScore
		event.Action = analysis.Action
		event.Reasoning = analysis.Reasoning
		event.Metadata = req.Metadata
		if err := s.events.SaveEvent(context.WithoutCancel(r.Context()), event); err != nil {
			s.logger.Printf("security event save failed: %v", err)
		}
	}

	if s.stream != nil && analysis.Action != sentinel.ActionAllow {
		s.stream.Broadcast("security_event", analysis)
	}

	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleSecurityLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := sentinel.EventFilter{
		EventType: q.Get("event_type"),
		UserID:    q.Get("user_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", core.ErrInvalidArgument))
			return
		}
		f.Limit = n
	}

	events, err := s.events.ListEvents(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []*sentinel.SecurityEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := s.approvals.ListOpenApprovals(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if approvals == nil {
		approvals = []*sentinel.PendingApproval{}
	}
	writeJSON(w, http.StatusOK, approvals)
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResolvedBy string `json:"resolved_by"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err))
		return
	}

	if err := s.approvals.ResolveApproval(r.Context(), mux.Vars(r)["id"], req.ResolvedBy); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}
