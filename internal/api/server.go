// Package api exposes the gateway over REST/JSON for the advocate dashboard
// and agent integrations, plus the card-network webhook and a WebSocket feed
// of security events.
package api

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/audit"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/breakglass"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/cardauth"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/gatekeeper"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/middleware"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/sentinel"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/vault"
)

// Server wires every service behind the HTTP surface.
type Server struct {
	registry  *vault.Registry
	tokens    *vault.TokenVault
	presenter *vault.Presenter
	gate      *gatekeeper.Gatekeeper
	monitor   *breakglass.Monitor
	ledger    *audit.Ledger
	analyzer  *sentinel.Analyzer
	events    sentinel.EventStore
	approvals sentinel.ApprovalStore
	card      *cardauth.Handler
	stream    *Stream
	limiter   *middleware.RateLimiter

	logger *log.Logger
}

// Deps carries the service graph into NewServer. card, presenter, events,
// approvals, and stream may be nil; their routes are skipped.
type Deps struct {
	Registry  *vault.Registry
	Tokens    *vault.TokenVault
	Presenter *vault.Presenter
	Gate      *gatekeeper.Gatekeeper
	Monitor   *breakglass.Monitor
	Ledger    *audit.Ledger
	Analyzer  *sentinel.Analyzer
	Events    sentinel.EventStore
	Approvals sentinel.ApprovalStore
	Card      *cardauth.Handler
	Stream    *Stream
	Limiter   *middleware.RateLimiter
}

// NewServer builds the HTTP server.
func NewServer(deps Deps) *Server {
	return &Server{
		registry:  deps.Registry,
		tokens:    deps.Tokens,
		presenter: deps.Presenter,
		gate:      deps.Gate,
		monitor:   deps.Monitor,
		ledger:    deps.Ledger,
		analyzer:  deps.Analyzer,
		events:    deps.Events,
		approvals: deps.Approvals,
		card:      deps.Card,
		stream:    deps.Stream,
		limiter:   deps.Limiter,
		logger:    log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Routes builds the router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()

	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	// CORS middleware for the dashboard.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if req.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Smart POA vault
	r.HandleFunc("/api/poa", s.handlePOACreate).Methods("POST")
	r.HandleFunc("/api/poa/{id}", s.handlePOAGet).Methods("GET")
	r.HandleFunc("/api/poa/{id}/revoke", s.handlePOARevoke).Methods("POST")
	r.HandleFunc("/api/poa", s.handlePOAList).Methods("GET").Queries("principal", "{principal}")
	r.HandleFunc("/api/tokens", s.handleTokenStore).Methods("POST")
	r.HandleFunc("/api/tokens/{id}/reveal", s.handleTokenReveal).Methods("POST")

	if s.presenter != nil {
		r.HandleFunc("/api/poa/{id}/presentations", s.handlePresent).Methods("POST")
		r.HandleFunc("/api/poa/{id}/presentations", s.handlePresentationList).Methods("GET")
		r.HandleFunc("/api/presentations/confirm", s.handlePresentationConfirm).Methods("POST")
	}

	// Gatekeeper
	r.HandleFunc("/api/gatekeeper/validate", s.handleValidate).Methods("POST")

	// Break-glass
	r.HandleFunc("/api/breakglass/{id}/verify-otp", s.handleVerifyOTP).Methods("POST")
	r.HandleFunc("/api/breakglass/{id}/verify-liveness", s.handleVerifyLiveness).Methods("POST")
	r.HandleFunc("/api/breakglass/{id}/deny", s.handleDeny).Methods("POST")
	r.HandleFunc("/api/breakglass/pending", s.handlePendingEvents).Methods("GET")

	// Fiduciary ledger
	r.HandleFunc("/api/audit/{poa_id}", s.handleAuditList).Methods("GET")
	r.HandleFunc("/api/audit/entry/{id}/verify", s.handleAuditVerify).Methods("GET")
	r.HandleFunc("/api/audit/{poa_id}/export", s.handleAuditExport).Methods("GET")

	// Scam interceptor
	r.HandleFunc("/api/sentinel/analyze", s.handleAnalyze).Methods("POST")
	if s.events != nil {
		r.HandleFunc("/api/sentinel/logs", s.handleSecurityLogs).Methods("GET")
	}
	if s.approvals != nil {
		r.HandleFunc("/api/sentinel/approvals/pending", s.handlePendingApprovals).Methods("GET")
		r.HandleFunc("/api/sentinel/approvals/{id}/resolve", s.handleResolveApproval).Methods("POST")
	}

	// Card-network webhook
	if s.card != nil {
		r.Handle("/api/card/authorize", s.card).Methods("POST")
	}

	// Advocate event feed
	if s.stream != nil {
		r.HandleFunc("/ws/advocate", s.stream.HandleWebSocket)
	}

	return r
}

// Start blocks serving HTTP on the given port.
func (s *Server) Start(port string) error {
	addr := ":" + port
	s.logger.Printf("gateway listening on %s", addr)
	return http.ListenAndServe(addr, s.Routes())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
