package cardauth

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/audit"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/crypto"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/governor"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/sentinel"
)

// Decision results returned to the card network.
const (
	ResultApproved = "APPROVED"
	ResultDeclined = "DECLINED"
)

// Decline reasons carried in the response metadata.
const (
	DeclineHighRisk    = "HIGH_RISK"
	DeclineUnbound     = "CARD_NOT_BOUND"
	DeclineUnavailable = "SERVICE_UNAVAILABLE"
)

// DefaultDeadline is the end-to-end budget for one authorization.
const DefaultDeadline = 100 * time.Millisecond

// Merchant describes the acceptor as the network reports it.
type Merchant struct {
	Descriptor string `json:"descriptor"`
	MCC        string `json:"mcc"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
}

// AuthRequest is the webhook payload for one authorization attempt.
// Amount is in minor units (cents).
type AuthRequest struct {
	Token     string    `json:"token"`
	CardToken string    `json:"card_token"`
	Amount    int64     `json:"amount"`
	Merchant  Merchant  `json:"merchant"`
	Created   time.Time `json:"created"`
}

// AuthMetadata is the machine-readable detail attached to a response.
type AuthMetadata struct {
	RiskScore       int    `json:"risk_score"`
	RiskLevel       string `json:"risk_level"`
	Category        string `json:"category"`
	DeclineReason   string `json:"decline_reason,omitempty"`
	PendingAdvocate bool   `json:"pending_advocate,omitempty"`
}

// AuthResponse is what the card network receives.
type AuthResponse struct {
	Token    string       `json:"token"`
	Result   string       `json:"result"`
	Amount   int64        `json:"amount"`
	Metadata AuthMetadata `json:"metadata"`
}

// Service scores card authorizations. The hot path is governor CPU work plus
// the ledger append; advocate notification and approval bookkeeping happen
// off the response path.
type Service struct {
	governor  *governor.Governor
	mcc       MCCMap
	bindings  BindingResolver
	ledger    *audit.Ledger
	events    sentinel.EventStore
	approvals sentinel.ApprovalStore
	metrics   *Metrics
	deadline  time.Duration
	clock     func() time.Time
	logger    *log.Logger
}

// NewService wires the authorization service. events, approvals, and metrics
// may be nil.
func NewService(gov *governor.Governor, mcc MCCMap, bindings BindingResolver, ledger *audit.Ledger, events sentinel.EventStore, approvals sentinel.ApprovalStore, metrics *Metrics) *Service {
	return &Service{
		governor:  gov,
		mcc:       mcc,
		bindings:  bindings,
		ledger:    ledger,
		events:    events,
		approvals: approvals,
		metrics:   metrics,
		deadline:  DefaultDeadline,
		clock:     time.Now,
		logger:    log.New(log.Writer(), "[CardAuth] ", log.LstdFlags),
	}
}

// SetDeadline overrides the per-authorization budget.
func (s *Service) SetDeadline(d time.Duration) {
	s.deadline = d
}

// SetClock overrides the time source. Tests only.
func (s *Service) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Deadline returns the per-authorization budget.
func (s *Service) Deadline() time.Duration {
	return s.deadline
}

// VerifySignature checks the webhook HMAC over the raw body. Constant time.
func VerifySignature(secret, body []byte, signature string) bool {
	return crypto.NewSigner(secret).Verify(body, signature)
}

// Authorize decides one authorization. It always returns a response; when
// scoring cannot complete inside the deadline or a dependency fails, the
// conservative answer is DECLINED.
func (s *Service) Authorize(ctx context.Context, req *AuthRequest) *AuthResponse {
	start := time.Now()
	resp := s.authorize(ctx, req)
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.Authorizations.WithLabelValues(resp.Result).Inc()
		s.metrics.AuthDuration.Observe(elapsed.Seconds())
	}
	s.logger.Printf("auth %s: %s $%.2f %s (%s)",
		req.Token, resp.Result, float64(req.Amount)/100, req.Merchant.Descriptor, elapsed)
	return resp
}

func (s *Service) authorize(ctx context.Context, req *AuthRequest) *AuthResponse {
	category := s.mcc.Category(req.Merchant.MCC)
	amount := float64(req.Amount) / 100

	binding, err := s.bindings.Resolve(ctx, req.CardToken)
	if err != nil {
		return s.decline(req, AuthMetadata{Category: category, DeclineReason: DeclineUnbound})
	}

	when := req.Created
	if when.IsZero() {
		when = s.clock()
	}

	assessment := s.governor.Assess(governor.Transaction{
		Amount:   amount,
		Time:     when,
		Category: category,
		Merchant: req.Merchant.Descriptor,
		UserID:   binding.PrincipalID,
	})

	meta := AuthMetadata{
		RiskScore: assessment.RiskScore,
		RiskLevel: assessment.RiskLevel,
		Category:  category,
	}

	var result string
	switch {
	case assessment.RiskScore >= 90 || assessment.RiskLevel == governor.LevelCritical:
		result = ResultDeclined
		meta.DeclineReason = DeclineHighRisk
	case assessment.RiskScore >= 70 || assessment.RiskLevel == governor.LevelHigh:
		result = ResultDeclined
		meta.DeclineReason = DeclineHighRisk
		meta.PendingAdvocate = true
	default:
		result = ResultApproved
	}

	if err := ctx.Err(); err != nil {
		// Out of budget; the network will have timed us out anyway.
		if s.metrics != nil {
			s.metrics.DeadlineOverruns.Inc()
		}
		return s.decline(req, AuthMetadata{Category: category, DeclineReason: DeclineUnavailable})
	}

	decision := audit.DecisionAllowed
	if result == ResultDeclined {
		decision = audit.DecisionBlocked
	}
	if _, err := s.ledger.Append(ctx, audit.AppendRequest{
		POAID:       binding.POAID,
		ActionType:  audit.ActionCardAuthorization,
		ServiceName: req.Merchant.Descriptor,
		Amount:      amount,
		Decision:    decision,
		Reasoning:   assessment.Reasoning,
		RequestDetails: map[string]interface{}{
			"card_token": req.CardToken,
			"mcc":        req.Merchant.MCC,
			"category":   category,
			"result":     result,
			"risk_score": assessment.RiskScore,
			"risk_level": assessment.RiskLevel,
		},
	}); err != nil {
		// No record, no approval.
		slog.Error("card auth ledger append failed, declining", "error", err)
		if s.metrics != nil {
			s.metrics.LedgerFailures.Inc()
		}
		return s.decline(req, AuthMetadata{Category: category, DeclineReason: DeclineUnavailable})
	}

	if meta.PendingAdvocate {
		s.recordEscalation(binding, req, amount, category, assessment)
	}
	s.recordEvent(binding, req, amount, category, assessment, result)

	return &AuthResponse{Token: req.Token, Result: result, Amount: req.Amount, Metadata: meta}
}

func (s *Service) decline(req *AuthRequest, meta AuthMetadata) *AuthResponse {
	return &AuthResponse{Token: req.Token, Result: ResultDeclined, Amount: req.Amount, Metadata: meta}
}

// recordEscalation files the PendingApproval the advocate dashboard shows.
// The network already has its DECLINED; this must not block the response,
// so store faults are logged and dropped.
func (s *Service) recordEscalation(binding *Binding, req *AuthRequest, amount float64, category string, a governor.Assessment) {
	if s.approvals == nil {
		return
	}
	approval := sentinel.NewApproval(binding.PrincipalID)
	approval.Amount = amount
	approval.Category = category
	approval.Merchant = req.Merchant.Descriptor
	approval.RiskLevel = a.RiskLevel
	approval.RiskScore = a.RiskScore
	approval.Reasoning = a.Reasoning
	if err := s.approvals.SaveApproval(context.Background(), approval); err != nil {
		slog.Error("pending approval save failed", "card_token", req.CardToken, "error", err)
	}
}

func (s *Service) recordEvent(binding *Binding, req *AuthRequest, amount float64, category string, a governor.Assessment, result string) {
	if s.events == nil {
		return
	}
	event := sentinel.NewEvent(sentinel.EventCardAuthorization, binding.PrincipalID)
	event.RiskScore = a.RiskScore
	event.Action = result
	event.Reasoning = a.Reasoning
	event.Amount = amount
	event.Category = category
	event.Merchant = req.Merchant.Descriptor
	event.Metadata = map[string]interface{}{
		"card_token": req.CardToken,
		"mcc":        req.Merchant.MCC,
		"risk_level": a.RiskLevel,
	}
	if err := s.events.SaveEvent(context.Background(), event); err != nil {
		slog.Error("security event save failed", "error", err)
	}
}

// Validate rejects structurally bad requests before scoring.
func (r *AuthRequest) Validate() error {
	if r.Token == "" || r.CardToken == "" {
		return fmt.Errorf("%w: token and card_token are required", core.ErrInvalidArgument)
	}
	if r.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative", core.ErrInvalidArgument)
	}
	return nil
}
