// Package gatekeeper is the decision core of the gateway. Every delegated
// action an agent wants to take passes through Validate, which checks the
// Smart POA's validity, scope, and spend limit, appends the decision to the
// fiduciary ledger, and escalates limit violations through break-glass.
package gatekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/audit"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/breakglass"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/vault"
)

// Violation types carried on BLOCKED and BREAK_GLASS decisions.
const (
	ViolationScope      = "SCOPE"
	ViolationSpendLimit = "SPEND_LIMIT"
	ViolationPOAInvalid = "POA_INVALID"
)

// Liveness is demanded for escalations above this amount.
const livenessAmountThreshold = 500.0

// Request is one authorization question.
type Request struct {
	POAID       string  `json:"poa_id"`
	ServiceName string  `json:"service_name"`
	Amount      float64 `json:"amount,omitempty"`
	Action      string  `json:"action"`
}

// Decision is the gatekeeper's answer.
type Decision struct {
	Authorized       bool   `json:"authorized"`
	Decision         string `json:"decision"` // ALLOWED, BLOCKED, BREAK_GLASS
	Reasoning        string `json:"reasoning"`
	ViolationType    string `json:"violation_type,omitempty"`
	AuditEntryID     int64  `json:"audit_entry_id,omitempty"`
	BreakGlassEvent  string `json:"break_glass_event_id,omitempty"`
	LivenessRequired bool   `json:"liveness_required,omitempty"`
}

// Gatekeeper wires the POA store, the ledger, and the break-glass monitor.
type Gatekeeper struct {
	poas       vault.POAStore
	ledger     *audit.Ledger
	breakglass *breakglass.Monitor
	metrics    *Metrics
	clock      func() time.Time

	// advocateFor resolves the Trusted Advocate for a principal. The
	// default uses the POA's creator.
	advocateFor func(poa *vault.POA) string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a Gatekeeper. metrics may be nil.
func New(poas vault.POAStore, ledger *audit.Ledger, monitor *breakglass.Monitor, metrics *Metrics) *Gatekeeper {
	return &Gatekeeper{
		poas:       poas,
		ledger:     ledger,
		breakglass: monitor,
		metrics:    metrics,
		clock:      time.Now,
		advocateFor: func(poa *vault.POA) string {
			if poa.CreatorID != "" {
				return poa.CreatorID
			}
			return poa.PrincipalID
		},
		locks: make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the time source. Tests only.
func (g *Gatekeeper) SetClock(clock func() time.Time) {
	g.clock = clock
}

// SetAdvocateResolver overrides advocate lookup.
func (g *Gatekeeper) SetAdvocateResolver(fn func(poa *vault.POA) string) {
	g.advocateFor = fn
}

func (g *Gatekeeper) lockFor(poaID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[poaID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[poaID] = l
	}
	return l
}

// Validate authorizes one request. The ledger append completes before any
// non-error decision is returned; if the append fails the decision is a
// synthetic BLOCKED and no break-glass event is opened. The whole
// read-evaluate-append sequence holds a per-POA lock, so entries for one
// POA are totally ordered.
func (g *Gatekeeper) Validate(ctx context.Context, req Request) (*Decision, error) {
	start := time.Now()
	d, err := g.validate(ctx, req)
	if d != nil {
		g.metrics.observe(d.Decision, d.ViolationType, time.Since(start).Seconds())
	}
	return d, err
}

func (g *Gatekeeper) validate(ctx context.Context, req Request) (*Decision, error) {
	if req.POAID == "" || req.ServiceName == "" || req.Action == "" {
		return nil, fmt.Errorf("%w: poa_id, service_name and action are required", core.ErrInvalidArgument)
	}

	poa, err := g.poas.GetPOA(ctx, req.POAID)
	if err != nil {
		// Nothing to attribute a ledger entry to.
		return &Decision{
			Authorized: false,
			Decision:   audit.DecisionBlocked,
			Reasoning:  fmt.Sprintf("POA %s not found", req.POAID),
		}, nil
	}

	lock := g.lockFor(poa.ID)
	lock.Lock()
	defer lock.Unlock()

	now := g.clock().UTC()
	details := map[string]interface{}{
		"service": req.ServiceName,
		"amount":  req.Amount,
		"action":  req.Action,
	}

	if !poa.Valid(now) {
		return g.blocked(ctx, poa, req, details, audit.ActionPOAInvalid, ViolationPOAInvalid,
			"POA is expired or revoked; no delegated authority remains")
	}

	if !poa.InScope(req.ServiceName) {
		return g.blocked(ctx, poa, req, details, audit.ActionScopeViolation, ViolationScope,
			fmt.Sprintf("service %q is outside the granted scope (%s)", req.ServiceName, poa.Scope))
	}

	if req.Amount > 0 && !poa.WithinLimit(req.Amount) {
		return g.escalate(ctx, poa, req, details)
	}

	entry, err := g.ledger.Append(ctx, audit.AppendRequest{
		POAID:          poa.ID,
		ActionType:     actionType(req.Action),
		ServiceName:    req.ServiceName,
		Amount:         req.Amount,
		Decision:       audit.DecisionAllowed,
		Reasoning:      fmt.Sprintf("%s on %s within scope and limit ($%.2f of $%.2f)", req.Action, req.ServiceName, req.Amount, poa.SpendLimit),
		RequestDetails: details,
	})
	if err != nil {
		return g.ledgerUnavailable(err), nil
	}

	return &Decision{
		Authorized:   true,
		Decision:     audit.DecisionAllowed,
		Reasoning:    entry.Reasoning,
		AuditEntryID: entry.ID,
	}, nil
}

func (g *Gatekeeper) blocked(ctx context.Context, poa *vault.POA, req Request, details map[string]interface{}, action, violation, reasoning string) (*Decision, error) {
	entry, err := g.ledger.Append(ctx, audit.AppendRequest{
		POAID:          poa.ID,
		ActionType:     action,
		ServiceName:    req.ServiceName,
		Amount:         req.Amount,
		Decision:       audit.DecisionBlocked,
		Reasoning:      reasoning,
		RequestDetails: details,
	})
	if err != nil {
		return g.ledgerUnavailable(err), nil
	}
	return &Decision{
		Authorized:    false,
		Decision:      audit.DecisionBlocked,
		Reasoning:     reasoning,
		ViolationType: violation,
		AuditEntryID:  entry.ID,
	}, nil
}

func (g *Gatekeeper) escalate(ctx context.Context, poa *vault.POA, req Request, details map[string]interface{}) (*Decision, error) {
	reasoning := fmt.Sprintf("amount $%.2f exceeds the $%.2f spend limit; Trusted Advocate approval required", req.Amount, poa.SpendLimit)

	entry, err := g.ledger.Append(ctx, audit.AppendRequest{
		POAID:          poa.ID,
		ActionType:     audit.ActionSpendLimit,
		ServiceName:    req.ServiceName,
		Amount:         req.Amount,
		Decision:       audit.DecisionBreakGlass,
		Reasoning:      reasoning,
		RequestDetails: details,
	})
	if err != nil {
		// No ledger record, no escalation.
		return g.ledgerUnavailable(err), nil
	}

	livenessRequired := req.Amount > livenessAmountThreshold

	event, err := g.breakglass.Trigger(ctx, breakglass.TriggerParams{
		POAID:        poa.ID,
		AuditEntryID: entry.ID,
		AdvocateID:   g.advocateFor(poa),
		Trigger:      breakglass.TriggerSpendLimit,
		Details: map[string]interface{}{
			"amount":      req.Amount,
			"spend_limit": poa.SpendLimit,
			"service":     req.ServiceName,
			"action":      req.Action,
		},
		LivenessRequired: livenessRequired,
	})
	if err != nil {
		slog.Error("break-glass trigger failed", "poa", poa.ID, "error", err)
		return &Decision{
			Authorized:    false,
			Decision:      audit.DecisionBlocked,
			Reasoning:     "escalation unavailable; request blocked",
			ViolationType: ViolationSpendLimit,
			AuditEntryID:  entry.ID,
		}, nil
	}

	if g.metrics != nil {
		g.metrics.BreakGlassOpened.Inc()
	}

	return &Decision{
		Authorized:       false,
		Decision:         audit.DecisionBreakGlass,
		Reasoning:        reasoning,
		ViolationType:    ViolationSpendLimit,
		AuditEntryID:     entry.ID,
		BreakGlassEvent:  event.ID,
		LivenessRequired: livenessRequired,
	}, nil
}

func (g *Gatekeeper) ledgerUnavailable(err error) *Decision {
	slog.Error("ledger append failed, failing closed", "error", err)
	if g.metrics != nil {
		g.metrics.LedgerFailures.Inc()
	}
	return &Decision{
		Authorized: false,
		Decision:   audit.DecisionBlocked,
		Reasoning:  "ledger unavailable",
	}
}

func actionType(action string) string {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(action), " ", "_"))
	return "REQUEST_" + normalized
}
