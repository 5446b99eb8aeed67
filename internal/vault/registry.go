package vault

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/audit"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

// Registry owns the POA lifecycle. Every create and revoke is recorded on
// the fiduciary ledger.
type Registry struct {
	poas   POAStore
	tokens TokenStore
	ledger *audit.Ledger
	clock  func() time.Time

	mu sync.Mutex // serializes revokes per process
}

// CreateParams are the inputs for a new POA.
type CreateParams struct {
	PrincipalID string
	AgentID     string
	Scope       string
	SpendLimit  float64
	ExpiryDays  int // negative values produce an already-expired POA
	Services    []string
	CreatorID   string
}

// NewRegistry builds a Registry.
func NewRegistry(poas POAStore, tokens TokenStore, ledger *audit.Ledger) *Registry {
	return &Registry{poas: poas, tokens: tokens, ledger: ledger, clock: time.Now}
}

// SetClock overrides the time source. Tests only.
func (r *Registry) SetClock(clock func() time.Time) {
	r.clock = clock
}

// Create registers a new Smart POA and appends a POA_CREATED ledger entry.
func (r *Registry) Create(ctx context.Context, params CreateParams) (*POA, error) {
	if params.PrincipalID == "" || params.AgentID == "" || params.Scope == "" {
		return nil, fmt.Errorf("%w: principal, agent and scope are required", core.ErrInvalidArgument)
	}
	if params.SpendLimit < 0 {
		return nil, fmt.Errorf("%w: spend_limit must be non-negative", core.ErrInvalidArgument)
	}

	now := r.clock().UTC()
	poa := &POA{
		ID:          uuid.NewString(),
		PrincipalID: params.PrincipalID,
		AgentID:     params.AgentID,
		Scope:       params.Scope,
		Services:    params.Services,
		SpendLimit:  params.SpendLimit,
		CreatedAt:   now,
		ExpiresAt:   now.AddDate(0, 0, params.ExpiryDays),
		Active:      true,
		CreatorID:   params.CreatorID,
	}

	if err := r.poas.SavePOA(ctx, poa); err != nil {
		return nil, fmt.Errorf("%w: save poa: %v", core.ErrStorageFailure, err)
	}

	_, err := r.ledger.Append(ctx, audit.AppendRequest{
		POAID:      poa.ID,
		ActionType: audit.ActionPOACreated,
		Decision:   audit.DecisionAllowed,
		Reasoning: fmt.Sprintf("POA created: agent %s may act on %s for %s, limit $%.2f, expires %s",
			poa.AgentID, poa.Scope, poa.PrincipalID, poa.SpendLimit, poa.ExpiresAt.Format(time.RFC3339)),
		RequestDetails: map[string]interface{}{
			"principal_id":     poa.PrincipalID,
			"agent_id":         poa.AgentID,
			"scope":            poa.Scope,
			"spend_limit":      poa.SpendLimit,
			"allowed_services": poa.Services,
			"creator_id":       poa.CreatorID,
		},
	})
	if err != nil {
		// A delegation must not exist without its ledger record; undo the save.
		if delErr := r.poas.DeletePOA(ctx, poa.ID); delErr != nil {
			slog.Error("rollback of unaudited POA failed", "poa_id", poa.ID, "error", delErr)
		}
		return nil, err
	}

	slog.Info("POA created", "poa_id", poa.ID, "principal", poa.PrincipalID, "agent", poa.AgentID, "scope", poa.Scope)
	return poa, nil
}

// Get fetches a POA by ID.
func (r *Registry) Get(ctx context.Context, id string) (*POA, error) {
	return r.poas.GetPOA(ctx, id)
}

// ListByPrincipal lists a principal's POAs, optionally only currently
// valid ones.
func (r *Registry) ListByPrincipal(ctx context.Context, principalID string, activeOnly bool) ([]*POA, error) {
	poas, err := r.poas.ListPOAsByPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !activeOnly {
		return poas, nil
	}
	now := r.clock().UTC()
	var out []*POA
	for _, p := range poas {
		if p.Valid(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Revoke deactivates a POA, cascades deletion of its tokens, and appends a
// POA_REVOKED ledger entry. Revoking an already-revoked POA returns false
// and writes nothing.
func (r *Registry) Revoke(ctx context.Context, id, reason, revokerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	poa, err := r.poas.GetPOA(ctx, id)
	if err != nil {
		return false, err
	}
	if poa.RevokedAt != nil {
		return false, nil
	}

	now := r.clock().UTC()
	poa.Active = false
	poa.RevokedAt = &now
	poa.RevokeNote = reason

	if err := r.poas.UpdatePOA(ctx, poa); err != nil {
		return false, fmt.Errorf("%w: revoke poa: %v", core.ErrStorageFailure, err)
	}

	deleted, err := r.tokens.DeleteTokensForPOA(ctx, id)
	if err != nil {
		return false, fmt.Errorf("%w: cascade tokens: %v", core.ErrStorageFailure, err)
	}

	_, err = r.ledger.Append(ctx, audit.AppendRequest{
		POAID:      poa.ID,
		ActionType: audit.ActionPOARevoked,
		Decision:   audit.DecisionAllowed,
		Reasoning:  fmt.Sprintf("POA revoked by %s: %s", revokerID, reason),
		RequestDetails: map[string]interface{}{
			"revoker_id":     revokerID,
			"reason":         reason,
			"tokens_deleted": deleted,
		},
	})
	if err != nil {
		// The revocation stands even without its ledger record: the tokens are
		// already gone, and reinstating the delegation would widen the agent's
		// authority on a storage fault.
		slog.Error("POA revoked but ledger append failed", "poa_id", poa.ID, "error", err)
		return false, err
	}

	slog.Info("POA revoked", "poa_id", poa.ID, "revoker", revokerID, "tokens_deleted", deleted)
	return true, nil
}
