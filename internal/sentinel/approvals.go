package sentinel

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

// PendingApproval is a transaction the governor held for advocate review.
// Card authorizations that escalate are terminal (the network already got a
// DECLINED); the approval record is what the advocate sees and clears.
type PendingApproval struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Amount     float64   `json:"amount"`
	Category   string    `json:"category"`
	Merchant   string    `json:"merchant"`
	RiskLevel  string    `json:"risk_level"`
	RiskScore  int       `json:"risk_score"`
	Reasoning  string    `json:"reasoning"`
	Resolved   bool      `json:"resolved"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ApprovalStore persists pending approvals.
type ApprovalStore interface {
	SaveApproval(ctx context.Context, a *PendingApproval) error
	ListOpenApprovals(ctx context.Context, userID string) ([]*PendingApproval, error)
	ResolveApproval(ctx context.Context, id, resolvedBy string) error
}

// NewApproval builds a PendingApproval with a fresh ID and timestamp.
func NewApproval(userID string) *PendingApproval {
	return &PendingApproval{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
}

// MemoryApprovalStore is an in-memory ApprovalStore.
type MemoryApprovalStore struct {
	mu        sync.RWMutex
	approvals map[string]*PendingApproval
}

// NewMemoryApprovalStore creates an empty store.
func NewMemoryApprovalStore() *MemoryApprovalStore {
	return &MemoryApprovalStore{approvals: make(map[string]*PendingApproval)}
}

func (s *MemoryApprovalStore) SaveApproval(_ context.Context, a *PendingApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.approvals[cp.ID] = &cp
	return nil
}

func (s *MemoryApprovalStore) ListOpenApprovals(_ context.Context, userID string) ([]*PendingApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*PendingApproval
	for _, a := range s.approvals {
		if a.Resolved {
			continue
		}
		if userID != "" && a.UserID != userID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryApprovalStore) ResolveApproval(_ context.Context, id, resolvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.approvals[id]
	if !ok {
		return core.ErrNotFound
	}
	a.Resolved = true
	a.ResolvedBy = resolvedBy
	return nil
}
