// Package breakglass implements the escalation protocol that fires when an
// agent pushes past its POA limits: a PENDING event that a Trusted Advocate
// resolves with an OTP (and, above the liveness threshold, a face or voice
// check) inside a one-hour window.
package breakglass

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

// Statuses. PENDING is the only non-terminal state.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusDenied   = "DENIED"
	StatusExpired  = "EXPIRED"
)

// Trigger reasons.
const (
	TriggerSpendLimit = "SPEND_LIMIT_EXCEEDED"
	TriggerScope      = "SCOPE_VIOLATION"
	TriggerHighRisk   = "HIGH_RISK_TX"
)

// Verification modes.
const (
	ModeOTP         = "OTP"
	ModeOTPLiveness = "OTP+LIVENESS"
)

// Liveness methods.
const (
	MethodFace  = "face"
	MethodVoice = "voice"
)

// EventTTL is how long an advocate has to resolve an escalation.
const EventTTL = time.Hour

// Event is one break-glass escalation. The OTP is stored hash-only.
type Event struct {
	ID           string                 `json:"id"`
	AuditEntryID int64                  `json:"audit_entry_id"`
	POAID        string                 `json:"poa_id"`
	Trigger      string                 `json:"trigger"`
	Details      map[string]interface{} `json:"trigger_details"`
	Status       string                 `json:"status"`
	AdvocateID   string                 `json:"advocate_id"`
	Mode         string                 `json:"verification_mode"`

	OTPHash       string     `json:"-"`
	OTPSentAt     time.Time  `json:"otp_sent_at"`
	OTPVerifiedAt *time.Time `json:"otp_verified_at,omitempty"`

	LivenessRequired   bool                   `json:"liveness_required"`
	LivenessVerified   bool                   `json:"liveness_verified"`
	LivenessVerifiedAt *time.Time             `json:"liveness_verified_at,omitempty"`
	LivenessData       map[string]interface{} `json:"liveness_data,omitempty"`

	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	DeniedAt   *time.Time `json:"denied_at,omitempty"`
	DeniedBy   string     `json:"denied_by,omitempty"`
	DenyReason string     `json:"denial_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Terminal reports whether the event has reached a final status.
func (e *Event) Terminal() bool {
	return e.Status != StatusPending
}

// ExpiredAt reports whether the resolution window has closed.
func (e *Event) ExpiredAt(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Store persists break-glass events.
type Store interface {
	SaveEvent(ctx context.Context, e *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	UpdateEvent(ctx context.Context, e *Event) error
	ListPending(ctx context.Context) ([]*Event, error)
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*Event
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*Event)}
}

func (s *MemoryStore) SaveEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) UpdateEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; !ok {
		return core.ErrNotFound
	}
	cp := *e
	s.events[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events {
		if e.Status == StatusPending {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
