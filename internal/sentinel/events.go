package sentinel

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types recorded as security evidence.
const (
	EventVoiceAnalysis     = "VOICE_ANALYSIS"
	EventTransactionReview = "TRANSACTION_REVIEW"
	EventCardAuthorization = "CARD_AUTHORIZATION"
)

// SecurityEvent is an evidence snapshot of one classifier run: the inputs
// it saw and the outcome it produced. Retained for advocate review.
type SecurityEvent struct {
	ID        string                 `json:"id"`
	EventType string                 `json:"event_type"`
	UserID    string                 `json:"user_id,omitempty"`
	RiskScore int                    `json:"risk_score"`
	Action    string                 `json:"action"`
	Reasoning string                 `json:"reasoning"`
	Amount    float64                `json:"amount,omitempty"`
	Category  string                 `json:"category,omitempty"`
	Merchant  string                 `json:"merchant,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// EventFilter narrows ListEvents. Zero values mean "any".
type EventFilter struct {
	EventType string
	UserID    string
	Limit     int
}

// EventStore persists security events.
type EventStore interface {
	SaveEvent(ctx context.Context, e *SecurityEvent) error
	ListEvents(ctx context.Context, f EventFilter) ([]*SecurityEvent, error)
}

// NewEvent builds a SecurityEvent with a fresh ID and timestamp.
func NewEvent(eventType, userID string) *SecurityEvent {
	return &SecurityEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
}

// MemoryEventStore is an in-memory EventStore.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events []*SecurityEvent
}

// NewMemoryEventStore creates an empty event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (s *MemoryEventStore) SaveEvent(_ context.Context, e *SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryEventStore) ListEvents(_ context.Context, f EventFilter) ([]*SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SecurityEvent
	for _, e := range s.events {
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}

	// Newest first, matching the advocate dashboard view.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
