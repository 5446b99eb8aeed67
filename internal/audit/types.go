// Package audit implements the fiduciary ledger: an append-only sequence of
// signed entries recording every decision the gateway makes on behalf of a
// principal. Entries are immutable once appended except for the single
// advocate_notified flag, whose flip is itself logged as a successor entry.
package audit

import (
	"context"
	"time"
)

// Decisions recorded on ledger entries.
const (
	DecisionAllowed    = "ALLOWED"
	DecisionBlocked    = "BLOCKED"
	DecisionBreakGlass = "BREAK_GLASS"
)

// Well-known action types.
const (
	ActionPOACreated        = "POA_CREATED"
	ActionPOARevoked        = "POA_REVOKED"
	ActionPOAInvalid        = "POA_INVALID"
	ActionScopeViolation    = "SCOPE_VIOLATION"
	ActionSpendLimit        = "SPEND_LIMIT_EXCEEDED"
	ActionTokenUse          = "TOKEN_USE"
	ActionCardAuthorization = "CARD_AUTHORIZATION"
	ActionAdvocateNotified  = "ADVOCATE_NOTIFIED"
	ActionBreakGlassClose   = "BREAK_GLASS_RESOLVED"
)

// Entry is a single signed ledger record. IDs are assigned by the store and
// increase monotonically; within a POA, entries are totally ordered.
type Entry struct {
	ID             int64                  `json:"id"`
	POAID          string                 `json:"poa_id"`
	ActionType     string                 `json:"action_type"`
	Timestamp      time.Time              `json:"timestamp"`
	RequestDetails map[string]interface{} `json:"request_details"`
	ServiceName    string                 `json:"service_name,omitempty"`
	Amount         float64                `json:"amount,omitempty"`
	Decision       string                 `json:"decision"`
	Reasoning      string                 `json:"reasoning"`
	Signature      string                 `json:"signature"`

	AdvocateNotified   bool       `json:"advocate_notified"`
	AdvocateNotifiedAt *time.Time `json:"advocate_notified_at,omitempty"`
}

// Filter narrows List queries. Zero values mean "any".
type Filter struct {
	POAID      string
	ActionType string
	Decision   string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Store persists ledger entries. AppendEntry assigns the entry ID and must
// be atomic: a failed append leaves no partial record.
type Store interface {
	AppendEntry(ctx context.Context, e *Entry) (int64, error)
	GetEntry(ctx context.Context, id int64) (*Entry, error)
	ListEntries(ctx context.Context, f Filter) ([]*Entry, error)
	SetAdvocateNotified(ctx context.Context, id int64, at time.Time) error
}

// signableView is the canonical projection covered by an entry's MAC.
// The advocate_notified flag and the store-assigned ID are outside it, so
// flipping the flag later cannot invalidate the signature.
type signableView struct {
	POAID          string                 `json:"poa_id"`
	ActionType     string                 `json:"action_type"`
	Timestamp      string                 `json:"timestamp"`
	Decision       string                 `json:"decision"`
	Reasoning      string                 `json:"reasoning"`
	RequestDetails map[string]interface{} `json:"request_details"`
}

func viewOf(e *Entry) signableView {
	return signableView{
		POAID:          e.POAID,
		ActionType:     e.ActionType,
		Timestamp:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		Decision:       e.Decision,
		Reasoning:      e.Reasoning,
		RequestDetails: e.RequestDetails,
	}
}
