package audit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/crypto"
)

// Ledger signs and appends entries through a Store. Appends for the same
// POA are serialized by a per-POA lock so entry IDs and timestamps are
// monotonic within a POA; distinct POAs append in parallel.
type Ledger struct {
	signer *crypto.Signer
	store  Store
	clock  func() time.Time

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	lastTS map[string]time.Time

	logger *log.Logger
}

// AppendRequest carries the loggable facts of one decision.
type AppendRequest struct {
	POAID          string
	ActionType     string
	ServiceName    string
	Amount         float64
	Decision       string
	Reasoning      string
	RequestDetails map[string]interface{}
}

// NewLedger creates a ledger over the given signer and store.
func NewLedger(signer *crypto.Signer, store Store) *Ledger {
	return &Ledger{
		signer: signer,
		store:  store,
		clock:  time.Now,
		locks:  make(map[string]*sync.Mutex),
		lastTS: make(map[string]time.Time),
		logger: log.New(log.Writer(), "[Ledger] ", log.LstdFlags),
	}
}

// SetClock overrides the time source. Tests only.
func (l *Ledger) SetClock(clock func() time.Time) {
	l.clock = clock
}

func (l *Ledger) lockFor(poaID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[poaID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[poaID] = m
	}
	return m
}

// Append signs and persists a new entry. The signature covers the canonical
// view of the entry; persistence is atomic. Callers treat an error as a
// storage failure and fail closed.
func (l *Ledger) Append(ctx context.Context, req AppendRequest) (*Entry, error) {
	if req.POAID == "" || req.ActionType == "" || req.Decision == "" {
		return nil, fmt.Errorf("%w: poa_id, action_type and decision are required", core.ErrInvalidArgument)
	}

	lock := l.lockFor(req.POAID)
	lock.Lock()
	defer lock.Unlock()

	ts := l.clock().UTC()
	l.mu.Lock()
	if last, ok := l.lastTS[req.POAID]; ok && !ts.After(last) {
		ts = last.Add(time.Nanosecond)
	}
	l.lastTS[req.POAID] = ts
	l.mu.Unlock()

	details := req.RequestDetails
	if details == nil {
		details = map[string]interface{}{}
	}

	entry := &Entry{
		POAID:          req.POAID,
		ActionType:     req.ActionType,
		Timestamp:      ts,
		RequestDetails: details,
		ServiceName:    req.ServiceName,
		Amount:         req.Amount,
		Decision:       req.Decision,
		Reasoning:      req.Reasoning,
	}

	sig, err := l.signer.SignCanonical(viewOf(entry))
	if err != nil {
		return nil, err
	}
	entry.Signature = sig

	if _, err := l.store.AppendEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: append: %v", core.ErrStorageFailure, err)
	}

	l.logger.Printf("Appended entry %d (poa=%s, action=%s, decision=%s)",
		entry.ID, entry.POAID, entry.ActionType, entry.Decision)
	return entry, nil
}

// Verify recomputes the signature of a persisted entry and compares.
func (l *Ledger) Verify(ctx context.Context, id int64) (bool, error) {
	entry, err := l.store.GetEntry(ctx, id)
	if err != nil {
		return false, err
	}
	return l.signer.VerifyCanonical(viewOf(entry), entry.Signature)
}

// Get fetches a single entry.
func (l *Ledger) Get(ctx context.Context, id int64) (*Entry, error) {
	return l.store.GetEntry(ctx, id)
}

// List returns entries matching the filter, ordered by ID.
func (l *Ledger) List(ctx context.Context, f Filter) ([]*Entry, error) {
	return l.store.ListEntries(ctx, f)
}

// MarkAdvocateNotified flips the one mutable flag on an entry and appends a
// successor entry recording who was notified and when.
func (l *Ledger) MarkAdvocateNotified(ctx context.Context, entryID int64, advocateID string) error {
	entry, err := l.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}

	now := l.clock().UTC()
	if err := l.store.SetAdvocateNotified(ctx, entryID, now); err != nil {
		return fmt.Errorf("%w: mark notified: %v", core.ErrStorageFailure, err)
	}

	_, err = l.Append(ctx, AppendRequest{
		POAID:      entry.POAID,
		ActionType: ActionAdvocateNotified,
		Decision:   DecisionAllowed,
		Reasoning:  fmt.Sprintf("Trusted Advocate %s notified for entry %d", advocateID, entryID),
		RequestDetails: map[string]interface{}{
			"entry_id":    entryID,
			"advocate_id": advocateID,
		},
	})
	return err
}
