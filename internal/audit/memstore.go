package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

// MemoryStore is an in-memory Store for tests and ephemeral deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int64]*Entry
	nextID  int64

	// failAppends forces append errors, for fail-closed tests.
	failAppends bool
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int64]*Entry)}
}

// FailAppends toggles simulated storage failure on append.
func (s *MemoryStore) FailAppends(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAppends = fail
}

func (s *MemoryStore) AppendEntry(_ context.Context, e *Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAppends {
		return 0, core.ErrStorageFailure
	}

	s.nextID++
	e.ID = s.nextID

	cp := *e
	s.entries[cp.ID] = &cp
	return cp.ID, nil
}

func (s *MemoryStore) GetEntry(_ context.Context, id int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ListEntries(_ context.Context, f Filter) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	for _, e := range s.entries {
		if f.POAID != "" && e.POAID != f.POAID {
			continue
		}
		if f.ActionType != "" && e.ActionType != f.ActionType {
			continue
		}
		if f.Decision != "" && e.Decision != f.Decision {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) SetAdvocateNotified(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return core.ErrNotFound
	}
	e.AdvocateNotified = true
	t := at
	e.AdvocateNotifiedAt = &t
	return nil
}
