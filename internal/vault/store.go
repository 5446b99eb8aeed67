package vault

import (
	"context"
	"sort"
	"sync"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

// POAStore persists Smart POAs.
type POAStore interface {
	SavePOA(ctx context.Context, p *POA) error
	GetPOA(ctx context.Context, id string) (*POA, error)
	ListPOAsByPrincipal(ctx context.Context, principalID string) ([]*POA, error)
	UpdatePOA(ctx context.Context, p *POA) error
	DeletePOA(ctx context.Context, id string) error
}

// TokenStore persists encrypted tokens.
type TokenStore interface {
	SaveToken(ctx context.Context, tk *EncryptedToken) error
	GetToken(ctx context.Context, id string) (*EncryptedToken, error)
	UpdateToken(ctx context.Context, tk *EncryptedToken) error
	DeleteTokensForPOA(ctx context.Context, poaID string) (int, error)
}

// MemoryStore implements POAStore and TokenStore in memory.
type MemoryStore struct {
	mu     sync.RWMutex
	poas   map[string]*POA
	tokens map[string]*EncryptedToken
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		poas:   make(map[string]*POA),
		tokens: make(map[string]*EncryptedToken),
	}
}

func (s *MemoryStore) SavePOA(_ context.Context, p *POA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.poas[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPOA(_ context.Context, id string) (*POA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.poas[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPOAsByPrincipal(_ context.Context, principalID string) ([]*POA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*POA
	for _, p := range s.poas {
		if p.PrincipalID == principalID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdatePOA(_ context.Context, p *POA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.poas[p.ID]; !ok {
		return core.ErrNotFound
	}
	cp := *p
	s.poas[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) DeletePOA(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.poas, id)
	return nil
}

func (s *MemoryStore) SaveToken(_ context.Context, tk *EncryptedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tk
	s.tokens[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) GetToken(_ context.Context, id string) (*EncryptedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tk, ok := s.tokens[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *tk
	return &cp, nil
}

func (s *MemoryStore) UpdateToken(_ context.Context, tk *EncryptedToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[tk.ID]; !ok {
		return core.ErrNotFound
	}
	cp := *tk
	s.tokens[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteTokensForPOA(_ context.Context, poaID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, tk := range s.tokens {
		if tk.POAID == poaID {
			delete(s.tokens, id)
			deleted++
		}
	}
	return deleted, nil
}
