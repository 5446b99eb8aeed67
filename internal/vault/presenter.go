package vault

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/crypto"
)

// Presentation records that a POA credential was shown to an institution,
// with a verification code the recipient can later confirm.
type Presentation struct {
	ID         string     `json:"id"`
	POAID      string     `json:"poa_id"`
	To         string     `json:"presented_to"`
	Method     string     `json:"presentation_method"` // API, EMAIL
	Code       string     `json:"verification_code"`
	Verified   bool       `json:"verified_by_recipient"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"presented_at"`
}

// PresentationStore persists presentation records.
type PresentationStore interface {
	SavePresentation(ctx context.Context, p *Presentation) error
	GetPresentationByCode(ctx context.Context, code string) (*Presentation, error)
	ListPresentations(ctx context.Context, poaID string) ([]*Presentation, error)
	UpdatePresentation(ctx context.Context, p *Presentation) error
}

// Presenter issues and confirms presentation records. Codes are derived
// from a MAC over the POA id and the presentation time, so a recipient can
// phone in the code and have it checked without any shared database.
type Presenter struct {
	signer *crypto.Signer
	poas   POAStore
	store  PresentationStore
	clock  func() time.Time
}

// NewPresenter builds a Presenter.
func NewPresenter(signer *crypto.Signer, poas POAStore, store PresentationStore) *Presenter {
	return &Presenter{signer: signer, poas: poas, store: store, clock: time.Now}
}

// SetClock overrides the time source. Tests only.
func (p *Presenter) SetClock(clock func() time.Time) {
	p.clock = clock
}

// Present records that a valid POA was presented to a recipient and
// returns the record with its verification code.
func (p *Presenter) Present(ctx context.Context, poaID, to, method string) (*Presentation, error) {
	if to == "" {
		return nil, fmt.Errorf("%w: recipient is required", core.ErrInvalidArgument)
	}

	poa, err := p.poas.GetPOA(ctx, poaID)
	if err != nil {
		return nil, err
	}
	now := p.clock().UTC()
	if !poa.Valid(now) {
		return nil, fmt.Errorf("%w: POA %s is not valid", core.ErrPolicyViolation, poaID)
	}

	mac := p.signer.Sign([]byte(fmt.Sprintf("%s|%d", poaID, now.UnixNano())))
	rec := &Presentation{
		ID:        uuid.NewString(),
		POAID:     poaID,
		To:        to,
		Method:    method,
		Code:      mac[:16],
		CreatedAt: now,
	}

	if err := p.store.SavePresentation(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: save presentation: %v", core.ErrStorageFailure, err)
	}
	return rec, nil
}

// Confirm marks a presentation as verified by its recipient, looked up by
// verification code.
func (p *Presenter) Confirm(ctx context.Context, code string) (*Presentation, error) {
	rec, err := p.store.GetPresentationByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if rec.Verified {
		return rec, nil
	}
	now := p.clock().UTC()
	rec.Verified = true
	rec.VerifiedAt = &now
	if err := p.store.UpdatePresentation(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: confirm presentation: %v", core.ErrStorageFailure, err)
	}
	return rec, nil
}

// List returns a POA's presentation history.
func (p *Presenter) List(ctx context.Context, poaID string) ([]*Presentation, error) {
	return p.store.ListPresentations(ctx, poaID)
}

// MemoryPresentationStore is an in-memory PresentationStore.
type MemoryPresentationStore struct {
	mu   sync.RWMutex
	recs map[string]*Presentation
}

// NewMemoryPresentationStore creates an empty store.
func NewMemoryPresentationStore() *MemoryPresentationStore {
	return &MemoryPresentationStore{recs: make(map[string]*Presentation)}
}

func (s *MemoryPresentationStore) SavePresentation(_ context.Context, p *Presentation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.recs[cp.ID] = &cp
	return nil
}

func (s *MemoryPresentationStore) GetPresentationByCode(_ context.Context, code string) (*Presentation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.recs {
		if rec.Code == code {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *MemoryPresentationStore) ListPresentations(_ context.Context, poaID string) ([]*Presentation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Presentation
	for _, rec := range s.recs {
		if rec.POAID == poaID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryPresentationStore) UpdatePresentation(_ context.Context, p *Presentation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[p.ID]; !ok {
		return core.ErrNotFound
	}
	cp := *p
	s.recs[cp.ID] = &cp
	return nil
}
