package cardauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/circuitbreaker"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

// Binding ties an issued card token to the principal and POA it draws on.
type Binding struct {
	PrincipalID string `json:"principal_id"`
	POAID       string `json:"poa_id"`
}

// BindingResolver looks up the binding for a card token.
type BindingResolver interface {
	Resolve(ctx context.Context, cardToken string) (*Binding, error)
}

// StaticBindings is an in-memory BindingResolver seeded from config.
type StaticBindings struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewStaticBindings builds a resolver over a fixed table. The map may be nil.
func NewStaticBindings(table map[string]Binding) *StaticBindings {
	b := &StaticBindings{bindings: make(map[string]Binding, len(table))}
	for k, v := range table {
		b.bindings[k] = v
	}
	return b
}

// Bind adds or replaces a binding.
func (b *StaticBindings) Bind(cardToken string, binding Binding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[cardToken] = binding
}

func (b *StaticBindings) Resolve(_ context.Context, cardToken string) (*Binding, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	binding, ok := b.bindings[cardToken]
	if !ok {
		return nil, fmt.Errorf("%w: card token not bound", core.ErrNotFound)
	}
	cp := binding
	return &cp, nil
}

const bindingCacheTTL = 5 * time.Minute

// CachedBindings layers a Redis cache over another resolver so the hot path
// stays inside the authorization deadline when the backing store is remote.
// A circuit breaker skips the cache entirely while Redis is down; cache
// faults always fall through to the inner resolver.
type CachedBindings struct {
	inner   BindingResolver
	client  *redis.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewCachedBindings wraps inner with a Redis-backed cache.
func NewCachedBindings(inner BindingResolver, client *redis.Client) *CachedBindings {
	return &CachedBindings{
		inner:   inner,
		client:  client,
		breaker: circuitbreaker.New("card-binding-cache", 3, 15*time.Second),
		logger:  slog.With("component", "cardauth-bindings"),
	}
}

func (c *CachedBindings) key(cardToken string) string {
	return "aegis:card-binding:" + cardToken
}

func (c *CachedBindings) Resolve(ctx context.Context, cardToken string) (*Binding, error) {
	var cached *Binding
	err := c.breaker.Do(func() error {
		raw, err := c.client.Get(ctx, c.key(cardToken)).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		var b Binding
		if err := json.Unmarshal([]byte(raw), &b); err == nil {
			cached = &b
		}
		return nil
	})
	if err != nil && err != circuitbreaker.ErrOpen {
		c.logger.Warn("binding cache read failed", "error", err)
	}
	if cached != nil {
		return cached, nil
	}

	b, err := c.inner.Resolve(ctx, cardToken)
	if err != nil {
		return nil, err
	}

	writeErr := c.breaker.Do(func() error {
		raw, err := json.Marshal(b)
		if err != nil {
			return err
		}
		return c.client.Set(ctx, c.key(cardToken), raw, bindingCacheTTL).Err()
	})
	if writeErr != nil && writeErr != circuitbreaker.ErrOpen {
		c.logger.Warn("binding cache write failed", "error", writeErr)
	}
	return b, nil
}

// Invalidate drops a cached binding, e.g. after a POA revocation.
func (c *CachedBindings) Invalidate(ctx context.Context, cardToken string) {
	err := c.breaker.Do(func() error {
		return c.client.Del(ctx, c.key(cardToken)).Err()
	})
	if err != nil && err != circuitbreaker.ErrOpen {
		c.logger.Warn("binding cache invalidate failed", "error", err)
	}
}
