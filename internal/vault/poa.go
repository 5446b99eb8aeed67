// Package vault manages Smart Powers of Attorney and the encrypted tokens
// they own. A Smart POA is a granular, time-limited grant: "agent may pay
// AT&T, up to $100, for 30 days" instead of "agent may do everything
// forever".
package vault

import (
	"time"
)

// POA is a Smart Power of Attorney. spend_limit and scope are immutable
// after creation; revocation is one-way.
type POA struct {
	ID          string     `json:"id"`
	PrincipalID string     `json:"principal_id"`
	AgentID     string     `json:"agent_id"`
	Scope       string     `json:"scope"`
	Services    []string   `json:"allowed_services,omitempty"`
	SpendLimit  float64    `json:"spend_limit"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Active      bool       `json:"active"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	RevokeNote  string     `json:"revocation_reason,omitempty"`
	CreatorID   string     `json:"creator_id,omitempty"`
}

// Valid reports whether the POA can authorize anything at the given time.
func (p *POA) Valid(now time.Time) bool {
	return p.Active && p.RevokedAt == nil && now.Before(p.ExpiresAt)
}

// InScope reports whether a service is covered. An empty allowed_services
// list means every service within the scope is covered.
func (p *POA) InScope(serviceName string) bool {
	if len(p.Services) == 0 {
		return true
	}
	for _, s := range p.Services {
		if s == serviceName {
			return true
		}
	}
	return false
}

// WithinLimit reports whether an amount fits the spend limit.
func (p *POA) WithinLimit(amount float64) bool {
	return amount <= p.SpendLimit
}

// EncryptedToken is a delegated credential owned by a POA. Only ciphertext
// is ever stored.
type EncryptedToken struct {
	ID          string     `json:"id"`
	POAID       string     `json:"poa_id"`
	ServiceName string     `json:"service_name"`
	Kind        string     `json:"kind"` // access or refresh
	Ciphertext  string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}

// Expired reports whether the token itself (not its POA) has lapsed.
func (tk *EncryptedToken) Expired(now time.Time) bool {
	return tk.ExpiresAt != nil && now.After(*tk.ExpiresAt)
}
