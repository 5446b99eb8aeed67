package vault

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/crypto"
)

// Token kinds.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// TokenVault stores delegated credentials encrypted at rest. Plaintext is
// never persisted and never logged.
type TokenVault struct {
	cipher *crypto.Cipher
	tokens TokenStore
	poas   POAStore
	clock  func() time.Time
}

// NewTokenVault builds a TokenVault.
func NewTokenVault(cipher *crypto.Cipher, tokens TokenStore, poas POAStore) *TokenVault {
	return &TokenVault{cipher: cipher, tokens: tokens, poas: poas, clock: time.Now}
}

// SetClock overrides the time source. Tests only.
func (v *TokenVault) SetClock(clock func() time.Time) {
	v.clock = clock
}

// Store encrypts and persists a credential under a valid POA. A zero ttl
// means the token does not expire on its own.
func (v *TokenVault) Store(ctx context.Context, poaID, serviceName, plaintext, kind string, ttl time.Duration) (*EncryptedToken, error) {
	if plaintext == "" {
		return nil, fmt.Errorf("%w: empty token", core.ErrInvalidArgument)
	}
	if kind != TokenKindAccess && kind != TokenKindRefresh {
		return nil, fmt.Errorf("%w: unknown token kind %q", core.ErrInvalidArgument, kind)
	}

	poa, err := v.poas.GetPOA(ctx, poaID)
	if err != nil {
		return nil, err
	}
	now := v.clock().UTC()
	if !poa.Valid(now) {
		return nil, fmt.Errorf("%w: POA %s is not valid", core.ErrPolicyViolation, poaID)
	}

	ciphertext, err := v.cipher.Encrypt([]byte(plaintext))
	if err != nil {
		return nil, err
	}

	tk := &EncryptedToken{
		ID:          uuid.NewString(),
		POAID:       poaID,
		ServiceName: serviceName,
		Kind:        kind,
		Ciphertext:  ciphertext,
		CreatedAt:   now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		tk.ExpiresAt = &exp
	}

	if err := v.tokens.SaveToken(ctx, tk); err != nil {
		return nil, fmt.Errorf("%w: save token: %v", core.ErrStorageFailure, err)
	}

	slog.Info("token stored", "token_id", tk.ID, "poa_id", poaID, "service", serviceName, "kind", kind)
	return tk, nil
}

// Reveal decrypts a stored credential. It returns ErrNotFound when the
// token is absent and ErrPolicyViolation when the token has expired or the
// owning POA is no longer valid. On success last_used_at is updated.
func (v *TokenVault) Reveal(ctx context.Context, tokenID string) (string, error) {
	tk, err := v.tokens.GetToken(ctx, tokenID)
	if err != nil {
		return "", err
	}

	now := v.clock().UTC()
	if tk.Expired(now) {
		return "", fmt.Errorf("%w: token expired", core.ErrPolicyViolation)
	}

	poa, err := v.poas.GetPOA(ctx, tk.POAID)
	if err != nil {
		return "", err
	}
	if !poa.Valid(now) {
		return "", fmt.Errorf("%w: owning POA is not valid", core.ErrPolicyViolation)
	}

	plaintext, err := v.cipher.Decrypt(tk.Ciphertext)
	if err != nil {
		return "", err
	}

	tk.LastUsedAt = &now
	if err := v.tokens.UpdateToken(ctx, tk); err != nil {
		return "", fmt.Errorf("%w: touch token: %v", core.ErrStorageFailure, err)
	}

	slog.Info("token revealed", "token_id", tk.ID, "poa_id", tk.POAID, "service", tk.ServiceName)
	return string(plaintext), nil
}
