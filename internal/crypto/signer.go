package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

// Signer produces and verifies HMAC-SHA256 signatures. Ledger entries are
// signed over an RFC 8785 canonicalized JSON view so that verification is
// independent of map iteration order and encoder whitespace.
type Signer struct {
	key []byte
}

// NewSigner builds a Signer from a MAC key.
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// Sign returns the hex-encoded MAC of data.
func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares an expected MAC in constant time.
func (s *Signer) Verify(data []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Canonicalize renders v as RFC 8785 canonical JSON.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", core.ErrCryptoFailure, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalize: %v", core.ErrCryptoFailure, err)
	}
	return canonical, nil
}

// SignCanonical canonicalizes v and signs the result.
func (s *Signer) SignCanonical(v interface{}) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return s.Sign(canonical), nil
}

// VerifyCanonical canonicalizes v and verifies the signature against it.
func (s *Signer) VerifyCanonical(v interface{}, signature string) (bool, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return false, err
	}
	return s.Verify(canonical, signature), nil
}
