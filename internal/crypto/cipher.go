package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

// Cipher wraps AES-256-GCM for token storage. The output format is
// base64(nonce || ciphertext); the nonce is generated fresh per call.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != derivedKeyLen {
		return nil, fmt.Errorf("%w: cipher key must be %d bytes, got %d", core.ErrCryptoFailure, derivedKeyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCryptoFailure, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCryptoFailure, err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns the encoded ciphertext.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", core.ErrCryptoFailure, err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an encoded ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", core.ErrCryptoFailure, err)
	}
	if len(raw) < c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", core.ErrCryptoFailure)
	}
	nonce, ct := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", core.ErrCryptoFailure, err)
	}
	return plaintext, nil
}
