// Package crypto provides the primitives every other Aegis component leans
// on: AES-256-GCM token encryption, HMAC-SHA256 signatures over canonical
// JSON, and RFC 6238 time-based one-time codes for break-glass challenges.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
)

// Environment variables carrying key material. Secrets never live in the
// YAML config file.
const (
	EnvMasterKey  = "AEGIS_MASTER_KEY"
	EnvMACKey     = "AEGIS_MAC_KEY"
	EnvTOTPSecret = "AEGIS_TOTP_SECRET"
)

const derivedKeyLen = 32

// KeySet holds the derived process-wide key material.
type KeySet struct {
	EncryptionKey []byte
	MACKey        []byte
	TOTPSecret    []byte
}

// LoadKeys derives the process key set from the environment. Each secret is
// stretched to 32 bytes through HKDF-SHA256 with a domain-separating info
// label, so operators can supply passphrases of any length.
//
// Missing secrets are a startup failure unless ephemeral mode is enabled,
// in which case random keys are generated. Ephemeral keys are for tests and
// local development only: nothing encrypted under them survives a restart.
func LoadKeys(ephemeral bool) (*KeySet, error) {
	master := os.Getenv(EnvMasterKey)
	mac := os.Getenv(EnvMACKey)
	totp := os.Getenv(EnvTOTPSecret)

	if master == "" || mac == "" || totp == "" {
		if !ephemeral {
			return nil, fmt.Errorf("%w: %s, %s and %s must be set (or ephemeral mode enabled)",
				core.ErrCryptoFailure, EnvMasterKey, EnvMACKey, EnvTOTPSecret)
		}
		return randomKeySet()
	}

	enc, err := deriveKey([]byte(master), "aegis/v1/token-encryption")
	if err != nil {
		return nil, err
	}
	macKey, err := deriveKey([]byte(mac), "aegis/v1/ledger-mac")
	if err != nil {
		return nil, err
	}
	totpKey, err := deriveKey([]byte(totp), "aegis/v1/totp")
	if err != nil {
		return nil, err
	}

	return &KeySet{EncryptionKey: enc, MACKey: macKey, TOTPSecret: totpKey}, nil
}

func deriveKey(secret []byte, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	key := make([]byte, derivedKeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("%w: hkdf expand: %v", core.ErrCryptoFailure, err)
	}
	return key, nil
}

func randomKeySet() (*KeySet, error) {
	ks := &KeySet{
		EncryptionKey: make([]byte, derivedKeyLen),
		MACKey:        make([]byte, derivedKeyLen),
		TOTPSecret:    make([]byte, derivedKeyLen),
	}
	for _, k := range [][]byte{ks.EncryptionKey, ks.MACKey, ks.TOTPSecret} {
		if _, err := rand.Read(k); err != nil {
			return nil, fmt.Errorf("%w: entropy source: %v", core.ErrCryptoFailure, err)
		}
	}
	return ks, nil
}
