package api

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/ingestor-io/ingestor/internal/api/middleware"
	"github.com/ingestor-io/ingestor/internal/config"
)

// KeyStore verifies API keys against bcrypt hashes seeded from the
// environment. The INGESTOR_API_KEYS variable holds comma-separated
// name:bcrypt-hash pairs; an empty variable disables authentication.
type KeyStore struct {
	hashes map[string]string
}

// KeyStore implements middleware.KeyVerifier.
var _ middleware.KeyVerifier = (*KeyStore)(nil)

// LoadKeyStore reads API key hashes from the environment. Returns nil when
// no keys are configured, which callers treat as auth disabled.
func LoadKeyStore() *KeyStore {
	raw := config.GetEnvStr("INGESTOR_API_KEYS", "")
	if raw == "" {
		return nil
	}

	hashes := make(map[string]string)

	for _, pair := range config.ParseCommaSeparatedList(raw) {
		name, hash, ok := strings.Cut(pair, ":")
		if !ok || name == "" || hash == "" {
			continue
		}

		hashes[name] = hash
	}

	if len(hashes) == 0 {
		return nil
	}

	return &KeyStore{hashes: hashes}
}

// Verify implements middleware.KeyVerifier. Every stored hash is compared so
// verification time does not depend on which caller the key belongs to.
func (s *KeyStore) Verify(_ context.Context, key string) (string, bool) {
	var (
		matched string
		found   bool
	)

	for name, hash := range s.hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
			matched = name
			found = true
		}
	}

	return matched, found
}

// HashKey produces a bcrypt hash suitable for INGESTOR_API_KEYS. Used by
// operators when provisioning keys.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}
