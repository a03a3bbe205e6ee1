package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/steveyegge/gobby/internal/store"
)

// Secrets wraps store.Secrets with a fixed passphrase/salt pair derived
// once at daemon startup, so REST handlers (GET/POST/DELETE
// /api/config/secrets, spec.md §6.3) never have to thread a passphrase
// through the HTTP layer themselves. The daemon process is the trust
// boundary: anything with filesystem access to gobby.sqlite already has
// access to this same machine identity, so deriving the key from it adds
// no weaker link than the sqlite file's own permissions.
type Secrets struct {
	store      *store.Secrets
	passphrase string
	salt       string
}

// NewSecrets builds a config.Secrets bound to dbPath — the salt ties
// ciphertexts to this specific database file (store.Secrets' own
// comment), and the passphrase is a stable per-machine identifier so
// secrets survive a daemon restart without being re-entered.
func NewSecrets(s *store.Secrets, dbPath string) *Secrets {
	return &Secrets{store: s, passphrase: machinePassphrase(), salt: dbPath}
}

func machinePassphrase() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "gobby-default"
	}
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:])
}

// Put stores a named secret under the given category.
func (s *Secrets) Put(name, category, value string) error {
	return s.store.Put(name, category, s.passphrase, s.salt, value)
}

// Reveal decrypts a stored secret.
func (s *Secrets) Reveal(name string) (string, error) {
	return s.store.Reveal(name, s.passphrase, s.salt)
}

// List returns secret metadata (never values) for a category, or all
// categories when category is empty.
func (s *Secrets) List(category string) ([]*store.Secret, error) {
	return s.store.List(category)
}

// Delete removes a secret.
func (s *Secrets) Delete(name string) error {
	return s.store.Delete(name)
}
