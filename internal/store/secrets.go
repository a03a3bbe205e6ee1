package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Secrets is the repository for at-rest-encrypted secret values (spec.md
// §3.2 "Secret", §6.3 "secrets category"). Values are encrypted with
// AES-256-GCM under a key derived from a caller-supplied passphrase (in
// practice a machine identifier) via PBKDF2, so the raw database file
// alone never discloses secret contents.
type Secrets struct{ s *Store }

func (s *Store) Secrets() *Secrets { return &Secrets{s} }

const (
	pbkdf2Iterations = 200_000
	aesKeyBytes      = 32
)

// deriveKey stretches passphrase into an AES-256 key. salt ties the key
// to this database instance so the same passphrase on two machines does
// not yield interchangeable ciphertexts.
func deriveKey(passphrase, salt string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte(salt), pbkdf2Iterations, aesKeyBytes, sha256.New)
}

// Put encrypts value under passphrase and upserts it.
func (sec *Secrets) Put(name, category, passphrase, salt, value string) error {
	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("initializing cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("initializing gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(value), nil)

	_, err = sec.s.db.Exec(
		`INSERT INTO secrets (name, category, ciphertext) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET category = excluded.category, ciphertext = excluded.ciphertext`,
		name, category, ciphertext,
	)
	if err != nil {
		return err
	}
	sec.s.notify(Change{Entity: "secret", ID: name, Op: "update"})
	return nil
}

// Reveal decrypts a stored secret. Callers must supply the same
// passphrase/salt used to Put it; a mismatch fails GCM authentication
// rather than returning corrupted plaintext.
func (sec *Secrets) Reveal(name, passphrase, salt string) (string, error) {
	row := sec.s.db.QueryRow(`SELECT ciphertext FROM secrets WHERE name = ?`, name)
	var ciphertext []byte
	if err := row.Scan(&ciphertext); err != nil {
		if err == sql.ErrNoRows {
			return "", &NotFoundError{Entity: "secret", ID: name}
		}
		return "", err
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("initializing cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("initializing gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return "", fmt.Errorf("decrypting secret %q: ciphertext too short", name)
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting secret %q: %w", name, err)
	}
	return string(plaintext), nil
}

// List returns secret metadata without decrypting any value.
func (sec *Secrets) List(category string) ([]*Secret, error) {
	var rows *sql.Rows
	var err error
	if category == "" {
		rows, err = sec.s.db.Query(`SELECT name, category, created_at FROM secrets ORDER BY name`)
	} else {
		rows, err = sec.s.db.Query(`SELECT name, category, created_at FROM secrets WHERE category = ? ORDER BY name`, category)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Secret
	for rows.Next() {
		s := &Secret{}
		if err := rows.Scan(&s.Name, &s.Category, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Delete removes a secret.
func (sec *Secrets) Delete(name string) error {
	res, err := sec.s.db.Exec(`DELETE FROM secrets WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &NotFoundError{Entity: "secret", ID: name}
	}
	sec.s.notify(Change{Entity: "secret", ID: name, Op: "delete"})
	return nil
}
