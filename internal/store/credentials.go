package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealer encrypts secrets at rest with XChaCha20-Poly1305. The key lives in
// a 0600 file next to the database; values are stored as nonce||ciphertext.
type sealer struct {
	key []byte
}

// newSealer loads the key at keyPath, creating it on first use. An empty
// keyPath yields an ephemeral random key.
func newSealer(keyPath string) (*sealer, error) {
	key := make([]byte, chacha20poly1305.KeySize)

	if keyPath == "" {
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating ephemeral key: %w", err)
		}
		return &sealer{key: key}, nil
	}

	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(data) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("credential key %s has wrong size %d", keyPath, len(data))
		}
		return &sealer{key: data}, nil
	case os.IsNotExist(err):
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating credential key: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating key directory: %w", err)
		}
		if err := os.WriteFile(keyPath, key, 0o600); err != nil {
			return nil, fmt.Errorf("writing credential key: %w", err)
		}
		return &sealer{key: key}, nil
	default:
		return nil, fmt.Errorf("reading credential key %s: %w", keyPath, err)
	}
}

func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *sealer) open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("sealed value too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

// SetCredential stores a named secret (API key, per-source token), sealed
// at rest.
func (s *Store) SetCredential(ctx context.Context, name, value string) error {
	sealed, err := s.sealer.seal([]byte(value))
	if err != nil {
		return fmt.Errorf("sealing credential %s: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO credentials (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value",
		name, sealed)
	if err != nil {
		return persistErr(err, "writing credential %s", name)
	}
	return nil
}

// Credential returns a named secret and whether it was present.
func (s *Store) Credential(ctx context.Context, name string) (string, bool, error) {
	var sealed []byte
	err := s.db.GetContext(ctx, &sealed, "SELECT value FROM credentials WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, persistErr(err, "reading credential %s", name)
	}
	opened, err := s.sealer.open(sealed)
	if err != nil {
		return "", false, fmt.Errorf("opening credential %s: %w", name, err)
	}
	return string(opened), true, nil
}

// DeleteCredential removes a named secret.
func (s *Store) DeleteCredential(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE name = ?", name); err != nil {
		return persistErr(err, "deleting credential %s", name)
	}
	return nil
}
