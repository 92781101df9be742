package credential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/mixelka/maildash/internal/database"
)

// SecretStore persists encrypted secrets
type SecretStore interface {
	GetSecret(ctx context.Context, key string) (string, error)
	PutSecret(ctx context.Context, key, secret string) error
}

// VaultBackend stores AES-256-GCM encrypted secrets in the database
type VaultBackend struct {
	store SecretStore
	key   []byte
}

// NewVaultBackend creates a vault backend. key must be 32 bytes.
func NewVaultBackend(store SecretStore, key string) (*VaultBackend, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be exactly 32 bytes, got %d", len(key))
	}
	return &VaultBackend{store: store, key: []byte(key)}, nil
}

// Get decrypts the secret stored under key
func (v *VaultBackend) Get(ctx context.Context, key string) (string, error) {
	encrypted, err := v.store.GetSecret(ctx, key)
	if errors.Is(err, database.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v.decrypt(encrypted)
}

// Set encrypts and stores value under key
func (v *VaultBackend) Set(ctx context.Context, key, value string) error {
	encrypted, err := v.encrypt(value)
	if err != nil {
		return err
	}
	return v.store.PutSecret(ctx, key, encrypted)
}

func (v *VaultBackend) encrypt(plain string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (v *VaultBackend) decrypt(encrypted string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decode: %w", err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
