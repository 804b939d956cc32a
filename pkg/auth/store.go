// Package auth resolves secrets the configuration files leave blank: the
// vision API key and per-account passwords can live in the system keychain
// instead of plaintext YAML.
package auth

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "igfilter"

	// VisionKeyName is the keychain entry holding the vision API key
	VisionKeyName = "vision_api_key"

	passwordPrefix = "password_"
)

var (
	// ErrSecretNotFound indicates no entry exists for the requested name
	ErrSecretNotFound = errors.New("secret not found")

	// ErrStoreUnavailable indicates the system keychain cannot be used
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// SecretStore is a named-secret backend
type SecretStore interface {
	Get(name string) (string, error)
	Set(name, value string) error
	Delete(name string) error
}

// KeyringStore implements SecretStore using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a keychain-backed store, probing availability
// first so callers can fall back cleanly on headless systems.
func NewKeyringStore() (*KeyringStore, error) {
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Get retrieves a secret from the keychain
func (k *KeyringStore) Get(name string) (string, error) {
	value, err := keyring.Get(keyringService, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("failed to read from keyring: %w", err)
	}
	return value, nil
}

// Set stores a secret in the keychain
func (k *KeyringStore) Set(name, value string) error {
	if name == "" || value == "" {
		return errors.New("secret name and value are required")
	}
	if err := keyring.Set(keyringService, name, value); err != nil {
		return fmt.Errorf("failed to write to keyring: %w", err)
	}
	return nil
}

// Delete removes a secret from the keychain
func (k *KeyringStore) Delete(name string) error {
	if err := keyring.Delete(keyringService, name); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrSecretNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}

// PasswordName returns the keychain entry name for an account's password
func PasswordName(username string) string {
	return passwordPrefix + username
}
