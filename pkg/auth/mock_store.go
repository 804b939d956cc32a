package auth

import "sync"

// MockStore is an in-memory SecretStore for testing
type MockStore struct {
	mu      sync.Mutex
	secrets map[string]string

	// GetErr, when set, is returned by every Get call
	GetErr error
}

// NewMockStore creates an empty in-memory store
func NewMockStore() *MockStore {
	return &MockStore{secrets: make(map[string]string)}
}

// Get retrieves a secret
func (m *MockStore) Get(name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return "", m.GetErr
	}
	value, ok := m.secrets[name]
	if !ok {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// Set stores a secret
func (m *MockStore) Set(name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[name] = value
	return nil
}

// Delete removes a secret
func (m *MockStore) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[name]; !ok {
		return ErrSecretNotFound
	}
	delete(m.secrets, name)
	return nil
}
