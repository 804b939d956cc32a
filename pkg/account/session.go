package account

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"igfilter/pkg/logger"
)

// SessionVersion is bumped whenever the session schema changes; older blobs
// are treated as invalid and force a fresh login.
const SessionVersion = 1

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// ErrSessionInvalid is returned by Load when no valid session exists for an
// account: missing file, corrupt or unreadable blob, schema mismatch, or
// expiry. It is never a hard failure — the caller falls back to fresh login.
var ErrSessionInvalid = errors.New("no valid stored session")

// Session is the persisted authenticated state of one account. The shape is
// explicit and versioned rather than an opaque blob so a load can validate
// it instead of trusting untyped data.
type Session struct {
	Version   int       `json:"version"`
	AccountID string    `json:"account_id"`
	SessionID string    `json:"session_id"`
	CSRFToken string    `json:"csrf_token"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Valid reports whether the session can be reused for the given account.
// A zero ExpiresAt means the platform set no expiry.
func (s *Session) Valid(accountID string, now time.Time) bool {
	if s == nil || s.Version != SessionVersion || s.AccountID != accountID || s.SessionID == "" {
		return false
	}
	if !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
		return false
	}
	return true
}

// SessionStore persists one session blob per account under a directory.
// Writes go through a temp file and rename so a crash mid-save never leaves
// a partial file a later Load could misread as valid. When a passphrase is
// configured the blobs are encrypted at rest.
type SessionStore struct {
	dir        string
	passphrase string
	logger     logger.Logger
}

// encryptedSession is the on-disk envelope for encrypted blobs
type encryptedSession struct {
	Salt      string `json:"salt"`
	Encrypted string `json:"encrypted"`
}

// NewSessionStore creates the store, making the directory if needed
func NewSessionStore(dir, passphrase string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return &SessionStore{
		dir:        dir,
		passphrase: passphrase,
		logger:     logger.GetLogger(),
	}, nil
}

func (s *SessionStore) path(accountID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("session_%s.json", accountID))
}

// Load reads the stored session for the account. Any problem with the blob
// yields ErrSessionInvalid so the caller can fall back to fresh login.
func (s *SessionStore) Load(accountID string) (*Session, error) {
	data, err := os.ReadFile(s.path(accountID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	if s.passphrase != "" {
		data, err = s.decrypt(data)
		if err != nil {
			s.logger.WarnWithFields("stored session is unreadable, ignoring", map[string]interface{}{
				"account": accountID,
				"error":   err.Error(),
			})
			return nil, ErrSessionInvalid
		}
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		s.logger.WarnWithFields("stored session is corrupt, ignoring", map[string]interface{}{
			"account": accountID,
			"error":   err.Error(),
		})
		return nil, ErrSessionInvalid
	}

	if !session.Valid(accountID, time.Now()) {
		return nil, ErrSessionInvalid
	}

	return &session, nil
}

// Save writes the session atomically
func (s *SessionStore) Save(session *Session) error {
	if session == nil || session.AccountID == "" {
		return errors.New("session has no account id")
	}
	session.Version = SessionVersion

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if s.passphrase != "" {
		data, err = s.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt session: %w", err)
		}
	}

	path := s.path(session.AccountID)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temporary session file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write session file: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync session file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close session file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	s.logger.DebugWithFields("session saved", map[string]interface{}{
		"account": session.AccountID,
	})

	return nil
}

// Delete removes the stored session for the account
func (s *SessionStore) Delete(accountID string) error {
	if err := os.Remove(s.path(accountID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}

	gcm, err := s.cipherFor(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)

	return json.Marshal(&encryptedSession{
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Encrypted: base64.StdEncoding.EncodeToString(sealed),
	})
}

func (s *SessionStore) decrypt(data []byte) ([]byte, error) {
	var envelope encryptedSession
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}

	salt, err := base64.StdEncoding.DecodeString(envelope.Salt)
	if err != nil {
		return nil, err
	}
	sealed, err := base64.StdEncoding.DecodeString(envelope.Encrypted)
	if err != nil {
		return nil, err
	}

	gcm, err := s.cipherFor(salt)
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (s *SessionStore) cipherFor(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(s.passphrase), salt, iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}
