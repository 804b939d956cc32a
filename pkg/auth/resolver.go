package auth

import (
	"errors"
	"fmt"

	"igfilter/pkg/config"
	"igfilter/pkg/logger"
)

// Resolver fills secrets missing from an assembled configuration from a
// SecretStore. Values already present in the configuration always win;
// the store is consulted only for blanks.
type Resolver struct {
	store  SecretStore
	logger logger.Logger
}

// NewResolver creates a resolver over the given store
func NewResolver(store SecretStore) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.GetLogger(),
	}
}

// Apply fills the vision API key and blank account passwords from the store.
// A missing entry is not an error here; final completeness is the
// configuration validator's job.
func (r *Resolver) Apply(cfg *config.Config) error {
	if cfg.Vision.APIKey == "" {
		key, err := r.store.Get(VisionKeyName)
		switch {
		case err == nil:
			cfg.Vision.APIKey = key
			r.logger.Debug("vision API key resolved from keychain")
		case errors.Is(err, ErrSecretNotFound):
			// leave blank, validation reports it
		default:
			return fmt.Errorf("failed to resolve vision API key: %w", err)
		}
	}

	for i := range cfg.Accounts {
		acct := &cfg.Accounts[i]
		if acct.Password != "" || acct.Username == "" {
			continue
		}
		password, err := r.store.Get(PasswordName(acct.Username))
		switch {
		case err == nil:
			acct.Password = password
			r.logger.DebugWithFields("account password resolved from keychain", map[string]interface{}{
				"account": acct.Username,
			})
		case errors.Is(err, ErrSecretNotFound):
			// leave blank, validation reports it
		default:
			return fmt.Errorf("failed to resolve password for %s: %w", acct.Username, err)
		}
	}

	return nil
}
