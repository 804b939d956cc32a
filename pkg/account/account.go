// Package account owns the pool of Instagram accounts the pipeline fetches
// through: round-robin checkout, eviction of dead accounts, and persistence
// of authenticated sessions across runs.
package account

import (
	"strings"
	"time"

	"igfilter/pkg/config"
	"igfilter/pkg/ratelimit"
)

// Account is one credential/proxy pair used against the profile service.
// The session handle and the limiter's last-request timestamp are the only
// mutable parts; both are touched only from the single goroutine the pool's
// dispatch assigns to this account.
type Account struct {
	Username string
	Password string
	OTPSeed  string
	Proxy    string

	// Limiter paces requests issued through this account
	Limiter ratelimit.Limiter

	// Session is the current authenticated session, nil before login
	Session *Session
}

// newAccount builds an account from its configuration record
func newAccount(cfg config.AccountConfig, minDelay, maxDelay time.Duration) *Account {
	return &Account{
		Username: strings.TrimSpace(cfg.Username),
		Password: cfg.Password,
		OTPSeed:  cfg.OTPSeed,
		Proxy:    cfg.Proxy,
		Limiter:  ratelimit.NewPaced(minDelay, maxDelay),
	}
}

// HasOTP reports whether a second factor is configured
func (a *Account) HasOTP() bool {
	return a.OTPSeed != ""
}
