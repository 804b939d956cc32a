package account

import (
	"strings"
	"sync"
	"time"

	"igfilter/pkg/config"
	errs "igfilter/pkg/errors"
)

// Pool owns the configured accounts and hands them out in rotating order so
// fetch work is distributed evenly. The rotation cursor is private state
// mutated under a single mutex; eviction removes an account from rotation
// for the remainder of the run without cancelling other accounts' work.
type Pool struct {
	mu       sync.Mutex
	accounts []*Account
	evicted  map[string]bool
	cursor   int
}

// NewPool validates the account configurations and builds the pool. Blank
// credentials or an empty list are configuration errors: the pipeline must
// fail fast rather than silently process nothing.
func NewPool(configs []config.AccountConfig, minDelay, maxDelay time.Duration) (*Pool, error) {
	if len(configs) == 0 {
		return nil, errs.New(errs.ErrorTypeConfig, "account pool is empty")
	}

	accounts := make([]*Account, 0, len(configs))
	seen := make(map[string]bool, len(configs))
	for i, cfg := range configs {
		if strings.TrimSpace(cfg.Username) == "" {
			return nil, errs.Newf(errs.ErrorTypeConfig, "account %d has no username", i)
		}
		if strings.TrimSpace(cfg.Password) == "" {
			return nil, errs.Newf(errs.ErrorTypeConfig, "account %q has no password", cfg.Username)
		}
		if seen[cfg.Username] {
			return nil, errs.Newf(errs.ErrorTypeConfig, "account %q is configured twice", cfg.Username)
		}
		seen[cfg.Username] = true
		accounts = append(accounts, newAccount(cfg, minDelay, maxDelay))
	}

	return &Pool{
		accounts: accounts,
		evicted:  make(map[string]bool),
	}, nil
}

// Checkout returns the next usable account in rotating order. For a pool of
// size K with nothing evicted, K consecutive checkouts return each account
// exactly once, in configuration order.
func (p *Pool) Checkout() (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for range p.accounts {
		acct := p.accounts[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.accounts)
		if !p.evicted[acct.Username] {
			return acct, nil
		}
	}

	return nil, errs.New(errs.ErrorTypeAuth, "no usable accounts remain")
}

// Evict removes an account from rotation for the remainder of the run
func (p *Pool) Evict(username string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evicted[username] = true
}

// IsEvicted reports whether the account has been evicted
func (p *Pool) IsEvicted(username string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evicted[username]
}

// Size returns the number of configured accounts
func (p *Pool) Size() int {
	return len(p.accounts)
}

// Usable returns the number of accounts still in rotation
func (p *Pool) Usable() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts) - len(p.evicted)
}

// Accounts returns all configured accounts in configuration order,
// including evicted ones.
func (p *Pool) Accounts() []*Account {
	return p.accounts
}
