// Package fetcher turns a username into classification input: it keeps each
// account logged in, paces requests through the account's limiter, fetches
// the profile and downloads the picture for unverified users.
package fetcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"igfilter/pkg/account"
	errs "igfilter/pkg/errors"
	"igfilter/pkg/instagram"
	"igfilter/pkg/logger"
	"igfilter/pkg/otp"
	"igfilter/pkg/retry"
	"igfilter/pkg/storage"
)

// Client is the profile service surface the fetcher drives. Satisfied by
// *instagram.Client; tests substitute a mock.
type Client interface {
	Login(ctx context.Context, username, password, otpCode string) (*account.Session, error)
	ApplySession(session *account.Session) error
	FetchProfile(ctx context.Context, username string) (*instagram.Profile, error)
	DownloadImage(ctx context.Context, imageURL string) ([]byte, error)
}

// ClientFactory builds a service client for one account
type ClientFactory func(acct *account.Account) (Client, error)

// NewClientFactory returns the production factory: one HTTP client per
// account, routed through the account's proxy when one is configured.
func NewClientFactory(timeout time.Duration) ClientFactory {
	return func(acct *account.Account) (Client, error) {
		return instagram.NewClient(timeout, acct.Proxy, nil)
	}
}

// Result is the outcome of fetching one username through one account
type Result struct {
	Profile *instagram.Profile

	// ImagePath is the stored profile picture, empty for verified users
	ImagePath string
}

// Fetcher coordinates login state, pacing and retries for profile fetches.
// One Fetcher serves all accounts; per-account state lives in the client
// map and on the accounts themselves, which the pipeline drives from one
// goroutine each.
type Fetcher struct {
	factory    ClientFactory
	sessions   *account.SessionStore
	images     *storage.ImageStore
	maxRetries int
	logger     logger.Logger

	mu      sync.Mutex
	clients map[string]Client
}

// New creates a Fetcher
func New(factory ClientFactory, sessions *account.SessionStore, images *storage.ImageStore, maxRetries int) *Fetcher {
	return &Fetcher{
		factory:    factory,
		sessions:   sessions,
		images:     images,
		maxRetries: maxRetries,
		logger:     logger.GetLogger(),
		clients:    make(map[string]Client),
	}
}

func (f *Fetcher) clientFor(acct *account.Account) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[acct.Username]; ok {
		return client, nil
	}
	client, err := f.factory(acct)
	if err != nil {
		return nil, err
	}
	f.clients[acct.Username] = client
	return client, nil
}

// ensureLogin restores a stored session or performs a fresh login
func (f *Fetcher) ensureLogin(ctx context.Context, client Client, acct *account.Account) error {
	if acct.Session != nil {
		return nil
	}

	if session, err := f.sessions.Load(acct.Username); err == nil {
		if err := client.ApplySession(session); err == nil {
			acct.Session = session
			f.logger.InfoWithFields("session restored", map[string]interface{}{
				"account": acct.Username,
			})
			return nil
		}
	} else if !errors.Is(err, account.ErrSessionInvalid) {
		return err
	}

	var otpCode string
	if acct.HasOTP() {
		code, err := otp.Now(acct.OTPSeed)
		if err != nil {
			return errs.Newf(errs.ErrorTypeConfig, "invalid OTP seed for %s: %v", acct.Username, err)
		}
		otpCode = code
	}

	session, err := client.Login(ctx, acct.Username, acct.Password, otpCode)
	if err != nil {
		return err
	}
	acct.Session = session

	if err := f.sessions.Save(session); err != nil {
		f.logger.WarnWithFields("failed to persist session", map[string]interface{}{
			"account": acct.Username,
			"error":   err.Error(),
		})
	}

	return nil
}

// Verify makes sure the account can authenticate, restoring or creating a
// session. Used by the accounts verify command.
func (f *Fetcher) Verify(ctx context.Context, acct *account.Account) error {
	client, err := f.clientFor(acct)
	if err != nil {
		return err
	}
	return f.ensureLogin(ctx, client, acct)
}

// Fetch retrieves the profile for a username through the given account,
// downloading and storing the profile picture unless the user is verified.
// An expired session triggers one fresh login before the error is surfaced.
func (f *Fetcher) Fetch(ctx context.Context, acct *account.Account, username string) (*Result, error) {
	client, err := f.clientFor(acct)
	if err != nil {
		return nil, err
	}

	if err := f.ensureLogin(ctx, client, acct); err != nil {
		return nil, err
	}

	if err := acct.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	profile, err := f.fetchProfile(ctx, client, username)
	if isAuthError(err) && f.relogin(ctx, client, acct) == nil {
		profile, err = f.fetchProfile(ctx, client, username)
	}
	if err != nil {
		return nil, err
	}

	if profile.Verified {
		f.logger.DebugWithFields("verified user, skipping picture", map[string]interface{}{
			"username": username,
		})
		return &Result{Profile: profile}, nil
	}

	path, err := f.ensureImage(ctx, client, acct, profile)
	if err != nil {
		return nil, err
	}

	return &Result{Profile: profile, ImagePath: path}, nil
}

func (f *Fetcher) fetchProfile(ctx context.Context, client Client, username string) (*instagram.Profile, error) {
	return retry.DoWithResult(func() (*instagram.Profile, error) {
		return client.FetchProfile(ctx, username)
	}, f.retryConfig(ctx))
}

// retryConfig builds the retry policy for one network operation. Throttled
// responses back off much slower than ordinary transient failures.
func (f *Fetcher) retryConfig(ctx context.Context) *retry.Config {
	return &retry.Config{
		MaxAttempts: f.maxRetries,
		Backoff:     retry.DefaultExponentialBackoff(),
		BackoffFor:  backoffFor,
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      f.logger,
	}
}

// backoffFor slows retries down when the platform signals throttling
func backoffFor(err error) retry.BackoffStrategy {
	var typed *errs.Error
	if errors.As(err, &typed) && typed.Type == errs.ErrorTypeThrottled {
		return retry.ThrottledBackoff()
	}
	return nil
}

// ensureImage reuses a previously downloaded picture or fetches it
func (f *Fetcher) ensureImage(ctx context.Context, client Client, acct *account.Account, profile *instagram.Profile) (string, error) {
	username := profile.Username
	if f.images.HasImage(username) {
		return f.images.ImagePath(username), nil
	}

	if profile.PictureURL == "" {
		return "", errs.Newf(errs.ErrorTypeNotFound, "user %s has no profile picture", username)
	}

	if err := acct.Limiter.Wait(ctx); err != nil {
		return "", err
	}

	data, err := retry.DoWithResult(func() ([]byte, error) {
		return client.DownloadImage(ctx, profile.PictureURL)
	}, f.retryConfig(ctx))
	if err != nil {
		return "", err
	}

	return f.images.SaveImage(username, data)
}

// relogin discards the current session and authenticates from scratch
func (f *Fetcher) relogin(ctx context.Context, client Client, acct *account.Account) error {
	f.logger.WarnWithFields("session rejected, logging in again", map[string]interface{}{
		"account": acct.Username,
	})

	acct.Session = nil
	if err := f.sessions.Delete(acct.Username); err != nil {
		f.logger.WarnWithFields("failed to delete stale session", map[string]interface{}{
			"account": acct.Username,
			"error":   err.Error(),
		})
	}

	return f.ensureLogin(ctx, client, acct)
}

func isAuthError(err error) bool {
	var typed *errs.Error
	return errors.As(err, &typed) && typed.Type == errs.ErrorTypeAuth
}
