// Package instagram is the HTTP client for the profile service: login with
// optional two-factor codes, session cookies, profile lookup and picture
// download. All failures are typed so callers can tell an expired session
// from a throttle or a dead handle.
package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"igfilter/pkg/account"
	errs "igfilter/pkg/errors"
	"igfilter/pkg/logger"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// Client is an authenticated HTTP client bound to one account. It is not
// safe for concurrent use; the pipeline drives each account from a single
// goroutine.
type Client struct {
	httpClient *http.Client
	jar        *cookiejar.Jar
	baseURL    string
	userAgent  string
	logger     logger.Logger
}

// NewClient creates a client, optionally routed through a proxy
func NewClient(timeout time.Duration, proxy string, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, errs.Newf(errs.ErrorTypeConfig, "invalid proxy URL: %v", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeUnknown, "failed to create cookie jar: %v", err)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			Jar:       jar,
		},
		jar:       jar,
		baseURL:   BaseURL,
		userAgent: defaultUserAgent,
		logger:    log,
	}, nil
}

// SetBaseURL overrides the service base URL, used in tests
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// ApplySession loads a previously saved session into the cookie jar
func (c *Client) ApplySession(session *account.Session) error {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return errs.Newf(errs.ErrorTypeUnknown, "invalid base URL: %v", err)
	}

	c.jar.SetCookies(base, []*http.Cookie{
		{Name: "sessionid", Value: session.SessionID, Path: "/"},
		{Name: "csrftoken", Value: session.CSRFToken, Path: "/"},
	})
	if session.UserAgent != "" {
		c.userAgent = session.UserAgent
	}

	return nil
}

// Login authenticates with username and password. otpCode is the current
// one-time code when the account has two-factor enabled, empty otherwise.
// On success the returned session can be persisted and restored later.
func (c *Client) Login(ctx context.Context, username, password, otpCode string) (*account.Session, error) {
	c.logger.InfoWithFields("logging in", map[string]interface{}{
		"account": username,
	})

	// The login page sets the initial CSRF cookie.
	resp, err := c.get(ctx, c.baseURL+LoginPageEndpoint)
	if err != nil {
		return nil, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	csrf := c.cookieValue("csrftoken")
	if csrf == "" {
		return nil, errs.New(errs.ErrorTypeAuth, "login page did not set a CSRF token")
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("enc_password", fmt.Sprintf("#PWD_INSTAGRAM_BROWSER:0:%d:%s", time.Now().Unix(), password))
	form.Set("queryParams", "{}")
	form.Set("optIntoOneTap", "false")

	var login loginResponse
	if err := c.postForm(ctx, c.baseURL+LoginEndpoint, form, &login); err != nil {
		return nil, err
	}

	if login.TwoFactorRequired {
		if otpCode == "" {
			return nil, errs.Newf(errs.ErrorTypeAuth, "account %s requires a two-factor code but none is configured", username)
		}
		if err := c.submitTwoFactor(ctx, username, otpCode, login.TwoFactorInfo.Identifier); err != nil {
			return nil, err
		}
	} else if !login.Authenticated {
		message := login.Message
		if message == "" {
			message = "invalid credentials"
		}
		return nil, errs.Newf(errs.ErrorTypeAuth, "login rejected for %s: %s", username, message)
	}

	sessionID := c.cookieValue("sessionid")
	if sessionID == "" {
		return nil, errs.Newf(errs.ErrorTypeAuth, "login for %s returned no session cookie", username)
	}

	c.logger.InfoWithFields("login successful", map[string]interface{}{
		"account": username,
	})

	return &account.Session{
		Version:   account.SessionVersion,
		AccountID: username,
		SessionID: sessionID,
		CSRFToken: c.cookieValue("csrftoken"),
		UserAgent: c.userAgent,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (c *Client) submitTwoFactor(ctx context.Context, username, otpCode, identifier string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("verificationCode", otpCode)
	form.Set("identifier", identifier)

	var result loginResponse
	if err := c.postForm(ctx, c.baseURL+TwoFactorEndpoint, form, &result); err != nil {
		return err
	}

	if !result.Authenticated {
		return errs.Newf(errs.ErrorTypeAuth, "two-factor code rejected for %s", username)
	}

	return nil
}

// FetchProfile fetches the public profile fields for a username
func (c *Client) FetchProfile(ctx context.Context, username string) (*Profile, error) {
	requestURL := profileURL(c.baseURL, username)

	c.logger.DebugWithFields("fetching profile", map[string]interface{}{
		"username": username,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeUnknown, "failed to create request: %v", err)
	}
	req.Header.Set("X-IG-App-ID", AppID)

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return nil, err
	}

	var response webProfileResponse
	if err := c.decodeJSON(resp, &response); err != nil {
		return nil, err
	}

	if response.RequiresToLogin {
		return nil, errs.NewWithCode(errs.ErrorTypeAuth, http.StatusUnauthorized, "profile requires authentication")
	}
	if response.Data.User == nil {
		return nil, errs.NewWithCode(errs.ErrorTypeNotFound, http.StatusNotFound, fmt.Sprintf("user %s does not exist", username))
	}

	user := response.Data.User
	pictureURL := user.ProfilePicURLHD
	if pictureURL == "" {
		pictureURL = user.ProfilePicURL
	}

	return &Profile{
		Username:   user.Username,
		UserID:     user.ID,
		FullName:   user.FullName,
		Verified:   user.IsVerified,
		Private:    user.IsPrivate,
		PictureURL: pictureURL,
	}, nil
}

// DownloadImage downloads the image at the given URL
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	resp, err := c.get(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeNetwork, "failed to read image data: %v", err)
	}

	c.logger.DebugWithFields("image downloaded", map[string]interface{}{
		"url":  imageURL,
		"size": len(data),
	})

	return data, nil
}

func (c *Client) get(ctx context.Context, requestURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, errs.Newf(errs.ErrorTypeUnknown, "failed to create request: %v", err)
	}
	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, requestURL string, form url.Values, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errs.Newf(errs.ErrorTypeUnknown, "failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-CSRFToken", c.cookieValue("csrftoken"))

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkResponseStatus(resp); err != nil {
		return err
	}

	return c.decodeJSON(resp, target)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", c.baseURL+"/")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Newf(errs.ErrorTypeNetwork, "network error: %v", err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

func (c *Client) decodeJSON(resp *http.Response, target interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.NewWithCode(errs.ErrorTypeNetwork, resp.StatusCode, fmt.Sprintf("failed to read response body: %v", err))
	}

	if err := json.Unmarshal(body, target); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          resp.Request.URL.String(),
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return errs.NewWithCode(errs.ErrorTypeParsing, resp.StatusCode, fmt.Sprintf("failed to parse JSON: %v", err))
	}

	return nil
}

// checkResponseStatus maps HTTP status codes onto typed errors
func (c *Client) checkResponseStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.WarnWithFields("authentication error", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return errs.NewWithCode(errs.ErrorTypeAuth, resp.StatusCode, "authentication required")
	case http.StatusNotFound:
		return errs.NewWithCode(errs.ErrorTypeNotFound, resp.StatusCode, "resource not found")
	case http.StatusTooManyRequests:
		c.logger.WarnWithFields("request throttled", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return errs.NewWithCode(errs.ErrorTypeThrottled, resp.StatusCode, "too many requests")
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		c.logger.ErrorWithFields("server error", map[string]interface{}{
			"status": resp.StatusCode,
			"url":    resp.Request.URL.String(),
		})
		return errs.NewWithCode(errs.ErrorTypeServer, resp.StatusCode, "server error")
	default:
		if resp.StatusCode >= 400 {
			return errs.NewWithCode(errs.ErrorTypeUnknown, resp.StatusCode, fmt.Sprintf("unexpected status code: %d", resp.StatusCode))
		}
		return nil
	}
}

func (c *Client) cookieValue(name string) string {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	for _, cookie := range c.jar.Cookies(base) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}
