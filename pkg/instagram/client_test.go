package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igfilter/pkg/account"
	errs "igfilter/pkg/errors"
)

var sessionFixture = account.Session{
	Version:   account.SessionVersion,
	AccountID: "testuser",
	SessionID: "restored-sess",
	CSRFToken: "restored-csrf",
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(5*time.Second, "", nil)
	require.NoError(t, err)
	client.SetBaseURL(server.URL)
	return client
}

func profileJSON(fullName string, verified bool, picURL string) string {
	return fmt.Sprintf(`{
		"data": {
			"user": {
				"id": "123",
				"username": "testuser",
				"full_name": %q,
				"is_verified": %t,
				"is_private": false,
				"profile_pic_url": "https://cdn.example.com/low.jpg",
				"profile_pic_url_hd": %q
			}
		},
		"status": "ok"
	}`, fullName, verified, picURL)
}

func TestFetchProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, ProfileEndpoint, r.URL.Path)
		assert.Equal(t, "testuser", r.URL.Query().Get("username"))
		assert.Equal(t, AppID, r.Header.Get("X-IG-App-ID"))
		fmt.Fprint(w, profileJSON("Test User", true, "https://cdn.example.com/hd.jpg"))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	profile, err := client.FetchProfile(context.Background(), "testuser")
	require.NoError(t, err)

	assert.Equal(t, "testuser", profile.Username)
	assert.Equal(t, "123", profile.UserID)
	assert.Equal(t, "Test User", profile.FullName)
	assert.True(t, profile.Verified)
	assert.Equal(t, "https://cdn.example.com/hd.jpg", profile.PictureURL)
}

func TestFetchProfilePictureFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, profileJSON("Test User", false, ""))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	profile, err := client.FetchProfile(context.Background(), "testuser")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/low.jpg", profile.PictureURL)
}

func TestFetchProfileErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType errs.ErrorType
	}{
		{
			name:     "not found",
			status:   http.StatusNotFound,
			body:     `{"status":"fail"}`,
			wantType: errs.ErrorTypeNotFound,
		},
		{
			name:     "throttled",
			status:   http.StatusTooManyRequests,
			body:     `{"status":"fail"}`,
			wantType: errs.ErrorTypeThrottled,
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"status":"fail"}`,
			wantType: errs.ErrorTypeAuth,
		},
		{
			name:     "server error",
			status:   http.StatusBadGateway,
			body:     "bad gateway",
			wantType: errs.ErrorTypeServer,
		},
		{
			name:     "login wall",
			status:   http.StatusOK,
			body:     `{"requires_to_login": true}`,
			wantType: errs.ErrorTypeAuth,
		},
		{
			name:     "missing user",
			status:   http.StatusOK,
			body:     `{"data": {"user": null}, "status": "ok"}`,
			wantType: errs.ErrorTypeNotFound,
		},
		{
			name:     "garbage body",
			status:   http.StatusOK,
			body:     "<html>not json</html>",
			wantType: errs.ErrorTypeParsing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client := newTestClient(t, server)
			_, err := client.FetchProfile(context.Background(), "testuser")
			require.Error(t, err)

			var typed *errs.Error
			require.ErrorAs(t, err, &typed)
			assert.Equal(t, tt.wantType, typed.Type)
		})
	}
}

func loginServer(t *testing.T, twoFactor bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc(LoginPageEndpoint, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf-abc", Path: "/"})
		fmt.Fprint(w, "<html></html>")
	})

	mux.HandleFunc(LoginEndpoint, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "csrf-abc", r.Header.Get("X-CSRFToken"))
		assert.Equal(t, "testuser", r.PostFormValue("username"))
		assert.True(t, strings.HasPrefix(r.PostFormValue("enc_password"), "#PWD_INSTAGRAM_BROWSER:0:"))

		if twoFactor {
			fmt.Fprint(w, `{"two_factor_required": true, "two_factor_info": {"two_factor_identifier": "tf-id"}}`)
			return
		}

		if strings.HasSuffix(r.PostFormValue("enc_password"), ":good-password") {
			http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sess-xyz", Path: "/"})
			fmt.Fprint(w, `{"authenticated": true, "user": true, "userId": "123"}`)
			return
		}

		fmt.Fprint(w, `{"authenticated": false, "user": true}`)
	})

	mux.HandleFunc(TwoFactorEndpoint, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tf-id", r.PostFormValue("identifier"))

		if r.PostFormValue("verificationCode") == "123456" {
			http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sess-2fa", Path: "/"})
			fmt.Fprint(w, `{"authenticated": true}`)
			return
		}
		fmt.Fprint(w, `{"authenticated": false}`)
	})

	return httptest.NewServer(mux)
}

func TestLogin(t *testing.T) {
	server := loginServer(t, false)
	defer server.Close()

	client := newTestClient(t, server)
	session, err := client.Login(context.Background(), "testuser", "good-password", "")
	require.NoError(t, err)

	assert.Equal(t, "testuser", session.AccountID)
	assert.Equal(t, "sess-xyz", session.SessionID)
	assert.Equal(t, "csrf-abc", session.CSRFToken)
	assert.False(t, session.CreatedAt.IsZero())
}

func TestLoginBadPassword(t *testing.T) {
	server := loginServer(t, false)
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.Login(context.Background(), "testuser", "wrong", "")
	require.Error(t, err)

	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errs.ErrorTypeAuth, typed.Type)
}

func TestLoginTwoFactor(t *testing.T) {
	server := loginServer(t, true)
	defer server.Close()

	client := newTestClient(t, server)
	session, err := client.Login(context.Background(), "testuser", "good-password", "123456")
	require.NoError(t, err)
	assert.Equal(t, "sess-2fa", session.SessionID)
}

func TestLoginTwoFactorMissingCode(t *testing.T) {
	server := loginServer(t, true)
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.Login(context.Background(), "testuser", "good-password", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "two-factor")
}

func TestApplySessionSendsCookies(t *testing.T) {
	var gotSessionID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie("sessionid"); err == nil {
			gotSessionID = cookie.Value
		}
		fmt.Fprint(w, profileJSON("Test User", false, ""))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	require.NoError(t, client.ApplySession(&sessionFixture))

	_, err := client.FetchProfile(context.Background(), "testuser")
	require.NoError(t, err)
	assert.Equal(t, "restored-sess", gotSessionID)
}

func TestDownloadImage(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(payload)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	data, err := client.DownloadImage(context.Background(), server.URL+"/pic.jpg")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestDownloadImageNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := newTestClient(t, server)
	_, err := client.DownloadImage(context.Background(), server.URL+"/pic.jpg")
	require.Error(t, err)

	var typed *errs.Error
	require.ErrorAs(t, err, &typed)
	assert.Equal(t, errs.ErrorTypeNetwork, typed.Type)
}

func TestSanitizeUsername(t *testing.T) {
	assert.Equal(t, "testuser", SanitizeUsername("@testuser"))
	assert.Equal(t, "testuser", SanitizeUsername("testuser/ "))
	assert.Equal(t, "", SanitizeUsername(""))
}

func TestIsValidUsername(t *testing.T) {
	assert.True(t, IsValidUsername("test.user_1"))
	assert.False(t, IsValidUsername(""))
	assert.False(t, IsValidUsername("has space"))
	assert.False(t, IsValidUsername(strings.Repeat("a", 31)))
}
