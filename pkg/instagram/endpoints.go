package instagram

import (
	"fmt"
	"net/url"
)

const (
	// BaseURL is the base URL for Instagram
	BaseURL = "https://www.instagram.com"

	// ProfileEndpoint is the endpoint pattern for user profiles
	ProfileEndpoint = "/api/v1/users/web_profile_info/"

	// LoginPageEndpoint serves the login form and the initial CSRF cookie
	LoginPageEndpoint = "/accounts/login/"

	// LoginEndpoint is the AJAX login endpoint
	LoginEndpoint = "/accounts/login/ajax/"

	// TwoFactorEndpoint completes a login that requires a one-time code
	TwoFactorEndpoint = "/accounts/login/ajax/two_factor/"

	// AppID identifies the web client to the API
	AppID = "936619743392459"
)

// profileURL constructs the URL for fetching a user's profile
func profileURL(baseURL, username string) string {
	params := url.Values{}
	params.Set("username", username)

	return fmt.Sprintf("%s%s?%s", baseURL, ProfileEndpoint, params.Encode())
}

// IsValidUsername checks if a username is valid according to Instagram rules
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}

	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '_') {
			return false
		}
	}

	return true
}

// SanitizeUsername strips decorations people paste along with a handle
func SanitizeUsername(username string) string {
	if username == "" {
		return ""
	}

	if username[0] == '@' {
		username = username[1:]
	}

	for len(username) > 0 && (username[len(username)-1] == '/' || username[len(username)-1] == ' ') {
		username = username[:len(username)-1]
	}

	return username
}
