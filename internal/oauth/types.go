package oauth

import (
	"time"
)

const (
	// TokenPath is the CRM token endpoint path.
	TokenPath = "/oauth2/access_token"

	// GrantTypeAuthorizationCode is the authorization-code grant type.
	GrantTypeAuthorizationCode = "authorization_code"

	// GrantTypeRefreshToken is the refresh-token grant type.
	GrantTypeRefreshToken = "refresh_token"
)

// Credentials identify the integration to the CRM.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// TokenResponse is the decoded body of a successful grant.
type TokenResponse struct {
	// TokenType is typically "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`

	// AccessToken is the bearer token used for API calls.
	AccessToken string `json:"access_token"`

	// RefreshToken replaces the previous refresh token; the CRM rotates it on every use.
	RefreshToken string `json:"refresh_token"`
}

// ExpiresAt converts ExpiresIn to an absolute unix timestamp relative to now.
func (r *TokenResponse) ExpiresAt(now time.Time) int64 {
	return now.Unix() + r.ExpiresIn
}

// tokenRequest is the JSON body sent to the token endpoint.
type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	RedirectURI  string `json:"redirect_uri"`
}

// upstreamError is the problem document returned by the CRM on failures.
type upstreamError struct {
	Hint   string `json:"hint"`
	Title  string `json:"title"`
	Type   string `json:"type"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}
