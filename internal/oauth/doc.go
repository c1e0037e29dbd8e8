// Package oauth talks to the CRM's OAuth2 token endpoint.
//
// Client performs the two grants the gateway needs, each as a single
// attempt with a fixed 30 second bound and mandatory TLS verification:
//
//   - ExchangeCode: authorization_code grant, used once from the OAuth callback
//   - ExchangeRefreshToken: refresh_token grant, used by auth.Manager
//
// Requests are JSON documents POSTed to https://{domain}/oauth2/access_token:
//
//	{"client_id": "...", "client_secret": "...", "grant_type": "refresh_token",
//	 "refresh_token": "...", "redirect_uri": "..."}
//
// Every failure is an *AuthError. Its Kind separates upstream rejections
// (non-200 status or an unusable body) from transport failures; both are
// fatal to the calling refresh attempt. Retry policy lives in the callers.
//
// Authorizer builds the interactive authorization URL with golang.org/x/oauth2
// and tracks single-use CSRF state values in a StateStore.
package oauth
