package oauth

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds every token endpoint call.
const DefaultHTTPTimeout = 30 * time.Second

// maxResponseBody bounds how much of a token response is read.
const maxResponseBody = 1 << 20

// Client performs grants against the CRM token endpoint.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	domain     string
	creds      Credentials
}

// ClientOption configures the OAuth client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. The client's TLS configuration is
// used as-is; a zero Timeout is replaced with DefaultHTTPTimeout.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		clone := *httpClient
		if clone.Timeout == 0 {
			clone.Timeout = DefaultHTTPTimeout
		}
		c.httpClient = &clone
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewHTTPClient returns the HTTP client used for all CRM traffic: bounded by
// DefaultHTTPTimeout, TLS 1.2 or newer, certificate verification on.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: DefaultHTTPTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   DefaultHTTPTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: DefaultHTTPTimeout,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// NewClient creates a client for the CRM account at domain
// (for example "example.amocrm.ru").
func NewClient(domain string, creds Credentials, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: NewHTTPClient(),
		logger:     slog.Default(),
		domain:     strings.TrimSuffix(domain, "/"),
		creds:      creds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TokenURL returns the token endpoint of the configured account.
func (c *Client) TokenURL() string {
	return "https://" + c.domain + TokenPath
}

// ExchangeCode performs the authorization-code grant.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	if code == "" {
		return nil, &AuthError{Kind: AuthErrorStatus, GrantType: GrantTypeAuthorizationCode, Err: fmt.Errorf("authorization code is empty")}
	}
	return c.doTokenRequest(ctx, tokenRequest{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  c.creds.RedirectURI,
	})
}

// ExchangeRefreshToken performs the refresh-token grant.
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, &AuthError{Kind: AuthErrorStatus, GrantType: GrantTypeRefreshToken, Err: fmt.Errorf("refresh token is empty")}
	}
	return c.doTokenRequest(ctx, tokenRequest{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		GrantType:    GrantTypeRefreshToken,
		RefreshToken: refreshToken,
		RedirectURI:  c.creds.RedirectURI,
	})
}

// doTokenRequest performs one token endpoint request. No retries.
func (c *Client) doTokenRequest(ctx context.Context, payload tokenRequest) (*TokenResponse, error) {
	grant := payload.GrantType

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &AuthError{Kind: AuthErrorStatus, GrantType: grant, Err: fmt.Errorf("failed to encode token request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL(), bytes.NewReader(body))
	if err != nil {
		return nil, &AuthError{Kind: AuthErrorTransport, GrantType: grant, Err: fmt.Errorf("failed to create token request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Token request failed", "grant_type", grant, "error", err)
		return nil, &AuthError{Kind: AuthErrorTransport, GrantType: grant, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &AuthError{Kind: AuthErrorTransport, GrantType: grant, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read token response: %w", err)}
	}

	c.logger.Debug("Token request completed",
		"grant_type", grant,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		authErr := &AuthError{
			Kind:       AuthErrorStatus,
			GrantType:  grant,
			StatusCode: resp.StatusCode,
			Body:       truncateBody(respBody),
		}
		var problem upstreamError
		if json.Unmarshal(respBody, &problem) == nil {
			authErr.Title = problem.Title
			authErr.Detail = problem.Detail
			authErr.Hint = problem.Hint
		}
		return nil, authErr
	}

	var token TokenResponse
	if err := json.Unmarshal(respBody, &token); err != nil {
		return nil, &AuthError{
			Kind:       AuthErrorStatus,
			GrantType:  grant,
			StatusCode: resp.StatusCode,
			Body:       truncateBody(respBody),
			Err:        fmt.Errorf("failed to parse token response: %w", err),
		}
	}
	if token.AccessToken == "" || token.RefreshToken == "" {
		return nil, &AuthError{
			Kind:       AuthErrorStatus,
			GrantType:  grant,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("token response is missing access or refresh token"),
		}
	}
	if token.ExpiresIn <= 0 {
		return nil, &AuthError{
			Kind:       AuthErrorStatus,
			GrantType:  grant,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("token response has non-positive expires_in %d", token.ExpiresIn),
		}
	}

	return &token, nil
}
