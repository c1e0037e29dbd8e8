package token

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultBuffer is subtracted from the literal expiry so that tokens are
// refreshed before clock skew or in-flight latency can make them invalid.
const DefaultBuffer = 60 * time.Second

// Record is the persisted token state. Only auth.Manager writes it.
type Record struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	ExpiresAt     int64  `json:"expires_at"`
	AccountDomain string `json:"account_domain,omitempty"`
}

// IsEmpty reports whether the record holds no credentials.
func (r Record) IsEmpty() bool {
	return r.AccessToken == "" && r.RefreshToken == ""
}

// Expiry returns ExpiresAt as a time.Time. Zero for an unset expiry.
func (r Record) Expiry() time.Time {
	if r.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(r.ExpiresAt, 0)
}

// ExpiredAt reports whether the access token must not be used at now,
// i.e. now >= expires_at - buffer.
func (r Record) ExpiredAt(now time.Time, buffer time.Duration) bool {
	return now.Unix() >= r.ExpiresAt-int64(buffer/time.Second)
}

// LogValue implements slog.LogValuer without exposing token values.
func (r Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("has_access_token", r.AccessToken != ""),
		slog.Bool("has_refresh_token", r.RefreshToken != ""),
		slog.Int64("expires_at", r.ExpiresAt),
		slog.String("account_domain", r.AccountDomain),
	)
}

// ValidationOptions tune Validate for the upstream's token formats.
type ValidationOptions struct {
	// MinRefreshTokenLength rejects shorter refresh tokens. 0 disables the check.
	MinRefreshTokenLength int

	// RequireJWT enforces the three-segment JWT format on access tokens.
	RequireJWT bool
}

// Validate checks the record invariants. An empty record is valid.
func (r Record) Validate(opts ValidationOptions) error {
	if (r.AccessToken == "") != (r.RefreshToken == "") {
		return ErrIncompleteRecord
	}
	if r.IsEmpty() {
		return nil
	}
	if opts.MinRefreshTokenLength > 0 && len(r.RefreshToken) < opts.MinRefreshTokenLength {
		return fmt.Errorf("%w: %d characters, want at least %d",
			ErrImplausibleRefreshToken, len(r.RefreshToken), opts.MinRefreshTokenLength)
	}
	if opts.RequireJWT {
		if _, err := ParseClaims(r.AccessToken); err != nil {
			return err
		}
	}
	return nil
}

// Claims holds the informational claims of a JWT access token. The signature
// is not verified; only the CRM can do that.
type Claims struct {
	Subject   string    `json:"sub,omitempty"`
	ID        string    `json:"jti,omitempty"`
	AccountID int64     `json:"account_id,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
}

// ParseClaims decodes a JWT access token without verifying its signature.
func ParseClaims(accessToken string) (*Claims, error) {
	if strings.Count(accessToken, ".") != 2 {
		return nil, ErrMalformedAccessToken
	}

	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, mapClaims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAccessToken, err)
	}

	claims := &Claims{}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if jti, ok := mapClaims["jti"].(string); ok {
		claims.ID = jti
	}
	if accountID, ok := mapClaims["account_id"].(float64); ok {
		claims.AccountID = int64(accountID)
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}
