package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crmgate/internal/oauth"
	"crmgate/internal/token"
	"crmgate/pkg/logging"

	"golang.org/x/sync/singleflight"
)

// Exchanger performs grants against the CRM token endpoint.
type Exchanger interface {
	ExchangeCode(ctx context.Context, code string) (*oauth.TokenResponse, error)
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*oauth.TokenResponse, error)
}

var _ Exchanger = (*oauth.Client)(nil)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Store holds the token record. Required.
	Store token.Store

	// Client performs the grants. Required.
	Client Exchanger

	// Lock guards the refresh critical section. Required.
	Lock *RefreshLock

	// Domain is the configured CRM account domain, recorded with every token.
	Domain string

	// Buffer is the expiry safety margin. Defaults to token.DefaultBuffer.
	Buffer time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Manager decides when tokens are refreshed and is the only writer of the store.
type Manager struct {
	store  token.Store
	client Exchanger
	lock   *RefreshLock
	domain string
	buffer time.Duration
	now    func() time.Time

	// group collapses concurrent in-process refreshes into one lock acquisition.
	group singleflight.Group
}

// NewManager creates a token manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("oauth client is required")
	}
	if cfg.Lock == nil {
		return nil, fmt.Errorf("refresh lock is required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = token.DefaultBuffer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		store:  cfg.Store,
		client: cfg.Client,
		lock:   cfg.Lock,
		domain: cfg.Domain,
		buffer: cfg.Buffer,
		now:    cfg.Now,
	}, nil
}

// Domain returns the configured account domain.
func (m *Manager) Domain() string {
	return m.domain
}

// GetValidToken returns an access token that is not expired. A stored,
// unexpired token is returned without taking the refresh lock; otherwise the
// token is refreshed first. Every failure matches ErrTokenUnavailable.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	rec, err := m.validRecord(ctx)
	if err != nil {
		return "", err
	}
	return rec.AccessToken, nil
}

func (m *Manager) validRecord(ctx context.Context) (token.Record, error) {
	rec, err := m.store.Load(ctx)
	switch {
	case err == nil && !rec.IsEmpty() && !rec.ExpiredAt(m.now(), m.buffer):
		return rec, nil
	case err != nil && !errors.Is(err, token.ErrNotFound):
		logging.Error("TokenManager", err, "Failed to read token record")
		return token.Record{}, unavailable(err)
	}

	rec, err = m.refresh(ctx, refreshOnExpiry, "")
	if err != nil {
		return token.Record{}, unavailable(err)
	}
	return rec, nil
}

// RefreshUnderLock refreshes the stored token if it is still expired once
// the refresh lock is held. A token already rotated by another process is
// left alone.
func (m *Manager) RefreshUnderLock(ctx context.Context) error {
	if _, err := m.refresh(ctx, refreshOnExpiry, ""); err != nil {
		return unavailable(err)
	}
	return nil
}

// ForceRefresh refreshes regardless of expires_at. It is used after the CRM
// rejected the access token rejected. When the stored token no longer equals
// rejected, another caller has already rotated it and the stored token is
// returned without a second grant. An empty rejected always refreshes.
func (m *Manager) ForceRefresh(ctx context.Context, rejected string) (string, error) {
	rec, err := m.refresh(ctx, refreshForced, rejected)
	if err != nil {
		return "", unavailable(err)
	}
	return rec.AccessToken, nil
}

type refreshMode int

const (
	refreshOnExpiry refreshMode = iota
	refreshForced
)

func (m *Manager) refresh(ctx context.Context, mode refreshMode, rejected string) (token.Record, error) {
	key := "expired"
	if mode == refreshForced {
		key = "forced:" + rejected
	}

	// The grant spends the stored refresh token, so the shared work must not
	// stop when one caller goes away. Each caller still waits on its own ctx.
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (interface{}, error) {
		return m.refreshLocked(detached, mode, rejected)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return token.Record{}, res.Err
		}
		if res.Shared {
			logging.Debug("TokenManager", "Joined in-flight refresh")
		}
		return res.Val.(token.Record), nil
	case <-ctx.Done():
		logging.Debug("TokenManager", "Caller stopped waiting for refresh: %v", ctx.Err())
		return token.Record{}, ctx.Err()
	}
}

// refreshLocked is the cross-process critical section. ctx carries no
// cancellation; every step is bounded by the lock, HTTP or store timeouts.
func (m *Manager) refreshLocked(ctx context.Context, mode refreshMode, rejected string) (token.Record, error) {
	release, err := m.lock.Acquire(ctx)
	if err != nil {
		return token.Record{}, err
	}
	defer release()

	rec, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return token.Record{}, fmt.Errorf("%w: %w", ErrAuthorizationRequired, err)
		}
		return token.Record{}, err
	}
	if rec.IsEmpty() {
		return token.Record{}, fmt.Errorf("%w: no token stored", ErrAuthorizationRequired)
	}

	now := m.now()
	expired := rec.ExpiredAt(now, m.buffer)
	switch mode {
	case refreshOnExpiry:
		if !expired {
			logging.Debug("TokenManager", "Token already refreshed by another caller")
			return rec, nil
		}
	case refreshForced:
		if rejected != "" && rec.AccessToken != rejected && !expired {
			logging.Debug("TokenManager", "Rejected token already replaced by another caller")
			return rec, nil
		}
	}

	logging.Info("TokenManager", "Refreshing access token (expires_at=%d, forced=%t)", rec.ExpiresAt, mode == refreshForced)

	resp, err := m.client.ExchangeRefreshToken(ctx, rec.RefreshToken)
	if err != nil {
		var authErr *oauth.AuthError
		if errors.As(err, &authErr) && authErr.IsRevoked() {
			logging.Error("TokenManager", err, "Refresh token was revoked; authorize the integration again")
		} else {
			logging.Error("TokenManager", err, "Token refresh failed")
		}
		return token.Record{}, err
	}

	next := token.Record{
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		ExpiresAt:     resp.ExpiresAt(m.now()),
		AccountDomain: m.domain,
	}
	if err := m.store.Save(ctx, next); err != nil {
		// The old refresh token is spent; without the new one only re-authorization helps.
		logging.Error("TokenManager", err, "Refreshed token could not be persisted")
		return token.Record{}, err
	}

	logging.Info("TokenManager", "Access token refreshed, valid until %s", next.Expiry().Format(time.RFC3339))
	return next, nil
}

// ExchangeAuthorizationCode redeems an authorization code and stores the
// resulting record. It is a one-shot operation and does not take the refresh lock.
func (m *Manager) ExchangeAuthorizationCode(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	resp, err := m.client.ExchangeCode(ctx, code)
	if err != nil {
		logging.Error("TokenManager", err, "Authorization code exchange failed")
		return unavailable(fmt.Errorf("failed to exchange authorization code: %w", err))
	}

	rec := token.Record{
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		ExpiresAt:     resp.ExpiresAt(m.now()),
		AccountDomain: m.domain,
	}
	if err := m.store.Save(ctx, rec); err != nil {
		return unavailable(fmt.Errorf("failed to store exchanged token: %w", err))
	}

	logging.Info("TokenManager", "Authorization completed for %s, token valid until %s",
		m.domain, rec.Expiry().Format(time.RFC3339))
	return nil
}

// ReconcileDomain rewrites the stored account domain when it differs from
// the configured one. A missing or empty record is left untouched.
func (m *Manager) ReconcileDomain(ctx context.Context) error {
	release, err := m.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	rec, err := m.store.Load(ctx)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return nil
		}
		return err
	}
	if rec.IsEmpty() || rec.AccountDomain == m.domain {
		return nil
	}

	logging.Warn("TokenManager", "Stored account domain %q differs from configured %q, updating",
		rec.AccountDomain, m.domain)
	rec.AccountDomain = m.domain
	return m.store.Save(ctx, rec)
}

// Status is a point-in-time view of the stored token, safe to serialize.
type Status struct {
	Authorized       bool           `json:"authorized"`
	AccessToken      token.Redacted `json:"access_token"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	ExpiresIn        string         `json:"expires_in,omitempty"`
	Expired          bool           `json:"expired"`
	AccountDomain    string         `json:"account_domain,omitempty"`
	ConfiguredDomain string         `json:"configured_domain"`
	DomainMismatch   bool           `json:"domain_mismatch,omitempty"`
	Claims           *token.Claims  `json:"claims,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// Status reports the stored token state without refreshing it.
func (m *Manager) Status(ctx context.Context) Status {
	st := Status{ConfiguredDomain: m.domain, Expired: true}

	rec, err := m.store.Load(ctx)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	if rec.IsEmpty() {
		st.Error = ErrAuthorizationRequired.Error()
		return st
	}

	now := m.now()
	expiry := rec.Expiry()
	st.Authorized = true
	st.AccessToken = token.NewRedacted(rec.AccessToken)
	st.ExpiresAt = &expiry
	st.Expired = rec.ExpiredAt(now, m.buffer)
	if remaining := expiry.Sub(now); remaining > 0 {
		st.ExpiresIn = remaining.Truncate(time.Second).String()
	}
	st.AccountDomain = rec.AccountDomain
	st.DomainMismatch = rec.AccountDomain != "" && rec.AccountDomain != m.domain
	if claims, err := token.ParseClaims(rec.AccessToken); err == nil {
		st.Claims = claims
	}
	return st
}
