package config

import (
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	CRM     CRMConfig     `yaml:"crm" json:"crm"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Server  ServerConfig  `yaml:"server" json:"server"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// CRMConfig identifies the CRM account and the integration credentials.
type CRMConfig struct {
	// Domain is the account host, e.g. "example.amocrm.ru". A scheme or
	// trailing slash is stripped on load.
	Domain string `yaml:"domain" json:"domain,omitempty" env:"AMO_DOMAIN"`

	ClientID     string `yaml:"client_id" json:"client_id,omitempty" env:"AMO_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" json:"client_secret,omitempty" env:"AMO_CLIENT_SECRET"`
	RedirectURI  string `yaml:"redirect_uri" json:"redirect_uri,omitempty" env:"AMO_REDIRECT_URI"`

	// AuthorizeURL is the interactive consent page.
	AuthorizeURL string `yaml:"authorize_url,omitempty" json:"authorize_url,omitempty" env:"AMO_AUTHORIZE_URL"`

	// BufferSeconds is subtracted from the token expiry before it is trusted.
	BufferSeconds int `yaml:"buffer_seconds" json:"buffer_seconds,omitempty" env:"AMO_TOKEN_BUFFER_SECONDS"`

	// LockTimeout bounds the wait for the cross-process refresh lock.
	LockTimeout time.Duration `yaml:"lock_timeout" json:"lock_timeout,omitempty" env:"AMO_LOCK_TIMEOUT"`

	// MinRefreshTokenLength rejects implausibly short stored refresh tokens.
	// Defaults to DefaultMinRefreshTokenLength; 0 disables.
	MinRefreshTokenLength int `yaml:"min_refresh_token_length" json:"min_refresh_token_length,omitempty" env:"AMO_MIN_REFRESH_TOKEN_LENGTH"`

	// JWTAccessTokens enforces the JWT format on stored access tokens.
	JWTAccessTokens bool `yaml:"jwt_access_tokens" json:"jwt_access_tokens,omitempty" env:"AMO_JWT_ACCESS_TOKENS"`
}

// Buffer returns BufferSeconds as a duration.
func (c CRMConfig) Buffer() time.Duration {
	return time.Duration(c.BufferSeconds) * time.Second
}

// StorageConfig locates the persisted token record.
type StorageConfig struct {
	Path string `yaml:"path" json:"path,omitempty" env:"TOKEN_STORAGE_PATH"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host" json:"host,omitempty" env:"SERVER_HOST"`
	Port int    `yaml:"port" json:"port,omitempty" env:"SERVER_PORT"`

	// APIKey protects the diagnostics and CRM routes. Empty disables them.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" env:"API_KEY"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout,omitempty" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level,omitempty" env:"LOG_LEVEL"`
	Format string `yaml:"format" json:"format,omitempty" env:"LOG_FORMAT"`
}

// Redacted returns a copy with secrets masked, safe to log or serve.
func (c Config) Redacted() Config {
	out := c
	out.CRM.ClientSecret = mask(c.CRM.ClientSecret)
	out.Server.APIKey = mask(c.Server.APIKey)
	if len(c.CRM.ClientID) > 8 {
		out.CRM.ClientID = c.CRM.ClientID[:8] + "..."
	}
	return out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "[REDACTED]"
}
