package config

import "time"

const (
	// DefaultAuthorizeURL is the CRM consent page.
	DefaultAuthorizeURL = "https://www.amocrm.ru/oauth"

	// DefaultStoragePath is where the token record lives unless configured.
	DefaultStoragePath = "./storage/tokens.json"

	// DefaultMinRefreshTokenLength rejects stored refresh tokens that cannot
	// have been issued by the CRM.
	DefaultMinRefreshTokenLength = 16

	DefaultBufferSeconds   = 60
	DefaultLockTimeout     = 10 * time.Second
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8080
	DefaultShutdownTimeout = 10 * time.Second
)

// GetDefaultConfig returns the configuration used before any file or
// environment override is applied.
func GetDefaultConfig() Config {
	return Config{
		CRM: CRMConfig{
			AuthorizeURL:  DefaultAuthorizeURL,
			BufferSeconds: DefaultBufferSeconds,
			LockTimeout:   DefaultLockTimeout,

			MinRefreshTokenLength: DefaultMinRefreshTokenLength,
		},
		Storage: StorageConfig{
			Path: DefaultStoragePath,
		},
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
