// Package logging provides subsystem-tagged structured logging for crmgate,
// built on the standard slog package.
//
// Usage:
//
//	logging.Init(logging.LevelInfo, logging.FormatJSON, os.Stderr)
//
//	logging.Info("TokenManager", "Token refreshed, expires at %s", expiry)
//	logging.Error("Executor", err, "CRM call failed")
//
// Components that take a *slog.Logger option get one bound to their subsystem
// with Logger("OAuthClient").
//
// Token values must never be passed to these functions. Use token.Redacted or
// Truncate for anything credential-shaped.
package logging
