// Package token persists the single OAuth token record used to talk to the CRM.
//
// The record lives in one JSON document with owner-only permissions:
//
//	{
//	  "access_token": "...",
//	  "refresh_token": "...",
//	  "expires_at": 1735689600,
//	  "account_domain": "example.amocrm.ru"
//	}
//
// FileStore guards the document with an advisory file lock on a sidecar
// "<path>.lock" file: readers take a shared lock, writers an exclusive one, so
// concurrent processes never observe a partially written record. Writes
// replace the whole document (truncate, write, fsync).
//
// Decode failures and records that violate the pairing invariants are
// reported as ErrNotFound rather than returned as hard errors; callers treat
// them as "fresh tokens needed".
//
// SECURITY: token values are never logged. Record implements slog.LogValuer
// and only exposes presence flags and expiry.
package token
