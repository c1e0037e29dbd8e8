// Package auth owns the access token lifecycle.
//
// Manager is the only writer of the token store. It hands out valid access
// tokens, refreshes them shortly before they expire, and refreshes on demand
// when the CRM rejects a token that still looked valid. Refreshes run inside a
// cross-process critical section (RefreshLock) so that the rotating refresh
// token is spent exactly once even when several processes share one store:
//
//	acquire refresh lock
//	reload record, re-check whether a refresh is still needed
//	refresh grant, save the complete new record
//	release
//
// Within one process concurrent refreshers are additionally collapsed into a
// single call before they contend for the file lock.
package auth
