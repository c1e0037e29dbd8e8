// Package app bootstraps the gateway.
//
// NewApplication loads and validates configuration, initializes logging and
// wires the components:
//
//	token.FileStore  <- auth.Manager -> oauth.Client
//	                        ^
//	crm.Executor ----------+
//	server.Server -> auth.Manager, crm.Executor, oauth.Authorizer
//
// Run serves HTTP until the context is cancelled or SIGINT/SIGTERM arrives.
// On startup it reconciles the stored account domain, starts a watcher that
// logs token rotations made by other processes sharing the store, and
// notifies systemd once the listener is ready.
//
// CLI commands that only need the token lifecycle (auth status, call)
// use Services directly without starting the server.
package app
