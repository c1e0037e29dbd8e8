// Package server exposes the gateway over HTTP.
//
// Routes:
//
//	GET  /health, /healthz                     liveness, no auth
//	GET  /oauth/authorize                      302 to the CRM consent page
//	GET  /oauth/callback?code=&state=          redeems the authorization code
//	GET  /oauth/status                         whether a token is stored
//	GET  /api/v1/info/pipelines[/{id}]         CRM pipelines
//	GET  /api/v1/info/lead-fields              lead custom fields
//	GET  /api/v1/info/contact-fields           contact custom fields
//	GET  /api/v1/info/account                  account information
//	GET  /api/v1/diagnostics/token-status      token lifecycle snapshot
//	GET  /api/v1/diagnostics/config            redacted configuration
//	ANY  /api/v1/crm/{path...}                 passthrough to /api/v4/{path}
//
// Everything under /api/v1 requires the X-API-Key header. Responses use the
// envelope {"success": true, "data": ..., "message": ...} or
// {"success": false, "error": ..., "details": ...}.
package server
