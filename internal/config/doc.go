// Package config loads the gateway configuration.
//
// Configuration is assembled in three layers, later layers winning:
//
//  1. defaults (GetDefaultConfig)
//  2. a YAML file, by default ~/.config/crmgate/config.yaml
//  3. environment variables, optionally seeded from a .env file
//
// The environment variable names match the ones used by existing
// deployments (AMO_DOMAIN, AMO_CLIENT_ID, AMO_CLIENT_SECRET,
// AMO_REDIRECT_URI, TOKEN_STORAGE_PATH, API_KEY). Variables already present
// in the process environment are never overwritten by the .env file.
//
// Example config.yaml:
//
//	crm:
//	  domain: example.amocrm.ru
//	  client_id: 6c0c...
//	  client_secret: ...
//	  redirect_uri: https://gateway.example.com/oauth/callback
//	  lock_timeout: 10s
//	storage:
//	  path: /var/lib/crmgate/tokens.json
//	server:
//	  host: 0.0.0.0
//	  port: 8080
//	logging:
//	  level: info
//	  format: json
package config
