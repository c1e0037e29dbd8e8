package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := GetDefaultConfig()
	cfg.CRM.Domain = "example.amocrm.ru"
	cfg.CRM.ClientID = "client"
	cfg.CRM.ClientSecret = "secret"
	cfg.CRM.RedirectURI = "https://gateway.example.com/oauth/callback"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*Config)
		wantFields []string
	}{
		{name: "valid", modify: func(*Config) {}},
		{
			name:       "missing credentials",
			modify:     func(c *Config) { c.CRM.ClientID = ""; c.CRM.ClientSecret = " " },
			wantFields: []string{"crm.client_id", "crm.client_secret"},
		},
		{
			name:       "missing domain",
			modify:     func(c *Config) { c.CRM.Domain = "" },
			wantFields: []string{"crm.domain"},
		},
		{
			name:       "domain with path",
			modify:     func(c *Config) { c.CRM.Domain = "example.amocrm.ru/api" },
			wantFields: []string{"crm.domain"},
		},
		{
			name:       "relative redirect uri",
			modify:     func(c *Config) { c.CRM.RedirectURI = "/oauth/callback" },
			wantFields: []string{"crm.redirect_uri"},
		},
		{
			name:       "negative buffer and zero lock timeout",
			modify:     func(c *Config) { c.CRM.BufferSeconds = -1; c.CRM.LockTimeout = 0 },
			wantFields: []string{"crm.buffer_seconds", "crm.lock_timeout"},
		},
		{
			name:       "bad port",
			modify:     func(c *Config) { c.Server.Port = 70000 },
			wantFields: []string{"server.port"},
		},
		{
			name:       "bad logging",
			modify:     func(c *Config) { c.Logging.Level = "verbose"; c.Logging.Format = "xml" },
			wantFields: []string{"logging.level", "logging.format"},
		},
		{
			name:       "missing storage path",
			modify:     func(c *Config) { c.Storage.Path = "" },
			wantFields: []string{"storage.path"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if len(tt.wantFields) == 0 {
				assert.NoError(t, err)
				return
			}

			var errs ValidationErrors
			require.ErrorAs(t, err, &errs)
			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			assert.ElementsMatch(t, tt.wantFields, fields)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("crm.domain", "is required")
	assert.Equal(t, "field 'crm.domain': is required", errs.Error())

	errs.Add("server.port", "must be between 1 and 65535", 0)
	assert.Contains(t, errs.Error(), "validation failed:")
	assert.Equal(t, 0, errs[1].Value)
}

func TestConfig_Redacted(t *testing.T) {
	cfg := validConfig()
	cfg.CRM.ClientID = "6c0c1d2e-aaaa-bbbb-cccc-1234567890ab"
	cfg.Server.APIKey = "super-secret-key"

	redacted := cfg.Redacted()
	assert.Equal(t, "[REDACTED]", redacted.CRM.ClientSecret)
	assert.Equal(t, "[REDACTED]", redacted.Server.APIKey)
	assert.Equal(t, "6c0c1d2e...", redacted.CRM.ClientID)
	assert.Equal(t, "secret", cfg.CRM.ClientSecret, "original is not modified")

	cfg.Server.APIKey = ""
	assert.Empty(t, cfg.Redacted().Server.APIKey)
}
