package config

import (
	"fmt"
	"net/url"
	"strings"

	"crmgate/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{Field: field, Value: value, Message: "is required"}
	}
	return nil
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateAbsoluteURL checks that value parses as an absolute http(s) URL.
func ValidateAbsoluteURL(field, value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return ValidationError{Field: field, Value: value, Message: "must be an absolute http(s) URL"}
	}
	return nil
}

// Validate checks everything the gateway needs to talk to the CRM. The
// returned error is ValidationErrors when any check fails.
func (c Config) Validate() error {
	var errs ValidationErrors
	collect := func(err error) {
		if ve, ok := err.(ValidationError); ok {
			errs = append(errs, ve)
		}
	}

	collect(ValidateRequired("crm.domain", c.CRM.Domain))
	if strings.ContainsAny(c.CRM.Domain, "/ ") {
		errs.Add("crm.domain", "must be a bare host name such as example.amocrm.ru", c.CRM.Domain)
	}
	collect(ValidateRequired("crm.client_id", c.CRM.ClientID))
	collect(ValidateRequired("crm.client_secret", c.CRM.ClientSecret))
	if err := ValidateRequired("crm.redirect_uri", c.CRM.RedirectURI); err != nil {
		collect(err)
	} else {
		collect(ValidateAbsoluteURL("crm.redirect_uri", c.CRM.RedirectURI))
	}
	if c.CRM.AuthorizeURL != "" {
		collect(ValidateAbsoluteURL("crm.authorize_url", c.CRM.AuthorizeURL))
	}
	if c.CRM.BufferSeconds < 0 {
		errs.Add("crm.buffer_seconds", "must not be negative", c.CRM.BufferSeconds)
	}
	if c.CRM.LockTimeout <= 0 {
		errs.Add("crm.lock_timeout", "must be positive", c.CRM.LockTimeout)
	}
	if c.CRM.MinRefreshTokenLength < 0 {
		errs.Add("crm.min_refresh_token_length", "must not be negative", c.CRM.MinRefreshTokenLength)
	}

	collect(ValidateRequired("storage.path", c.Storage.Path))

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs.Add("server.port", "must be between 1 and 65535", c.Server.Port)
	}

	collect(ValidateOneOf("logging.level", c.Logging.Level, []string{"debug", "info", "warn", "warning", "error"}))
	collect(ValidateOneOf("logging.format", c.Logging.Format, []string{logging.FormatText, logging.FormatJSON}))

	if errs.HasErrors() {
		return errs
	}
	return nil
}
