package config

import (
	"fmt"
	"strings"
)

// ConfigurationError describes a configuration source that could not be read.
type ConfigurationError struct {
	Source      string   `json:"source"`    // file path or "environment"
	ErrorType   string   `json:"errorType"` // io or parse
	Message     string   `json:"message"`
	Details     string   `json:"details"`
	Suggestions []string `json:"suggestions"`
}

// Error implements the error interface
func (ce ConfigurationError) Error() string {
	if ce.Details == "" {
		return fmt.Sprintf("%s: %s", ce.Source, ce.Message)
	}
	return fmt.Sprintf("%s: %s: %s", ce.Source, ce.Message, ce.Details)
}

// DetailedError returns a multi-line message including suggestions.
func (ce ConfigurationError) DetailedError() string {
	parts := []string{
		fmt.Sprintf("Configuration error in %s", ce.Source),
		fmt.Sprintf("  Type: %s", ce.ErrorType),
		fmt.Sprintf("  Error: %s", ce.Message),
	}
	if ce.Details != "" {
		parts = append(parts, fmt.Sprintf("  Details: %s", ce.Details))
	}
	if len(ce.Suggestions) > 0 {
		parts = append(parts, "  Suggestions:")
		for _, suggestion := range ce.Suggestions {
			parts = append(parts, fmt.Sprintf("    - %s", suggestion))
		}
	}
	return strings.Join(parts, "\n")
}

// NewConfigurationError creates a configuration error.
func NewConfigurationError(source, errorType, message, details string, suggestions ...string) ConfigurationError {
	return ConfigurationError{
		Source:      source,
		ErrorType:   errorType,
		Message:     message,
		Details:     details,
		Suggestions: suggestions,
	}
}
