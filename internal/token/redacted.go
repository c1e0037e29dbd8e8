package token

// Redacted wraps a sensitive token string to prevent accidental logging.
//
// It implements fmt.Stringer, json.Marshaler and encoding.TextMarshaler, all
// of which produce "[REDACTED]" (or "" for an empty value) instead of the
// wrapped value.
type Redacted struct {
	value string
}

// NewRedacted creates a new Redacted wrapping the given value.
func NewRedacted(value string) Redacted {
	return Redacted{value: value}
}

// Value returns the actual token value. Never log the result.
func (t Redacted) Value() string {
	return t.value
}

// String implements fmt.Stringer.
func (t Redacted) String() string {
	if t.value == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v formatting.
func (t Redacted) GoString() string {
	return "token.Redacted{[REDACTED]}"
}

// IsEmpty returns true if the token value is empty.
func (t Redacted) IsEmpty() bool {
	return t.value == ""
}

// MarshalText implements encoding.TextMarshaler.
func (t Redacted) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// MarshalJSON implements json.Marshaler.
func (t Redacted) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}
