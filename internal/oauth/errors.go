package oauth

import (
	"fmt"
	"strings"

	textutil "crmgate/pkg/strings"
)

// AuthErrorKind distinguishes why a grant failed.
type AuthErrorKind int

const (
	// AuthErrorStatus means the token endpoint answered, but not with a usable 200.
	AuthErrorStatus AuthErrorKind = iota + 1

	// AuthErrorTransport means no response was received (network, TLS, timeout).
	AuthErrorTransport
)

// String implements fmt.Stringer.
func (k AuthErrorKind) String() string {
	switch k {
	case AuthErrorStatus:
		return "status"
	case AuthErrorTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// maxErrorBody bounds how much of an upstream body is kept for diagnostics.
const maxErrorBody = 512

// AuthError is returned for every failed grant.
type AuthError struct {
	Kind       AuthErrorKind
	GrantType  string
	StatusCode int

	// Title, Detail and Hint are copied from the upstream problem document.
	Title  string
	Detail string
	Hint   string

	// Body is the (truncated) raw upstream response.
	Body string

	// Err is the underlying transport or decode error, if any.
	Err error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s grant failed", e.GrantType)
	if e.Kind == AuthErrorTransport {
		fmt.Fprintf(&b, ": transport error: %v", e.Err)
		return b.String()
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if msg := e.upstreamMessage(); msg != "" {
		fmt.Fprintf(&b, ": %s", msg)
	} else if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *AuthError) upstreamMessage() string {
	switch {
	case e.Hint != "":
		return e.Hint
	case e.Detail != "":
		return e.Detail
	default:
		return e.Title
	}
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether no upstream response was received.
func (e *AuthError) IsTransport() bool {
	return e.Kind == AuthErrorTransport
}

// IsRevoked reports whether the upstream says the credential was revoked.
// A revoked refresh token cannot be recovered without re-authorization.
func (e *AuthError) IsRevoked() bool {
	text := strings.ToLower(e.Hint + " " + e.Detail + " " + e.Title)
	return strings.Contains(text, "revoked")
}

func truncateBody(body []byte) string {
	return textutil.BodyExcerpt(body, maxErrorBody)
}
