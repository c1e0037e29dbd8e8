package crm

import (
	"errors"
	"fmt"
	"strings"

	textutil "crmgate/pkg/strings"
)

// Reason classifies a failed call.
type Reason int

const (
	// ReasonTokenUnavailable means no valid access token could be obtained.
	ReasonTokenUnavailable Reason = iota + 1

	// ReasonUpstreamAPI means the CRM answered with status >= 400.
	ReasonUpstreamAPI

	// ReasonTransport means no response was received.
	ReasonTransport

	// ReasonInvalidResponse means a 2xx body could not be decoded.
	ReasonInvalidResponse

	// ReasonInvalidRequest means the request body could not be encoded.
	ReasonInvalidRequest
)

// String implements fmt.Stringer.
func (r Reason) String() string {
	switch r {
	case ReasonTokenUnavailable:
		return "token unavailable"
	case ReasonUpstreamAPI:
		return "upstream API error"
	case ReasonTransport:
		return "transport error"
	case ReasonInvalidResponse:
		return "invalid response"
	case ReasonInvalidRequest:
		return "invalid request"
	default:
		return "unknown"
	}
}

// RequestError describes a failed CRM call.
type RequestError struct {
	Reason    Reason
	Method    string
	Path      string
	RequestID string

	// StatusCode is the upstream status, or 401 when a forced refresh failed.
	StatusCode int

	// Title and Detail are copied from the upstream problem document.
	Title  string
	Detail string

	// Body is the (truncated) raw upstream response.
	Body string

	Err error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "crm %s %s: %s", e.Method, e.Path, e.Reason)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	switch {
	case e.Title != "":
		fmt.Fprintf(&b, ": %s", e.Title)
	case e.Err != nil:
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// ReasonOf returns the Reason of a RequestError in err's chain, or 0.
func ReasonOf(err error) Reason {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Reason
	}
	return 0
}

// maxErrorBody bounds how much of an upstream body is kept in errors.
const maxErrorBody = 2048

func truncateBody(body []byte) string {
	return textutil.BodyExcerpt(body, maxErrorBody)
}
