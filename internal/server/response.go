package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"crmgate/internal/auth"
	"crmgate/internal/crm"
	"crmgate/pkg/logging"
)

// envelope is the JSON body of every API response.
type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		logging.Warn("HTTP", "Failed to write response: %v", err)
	}
}

func writeSuccess(w http.ResponseWriter, data interface{}, message string) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, status int, message string, details interface{}) {
	writeJSON(w, status, envelope{Success: false, Error: message, Details: details})
}

// writeCRMError maps executor failures to gateway responses. Token problems
// are reported generically; the cause is only logged.
func writeCRMError(w http.ResponseWriter, err error) {
	var reqErr *crm.RequestError
	if !errors.As(err, &reqErr) {
		logging.Error("HTTP", err, "Unexpected CRM failure")
		writeError(w, http.StatusInternalServerError, "Internal server error", nil)
		return
	}

	switch reqErr.Reason {
	case crm.ReasonTokenUnavailable:
		details := map[string]string{"request_id": reqErr.RequestID}
		if auth.IsAuthorizationRequired(err) {
			details["authorize_url"] = "/oauth/authorize"
		}
		writeError(w, http.StatusServiceUnavailable, "CRM authorization is not available, try again later", details)
	case crm.ReasonUpstreamAPI:
		details := map[string]interface{}{
			"status":     reqErr.StatusCode,
			"title":      reqErr.Title,
			"detail":     reqErr.Detail,
			"request_id": reqErr.RequestID,
		}
		if body := upstreamBody(reqErr.Body); body != nil {
			details["body"] = body
		}
		writeError(w, reqErr.StatusCode, "CRM API error", details)
	case crm.ReasonInvalidRequest:
		writeError(w, http.StatusBadRequest, "Invalid request body", nil)
	default:
		writeError(w, http.StatusBadGateway, "CRM is unreachable or returned an invalid response",
			map[string]string{"request_id": reqErr.RequestID})
	}
}

// upstreamBody returns the CRM error body as JSON when it still parses,
// otherwise as text. Truncated bodies usually fall back to text.
func upstreamBody(body string) interface{} {
	if body == "" {
		return nil
	}
	if json.Valid([]byte(body)) {
		return json.RawMessage(body)
	}
	return body
}
