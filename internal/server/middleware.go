package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"crmgate/pkg/logging"
)

// APIKeyHeader carries the gateway API key.
const APIKeyHeader = "X-API-Key"

// requireAPIKey rejects requests without the configured key. With no key
// configured the protected routes are disabled.
func requireAPIKey(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiKey == "" {
			writeError(w, http.StatusServiceUnavailable, "API key is not configured", nil)
			return
		}

		provided := r.Header.Get(APIKeyHeader)
		if provided == "" {
			provided = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			logging.Warn("HTTP", "Rejected request to %s from %s: invalid API key", r.URL.Path, r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, envelope{
				Success: false,
				Error:   "Invalid or missing API key",
				Message: "Please provide a valid " + APIKeyHeader + " header",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cors answers preflight requests and allows cross-origin API calls.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+APIKeyHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests logs one line per request and converts panics into 500s.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				logging.Error("HTTP", nil, "Panic serving %s %s: %v", r.Method, r.URL.Path, p)
				writeError(rec, http.StatusInternalServerError, "An unexpected error occurred", nil)
			}
			logging.Debug("HTTP", "%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, time.Since(start))
		}()

		next.ServeHTTP(rec, r)
	})
}
