package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crmgate/internal/oauth"
	"crmgate/pkg/logging"

	"github.com/google/uuid"
)

// maxAttempts is one regular attempt plus one retry after a forced refresh.
const maxAttempts = 2

// maxResponseBody bounds how much of a response is read.
const maxResponseBody = 10 << 20

// TokenProvider supplies bearer tokens. auth.Manager implements it.
type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context, rejected string) (string, error)
}

// Response is a successful CRM answer.
type Response struct {
	StatusCode int
	RequestID  string

	// Data is the raw JSON body; nil for 204 and empty bodies.
	Data json.RawMessage
}

// Decode unmarshals Data into v. An empty body leaves v untouched.
func (r *Response) Decode(v interface{}) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// Executor performs authenticated CRM calls.
type Executor struct {
	tokens     TokenProvider
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(httpClient *http.Client) ExecutorOption {
	return func(e *Executor) {
		e.httpClient = httpClient
	}
}

// WithUserAgent sets the User-Agent header sent to the CRM.
func WithUserAgent(userAgent string) ExecutorOption {
	return func(e *Executor) {
		e.userAgent = userAgent
	}
}

// NewExecutor creates an executor for the account at domain.
func NewExecutor(domain string, tokens TokenProvider, opts ...ExecutorOption) *Executor {
	e := &Executor{
		tokens:     tokens,
		httpClient: oauth.NewHTTPClient(),
		baseURL:    "https://" + strings.TrimSuffix(domain, "/"),
		userAgent:  "crmgate",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Get performs a GET with optional query parameters.
func (e *Executor) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return e.Call(ctx, http.MethodGet, path, nil)
}

// Post performs a POST with a JSON body.
func (e *Executor) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return e.Call(ctx, http.MethodPost, path, body)
}

// Call sends method path with an optional JSON body. path is relative to the
// account base URL, for example "/api/v4/leads". Failures are *RequestError.
func (e *Executor) Call(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	requestID := uuid.NewString()
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	fail := func(reason Reason, status int, err error) *RequestError {
		return &RequestError{Reason: reason, Method: method, Path: path, RequestID: requestID, StatusCode: status, Err: err}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fail(ReasonInvalidRequest, 0, fmt.Errorf("failed to encode request body: %w", err))
		}
	}

	accessToken, err := e.tokens.GetValidToken(ctx)
	if err != nil {
		logging.Warn("CRM", "[%s] %s %s: no valid token: %v", requestID, method, path, err)
		return nil, fail(ReasonTokenUnavailable, 0, err)
	}

	for attempt := 1; ; attempt++ {
		start := time.Now()
		status, respBody, err := e.send(ctx, method, path, payload, accessToken, requestID)
		if err != nil {
			logging.Warn("CRM", "[%s] %s %s failed: %v", requestID, method, path, err)
			return nil, fail(ReasonTransport, 0, err)
		}
		logging.Debug("CRM", "[%s] %s %s -> %d (%v, attempt %d)", requestID, method, path, status, time.Since(start), attempt)

		if status == http.StatusUnauthorized && attempt < maxAttempts {
			logging.Info("CRM", "[%s] Access token rejected, forcing refresh", requestID)
			accessToken, err = e.tokens.ForceRefresh(ctx, accessToken)
			if err != nil {
				return nil, fail(ReasonTokenUnavailable, http.StatusUnauthorized, err)
			}
			continue
		}

		return e.interpret(method, path, requestID, status, respBody)
	}
}

func (e *Executor) send(ctx context.Context, method, path string, payload []byte, accessToken, requestID string) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// problem is the CRM's error document.
type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *Executor) interpret(method, path, requestID string, status int, body []byte) (*Response, error) {
	if status >= http.StatusBadRequest {
		reqErr := &RequestError{
			Reason:     ReasonUpstreamAPI,
			Method:     method,
			Path:       path,
			RequestID:  requestID,
			StatusCode: status,
			Body:       truncateBody(body),
		}
		var p problem
		if json.Unmarshal(body, &p) == nil {
			reqErr.Title = p.Title
			reqErr.Detail = p.Detail
		}
		logging.Warn("CRM", "[%s] %s %s returned %d: %s", requestID, method, path, status, reqErr.Title)
		return nil, reqErr
	}

	resp := &Response{StatusCode: status, RequestID: requestID}
	if status == http.StatusNoContent || len(bytes.TrimSpace(body)) == 0 {
		return resp, nil
	}
	if !json.Valid(body) {
		return nil, &RequestError{
			Reason:     ReasonInvalidResponse,
			Method:     method,
			Path:       path,
			RequestID:  requestID,
			StatusCode: status,
			Body:       truncateBody(body),
			Err:        fmt.Errorf("response body is not valid JSON"),
		}
	}
	resp.Data = json.RawMessage(body)
	return resp, nil
}
