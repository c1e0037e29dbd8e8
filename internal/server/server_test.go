package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"crmgate/internal/auth"
	"crmgate/internal/config"
	"crmgate/internal/crm"
	"crmgate/internal/oauth"
	"crmgate/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-api-key"

type fakeTokens struct {
	mu          sync.Mutex
	codes       []string
	exchangeErr error
	status      auth.Status
}

func (f *fakeTokens) ExchangeAuthorizationCode(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	return f.exchangeErr
}

func (f *fakeTokens) Status(ctx context.Context) auth.Status {
	return f.status
}

type crmCall struct {
	Method string
	Path   string
	Body   interface{}
}

type fakeCRM struct {
	mu      sync.Mutex
	calls   []crmCall
	respond func(call crmCall) (*crm.Response, error)
}

func (f *fakeCRM) Call(ctx context.Context, method, path string, body interface{}) (*crm.Response, error) {
	call := crmCall{Method: method, Path: path, Body: body}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.respond == nil {
		return &crm.Response{StatusCode: http.StatusOK, Data: json.RawMessage(`{}`)}, nil
	}
	return f.respond(call)
}

func jsonResponse(body string) *crm.Response {
	return &crm.Response{StatusCode: http.StatusOK, Data: json.RawMessage(body)}
}

func testConfig() config.Config {
	cfg := config.GetDefaultConfig()
	cfg.CRM.Domain = "example.amocrm.ru"
	cfg.CRM.ClientID = "client-id"
	cfg.CRM.ClientSecret = "client-secret"
	cfg.CRM.RedirectURI = "https://gateway.example.com/oauth/callback"
	cfg.Server.APIKey = testAPIKey
	return cfg
}

func newTestServer(t *testing.T, tokens *fakeTokens, client *fakeCRM) *Server {
	t.Helper()
	cfg := testConfig()
	states := oauth.NewStateStore(0)
	t.Cleanup(states.Stop)

	creds := oauth.Credentials{ClientID: cfg.CRM.ClientID, ClientSecret: cfg.CRM.ClientSecret, RedirectURI: cfg.CRM.RedirectURI}
	return New(Options{
		Config:     cfg,
		Tokens:     tokens,
		CRM:        client,
		Authorizer: oauth.NewAuthorizer(cfg.CRM.AuthorizeURL, cfg.CRM.Domain, creds, states),
	})
}

func do(t *testing.T, s *Server, method, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func withKey() map[string]string {
	return map[string]string{APIKeyHeader: testAPIKey}
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeTokens{}, &fakeCRM{})

	for _, path := range []string{"/health", "/healthz"} {
		rec := do(t, s, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeEnvelope(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "Gateway is running", body["message"])
	}
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, &fakeTokens{}, &fakeCRM{})

	rec := do(t, s, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decodeEnvelope(t, rec)["success"])

	rec = do(t, s, http.MethodGet, "/api/v1/nope", "", withKey())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &fakeTokens{}, &fakeCRM{})

	rec := do(t, s, http.MethodOptions, "/api/v1/info/account", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), APIKeyHeader)
}

func TestAPIKey(t *testing.T) {
	client := &fakeCRM{}
	s := newTestServer(t, &fakeTokens{}, client)

	t.Run("missing key", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/v1/info/account", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid or missing API key", decodeEnvelope(t, rec)["error"])
	})

	t.Run("wrong key", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/v1/info/account", "", map[string]string{APIKeyHeader: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("query parameter", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/v1/info/account?api_key="+testAPIKey, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("no key configured", func(t *testing.T) {
		cfg := testConfig()
		cfg.Server.APIKey = ""
		unprotected := New(Options{Config: cfg, Tokens: &fakeTokens{}, CRM: client})

		rec := httptest.NewRecorder()
		unprotected.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/info/account", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestOAuthFlow(t *testing.T) {
	tokens := &fakeTokens{}
	s := newTestServer(t, tokens, &fakeCRM{})

	rec := do(t, s, http.MethodGet, "/oauth/authorize", "", nil)
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "www.amocrm.ru", location.Host)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	rec = do(t, s, http.MethodGet, "/oauth/callback?code=abc123&referer=example.amocrm.ru&state="+state, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OAuth token received and saved", decodeEnvelope(t, rec)["message"])
	assert.Equal(t, []string{"abc123"}, tokens.codes)

	// States are single use.
	rec = do(t, s, http.MethodGet, "/oauth/callback?code=abc123&state="+state, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, tokens.codes, 1)
}

func TestOAuthCallback_Failures(t *testing.T) {
	t.Run("unknown state", func(t *testing.T) {
		tokens := &fakeTokens{}
		s := newTestServer(t, tokens, &fakeCRM{})

		rec := do(t, s, http.MethodGet, "/oauth/callback?code=abc&state=forged", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid state parameter", decodeEnvelope(t, rec)["error"])
		assert.Empty(t, tokens.codes)
	})

	t.Run("missing code", func(t *testing.T) {
		s := newTestServer(t, &fakeTokens{}, &fakeCRM{})
		_, state := s.authorizer.AuthURL()

		rec := do(t, s, http.MethodGet, "/oauth/callback?state="+state, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Authorization code not provided", decodeEnvelope(t, rec)["error"])
	})

	t.Run("consent denied", func(t *testing.T) {
		s := newTestServer(t, &fakeTokens{}, &fakeCRM{})

		rec := do(t, s, http.MethodGet, "/oauth/callback?error=access_denied", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("upstream rejects code", func(t *testing.T) {
		tokens := &fakeTokens{exchangeErr: fmt.Errorf("exchange: %w", &oauth.AuthError{Kind: oauth.AuthErrorStatus, StatusCode: 400})}
		s := newTestServer(t, tokens, &fakeCRM{})
		_, state := s.authorizer.AuthURL()

		rec := do(t, s, http.MethodGet, "/oauth/callback?code=abc&state="+state, "", nil)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		tokens := &fakeTokens{exchangeErr: errors.New("disk full")}
		s := newTestServer(t, tokens, &fakeCRM{})
		_, state := s.authorizer.AuthURL()

		rec := do(t, s, http.MethodGet, "/oauth/callback?code=abc&state="+state, "", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("browser gets html", func(t *testing.T) {
		s := newTestServer(t, &fakeTokens{}, &fakeCRM{})

		rec := do(t, s, http.MethodGet, "/oauth/callback?code=abc&state=%3Cscript%3E", "", map[string]string{"Accept": "text/html"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
		assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
		assert.Contains(t, rec.Body.String(), "Authorization failed")
		assert.NotContains(t, rec.Body.String(), "<script>")
	})
}

func TestOAuthStatus(t *testing.T) {
	expiry := time.Unix(1700000000, 0)
	tokens := &fakeTokens{status: auth.Status{Authorized: true, ExpiresAt: &expiry}}
	s := newTestServer(t, tokens, &fakeCRM{})

	rec := do(t, s, http.MethodGet, "/oauth/status", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, true, data["has_token"])
	assert.Equal(t, "authorized", data["status"])
	assert.Equal(t, false, data["expired"])
}

func TestDiagnostics(t *testing.T) {
	tokens := &fakeTokens{status: auth.Status{
		Authorized:       true,
		AccessToken:      token.NewRedacted("secret-access-token"),
		ConfiguredDomain: "example.amocrm.ru",
	}}
	s := newTestServer(t, tokens, &fakeCRM{})

	rec := do(t, s, http.MethodGet, "/api/v1/diagnostics/token-status", "", withKey())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-access-token")
	assert.Contains(t, rec.Body.String(), "example.amocrm.ru")

	rec = do(t, s, http.MethodGet, "/api/v1/diagnostics/config", "", withKey())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "client-secret")
	assert.NotContains(t, rec.Body.String(), testAPIKey)
	assert.Contains(t, rec.Body.String(), "[REDACTED]")
}

func TestInfoPipelines(t *testing.T) {
	client := &fakeCRM{respond: func(call crmCall) (*crm.Response, error) {
		return jsonResponse(`{"_total_items":2,"_embedded":{"pipelines":[{"id":1,"name":"Sales"},{"id":2,"name":"Support"}]}}`), nil
	}}
	s := newTestServer(t, &fakeTokens{}, client)

	rec := do(t, s, http.MethodGet, "/api/v1/info/pipelines", "", withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["count"])
	assert.Len(t, data["pipelines"], 2)
	assert.Equal(t, []crmCall{{Method: http.MethodGet, Path: "/api/v4/leads/pipelines"}}, client.calls)
}

func TestInfoPipelineByID(t *testing.T) {
	client := &fakeCRM{respond: func(call crmCall) (*crm.Response, error) {
		return jsonResponse(`{"id":7,"name":"Sales"}`), nil
	}}
	s := newTestServer(t, &fakeTokens{}, client)

	rec := do(t, s, http.MethodGet, "/api/v1/info/pipelines/7", "", withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/api/v4/leads/pipelines/7", client.calls[0].Path)

	rec = do(t, s, http.MethodGet, "/api/v1/info/pipelines/abc", "", withKey())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, client.calls, 1)
}

func TestInfoCustomFieldsPaginates(t *testing.T) {
	client := &fakeCRM{respond: func(call crmCall) (*crm.Response, error) {
		u, err := url.Parse(call.Path)
		require.NoError(t, err)
		switch u.Query().Get("page") {
		case "1":
			return jsonResponse(`{"_page":1,"_links":{"next":{"href":"..."}},"_embedded":{"custom_fields":[{"id":1},{"id":2}]}}`), nil
		case "2":
			return jsonResponse(`{"_page":2,"_links":{},"_embedded":{"custom_fields":[{"id":3}]}}`), nil
		}
		t.Fatalf("unexpected page request %s", call.Path)
		return nil, nil
	}}
	s := newTestServer(t, &fakeTokens{}, client)

	rec := do(t, s, http.MethodGet, "/api/v1/info/lead-fields", "", withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["count"])
	require.Len(t, client.calls, 2)
	assert.True(t, strings.HasPrefix(client.calls[0].Path, "/api/v4/leads/custom_fields?"))
}

func TestInfoContactFieldsEmpty(t *testing.T) {
	client := &fakeCRM{respond: func(call crmCall) (*crm.Response, error) {
		return &crm.Response{StatusCode: http.StatusNoContent}, nil
	}}
	s := newTestServer(t, &fakeTokens{}, client)

	rec := do(t, s, http.MethodGet, "/api/v1/info/contact-fields", "", withKey())
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, float64(0), data["count"])
	assert.Equal(t, []interface{}{}, data["fields"])
	assert.True(t, strings.HasPrefix(client.calls[0].Path, "/api/v4/contacts/custom_fields?"))
}

func TestCRMErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "token unavailable",
			err:        &crm.RequestError{Reason: crm.ReasonTokenUnavailable, Err: &auth.UnavailableError{Cause: auth.ErrLockTimeout}},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "authorization required",
			err:        &crm.RequestError{Reason: crm.ReasonTokenUnavailable, Err: &auth.UnavailableError{Cause: auth.ErrAuthorizationRequired}},
			wantStatus: http.StatusServiceUnavailable,
			wantDetail: "/oauth/authorize",
		},
		{
			name:       "upstream status",
			err:        &crm.RequestError{Reason: crm.ReasonUpstreamAPI, StatusCode: http.StatusNotFound, Title: "Not Found"},
			wantStatus: http.StatusNotFound,
			wantDetail: "Not Found",
		},
		{
			name:       "transport",
			err:        &crm.RequestError{Reason: crm.ReasonTransport, Err: errors.New("dial tcp")},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "invalid response",
			err:        &crm.RequestError{Reason: crm.ReasonInvalidResponse},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unexpected",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeCRM{respond: func(call crmCall) (*crm.Response, error) { return nil, tt.err }}
			s := newTestServer(t, &fakeTokens{}, client)

			rec := do(t, s, http.MethodGet, "/api/v1/info/account", "", withKey())
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, false, decodeEnvelope(t, rec)["success"])
			assert.NotContains(t, rec.Body.String(), "lock")
			if tt.wantDetail != "" {
				assert.Contains(t, rec.Body.String(), tt.wantDetail)
			}
		})
	}
}

func TestCRMErrorForwardsUpstreamBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want interface{}
	}{
		{
			name: "json body",
			body: `{"title":"Bad Request","validation-errors":[{"request_id":"0","errors":[{"code":"NotSupportedChoice","path":"custom_fields_values.0.field_id"}]}]}`,
			want: map[string]interface{}{
				"title": "Bad Request",
				"validation-errors": []interface{}{map[string]interface{}{
					"request_id": "0",
					"errors": []interface{}{map[string]interface{}{
						"code": "NotSupportedChoice",
						"path": "custom_fields_values.0.field_id",
					}},
				}},
			},
		},
		{
			name: "truncated body",
			body: `{"title":"Bad Request","detail":"lo...`,
			want: `{"title":"Bad Request","detail":"lo...`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqErr := &crm.RequestError{
				Reason:     crm.ReasonUpstreamAPI,
				StatusCode: http.StatusBadRequest,
				Title:      "Bad Request",
				Body:       tt.body,
			}
			client := &fakeCRM{respond: func(call crmCall) (*crm.Response, error) { return nil, reqErr }}
			s := newTestServer(t, &fakeTokens{}, client)

			rec := do(t, s, http.MethodGet, "/api/v1/info/account", "", withKey())
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			details, ok := decodeEnvelope(t, rec)["details"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, tt.want, details["body"])
			assert.Equal(t, "Bad Request", details["title"])
		})
	}

	t.Run("empty body is omitted", func(t *testing.T) {
		reqErr := &crm.RequestError{Reason: crm.ReasonUpstreamAPI, StatusCode: http.StatusNotFound}
		client := &fakeCRM{respond: func(call crmCall) (*crm.Response, error) { return nil, reqErr }}
		s := newTestServer(t, &fakeTokens{}, client)

		rec := do(t, s, http.MethodGet, "/api/v1/info/account", "", withKey())
		details, ok := decodeEnvelope(t, rec)["details"].(map[string]interface{})
		require.True(t, ok)
		assert.NotContains(t, details, "body")
	})
}

func TestPassthrough(t *testing.T) {
	t.Run("get with query", func(t *testing.T) {
		client := &fakeCRM{respond: func(call crmCall) (*crm.Response, error) {
			return jsonResponse(`{"_embedded":{"leads":[]}}`), nil
		}}
		s := newTestServer(t, &fakeTokens{}, client)

		rec := do(t, s, http.MethodGet, "/api/v1/crm/leads?limit=5&api_key=x", "", withKey())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "/api/v4/leads?limit=5", client.calls[0].Path)
	})

	t.Run("post forwards json body", func(t *testing.T) {
		client := &fakeCRM{}
		s := newTestServer(t, &fakeTokens{}, client)

		rec := do(t, s, http.MethodPost, "/api/v1/crm/leads/unsorted/forms", `[{"source_name":"site"}]`, withKey())
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, client.calls, 1)
		assert.Equal(t, http.MethodPost, client.calls[0].Method)
		body, ok := client.calls[0].Body.(json.RawMessage)
		require.True(t, ok)
		assert.JSONEq(t, `[{"source_name":"site"}]`, string(body))
	})

	t.Run("invalid json body", func(t *testing.T) {
		client := &fakeCRM{}
		s := newTestServer(t, &fakeTokens{}, client)

		rec := do(t, s, http.MethodPost, "/api/v1/crm/leads", `{not json`, withKey())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, client.calls)
	})

	t.Run("unsupported method", func(t *testing.T) {
		s := newTestServer(t, &fakeTokens{}, &fakeCRM{})

		rec := do(t, s, http.MethodPut, "/api/v1/crm/leads", "", withKey())
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("no content", func(t *testing.T) {
		client := &fakeCRM{respond: func(call crmCall) (*crm.Response, error) {
			return &crm.Response{StatusCode: http.StatusNoContent}, nil
		}}
		s := newTestServer(t, &fakeTokens{}, client)

		rec := do(t, s, http.MethodDelete, "/api/v1/crm/leads/1/link", "", withKey())
		require.Equal(t, http.StatusOK, rec.Code)
		_, hasData := decodeEnvelope(t, rec)["data"]
		assert.False(t, hasData)
	})
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	s := New(Options{Config: cfg, Tokens: &fakeTokens{}, CRM: &fakeCRM{}})

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(addr net.Addr) { ready <- addr })
	}()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
