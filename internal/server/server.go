package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"crmgate/internal/auth"
	"crmgate/internal/config"
	"crmgate/internal/crm"
	"crmgate/internal/oauth"
	"crmgate/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultWriteTimeout covers a CRM call with one refresh and one retry.
	DefaultWriteTimeout = 120 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second

	maxRequestBody = 1 << 20
)

// TokenManager is the part of auth.Manager the HTTP surface needs.
type TokenManager interface {
	ExchangeAuthorizationCode(ctx context.Context, code string) error
	Status(ctx context.Context) auth.Status
}

// CRMClient is the part of crm.Executor the HTTP surface needs.
type CRMClient interface {
	Call(ctx context.Context, method, path string, body interface{}) (*crm.Response, error)
}

// Options wires the server to its collaborators.
type Options struct {
	Config     config.Config
	Tokens     TokenManager
	CRM        CRMClient
	Authorizer *oauth.Authorizer
}

// Server is the gateway HTTP server.
type Server struct {
	cfg        config.Config
	tokens     TokenManager
	crm        CRMClient
	authorizer *oauth.Authorizer
	httpServer *http.Server
}

// New creates a server. Call Run to start serving.
func New(opts Options) *Server {
	s := &Server{
		cfg:        opts.Config,
		tokens:     opts.Tokens,
		crm:        opts.CRM,
		authorizer: opts.Authorizer,
	}
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /oauth/authorize", s.handleAuthorize)
	mux.HandleFunc("GET /oauth/callback", s.handleCallback)
	mux.HandleFunc("GET /oauth/status", s.handleOAuthStatus)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/info/pipelines", s.handlePipelines)
	api.HandleFunc("GET /api/v1/info/pipelines/{id}", s.handlePipeline)
	api.HandleFunc("GET /api/v1/info/lead-fields", s.handleCustomFields("leads"))
	api.HandleFunc("GET /api/v1/info/contact-fields", s.handleCustomFields("contacts"))
	api.HandleFunc("GET /api/v1/info/account", s.handleAccount)
	api.HandleFunc("GET /api/v1/diagnostics/token-status", s.handleTokenStatus)
	api.HandleFunc("GET /api/v1/diagnostics/config", s.handleConfig)
	api.HandleFunc("/api/v1/crm/{path...}", s.handlePassthrough)
	api.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found: "+r.URL.Path, nil)
	})
	mux.Handle("/api/v1/", requireAPIKey(s.cfg.Server.APIKey, api))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Endpoint not found: "+r.URL.Path, nil)
	})

	return logRequests(cors(mux))
}

// Run serves until ctx is done, then shuts down gracefully. onReady, when
// set, is called with the bound address once the listener is open.
func (s *Server) Run(ctx context.Context, onReady func(addr net.Addr)) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	logging.Info("HTTP", "Listening on %s", ln.Addr())
	if onReady != nil {
		onReady(ln.Addr())
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logging.Info("HTTP", "Shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]string{"status": "ok"}, "Gateway is running")
}
