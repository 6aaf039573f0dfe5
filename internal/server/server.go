package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"gorm.io/gorm"

	"makercalc/internal/handlers"
	applog "makercalc/internal/log"
	"makercalc/internal/metrics"
	"makercalc/internal/service"
)

const (
	defaultSessionLifetime = 12 * time.Hour
	defaultCookieName      = "makercalc_session"
	defaultShutdownTimeout = 5 * time.Second
)

// Config captures the runtime configuration for the HTTP server.
type Config struct {
	Addr     string
	Session  SessionConfig
	Database *gorm.DB
	// Service backs the API. When nil and Database is set a service with
	// default options is built over Database.
	Service         *service.Service
	Metrics         *metrics.Metrics
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// SessionConfig controls session behavior for the HTTP server.
type SessionConfig struct {
	Lifetime     time.Duration
	CookieName   string
	CookieDomain string
	CookieSecure bool
}

// Server serves the costing API behind session, request id, logging and
// metrics middleware.
type Server struct {
	config     Config
	httpServer *http.Server
}

// New wires the handler package to cfg and builds the middleware chain.
func New(cfg Config) (*Server, error) {
	ctx := context.Background()
	applog.Debug(ctx, "initializing server",
		"addr", cfg.Addr,
		"sessionLifetime", cfg.Session.Lifetime.String(),
		"sessionCookie", cfg.Session.CookieName,
	)

	sessionManager := newSessionManager(ctx, cfg.Session)

	svc := cfg.Service
	if svc == nil && cfg.Database != nil {
		svc = service.New(cfg.Database, service.Options{Metrics: cfg.Metrics})
	}
	handlers.Configure(sessionManager, cfg.Database, svc)
	handlers.SetUploadLimit(cfg.MaxUploadBytes)
	applog.Debug(ctx, "handler dependencies configured", "hasService", svc != nil)

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	var handler http.Handler = newRouter(cfg.Metrics)
	handler = sessionManager.LoadAndSave(handler)
	handler = logRequests(handler)
	handler = instrument(cfg.Metrics, handler)
	handler = requestID(handler)

	return &Server{
		config: cfg,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       time.Minute,
			IdleTimeout:       2 * time.Minute,
		},
	}, nil
}

func newSessionManager(ctx context.Context, cfg SessionConfig) *scs.SessionManager {
	if cfg.Lifetime <= 0 {
		applog.Debug(ctx, "session lifetime not provided, using default")
		cfg.Lifetime = defaultSessionLifetime
	}
	if strings.TrimSpace(cfg.CookieName) == "" {
		applog.Debug(ctx, "session cookie name not provided, using default")
		cfg.CookieName = defaultCookieName
	}

	sm := scs.New()
	sm.Lifetime = cfg.Lifetime
	sm.Cookie.Name = cfg.CookieName
	sm.Cookie.Domain = cfg.CookieDomain
	sm.Cookie.HttpOnly = true
	sm.Cookie.Persist = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = cfg.CookieSecure

	applog.Debug(ctx, "session manager configured",
		"cookieName", cfg.CookieName,
		"cookieDomain", cfg.CookieDomain,
		"cookieSecure", cfg.CookieSecure,
	)
	return sm
}

// Start listens on the configured address until Stop is called.
func (s *Server) Start() error {
	applog.Debug(context.Background(), "server starting listener", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop drains in-flight requests for up to the shutdown timeout.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	applog.Debug(ctx, "server initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the configured HTTP handler, enabling integration tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
