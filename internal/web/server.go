// Package web serves the parse form, its static assets and a small JSON
// view of the catalog.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	perrors "github.com/FocuswithJustin/parseweb/core/errors"
	"github.com/FocuswithJustin/parseweb/core/runner"
	"github.com/FocuswithJustin/parseweb/internal/catalog"
	"github.com/FocuswithJustin/parseweb/internal/config"
	"github.com/FocuswithJustin/parseweb/internal/logging"
	"github.com/FocuswithJustin/parseweb/internal/page"
	"github.com/FocuswithJustin/parseweb/internal/server"
)

// Server timeouts. The write timeout also covers the parser run.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	idleTimeout       = 120 * time.Second
	writeMargin       = 15 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server holds everything the handlers need. It is safe for concurrent use.
type Server struct {
	cfg     *config.Config
	catalog *catalog.Catalog
	invoker runner.Invoker
	baseURL string

	mu     sync.RWMutex
	index  *page.Template
	result *page.Template

	limiter *server.RateLimiter
	handler http.Handler
}

// New loads the page templates and builds the handler chain. A malformed
// template is returned as an error so startup can fail.
func New(cfg *config.Config, cat *catalog.Catalog, inv runner.Invoker) (*Server, error) {
	if cfg == nil || cat == nil || inv == nil {
		return nil, errors.New("web: config, catalog and invoker are required")
	}

	s := &Server{
		cfg:     cfg,
		catalog: cat,
		invoker: inv,
		baseURL: cfg.BaseURL(),
	}

	index, result, err := loadTemplates(cfg.Templates)
	if err != nil {
		return nil, err
	}
	s.index, s.result = index, result

	if cfg.Server.Debug {
		logging.SecurityEvent("debug_mode_enabled", "web",
			"bind", config.DebugHost,
			"template_reload", true,
			"note", "parser error detail is shown to clients")
	}

	if cfg.Limits.RequestsPerMinute > 0 {
		s.limiter = server.NewRateLimiter(server.RateLimiterConfig{
			RequestsPerMinute: cfg.Limits.RequestsPerMinute,
			BurstSize:         cfg.Limits.Burst,
			Methods:           []string{http.MethodPost},
			TrustProxy:        cfg.Limits.TrustProxy,
		})
		logging.Info("rate limiting enabled",
			"requests_per_minute", cfg.Limits.RequestsPerMinute,
			"burst_size", cfg.Limits.Burst,
			"trust_proxy", cfg.Limits.TrustProxy)
	}

	s.handler = s.buildHandler()
	return s, nil
}

// loadTemplates reads the index and result pages. An empty index path
// uses the embedded page; an empty result path reuses the index.
func loadTemplates(tc config.TemplatesConfig) (index, result *page.Template, err error) {
	if tc.Index == "" {
		index = page.Default()
	} else if index, err = page.Load(tc.Index); err != nil {
		return nil, nil, err
	}

	if tc.Result == "" {
		return index, index, nil
	}
	if result, err = page.Load(tc.Result); err != nil {
		return nil, nil, err
	}
	return index, result, nil
}

// templates returns the pages for a request, reading them again from disk
// in debug mode.
func (s *Server) templates() (index, result *page.Template, err error) {
	if s.cfg.Server.Debug && (s.cfg.Templates.Index != "" || s.cfg.Templates.Result != "") {
		index, result, err = loadTemplates(s.cfg.Templates)
		if err != nil {
			return nil, nil, err
		}
		s.mu.Lock()
		s.index, s.result = index, result
		s.mu.Unlock()
		return index, result, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index, s.result, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/css/", s.staticHandler("/css/", s.cfg.Static.CSSDir))
	mux.HandleFunc("/js/", s.staticHandler("/js/", s.cfg.Static.JSDir))

	// JSON
	mux.HandleFunc("/types", s.handleTypes)
	mux.HandleFunc("/types/", s.handleTypes)
	mux.HandleFunc("/health", s.handleHealth)

	return mux
}

// buildHandler applies the middleware chain:
// recover -> logging -> timing -> security headers -> rate limit -> mux.
func (s *Server) buildHandler() http.Handler {
	var handler http.Handler = s.setupRoutes()
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = server.SecurityHeadersWithCSP(server.WebUICSPConfig(), handler)
	handler = server.TimingMiddleware(handler)
	handler = logging.CombinedMiddleware(handler)
	return server.RecoverMiddleware(handler)
}

// Handler returns the complete handler chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Close()
	}
}

// ListenAndServe binds the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := checkTLSFiles(s.cfg.Server.TLS); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return perrors.Wrapf(err, "failed to listen on %s", s.cfg.ListenAddr())
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	tls := s.cfg.Server.TLS
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      s.cfg.Parser.Timeout + writeMargin,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(logging.GetLogger().Handler(), slog.LevelWarn),
	}

	protocol := "http"
	if tls.Enabled {
		protocol = "https"
		logging.Info("TLS enabled", "cert_file", tls.CertFile)
	} else {
		logging.Warn("TLS disabled - using plain HTTP",
			"recommendation", "consider using TLS or reverse proxy for production")
	}

	host, port := s.cfg.EffectiveHost(), s.cfg.Server.Port
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	logging.ServerStartup("parse_ui", host, port,
		"protocol", protocol,
		"server_url", s.baseURL,
		"catalog_size", s.catalog.Len(),
		"parser_dir", server.AbsPath(s.cfg.Parser.Dir),
		"parser_mode", s.cfg.Parser.Mode)

	errCh := make(chan error, 1)
	go func() {
		if tls.Enabled {
			errCh <- srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Info("server_shutdown", "reason", context.Cause(ctx).Error())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return perrors.Wrap(err, "graceful shutdown failed")
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func checkTLSFiles(tls config.TLSConfig) error {
	if !tls.Enabled {
		return nil
	}
	if tls.CertFile == "" || tls.KeyFile == "" {
		return errors.New("TLS enabled but cert or key file not specified")
	}
	if _, err := os.Stat(tls.CertFile); err != nil {
		return perrors.Wrap(err, "TLS cert file not found")
	}
	if _, err := os.Stat(tls.KeyFile); err != nil {
		return perrors.Wrap(err, "TLS key file not found")
	}
	return nil
}
