// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package web exposes the auth core over HTTP with echo.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/oops"

	"github.com/holomush/shavon/internal/auth"
	"github.com/holomush/shavon/pkg/errutil"
)

// Routes.
const (
	RouteIndex     = "/"
	RouteLogin     = "/auth/login"
	RouteLoginProc = "/auth/login/proc"
	RouteLogout    = "/auth/logout"
	RouteProfile   = "/profile/view/:user_id"
)

// maxLoginBody bounds the login request body.
const maxLoginBody = "8K"

// Config holds the presentation settings of the server.
type Config struct {
	AppName    string
	Version    string
	Cookie     CookieConfig
	TrustProxy bool
}

// UserReader looks users up by id. *auth.UserService satisfies it.
type UserReader interface {
	Get(ctx context.Context, id int64) (*auth.User, error)
}

// Deps are the collaborators of the server.
type Deps struct {
	Auth     *auth.Service
	Gate     *auth.Gate
	Users    UserReader
	Recorder HTTPRecorder
	Logger   *slog.Logger
}

// Server is the application HTTP server.
type Server struct {
	cfg    Config
	cookie CookieConfig
	auth   *auth.Service
	gate   *auth.Gate
	users  UserReader
	logger *slog.Logger
	echo   *echo.Echo

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// New builds the server and registers its routes.
func New(cfg Config, deps Deps) (*Server, error) {
	switch {
	case deps.Auth == nil:
		return nil, oops.Code("WEB_INVALID_DEPS").Errorf("auth service is required")
	case deps.Gate == nil:
		return nil, oops.Code("WEB_INVALID_DEPS").Errorf("auth gate is required")
	case deps.Users == nil:
		return nil, oops.Code("WEB_INVALID_DEPS").Errorf("user reader is required")
	case cfg.Cookie.Name == "":
		return nil, oops.Code("WEB_INVALID_CONFIG").Errorf("cookie name is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		cookie: cfg.Cookie,
		auth:   deps.Auth,
		gate:   deps.Gate,
		users:  deps.Users,
		logger: logger,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	if cfg.TrustProxy {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	e.Use(requestContext())
	e.Use(accessLog(logger, deps.Recorder))
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())

	e.GET(RouteIndex, s.index)
	e.GET(RouteLogin, s.loginPage)
	e.POST(RouteLoginProc, s.loginProc, middleware.BodyLimit(maxLoginBody))

	// Route-level rather than a group: an echo group with middleware also
	// claims every unmatched path under its prefix.
	gate := s.requireAuth()
	e.GET(RouteLogout, s.logout, gate)
	e.GET(RouteProfile, s.profileView, gate).Name = routeProfileName

	s.echo = e
	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and serves in the background. The returned channel
// receives a serve failure and is closed when the server stops.
func (s *Server) Start(addr string) (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("WEB_RUNNING").Errorf("web server already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("WEB_LISTEN_FAILED").With("addr", addr).Wrap(err)
	}

	httpSrv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.listener = listener
	s.httpServer = httpSrv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("web server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("web server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.mu.Lock()
	httpSrv := s.httpServer
	s.mu.Unlock()

	if err := httpSrv.Shutdown(ctx); err != nil {
		s.running.Store(true)
		return oops.Code("WEB_SHUTDOWN_FAILED").Wrap(err)
	}
	s.logger.Info("web server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleError renders errors that escaped a handler. echo's own HTTP errors
// (404, 405, 413) keep their status; anything else is an opaque 500.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code < http.StatusInternalServerError {
		//nolint:errcheck // response write failure leaves nothing to report to
		failResponse(c, he.Code, http.StatusText(he.Code))
		return
	}

	errutil.LogErrorContext(c.Request().Context(), s.logger, "request failed", err)
	//nolint:errcheck // response write failure leaves nothing to report to
	failResponse(c, http.StatusInternalServerError, MessageUnexpected)
}
