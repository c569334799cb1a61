// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/propagation"

	"github.com/holomush/shavon/internal/auth"
	"github.com/holomush/shavon/internal/logging"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// maxRequestIDLength bounds an inbound X-Request-ID before it is trusted.
const maxRequestIDLength = 64

// identityKey is the echo context key of the gate identity.
const identityKey = "identity"

var traceContext = propagation.TraceContext{}

// requestContext assigns the request id and picks up an upstream
// traceparent, so every record logged with the request context carries both.
func requestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(HeaderRequestID)
			if id == "" || len(id) > maxRequestIDLength {
				id = ulid.Make().String()
			}
			c.Response().Header().Set(HeaderRequestID, id)

			ctx := traceContext.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx = logging.WithRequestID(ctx, id)
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// HTTPRecorder observes served requests.
type HTTPRecorder interface {
	RecordHTTPRequest(route, method string, status int, elapsed time.Duration)
}

// accessLog logs each request and feeds the recorder.
func accessLog(logger *slog.Logger, rec HTTPRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let the error handler write the response before reading the status.
				c.Error(err)
			}
			elapsed := time.Since(start)

			status := c.Response().Status
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			if rec != nil {
				rec.RecordHTTPRequest(route, c.Request().Method, status, elapsed)
			}

			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(c.Request().Context(), level, "http request",
				slog.String("method", c.Request().Method),
				slog.String("route", route),
				slog.Int("status", status),
				slog.Duration("elapsed", elapsed),
				slog.String("remote_ip", c.RealIP()))
			return nil
		}
	}
}

// requireAuth runs the gate before protected handlers. Every rejection is a
// 303 to the login page; the cookie is cleared whenever one was presented.
func (s *Server) requireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			decision := s.gate.Check(c.Request().Context(), s.cookie.read(c))
			if decision.Outcome != auth.OutcomeProceed {
				if decision.ClearCookie {
					s.cookie.clear(c)
				}
				return c.Redirect(http.StatusSeeOther, RouteLogin)
			}

			c.Set(identityKey, decision.Identity)
			c.SetRequest(c.Request().WithContext(auth.WithIdentity(c.Request().Context(), decision.Identity)))
			return next(c)
		}
	}
}

// identity returns the gate identity. Only valid behind requireAuth.
func identity(c echo.Context) *auth.Identity {
	id, _ := c.Get(identityKey).(*auth.Identity)
	return id
}
