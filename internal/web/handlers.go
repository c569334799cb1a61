// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/holomush/shavon/internal/auth"
	"github.com/holomush/shavon/pkg/errutil"
)

// routeProfileName is the reverse-routing name of RouteProfile.
const routeProfileName = "profile.view"

var loginPageTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Name}} | Sign in</title></head>
<body>
<h1>{{.Name}}</h1>
<form id="login" method="post" action="{{.Action}}">
<label>Email <input type="email" name="email" autocomplete="username" required></label>
<label>Password <input type="password" name="password" autocomplete="current-password" required></label>
<label>Captcha <input type="text" name="captcha"></label>
<button type="submit">Sign in</button>
</form>
<p id="message" role="alert"></p>
<script>
document.getElementById("login").addEventListener("submit", async (ev) => {
  ev.preventDefault();
  const form = new FormData(ev.target);
  const body = {email: form.get("email"), password: form.get("password")};
  if (form.get("captcha")) { body.captcha = form.get("captcha"); }
  const res = await fetch(ev.target.action, {method: "POST", headers: {"Content-Type": "application/json"}, body: JSON.stringify(body)});
  const data = await res.json();
  if (data.status === "ok" && data.redirect_url) { window.location = data.redirect_url; return; }
  document.getElementById("message").textContent = data.message || "";
});
</script>
</body>
</html>
`))

// ProfileView is the public shape of a user on the profile route.
type ProfileView struct {
	ID          int64     `json:"id"`
	Email       string    `json:"email"`
	IsActive    bool      `json:"is_active"`
	DateCreated time.Time `json:"date_created"`
}

// ProfileResponse wraps ProfileView in the status envelope.
type ProfileResponse struct {
	Status string      `json:"status"`
	User   ProfileView `json:"user"`
}

func (s *Server) index(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  StatusOK,
		"name":    s.cfg.AppName,
		"version": s.cfg.Version,
	})
}

func (s *Server) loginPage(c echo.Context) error {
	var page strings.Builder
	err := loginPageTemplate.Execute(&page, map[string]string{
		"Name":   s.cfg.AppName,
		"Action": RouteLoginProc,
	})
	if err != nil {
		return err
	}
	return c.HTML(http.StatusOK, page.String())
}

// loginProc answers every expected outcome with HTTP 200 and an envelope.
// Unknown email, wrong password, inactive account and malformed input all
// produce the same message.
func (s *Server) loginProc(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}

	form, formErr := DecodeLoginForm(body)
	if formErr != nil {
		s.logger.DebugContext(ctx, "login body rejected", slog.String("error", formErr.Error()))
		// Still run the flow so the attempt counts against the address.
		form = &LoginForm{}
	}

	result, err := s.auth.Login(ctx, auth.LoginRequest{
		Email:     form.Email,
		Password:  form.Password,
		Captcha:   form.Captcha,
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	switch {
	case err == nil:
		s.cookie.set(c, result.Token)
		return okResponse(c, c.Echo().Reverse(routeProfileName, result.User.ID))
	case errors.Is(err, auth.ErrCaptchaRequired):
		return failResponse(c, http.StatusOK, MessageCaptchaRequired)
	case errors.Is(err, auth.ErrValidation), errors.Is(err, auth.ErrAuthenticationFailed):
		return failResponse(c, http.StatusOK, auth.GenericFailureMessage)
	default:
		errutil.LogErrorContext(ctx, s.logger, "login failed", err)
		return failResponse(c, http.StatusInternalServerError, MessageUnexpected)
	}
}

func (s *Server) logout(c echo.Context) error {
	id := identity(c)
	s.cookie.clear(c)
	if id != nil {
		if err := s.auth.Logout(c.Request().Context(), id.Session); err != nil {
			return err
		}
	}
	return c.Redirect(http.StatusSeeOther, RouteLogin)
}

func (s *Server) profileView(c echo.Context) error {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		return failResponse(c, http.StatusNotFound, MessageNotFound)
	}

	user, err := s.users.Get(c.Request().Context(), userID)
	if errors.Is(err, auth.ErrNotFound) {
		return failResponse(c, http.StatusNotFound, MessageNotFound)
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ProfileResponse{
		Status: StatusOK,
		User: ProfileView{
			ID:          user.ID,
			Email:       user.SafeEmail(),
			IsActive:    user.IsActive,
			DateCreated: user.DateCreated,
		},
	})
}
