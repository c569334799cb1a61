// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// CookieConfig describes the auth cookie.
type CookieConfig struct {
	Name     string
	Domain   string
	Lifespan time.Duration
	Secure   bool
}

func (cc CookieConfig) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     cc.Name,
		Value:    value,
		Path:     "/",
		Domain:   cc.Domain,
		MaxAge:   maxAge,
		Secure:   cc.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (cc CookieConfig) set(c echo.Context, token string) {
	c.SetCookie(cc.cookie(token, int(cc.Lifespan.Seconds())))
}

// clear overwrites the cookie with an empty value. net/http renders a
// negative MaxAge as "Max-Age=0".
func (cc CookieConfig) clear(c echo.Context) {
	c.SetCookie(cc.cookie("", -1))
}

// read returns the cookie value, or "" when absent.
func (cc CookieConfig) read(c echo.Context) string {
	cookie, err := c.Cookie(cc.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
