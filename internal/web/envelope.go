// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Envelope statuses.
const (
	StatusOK   = "ok"
	StatusFail = "fail"
)

// Client-visible messages. Internals never reach the response.
const (
	MessageUnexpected      = "An unexpected error occurred."
	MessageCaptchaRequired = "Captcha required."
	MessageNotFound        = "Could not find user."
)

// Envelope is the JSON body of every login and profile response.
type Envelope struct {
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

func okResponse(c echo.Context, redirectURL string) error {
	return c.JSON(http.StatusOK, Envelope{Status: StatusOK, RedirectURL: redirectURL})
}

func failResponse(c echo.Context, code int, message string) error {
	return c.JSON(code, Envelope{Status: StatusFail, Message: message})
}
