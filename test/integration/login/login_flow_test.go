// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package login_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/shavon/internal/auth"
	"github.com/holomush/shavon/internal/web"
)

type envelope struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	RedirectURL string `json:"redirect_url"`
}

func newClient() *http.Client {
	jar, err := cookiejar.New(nil)
	Expect(err).NotTo(HaveOccurred())
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func postLogin(client *http.Client, body string) (*http.Response, envelope) {
	resp, err := client.Post(env.server.URL+web.RouteLoginProc, "application/json", strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	var out envelope
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return resp, out
}

func get(client *http.Client, path string) *http.Response {
	resp, err := client.Get(env.server.URL + path)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(resp.Body.Close)
	return resp
}

func attemptCount(ctx context.Context) int {
	var count int
	err := env.pool.QueryRow(ctx, "SELECT attempt_count FROM login_attempts WHERE ip_address = '127.0.0.1'").Scan(&count)
	if err != nil {
		return 0
	}
	return count
}

var _ = Describe("Login flow", func() {
	var (
		ctx    context.Context
		client *http.Client
		user   *auth.User
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		client = newClient()

		var err error
		user, err = env.admin.Create(ctx, "Jane.Doe@example.com", "correct-horse", true)
		Expect(err).NotTo(HaveOccurred())
	})

	It("logs in, reaches the profile and logs out", func() {
		resp, body := postLogin(client, `{"email":"jane.doe@example.com","password":"correct-horse"}`)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body.Status).To(Equal("ok"))
		Expect(body.RedirectURL).To(Equal("/profile/view/" + strconv.FormatInt(user.ID, 10)))

		var sessions int
		Expect(env.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sessions WHERE user_id = $1", user.ID).Scan(&sessions)).To(Succeed())
		Expect(sessions).To(Equal(1))
		Expect(attemptCount(ctx)).To(BeZero())

		profile := get(client, body.RedirectURL)
		Expect(profile.StatusCode).To(Equal(http.StatusOK))
		var view web.ProfileResponse
		Expect(json.NewDecoder(profile.Body).Decode(&view)).To(Succeed())
		Expect(view.User.Email).To(Equal("ja******@example.com"))

		logout := get(client, web.RouteLogout)
		Expect(logout.StatusCode).To(Equal(http.StatusSeeOther))
		Expect(env.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sessions WHERE user_id = $1", user.ID).Scan(&sessions)).To(Succeed())
		Expect(sessions).To(BeZero())

		again := get(client, body.RedirectURL)
		Expect(again.StatusCode).To(Equal(http.StatusSeeOther))
		Expect(again.Header.Get("Location")).To(Equal(web.RouteLogin))
	})

	It("gives the same answer for a wrong password, an unknown email and an inactive user", func() {
		_, err := env.admin.Deactivate(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())

		var messages []string
		for _, body := range []string{
			`{"email":"jane.doe@example.com","password":"correct-horse"}`,
			`{"email":"nobody@example.com","password":"correct-horse"}`,
			`{"email":"jane.doe@example.com","password":"wrong"}`,
		} {
			resp, out := postLogin(client, body)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(out.Status).To(Equal("fail"))
			messages = append(messages, out.Message)
		}
		Expect(messages).To(HaveEach(auth.GenericFailureMessage))
		Expect(attemptCount(ctx)).To(Equal(3))
	})

	It("requires a captcha after repeated failures", func() {
		for range 3 {
			_, body := postLogin(client, `{"email":"jane.doe@example.com","password":"wrong"}`)
			Expect(body.Message).To(Equal(auth.GenericFailureMessage))
		}

		_, body := postLogin(client, `{"email":"jane.doe@example.com","password":"correct-horse"}`)
		Expect(body.Message).To(Equal(web.MessageCaptchaRequired))

		_, body = postLogin(client, `{"email":"jane.doe@example.com","password":"correct-horse","captcha":"solved"}`)
		Expect(body.Status).To(Equal("ok"))
		Expect(attemptCount(ctx)).To(BeZero())
	})

	It("rejects a session dropped by deactivation", func() {
		_, body := postLogin(client, `{"email":"jane.doe@example.com","password":"correct-horse"}`)
		Expect(body.Status).To(Equal("ok"))

		dropped, err := env.admin.Deactivate(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(dropped).To(Equal(int64(1)))

		resp := get(client, body.RedirectURL)
		Expect(resp.StatusCode).To(Equal(http.StatusSeeOther))
		Expect(resp.Header.Get("Location")).To(Equal(web.RouteLogin))
	})
})
