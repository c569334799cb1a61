// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/shavon/internal/auth"
	"github.com/holomush/shavon/internal/auth/authtest"
	"github.com/holomush/shavon/internal/logging"
	"github.com/holomush/shavon/internal/web"
)

const (
	testEmail    = "john@example.com"
	testPassword = "open sesame"
	cookieName   = "auth_token"
	clientIP     = "203.0.113.9"
)

type httpRecorder struct {
	routes []string
}

func (r *httpRecorder) RecordHTTPRequest(route, method string, status int, _ time.Duration) {
	r.routes = append(r.routes, method+" "+route+" "+strconv.Itoa(status))
}

// flakyUsers fails the next failNext GetByID calls with a store error.
type flakyUsers struct {
	auth.UserRepository
	mu       sync.Mutex
	failNext int
	calls    int
}

func (u *flakyUsers) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	u.mu.Lock()
	u.calls++
	fail := u.failNext > 0
	if fail {
		u.failNext--
	}
	u.mu.Unlock()
	if fail {
		return nil, auth.NewStoreError("get user", errors.New("connection reset"))
	}
	return u.UserRepository.GetByID(ctx, id)
}

type webFixture struct {
	store   *authtest.Store
	hasher  auth.PasswordHasher
	tokens  *auth.TokenIssuer
	logs    *bytes.Buffer
	metrics *httpRecorder
	server  *web.Server
	// profileUsers backs the profile route only; the gate reads the store directly.
	profileUsers *flakyUsers
	// peer is the socket address requests arrive from.
	peer string
}

func newWebFixture(t *testing.T, configure ...func(*web.Config)) *webFixture {
	t.Helper()
	f := &webFixture{
		store:   authtest.NewStore(),
		hasher:  auth.NewPBKDF2Hasher(),
		logs:    &bytes.Buffer{},
		metrics: &httpRecorder{},
		peer:    clientIP,
	}
	f.profileUsers = &flakyUsers{UserRepository: f.store.Users()}
	logger, err := logging.Setup(logging.Options{Service: "shavon", Level: "debug", Writer: f.logs})
	require.NoError(t, err)
	opts := []auth.Option{auth.WithLogger(logger)}

	throttle, err := auth.NewThrottle(f.store.Attempts(), opts...)
	require.NoError(t, err)
	sessions, err := auth.NewSessionStore(f.store.Sessions(), auth.SessionStoreConfig{}, opts...)
	require.NoError(t, err)
	f.tokens, err = auth.NewTokenIssuer(auth.TokenConfig{Secret: []byte(strings.Repeat("s", 32))}, opts...)
	require.NoError(t, err)
	svc, err := auth.NewService(auth.ServiceDeps{
		Users:    f.store.Users(),
		Throttle: throttle,
		Sessions: sessions,
		Tokens:   f.tokens,
		Hasher:   f.hasher,
	}, opts...)
	require.NoError(t, err)
	gate, err := auth.NewGate(f.tokens, sessions, f.store.Users(), opts...)
	require.NoError(t, err)
	users, err := auth.NewUserService(f.profileUsers, sessions, f.hasher, authtest.Transactor{}, opts...)
	require.NoError(t, err)

	cfg := web.Config{
		AppName: "Shavon",
		Version: "1.2.3",
		Cookie:  web.CookieConfig{Name: cookieName, Domain: "localhost", Lifespan: time.Hour},
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	f.server, err = web.New(cfg, web.Deps{
		Auth:     svc,
		Gate:     gate,
		Users:    users,
		Recorder: f.metrics,
		Logger:   logger,
	})
	require.NoError(t, err)
	return f
}

func (f *webFixture) addUser(t *testing.T, email string, active bool) *auth.User {
	t.Helper()
	hash, err := f.hasher.Hash(testPassword)
	require.NoError(t, err)
	user, err := auth.NewUser(email, hash, active)
	require.NoError(t, err)
	require.NoError(t, f.store.Users().Create(context.Background(), user))
	return user
}

func (f *webFixture) do(req *http.Request) *httptest.ResponseRecorder {
	req.RemoteAddr = f.peer + ":53211"
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *webFixture) postLogin(t *testing.T, body any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(http.MethodPost, web.RouteLoginProc, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return f.do(req)
}

func (f *webFixture) postLoginWithHeaders(t *testing.T, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, web.RouteLoginProc, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return f.do(req)
}

func (f *webFixture) get(path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return f.do(req)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) web.Envelope {
	t.Helper()
	var env web.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func authCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", cookieName)
	return nil
}

func creds(email, password string) map[string]string {
	return map[string]string{"email": email, "password": password}
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := web.New(web.Config{Cookie: web.CookieConfig{Name: cookieName}}, web.Deps{})
	require.Error(t, err)
}

func TestIndex(t *testing.T) {
	f := newWebFixture(t)

	rec := f.get(web.RouteIndex, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"status": "ok", "name": "Shavon", "version": "1.2.3"}, body)
}

func TestLoginPage(t *testing.T) {
	f := newWebFixture(t)

	rec := f.get(web.RouteLogin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `action="/auth/login/proc"`)
}

func TestLoginProc_Success(t *testing.T) {
	f := newWebFixture(t)
	user := f.addUser(t, testEmail, true)

	rec := f.postLogin(t, creds(testEmail, testPassword))
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	assert.Equal(t, web.StatusOK, env.Status)
	assert.Equal(t, "/profile/view/"+strconv.FormatInt(user.ID, 10), env.RedirectURL)

	cookie := authCookie(t, rec)
	assert.Equal(t, "localhost", cookie.Domain)
	assert.Equal(t, 3600, cookie.MaxAge)
	assert.True(t, cookie.HttpOnly)

	claims, err := f.tokens.Verify(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Len(t, f.store.SessionsForUser(user.ID), 1)

	sess := f.store.SessionsForUser(user.ID)[0]
	assert.Equal(t, clientIP, sess.IPAddress)
	_, counted := f.store.Attempt(clientIP)
	assert.False(t, counted, "success clears the attempt record")
}

func TestLoginProc_FailuresAreIndistinguishable(t *testing.T) {
	f := newWebFixture(t)
	f.addUser(t, testEmail, true)
	f.addUser(t, "inactive@example.com", false)

	bodies := []any{
		creds("nobody@example.com", testPassword),
		creds(testEmail, "wrong password"),
		creds("inactive@example.com", testPassword),
	}
	for _, body := range bodies {
		rec := f.postLogin(t, body)
		require.Equal(t, http.StatusOK, rec.Code)
		env := decodeEnvelope(t, rec)
		assert.Equal(t, web.Envelope{Status: web.StatusFail, Message: auth.GenericFailureMessage}, env)
		assert.Empty(t, rec.Result().Cookies())
	}
}

func TestLoginProc_MalformedBodyCounts(t *testing.T) {
	f := newWebFixture(t)

	tests := []struct {
		name string
		body any
	}{
		{"not json", "email=a&password=b"},
		{"missing password", map[string]string{"email": testEmail}},
		{"wrong type", map[string]any{"email": testEmail, "password": 42}},
		{"empty email", creds("", testPassword)},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.postLogin(t, tt.body)
			require.Equal(t, http.StatusOK, rec.Code)
			env := decodeEnvelope(t, rec)
			assert.Equal(t, web.StatusFail, env.Status)
			assert.Equal(t, auth.GenericFailureMessage, env.Message)

			attempt, ok := f.store.Attempt(clientIP)
			require.True(t, ok)
			assert.Equal(t, i+1, attempt.AttemptCount)
		})
	}
}

func TestLoginProc_CaptchaAfterThreshold(t *testing.T) {
	f := newWebFixture(t)
	f.addUser(t, testEmail, true)

	for range auth.CaptchaThreshold {
		rec := f.postLogin(t, creds(testEmail, "wrong"))
		assert.Equal(t, auth.GenericFailureMessage, decodeEnvelope(t, rec).Message)
	}

	rec := f.postLogin(t, creds(testEmail, testPassword))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, web.Envelope{Status: web.StatusFail, Message: web.MessageCaptchaRequired}, decodeEnvelope(t, rec))

	rec = f.postLogin(t, map[string]any{"email": testEmail, "password": testPassword, "captcha": nil})
	assert.Equal(t, web.MessageCaptchaRequired, decodeEnvelope(t, rec).Message)

	rec = f.postLogin(t, map[string]string{"email": testEmail, "password": testPassword, "captcha": "solved"})
	assert.Equal(t, web.StatusOK, decodeEnvelope(t, rec).Status)
}

func TestLoginProc_StoreFailureIsOpaque(t *testing.T) {
	f := newWebFixture(t)
	f.store.FailOn("attempts.Increment", auth.NewStoreError("increment", errors.New("pq: connection reset by 10.0.0.5")))

	rec := f.postLogin(t, creds(testEmail, testPassword))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, web.Envelope{Status: web.StatusFail, Message: web.MessageUnexpected}, decodeEnvelope(t, rec))
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
	assert.Contains(t, f.logs.String(), "10.0.0.5", "detail stays in the server log")
}

func TestLoginProc_LogsNeverCarryPassword(t *testing.T) {
	f := newWebFixture(t)
	f.addUser(t, testEmail, true)

	f.postLogin(t, creds(testEmail, "wrong-but-secret"))
	f.postLogin(t, creds(testEmail, testPassword))

	assert.NotContains(t, f.logs.String(), "wrong-but-secret")
	assert.NotContains(t, f.logs.String(), testPassword)
}

func TestLoginProc_OriginAddress(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		peer       string
		// forwarded returns the X-Forwarded-For value of the i-th request.
		forwarded func(i int) string
		wantKey    string
	}{
		{
			name:      "direct ignores rotating forwarded headers",
			peer:      clientIP,
			forwarded: func(i int) string { return "198.51.100." + strconv.Itoa(i+1) },
			wantKey:   clientIP,
		},
		{
			name:       "trusted proxy forwards the client address",
			trustProxy: true,
			peer:       "10.0.0.2",
			forwarded:  func(int) string { return "198.51.100.7" },
			wantKey:    "198.51.100.7",
		},
		{
			name:       "trusted mode ignores headers from a public peer",
			trustProxy: true,
			peer:       clientIP,
			forwarded:  func(i int) string { return "198.51.100." + strconv.Itoa(i+1) },
			wantKey:    clientIP,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWebFixture(t, func(cfg *web.Config) { cfg.TrustProxy = tt.trustProxy })
			f.peer = tt.peer
			f.addUser(t, testEmail, true)

			attempts := auth.CaptchaThreshold + 1
			for i := range attempts {
				rec := f.postLoginWithHeaders(t, creds(testEmail, "wrong"), map[string]string{
					"X-Forwarded-For": tt.forwarded(i),
					"X-Real-IP":       "192.0.2." + strconv.Itoa(i+1),
				})
				require.Equal(t, http.StatusOK, rec.Code)
			}

			attempt, ok := f.store.Attempt(tt.wantKey)
			require.True(t, ok, "no attempt row for %s", tt.wantKey)
			assert.Equal(t, attempts, attempt.AttemptCount)
			for i := range attempts {
				_, spoofed := f.store.Attempt("192.0.2." + strconv.Itoa(i+1))
				assert.False(t, spoofed, "X-Real-IP must never key the throttle")
			}

			rec := f.postLoginWithHeaders(t, creds(testEmail, testPassword), map[string]string{
				"X-Forwarded-For": tt.forwarded(attempts),
			})
			assert.Equal(t, web.MessageCaptchaRequired, decodeEnvelope(t, rec).Message)
		})
	}
}

func login(t *testing.T, f *webFixture) (*auth.User, *http.Cookie) {
	t.Helper()
	user := f.addUser(t, testEmail, true)
	rec := f.postLogin(t, creds(testEmail, testPassword))
	require.Equal(t, web.StatusOK, decodeEnvelope(t, rec).Status)
	return user, authCookie(t, rec)
}

func assertRedirectToLogin(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, web.RouteLogin, rec.Header().Get("Location"))
}

func assertCookieCleared(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	raw := strings.Join(rec.Header().Values("Set-Cookie"), "\n")
	assert.Contains(t, raw, cookieName+"=;")
	assert.Contains(t, raw, "Max-Age=0")
}

func TestGate_NoCookieRedirects(t *testing.T) {
	f := newWebFixture(t)

	rec := f.get("/profile/view/1", nil)
	assertRedirectToLogin(t, rec)
	assert.Empty(t, rec.Header().Values("Set-Cookie"), "no cookie to clear")
}

func TestGate_TamperedCookieRedirectsAndClears(t *testing.T) {
	f := newWebFixture(t)
	_, cookie := login(t, f)

	cookie.Value += "x"
	rec := f.get("/profile/view/1", cookie)
	assertRedirectToLogin(t, rec)
	assertCookieCleared(t, rec)
}

func TestGate_InactiveUserRedirects(t *testing.T) {
	f := newWebFixture(t)
	user, cookie := login(t, f)
	require.NoError(t, f.store.Users().SetActive(context.Background(), user.ID, false))

	rec := f.get("/profile/view/"+strconv.FormatInt(user.ID, 10), cookie)
	assertRedirectToLogin(t, rec)
	assertCookieCleared(t, rec)
}

func TestProfileView(t *testing.T) {
	f := newWebFixture(t)
	user, cookie := login(t, f)

	rec := f.get("/profile/view/"+strconv.FormatInt(user.ID, 10), cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var body web.ProfileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, web.StatusOK, body.Status)
	assert.Equal(t, user.ID, body.User.ID)
	assert.Equal(t, "jo**@example.com", body.User.Email)
	assert.True(t, body.User.IsActive)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestProfileView_RetriesStoreFailureOnce(t *testing.T) {
	f := newWebFixture(t)
	user, cookie := login(t, f)
	path := "/profile/view/" + strconv.FormatInt(user.ID, 10)

	f.profileUsers.failNext = 1
	rec := f.get(path, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, f.profileUsers.calls)

	f.profileUsers.failNext = 2
	rec = f.get(path, cookie)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, web.Envelope{Status: web.StatusFail, Message: web.MessageUnexpected}, decodeEnvelope(t, rec))
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestProfileView_NotFound(t *testing.T) {
	f := newWebFixture(t)
	_, cookie := login(t, f)

	for _, path := range []string{"/profile/view/9999", "/profile/view/abc", "/profile/view/-3"} {
		rec := f.get(path, cookie)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, web.Envelope{Status: web.StatusFail, Message: web.MessageNotFound}, decodeEnvelope(t, rec))
	}
}

func TestLogout(t *testing.T) {
	f := newWebFixture(t)
	user, cookie := login(t, f)

	rec := f.get(web.RouteLogout, cookie)
	assertRedirectToLogin(t, rec)
	assertCookieCleared(t, rec)
	assert.Empty(t, f.store.SessionsForUser(user.ID))

	// The old token no longer opens protected routes.
	rec = f.get("/profile/view/"+strconv.FormatInt(user.ID, 10), cookie)
	assertRedirectToLogin(t, rec)
}

func TestLogout_RequiresAuth(t *testing.T) {
	f := newWebFixture(t)

	rec := f.get(web.RouteLogout, nil)
	assertRedirectToLogin(t, rec)
}

func TestRequestID(t *testing.T) {
	f := newWebFixture(t)

	rec := f.get(web.RouteIndex, nil)
	generated := rec.Header().Get(web.HeaderRequestID)
	assert.Len(t, generated, 26, "ulid")

	req := httptest.NewRequest(http.MethodGet, web.RouteIndex, nil)
	req.Header.Set(web.HeaderRequestID, "upstream-id")
	rec = f.do(req)
	assert.Equal(t, "upstream-id", rec.Header().Get(web.HeaderRequestID))
	assert.Contains(t, f.logs.String(), `"request_id":"upstream-id"`)
}

func TestAccessLogAndMetrics(t *testing.T) {
	f := newWebFixture(t)

	f.get(web.RouteIndex, nil)
	f.get("/no/such/route", nil)
	f.get("/profile/view/7", nil)

	require.Len(t, f.metrics.routes, 3)
	assert.Equal(t, "GET / 200", f.metrics.routes[0])
	assert.True(t, strings.HasSuffix(f.metrics.routes[1], " 404"), f.metrics.routes[1])
	assert.Equal(t, "GET /profile/view/:user_id 303", f.metrics.routes[2])

	var sawRequest bool
	for _, line := range strings.Split(strings.TrimSpace(f.logs.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == "http request" {
			sawRequest = true
			assert.Equal(t, clientIP, entry["remote_ip"])
		}
	}
	assert.True(t, sawRequest)
}

func TestTraceparentReachesLogs(t *testing.T) {
	f := newWebFixture(t)

	req := httptest.NewRequest(http.MethodGet, web.RouteIndex, nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	f.do(req)

	assert.Contains(t, f.logs.String(), `"trace_id":"4bf92f3577b34da6a3ce929d0e0e4736"`)
}
