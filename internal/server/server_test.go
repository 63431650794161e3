package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/connhub/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:                   8080,
		LogLevel:               "error",
		DBPath:                 ":memory:",
		BaseURL:                "http://localhost:8080",
		SessionMaxAge:          time.Hour,
		SessionUpdateAge:       10 * time.Minute,
		SessionCleanupSchedule: "@hourly",
		BcryptCost:             bcrypt.MinCost,
		ProbeTimeout:           time.Second,
	}
}

// client is a browser stand-in: it keeps cookies and does not follow
// redirects, so tests can assert on them.
type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newTestServer(t *testing.T, cfg *config.Config) *client {
	t.Helper()
	srv, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return newClient(t, ts.URL)
}

func newClient(t *testing.T, base string) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &client{
		t:    t,
		base: base,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// device returns a second browser talking to the same server, with its
// own cookie jar.
func (c *client) device() *client {
	return newClient(c.t, c.base)
}

func (c *client) do(method, path, body string) (*http.Response, string) {
	c.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	require.NoError(c.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, string(b)
}

func TestServer_EndToEnd(t *testing.T) {
	c := newTestServer(t, testConfig())

	// Signup, then the same email again.
	resp, body := c.do(http.MethodPost, "/api/auth/signup", `{"email":"a@x.com","password":"Secret123","name":"Alice"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	resp, _ = c.do(http.MethodPost, "/api/auth/signup", `{"email":"A@X.com","password":"other"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// The register alias creates a second user.
	resp, _ = c.do(http.MethodPost, "/api/register", `{"email":"b@x.com","password":"pw"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Wrong password and unknown email are indistinguishable.
	wrongResp, wrongBody := c.do(http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"nope"}`)
	unknownResp, unknownBody := c.do(http.MethodPost, "/api/auth/login", `{"email":"ghost@x.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, wrongResp.StatusCode)
	assert.Equal(t, wrongResp.StatusCode, unknownResp.StatusCode)
	assert.Equal(t, wrongBody, unknownBody)

	// Anonymous API access is rejected.
	resp, _ = c.do(http.MethodGet, "/api/connections", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Login.
	resp, body = c.do(http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Secret123"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	var principal map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &principal))
	assert.Equal(t, "DEVELOPER", principal["role"])
	assert.Equal(t, "a@x.com", principal["email"])

	resp, body = c.do(http.MethodGet, "/api/auth/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"email":"a@x.com"`)

	// Create and find a connection.
	resp, body = c.do(http.MethodPost, "/api/connections", `{"name":"Primary DB","dbType":"postgres","host":"db.internal"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	assert.EqualValues(t, 5432, created["port"])

	resp, body = c.do(http.MethodGet, "/api/connections?q=PRIMARY", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listings struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &listings))
	require.Len(t, listings.Results, 1)
	assert.Equal(t, "a@x.com", listings.Results[0]["owner"].(map[string]any)["email"])

	// Users and stats.
	resp, body = c.do(http.MethodGet, "/api/users?q=x.com", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var users struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &users))
	assert.Len(t, users.Results, 2)
	assert.NotContains(t, body, "$2a$")

	resp, body = c.do(http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"totalConnections":1,"totalUsers":2,"recentConnections":1}`, body)

	// Pages work with the session cookie.
	resp, body = c.do(http.MethodGet, "/dashboard", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "DEVELOPER")

	// Logout revokes the session immediately.
	resp, _ = c.do(http.MethodPost, "/api/auth/logout", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = c.do(http.MethodGet, "/api/auth/session", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = c.do(http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_LogoutAllEndsEverySession(t *testing.T) {
	laptop := newTestServer(t, testConfig())
	phone := laptop.device()

	resp, _ := laptop.do(http.MethodPost, "/api/auth/signup", `{"email":"a@x.com","password":"Secret123"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	for _, c := range []*client{laptop, phone} {
		resp, _ = c.do(http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Secret123"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, _ = phone.do(http.MethodPost, "/api/auth/logout-all", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, c := range []*client{laptop, phone} {
		resp, _ = c.do(http.MethodGet, "/api/auth/session", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	resp, _ = laptop.do(http.MethodPost, "/api/auth/logout-all", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_PagesRedirectAnonymousVisitors(t *testing.T) {
	c := newTestServer(t, testConfig())

	for _, path := range []string{"/", "/dashboard", "/connections"} {
		resp, _ := c.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode, path)
		assert.Equal(t, "/login", resp.Header.Get("Location"), path)
	}

	resp, body := c.do(http.MethodGet, "/login", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, body, "/auth/github/login", "no providers configured")
}

func TestServer_Ops(t *testing.T) {
	c := newTestServer(t, testConfig())

	resp, body := c.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)

	resp, body = c.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "connhub_http_requests_total")
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

func TestServer_OAuthRoutesOnlyForConfiguredProviders(t *testing.T) {
	t.Run("none configured", func(t *testing.T) {
		c := newTestServer(t, testConfig())

		resp, _ := c.do(http.MethodGet, "/auth/github/login", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("github configured", func(t *testing.T) {
		cfg := testConfig()
		cfg.GitHubClientID = "client-id"
		cfg.GitHubClientSecret = "client-secret"
		cfg.StateSecret = "0123456789abcdef0123456789abcdef"
		c := newTestServer(t, cfg)

		resp, _ := c.do(http.MethodGet, "/auth/github/login", "")
		require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
		loc := resp.Header.Get("Location")
		assert.True(t, strings.HasPrefix(loc, "https://github.com/login/oauth/authorize"), loc)
		assert.Contains(t, loc, "client_id=client-id")

		resp, _ = c.do(http.MethodGet, "/auth/google/login", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		_, body := c.do(http.MethodGet, "/login", "")
		assert.Contains(t, body, "/auth/github/login")
	})
}

func TestNew_RejectsBadDatabasePath(t *testing.T) {
	cfg := testConfig()
	cfg.DBPath = t.TempDir() + "/missing-dir/connhub.db"

	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Error(t, err)
}
