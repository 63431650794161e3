package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeOAuthServer serves a token endpoint plus whatever API routes the
// test registers. It checks the bearer token on API calls.
func fakeOAuthServer(t *testing.T, routes map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer"}`))
	})
	for path, body := range routes {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-123" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(body)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testEndpoint(srv *httptest.Server) oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:   srv.URL + "/authorize",
		TokenURL:  srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func newTestGitHub(srv *httptest.Server) *GitHubProvider {
	p := NewGitHubProvider("cid", "secret", "http://localhost/auth/github/callback")
	p.config.Endpoint = testEndpoint(srv)
	p.apiBase = srv.URL
	return p
}

func newTestGoogle(srv *httptest.Server) *GoogleProvider {
	p := NewGoogleProvider("cid", "secret", "http://localhost/auth/google/callback")
	p.config.Endpoint = testEndpoint(srv)
	p.userInfoURL = srv.URL + "/userinfo"
	return p
}

func TestAuthURL_CarriesStateAndClient(t *testing.T) {
	p := NewGitHubProvider("my-client", "secret", "http://localhost/cb")

	u, err := url.Parse(p.AuthURL("the-state"))
	require.NoError(t, err)

	assert.Equal(t, "the-state", u.Query().Get("state"))
	assert.Equal(t, "my-client", u.Query().Get("client_id"))
	assert.Equal(t, "http://localhost/cb", u.Query().Get("redirect_uri"))
	assert.Equal(t, ProviderGitHub, p.Name())
}

// =========================================================================
// GITHUB
// =========================================================================

func TestGitHubExchange(t *testing.T) {
	srv := fakeOAuthServer(t, map[string]any{
		"/user": githubUser{ID: 42, Login: "octo", AvatarURL: "https://a/42.png"},
		"/user/emails": []githubEmail{
			{Email: "secondary@example.com", Primary: false, Verified: true},
			{Email: " Octo@Example.com ", Primary: true, Verified: true},
		},
	})

	id, err := newTestGitHub(srv).Exchange(context.Background(), "good-code")
	require.NoError(t, err)

	assert.Equal(t, &Identity{
		Provider:  ProviderGitHub,
		Subject:   "42",
		Email:     "octo@example.com",
		Name:      "octo", // falls back to login when name is unset
		AvatarURL: "https://a/42.png",
	}, id)
}

func TestGitHubExchange_NoVerifiedPrimary(t *testing.T) {
	srv := fakeOAuthServer(t, map[string]any{
		"/user":        githubUser{ID: 42, Login: "octo"},
		"/user/emails": []githubEmail{{Email: "octo@example.com", Primary: true, Verified: false}},
	})

	_, err := newTestGitHub(srv).Exchange(context.Background(), "good-code")

	assert.True(t, errors.Is(err, ErrEmailUnverified), "got %v", err)
}

func TestGitHubExchange_BadCode(t *testing.T) {
	srv := fakeOAuthServer(t, nil)

	_, err := newTestGitHub(srv).Exchange(context.Background(), "bad-code")

	assert.Error(t, err)
}

func TestGitHubExchange_ZeroID(t *testing.T) {
	srv := fakeOAuthServer(t, map[string]any{
		"/user":        githubUser{},
		"/user/emails": []githubEmail{},
	})

	_, err := newTestGitHub(srv).Exchange(context.Background(), "good-code")

	assert.Error(t, err)
}

// =========================================================================
// GOOGLE
// =========================================================================

func TestGoogleExchange(t *testing.T) {
	srv := fakeOAuthServer(t, map[string]any{
		"/userinfo": googleUserInfo{
			Subject: "1089", Email: "Ann@Example.com", EmailVerified: true,
			Name: "Ann", Picture: "https://p/ann.jpg",
		},
	})

	id, err := newTestGoogle(srv).Exchange(context.Background(), "good-code")
	require.NoError(t, err)

	assert.Equal(t, ProviderGoogle, id.Provider)
	assert.Equal(t, "1089", id.Subject)
	assert.Equal(t, "ann@example.com", id.Email)
	assert.Equal(t, "Ann", id.Name)
	assert.Equal(t, "https://p/ann.jpg", id.AvatarURL)
}

func TestGoogleExchange_Unverified(t *testing.T) {
	srv := fakeOAuthServer(t, map[string]any{
		"/userinfo": googleUserInfo{Subject: "1", Email: "ann@example.com", EmailVerified: false},
	})

	_, err := newTestGoogle(srv).Exchange(context.Background(), "good-code")

	assert.ErrorIs(t, err, ErrEmailUnverified)
}

func TestGoogleExchange_APIError(t *testing.T) {
	// No /userinfo route registered: the fake answers 404.
	srv := fakeOAuthServer(t, nil)

	_, err := newTestGoogle(srv).Exchange(context.Background(), "good-code")

	assert.Error(t, err)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@b.com", NormalizeEmail("  A@B.Com\t"))
	assert.Equal(t, "", NormalizeEmail("   "))
}
