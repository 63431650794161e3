package handler_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/connhub/internal/handler"
	"github.com/sakif/connhub/internal/model"
)

func newPageRouter(t *testing.T, conns *MockConnections, stats *MockStats, p *model.Principal) chi.Router {
	t.Helper()
	h, err := handler.NewPageHandler(conns, stats, []string{"github"}, testLogger())
	require.NoError(t, err)

	r := chi.NewRouter()
	if p != nil {
		r.Use(asPrincipal(p))
	}
	r.Get("/", h.HandleIndex)
	r.Get("/login", h.HandleLogin)
	r.Get("/signup", h.HandleSignup)
	r.Get("/dashboard", h.HandleDashboard)
	r.Get("/connections", h.HandleConnections)
	return r
}

func TestPageHandler_IndexRedirects(t *testing.T) {
	rr := serve(newPageRouter(t, &MockConnections{}, &MockStats{}, nil), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))

	rr = serve(newPageRouter(t, &MockConnections{}, &MockStats{}, alice), http.MethodGet, "/", "")
	assert.Equal(t, "/dashboard", rr.Header().Get("Location"))
}

func TestPageHandler_Login(t *testing.T) {
	t.Run("anonymous sees form and providers", func(t *testing.T) {
		rr := serve(newPageRouter(t, &MockConnections{}, &MockStats{}, nil), http.MethodGet, "/login?error=access_denied", "")

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
		body := rr.Body.String()
		assert.Contains(t, body, `id="login-form"`)
		assert.Contains(t, body, `href="/auth/github/login"`)
		assert.Contains(t, body, "Sign-in was cancelled.")
	})

	t.Run("unknown error code gets a generic message", func(t *testing.T) {
		rr := serve(newPageRouter(t, &MockConnections{}, &MockStats{}, nil), http.MethodGet, "/login?error=%3Cb%3Ex%3C%2Fb%3E", "")

		assert.Contains(t, rr.Body.String(), "Sign-in failed. Please try again.")
		assert.NotContains(t, rr.Body.String(), "<b>x</b>")
	})

	t.Run("signed-in user is sent to the dashboard", func(t *testing.T) {
		rr := serve(newPageRouter(t, &MockConnections{}, &MockStats{}, alice), http.MethodGet, "/login", "")

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "/dashboard", rr.Header().Get("Location"))
	})
}

func TestPageHandler_Signup(t *testing.T) {
	rr := serve(newPageRouter(t, &MockConnections{}, &MockStats{}, nil), http.MethodGet, "/signup", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `id="signup-form"`)
}

func TestPageHandler_Dashboard(t *testing.T) {
	admin := &model.Principal{ID: "u1", Email: "root@x.com", Role: model.RoleAdmin}
	stats := &MockStats{ReturnStats: &model.Stats{TotalConnections: 12, TotalUsers: 4, RecentConnections: 3}}

	rr := serve(newPageRouter(t, &MockConnections{}, stats, admin), http.MethodGet, "/dashboard", "")

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `<td id="total-connections">12</td>`)
	assert.Contains(t, body, `<td id="total-users">4</td>`)
	assert.Contains(t, body, `<td id="recent-connections">3</td>`)
	assert.Contains(t, body, `<span class="role">ADMIN</span>`)
	assert.Contains(t, body, "root@x.com")
}

func TestPageHandler_DashboardStoreFailure(t *testing.T) {
	stats := &MockStats{ReturnErr: errors.New("locked")}

	rr := serve(newPageRouter(t, &MockConnections{}, stats, alice), http.MethodGet, "/dashboard", "")

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestPageHandler_ConnectionsEscapesContent(t *testing.T) {
	conns := &MockConnections{ReturnListings: []model.ConnectionListing{{
		Connection: model.Connection{Name: `<script>alert(1)</script>`, DBType: model.DBTypeMySQL, Host: "db", Port: 3306},
		Owner:      model.UserRef{Email: "o@x.com"},
	}}}

	rr := serve(newPageRouter(t, conns, &MockStats{}, alice), http.MethodGet, "/connections?q=scr", "")

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Equal(t, "scr", conns.CapturedQuery)
	assert.NotContains(t, body, "<script>alert(1)</script>")
	assert.Contains(t, body, "&lt;script&gt;")
	assert.Contains(t, body, "<td>MYSQL</td>")
	assert.Contains(t, body, "o@x.com")
}

func TestPageHandler_ConnectionsEmpty(t *testing.T) {
	rr := serve(newPageRouter(t, &MockConnections{}, &MockStats{}, alice), http.MethodGet, "/connections", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "No connections found.")
}
