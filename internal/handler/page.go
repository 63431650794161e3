// Package handler contains HTTP request handlers for the connhub application.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements the http.Handler interface:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Or more commonly, we use http.HandlerFunc: a function with the right signature
// that automatically satisfies the Handler interface. Chi's router accepts these directly.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (query params, body, headers)
// 2. Call the service layer
// 3. Write the HTTP response (status code, headers, body)
//
// Handlers should NOT contain business logic. They are the glue between HTTP and the services.
package handler

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/connhub/internal/auth"
	"github.com/sakif/connhub/internal/model"
)

//go:embed templates/*.html
var templateFiles embed.FS

// pageNames are the templates rendered on top of base.html.
var pageNames = []string{"login", "signup", "dashboard", "connections"}

// loginErrors turns the ?error= codes set by the OAuth callback into text.
var loginErrors = map[string]string{
	"invalid_state":    "Your sign-in link expired. Please try again.",
	"access_denied":    "Sign-in was cancelled.",
	"missing_code":     "The provider did not complete sign-in.",
	"email_unverified": "Your provider account has no verified email address.",
	"oauth_failed":     "We could not reach the sign-in provider.",
	"login_failed":     "Sign-in failed. Please try again.",
}

// ConnectionSearcher is the one connection query the pages need.
type ConnectionSearcher interface {
	Search(ctx context.Context, q string) ([]model.ConnectionListing, error)
}

// PageHandler renders the server-side HTML pages.
//
// WHY ONE TEMPLATE SET PER PAGE?
// Every page defines a "content" block that base.html pulls in. Parsing
// all pages into a single set would make the last "content" win, so each
// page gets its own copy of base.html parsed together with it.
type PageHandler struct {
	pages       map[string]*template.Template
	connections ConnectionSearcher
	stats       StatsProvider
	providers   []string
	logger      *slog.Logger
}

// NewPageHandler parses the embedded templates. providers lists the
// configured OAuth provider names, shown as buttons on the login page.
func NewPageHandler(connections ConnectionSearcher, stats StatsProvider, providers []string, logger *slog.Logger) (*PageHandler, error) {
	funcs := template.FuncMap{
		// Display only. Role and DBType values must go through printf
		// first, since the func takes a plain string.
		"upper": strings.ToUpper,
	}

	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(name).Funcs(funcs).ParseFS(templateFiles,
			"templates/base.html",
			"templates/"+name+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		pages[name] = tmpl
	}

	return &PageHandler{
		pages:       pages,
		connections: connections,
		stats:       stats,
		providers:   providers,
		logger:      logger,
	}, nil
}

// HandleIndex sends signed-in users to the dashboard and everyone else
// to the login page.
//
// HTTP: GET /   (OptionalAuth)
func (h *PageHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.PrincipalFromContext(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// HandleLogin renders the login form.
//
// HTTP: GET /login   (OptionalAuth)
func (h *PageHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.PrincipalFromContext(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	errMsg := ""
	if code := r.URL.Query().Get("error"); code != "" {
		errMsg = loginErrors[code]
		if errMsg == "" {
			errMsg = loginErrors["login_failed"]
		}
	}

	h.render(w, "login", map[string]any{
		"Title":     "Sign in",
		"Error":     errMsg,
		"Providers": h.providers,
	})
}

// HandleSignup renders the signup form.
//
// HTTP: GET /signup   (OptionalAuth)
func (h *PageHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.PrincipalFromContext(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.render(w, "signup", map[string]any{"Title": "Create account"})
}

// HandleDashboard shows the aggregate counts.
//
// HTTP: GET /dashboard   (RequirePage)
func (h *PageHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())

	stats, err := h.stats.Get(r.Context())
	if err != nil {
		h.serverError(w, "loading stats", err)
		return
	}

	h.render(w, "dashboard", map[string]any{
		"Title":     "Dashboard",
		"Principal": p,
		"Stats":     stats,
	})
}

// HandleConnections lists connections, filtered by ?q=.
//
// HTTP: GET /connections   (RequirePage)
func (h *PageHandler) HandleConnections(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	q := r.URL.Query().Get("q")

	listings, err := h.connections.Search(r.Context(), q)
	if err != nil {
		h.serverError(w, "searching connections", err)
		return
	}

	h.render(w, "connections", map[string]any{
		"Title":       "Connections",
		"Principal":   p,
		"Query":       q,
		"Connections": listings,
	})
}

// render executes the "base" template of the named page.
//
// The page is rendered into a buffer first, so a template error still
// produces a clean 500 instead of half a page.
func (h *PageHandler) render(w http.ResponseWriter, name string, data map[string]any) {
	var buf strings.Builder
	if err := h.pages[name].ExecuteTemplate(&buf, "base", data); err != nil {
		h.serverError(w, "rendering "+name, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(buf.String()))
}

func (h *PageHandler) serverError(w http.ResponseWriter, what string, err error) {
	h.logger.Error("page failed", slog.String("step", what), slog.String("error", err.Error()))
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
