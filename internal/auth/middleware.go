package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/connhub/internal/apperror"
	"github.com/sakif/connhub/internal/model"
)

// SessionCookie is the name of the cookie carrying the opaque session token.
const SessionCookie = "session"

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue accepts any key. A plain string could be read or
// shadowed by any package that knows it. Only this package can create a
// contextKey, so only this package can read or write the principal.
type contextKey string

const principalKey contextKey = "principal"

// SessionAuthenticator resolves a raw session token to the live principal.
// It returns apperror.ErrUnauthorized for missing, unknown or expired
// sessions. Any other error means the store itself failed.
//
// The auth service implements it. It lives here as an interface so the
// middleware does not import the service layer.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*model.Principal, *model.Session, error)
}

// Middleware reads the session cookie and attaches the principal to the
// request context.
//
// MIDDLEWARE PATTERN IN GO:
// A middleware takes an http.Handler and returns a new one that wraps it.
// Chi applies them in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
type Middleware struct {
	sessions SessionAuthenticator
	secure   bool
	logger   *slog.Logger
}

// NewMiddleware creates the session middleware. secure controls the
// Secure attribute of re-issued cookies (true behind HTTPS).
func NewMiddleware(sessions SessionAuthenticator, secure bool, logger *slog.Logger) *Middleware {
	return &Middleware{sessions: sessions, secure: secure, logger: logger}
}

// RequireAuth rejects anonymous API requests with 401 JSON.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.resolve(w, r)
		if err != nil {
			if errors.Is(err, apperror.ErrUnauthorized) {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "valid authentication required")
				return
			}
			m.logger.Error("session lookup failed", slog.Any("error", err))
			writeAuthError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequirePage is RequireAuth for HTML pages: anonymous visitors are
// redirected to /login instead of getting a JSON error.
func (m *Middleware) RequirePage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.resolve(w, r)
		if err != nil {
			if !errors.Is(err, apperror.ErrUnauthorized) {
				m.logger.Error("session lookup failed", slog.Any("error", err))
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// OptionalAuth attaches the principal when a valid session is present but
// never blocks the request. Handlers check PrincipalFromContext.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := m.resolve(w, r)
		switch {
		case err == nil:
			r = r.WithContext(WithPrincipal(r.Context(), p))
		case !errors.Is(err, apperror.ErrUnauthorized):
			m.logger.Warn("session lookup failed, continuing anonymously", slog.Any("error", err))
		}
		next.ServeHTTP(w, r)
	})
}

// resolve reads the cookie and asks the authenticator for the principal.
// A renewed session gets its cookie re-issued with the new expiry.
func (m *Middleware) resolve(w http.ResponseWriter, r *http.Request) (*model.Principal, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, apperror.Unauthorized("no session")
	}

	p, sess, err := m.sessions.Authenticate(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}
	if sess != nil && sess.Renewed {
		SetSessionCookie(w, cookie.Value, sess.ExpiresAt, m.secure)
	}
	return p, nil
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated principal, or (nil, false)
// for an anonymous request.
func PrincipalFromContext(ctx context.Context) (*model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*model.Principal)
	return p, ok && p != nil
}

// SetSessionCookie writes the session cookie.
//
// COOKIE ATTRIBUTES:
//   - HttpOnly: JavaScript cannot read it, so XSS cannot steal it
//   - SameSite=Lax: sent on top-level navigations (the OAuth callback
//     redirect needs that) but not on cross-site subrequests
//   - Secure: HTTPS only, when configured
func SetSessionCookie(w http.ResponseWriter, token string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie tells the browser to drop the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeAuthError writes the same {"error","message"} envelope the handler
// package uses. Duplicated here to keep auth free of handler imports.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + code + `","message":"` + message + `"}`))
}
