package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/connhub/internal/apperror"
	"github.com/sakif/connhub/internal/auth"
	"github.com/sakif/connhub/internal/model"
	"github.com/sakif/connhub/internal/service"
)

// stateCookie mirrors the signed OAuth state between login and callback.
const stateCookie = "oauth_state"

// Authenticator is the slice of the auth service the HTTP layer uses.
// *service.AuthService implements it.
type Authenticator interface {
	Signup(ctx context.Context, in service.SignupInput) (*model.User, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	LoginOAuth(ctx context.Context, id *auth.Identity) (*service.AuthResult, error)
	Logout(ctx context.Context, token string) error
	LogoutEverywhere(ctx context.Context, userID string) error
}

// AuthHandler manages signup, password login, the OAuth flows and logout.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignup        → create a local account
//   - HandleLogin         → verify email + password, set the session cookie
//   - HandleLogout        → delete the session row and clear the cookie
//   - HandleLogoutAll     → delete every session of the caller
//   - HandleSession       → return the current principal
//   - HandleOAuthLogin    → redirect the browser to the provider
//   - HandleOAuthCallback → exchange the code, find-or-create the user, set the cookie
//
// Providers are keyed by name ("github", "google"). Only configured
// providers are present; an unknown name is a 404.
type AuthHandler struct {
	auth      Authenticator
	providers map[string]auth.Provider
	states    *auth.StateSigner
	secure    bool
	logger    *slog.Logger
}

// NewAuthHandler creates an AuthHandler. states may be nil when no OAuth
// provider is configured.
func NewAuthHandler(
	authn Authenticator,
	providers []auth.Provider,
	states *auth.StateSigner,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	byName := make(map[string]auth.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &AuthHandler{
		auth:      authn,
		providers: byName,
		states:    states,
		secure:    secureCookies,
		logger:    logger,
	}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleSignup creates a local account.
//
// HTTP: POST /api/auth/signup (also POST /api/register)
// REQUEST BODY: {"email": "a@x.com", "password": "Secret123", "name": "A"}
//
// Signup does not log the user in; the client follows up with a login.
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if _, err := h.auth.Signup(r.Context(), service.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	}); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, MessageResponse{Message: "user created"})
}

// HandleLogin verifies credentials and starts a session.
//
// HTTP: POST /api/auth/login
// REQUEST BODY: {"email": "a@x.com", "password": "Secret123"}
//
// Every credential failure is the same 401 body. The handler adds nothing
// that would tell an unknown email from a wrong password.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	auth.SetSessionCookie(w, result.Token, result.ExpiresAt, h.secure)
	writeJSON(w, http.StatusOK, result.Principal)
}

// HandleLogout ends the current session.
//
// HTTP: POST /api/auth/logout
//
// The session row is deleted, so the token stops working immediately even
// if a copy of the cookie survives somewhere. Logging out without a
// session still succeeds.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.SessionCookie); err == nil && cookie.Value != "" {
		if err := h.auth.Logout(r.Context(), cookie.Value); err != nil {
			h.logger.Error("logout: deleting session failed", slog.String("error", err.Error()))
		}
	}

	auth.ClearSessionCookie(w, h.secure)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// HandleLogoutAll signs the caller out on every device.
//
// HTTP: POST /api/auth/logout-all
// Auth: RequireAuth
//
// Unlike HandleLogout, a store failure here is reported: the caller asked
// for a revocation and must know if it did not happen.
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.auth.LogoutEverywhere(r.Context(), p.ID); err != nil {
		writeError(w, err)
		return
	}

	auth.ClearSessionCookie(w, h.secure)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out everywhere"})
}

// HandleSession returns the currently authenticated principal.
//
// HTTP: GET /api/auth/session
// Auth: OptionalAuth; an anonymous request gets 401.
func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("no active session"))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleOAuthLogin redirects the browser to the provider's consent page.
//
// HTTP: GET /auth/{provider}/login
//
// CSRF PROTECTION VIA STATE:
// The state is a short-lived JWT signed with our secret and bound to the
// provider name. It is also stored in an HttpOnly cookie, and the callback
// requires the query value and the cookie to match. A forged callback has
// neither a valid signature nor the victim's cookie.
func (h *AuthHandler) HandleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	state, err := h.states.Generate(provider.Name())
	if err != nil {
		h.logger.Error("oauth login: generating state failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth/",
		MaxAge:   int(auth.StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, provider.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleOAuthCallback completes the OAuth login flow.
//
// HTTP: GET /auth/{provider}/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state (cookie match + signature + provider + expiry)
//  2. Exchange the code for a verified identity
//  3. Find or create the user and start a session
//  4. Redirect to /dashboard
//
// This endpoint is hit by a browser navigation, so failures redirect to
// /login?error=<code> instead of returning JSON.
func (h *AuthHandler) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	query := r.URL.Query()

	// --- Step 1: Validate CSRF state ---
	state := query.Get("state")
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != state {
		h.logger.Warn("oauth callback: state cookie missing or mismatched",
			slog.String("provider", provider.Name()))
		h.loginError(w, r, "invalid_state")
		return
	}
	h.clearStateCookie(w)

	if err := h.states.Validate(state, provider.Name()); err != nil {
		h.logger.Warn("oauth callback: state rejected",
			slog.String("provider", provider.Name()),
			slog.String("error", err.Error()))
		h.loginError(w, r, "invalid_state")
		return
	}

	// The user pressed "cancel" on the consent screen.
	if errParam := query.Get("error"); errParam != "" {
		h.logger.Info("oauth callback: authorization denied",
			slog.String("provider", provider.Name()),
			slog.String("error", errParam))
		h.loginError(w, r, "access_denied")
		return
	}

	code := query.Get("code")
	if code == "" {
		h.loginError(w, r, "missing_code")
		return
	}

	// --- Step 2: Exchange code for identity ---
	identity, err := provider.Exchange(r.Context(), code)
	if err != nil {
		if errors.Is(err, auth.ErrEmailUnverified) {
			h.loginError(w, r, "email_unverified")
			return
		}
		h.logger.Error("oauth callback: exchange failed",
			slog.String("provider", provider.Name()),
			slog.String("error", err.Error()))
		h.loginError(w, r, "oauth_failed")
		return
	}

	// --- Step 3: Find or create user, issue session ---
	result, err := h.auth.LoginOAuth(r.Context(), identity)
	if err != nil {
		h.logger.Error("oauth callback: login failed",
			slog.String("provider", provider.Name()),
			slog.String("error", err.Error()))
		h.loginError(w, r, "login_failed")
		return
	}

	auth.SetSessionCookie(w, result.Token, result.ExpiresAt, h.secure)

	// --- Step 4: Redirect to the app ---
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *AuthHandler) provider(r *http.Request) (auth.Provider, bool) {
	if h.states == nil {
		return nil, false
	}
	p, ok := h.providers[chi.URLParam(r, "provider")]
	return p, ok
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    "",
		Path:     "/auth/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) loginError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/login?error="+url.QueryEscape(code), http.StatusSeeOther)
}
