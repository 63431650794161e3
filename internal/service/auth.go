// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes the database
//
// Services take repository interfaces, never *sqlite.DB, so tests pass
// in-memory fakes and the service never imports the sqlite package.
// They return apperror values, never HTTP status codes; the handler
// package does the translation.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/sakif/connhub/internal/apperror"
	"github.com/sakif/connhub/internal/auth"
	"github.com/sakif/connhub/internal/metrics"
	"github.com/sakif/connhub/internal/model"
	"github.com/sakif/connhub/internal/repository"
)

// invalidCredentials is the one message every failed password login gets,
// whatever the actual reason. See Login.
const invalidCredentials = "invalid email or password"

// sessionTokenBytes is the entropy of a session token before hex encoding.
const sessionTokenBytes = 32

// SessionConfig controls session lifetime.
//
// MaxAge is how long a session lives without activity. UpdateAge is how
// often activity pushes the expiry forward: a request made more than
// UpdateAge after the last extension slides ExpiresAt to now+MaxAge.
type SessionConfig struct {
	MaxAge    time.Duration
	UpdateAge time.Duration
}

// AuthService turns credentials into sessions and sessions into principals.
//
//	AuthHandler (HTTP) → AuthService → UserRepository / SessionRepository
//	                                 ↘ PasswordService (bcrypt)
//
// It implements auth.SessionAuthenticator for the middleware.
type AuthService struct {
	users     repository.UserRepository
	accounts  repository.AccountRepository
	sessions  repository.SessionRepository
	passwords *auth.PasswordService
	cfg       SessionConfig
	logger    *slog.Logger

	// now is swapped in tests to move the clock.
	now func() time.Time
}

var _ auth.SessionAuthenticator = (*AuthService)(nil)

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	accounts repository.AccountRepository,
	sessions repository.SessionRepository,
	passwords *auth.PasswordService,
	cfg SessionConfig,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		accounts:  accounts,
		sessions:  sessions,
		passwords: passwords,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// SignupInput is the local signup request. Name is optional.
type SignupInput struct {
	Email    string
	Password string
	Name     string
}

// AuthResult is returned by every successful login. The handler sets the
// cookie from Token and ExpiresAt and renders Principal.
type AuthResult struct {
	Principal *model.Principal
	Token     string
	ExpiresAt time.Time
}

// =========================================================================
// SIGNUP
// =========================================================================

// Signup creates a local account with the default role.
//
// Returns apperror.ErrValidation for a missing or malformed email or an
// empty password, and apperror.ErrConflict when the email is taken. On
// any failure nothing is written.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	email, err := validateEmail(in.Email)
	if err != nil {
		metrics.RecordSignup("invalid")
		return nil, err
	}
	if strings.TrimSpace(in.Password) == "" {
		metrics.RecordSignup("invalid")
		return nil, apperror.ValidationFailed("password", "password is required")
	}
	// Name is optional, but one that is only whitespace is a typo.
	name := strings.TrimSpace(in.Name)
	if in.Name != "" && name == "" {
		metrics.RecordSignup("invalid")
		return nil, apperror.ValidationFailed("name", "name must not be blank")
	}

	hash, err := s.passwords.Hash(ctx, in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			metrics.RecordSignup("invalid")
			return nil, apperror.ValidationFailed("password", "password must be 72 bytes or fewer")
		}
		metrics.RecordSignup(metrics.OutcomeError)
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	// No pre-check for an existing email: the UNIQUE constraint decides,
	// and CreateUser reports the loser as a conflict.
	user := &model.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Role:         model.DefaultRole,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			metrics.RecordSignup("conflict")
			return nil, err
		}
		metrics.RecordSignup(metrics.OutcomeError)
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	metrics.RecordSignup(metrics.OutcomeSuccess)
	s.logger.Info("user signed up", slog.String("userID", user.ID))
	return user, nil
}

// =========================================================================
// LOGIN
// =========================================================================

// Login verifies an email and password and starts a session.
//
// ENUMERATION RESISTANCE:
// Unknown email, OAuth-only account and wrong password all return the same
// apperror.Unauthorized with the same message. The unknown-email and
// no-password paths still run a bcrypt comparison (CompareDummy), so the
// three cases also take the same time. Only the server log says which one
// it was.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = auth.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("credentials", "email and password are required")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		s.passwords.CompareDummy(ctx, password)
		return nil, s.loginFailed("unknown_email", "")
	case err != nil:
		metrics.RecordLogin("password", metrics.OutcomeError)
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if !user.HasPassword() {
		s.passwords.CompareDummy(ctx, password)
		return nil, s.loginFailed("no_password", user.ID)
	}
	if !s.passwords.Verify(ctx, user.PasswordHash, password) {
		if err := ctx.Err(); err != nil {
			return nil, s.loginAbandoned(err, user.ID)
		}
		return nil, s.loginFailed("wrong_password", user.ID)
	}

	result, err := s.issueSession(ctx, user)
	if err != nil {
		metrics.RecordLogin("password", metrics.OutcomeError)
		return nil, err
	}

	metrics.RecordLogin("password", metrics.OutcomeSuccess)
	s.logger.Info("user logged in", slog.String("userID", user.ID), slog.String("method", "password"))
	return result, nil
}

// loginFailed logs the real reason and returns the generic error.
func (s *AuthService) loginFailed(reason, userID string) error {
	metrics.RecordLogin("password", metrics.OutcomeFailure)
	attrs := []any{slog.String("reason", reason)}
	if userID != "" {
		attrs = append(attrs, slog.String("userID", userID))
	}
	s.logger.Warn("password login rejected", attrs...)
	return apperror.Unauthorized(invalidCredentials)
}

// loginAbandoned covers a request that went away while waiting for a
// bcrypt slot. Nothing was verified, so it is not a failed login.
func (s *AuthService) loginAbandoned(err error, userID string) error {
	metrics.RecordLogin("password", metrics.OutcomeError)
	s.logger.Info("password login abandoned",
		slog.String("reason", "canceled"),
		slog.String("userID", userID),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("service/auth: verifying password: %w", err)
}

// LoginOAuth finds or provisions the user for a verified third-party
// identity and starts a session.
//
// Matching is by email, so two OAuth logins with the same verified email
// (through either provider) always land on the same user row. A first
// login creates the user with no password hash and the default role; a
// later login fills in name or avatar only when the user has none.
func (s *AuthService) LoginOAuth(ctx context.Context, id *auth.Identity) (*AuthResult, error) {
	if id == nil || id.Email == "" {
		return nil, apperror.ValidationFailed("email", "identity has no email")
	}

	user, err := s.findOrProvision(ctx, id)
	if err != nil {
		metrics.RecordLogin(id.Provider, metrics.OutcomeError)
		return nil, err
	}

	if err := s.accounts.LinkAccount(ctx, user.ID, id.Provider, id.Subject); err != nil {
		metrics.RecordLogin(id.Provider, metrics.OutcomeError)
		return nil, fmt.Errorf("service/auth: linking %s account: %w", id.Provider, err)
	}

	result, err := s.issueSession(ctx, user)
	if err != nil {
		metrics.RecordLogin(id.Provider, metrics.OutcomeError)
		return nil, err
	}

	metrics.RecordLogin(id.Provider, metrics.OutcomeSuccess)
	s.logger.Info("user logged in", slog.String("userID", user.ID), slog.String("method", id.Provider))
	return result, nil
}

// findOrProvision returns the user for id.Email, creating it if needed.
//
// PROVISIONING RACE:
// Two first-time logins for the same email can both miss the lookup and
// both try to insert. The UNIQUE constraint lets exactly one win; the
// other gets ErrConflict and retries as a lookup, so both requests end up
// with the same user and neither fails.
func (s *AuthService) findOrProvision(ctx context.Context, id *auth.Identity) (*model.User, error) {
	email := auth.NormalizeEmail(id.Email)

	user, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return s.fillProfile(ctx, user, id), nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	user = &model.User{
		Email:     email,
		Name:      id.Name,
		AvatarURL: id.AvatarURL,
		Role:      model.DefaultRole,
	}
	err = s.users.CreateUser(ctx, user)
	switch {
	case err == nil:
		metrics.RecordProvisioned(id.Provider)
		s.logger.Info("user provisioned", slog.String("userID", user.ID), slog.String("provider", id.Provider))
		return user, nil
	case errors.Is(err, apperror.ErrConflict):
		s.logger.Info("provisioning race lost, using existing user", slog.String("provider", id.Provider))
		existing, lookupErr := s.users.GetUserByEmail(ctx, email)
		if lookupErr != nil {
			return nil, fmt.Errorf("service/auth: looking up user after conflict: %w", lookupErr)
		}
		return existing, nil
	default:
		return nil, fmt.Errorf("service/auth: provisioning user: %w", err)
	}
}

// fillProfile copies name and avatar from the identity when the user has
// none. A failure here is logged and ignored: the login itself is valid.
func (s *AuthService) fillProfile(ctx context.Context, user *model.User, id *auth.Identity) *model.User {
	changed := false
	if user.Name == "" && id.Name != "" {
		user.Name = id.Name
		changed = true
	}
	if user.AvatarURL == "" && id.AvatarURL != "" {
		user.AvatarURL = id.AvatarURL
		changed = true
	}
	if !changed {
		return user
	}
	if err := s.users.UpdateUserProfile(ctx, user); err != nil {
		s.logger.Warn("updating profile from identity failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}
	return user
}

// =========================================================================
// SESSIONS
// =========================================================================

// issueSession mints an opaque token and stores only its hash.
func (s *AuthService) issueSession(ctx context.Context, user *model.User) (*AuthResult, error) {
	token, err := newSessionToken()
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating session token: %w", err)
	}

	now := s.now().UTC()
	sess := &model.Session{
		TokenHash:  hashToken(token),
		UserID:     user.ID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.MaxAge),
		LastActive: now,
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("service/auth: storing session: %w", err)
	}

	return &AuthResult{
		Principal: user.Principal(),
		Token:     token,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// Authenticate resolves a raw session token to the live principal.
//
// The principal is built from the user row joined at lookup time, so a
// role change is visible on the next request. Expired sessions are
// deleted on sight. When more than UpdateAge has passed since the expiry
// was last pushed, it slides to now+MaxAge and Session.Renewed is set so
// the middleware re-issues the cookie.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.Principal, *model.Session, error) {
	if token == "" {
		return nil, nil, apperror.Unauthorized("no session")
	}
	hash := hashToken(token)

	sess, user, err := s.sessions.GetSessionWithUser(ctx, hash)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, apperror.Unauthorized("unknown session")
		}
		return nil, nil, fmt.Errorf("service/auth: loading session: %w", err)
	}

	now := s.now().UTC()
	if !now.Before(sess.ExpiresAt) {
		if err := s.sessions.DeleteSession(ctx, hash); err != nil {
			s.logger.Warn("deleting expired session failed", slog.String("error", err.Error()))
		}
		return nil, nil, apperror.Unauthorized("session expired")
	}

	expiresAt := sess.ExpiresAt
	if sess.ExpiresAt.Sub(now) < s.cfg.MaxAge-s.cfg.UpdateAge {
		expiresAt = now.Add(s.cfg.MaxAge)
		sess.Renewed = true
	}
	if err := s.sessions.TouchSession(ctx, hash, now, expiresAt); err != nil {
		// The session is still valid; failing to record activity must not
		// log the user out.
		s.logger.Warn("touching session failed", slog.String("error", err.Error()))
		sess.Renewed = false
	} else {
		sess.LastActive = now
		sess.ExpiresAt = expiresAt
	}

	return user.Principal(), sess, nil
}

// Logout deletes the session. It succeeds for unknown tokens.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.DeleteSession(ctx, hashToken(token)); err != nil {
		return fmt.Errorf("service/auth: deleting session: %w", err)
	}
	return nil
}

// LogoutEverywhere deletes every session of userID.
func (s *AuthService) LogoutEverywhere(ctx context.Context, userID string) error {
	if err := s.sessions.DeleteUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("service/auth: deleting sessions: %w", err)
	}
	s.logger.Info("all sessions revoked", slog.String("userID", userID))
	return nil
}

// CleanupExpiredSessions is the scheduled job that purges expired rows.
func (s *AuthService) CleanupExpiredSessions(ctx context.Context) error {
	n, err := s.sessions.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		return fmt.Errorf("service/auth: cleaning up sessions: %w", err)
	}
	if n > 0 {
		metrics.SessionsExpiredTotal.Add(float64(n))
		s.logger.Info("expired sessions removed", slog.Int64("count", n))
	}
	return nil
}

// =========================================================================
// HELPERS
// =========================================================================

// validateEmail normalizes email and checks it is a bare address.
func validateEmail(raw string) (string, error) {
	email := auth.NormalizeEmail(raw)
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "email is not a valid address")
	}
	return email, nil
}

func newSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashToken is the stored form of a session token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
