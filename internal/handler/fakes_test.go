package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/connhub/internal/auth"
	"github.com/sakif/connhub/internal/model"
	"github.com/sakif/connhub/internal/probe"
	"github.com/sakif/connhub/internal/service"
)

// The fakes below follow one pattern: Captured* fields record what the
// handler passed in, Return* fields decide what comes back.

type MockAuth struct {
	CapturedSignup   service.SignupInput
	CapturedEmail    string
	CapturedIdentity *auth.Identity
	CapturedLogout   string
	CapturedUserID   string

	ReturnUser   *model.User
	ReturnResult *service.AuthResult
	ReturnErr    error
}

func (m *MockAuth) Signup(_ context.Context, in service.SignupInput) (*model.User, error) {
	m.CapturedSignup = in
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnUser, nil
}

func (m *MockAuth) Login(_ context.Context, email, _ string) (*service.AuthResult, error) {
	m.CapturedEmail = email
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnResult, nil
}

func (m *MockAuth) LoginOAuth(_ context.Context, id *auth.Identity) (*service.AuthResult, error) {
	m.CapturedIdentity = id
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnResult, nil
}

func (m *MockAuth) Logout(_ context.Context, token string) error {
	m.CapturedLogout = token
	return m.ReturnErr
}

func (m *MockAuth) LogoutEverywhere(_ context.Context, userID string) error {
	m.CapturedUserID = userID
	return m.ReturnErr
}

type MockProvider struct {
	ProviderName   string
	CapturedCode   string
	ReturnIdentity *auth.Identity
	ReturnErr      error
}

func (m *MockProvider) Name() string { return m.ProviderName }

func (m *MockProvider) AuthURL(state string) string {
	return "https://provider.test/authorize?state=" + state
}

func (m *MockProvider) Exchange(_ context.Context, code string) (*auth.Identity, error) {
	m.CapturedCode = code
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnIdentity, nil
}

type MockConnections struct {
	CapturedQuery    string
	CapturedID       string
	CapturedUserID   string
	CapturedPassword string
	CapturedInput    service.ConnectionInput
	CapturedUpdate   service.ConnectionUpdate
	CapturedBy       *model.Principal

	ReturnListings []model.ConnectionListing
	ReturnConn     *model.Connection
	ReturnResult   *probe.Result
	ReturnErr      error
}

func (m *MockConnections) Search(_ context.Context, q string) ([]model.ConnectionListing, error) {
	m.CapturedQuery = q
	return m.ReturnListings, m.ReturnErr
}

func (m *MockConnections) Get(_ context.Context, id string) (*model.Connection, error) {
	m.CapturedID = id
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnConn, nil
}

func (m *MockConnections) Create(_ context.Context, p *model.Principal, in service.ConnectionInput) (*model.Connection, error) {
	m.CapturedBy, m.CapturedInput = p, in
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnConn, nil
}

func (m *MockConnections) Update(_ context.Context, p *model.Principal, id string, in service.ConnectionUpdate) (*model.Connection, error) {
	m.CapturedBy, m.CapturedID, m.CapturedUpdate = p, id, in
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnConn, nil
}

func (m *MockConnections) Delete(_ context.Context, p *model.Principal, id string) error {
	m.CapturedBy, m.CapturedID = p, id
	return m.ReturnErr
}

func (m *MockConnections) Share(_ context.Context, p *model.Principal, id, userID string) error {
	m.CapturedBy, m.CapturedID, m.CapturedUserID = p, id, userID
	return m.ReturnErr
}

func (m *MockConnections) Unshare(_ context.Context, p *model.Principal, id, userID string) error {
	m.CapturedBy, m.CapturedID, m.CapturedUserID = p, id, userID
	return m.ReturnErr
}

func (m *MockConnections) Test(_ context.Context, p *model.Principal, id, password string) (*probe.Result, error) {
	m.CapturedBy, m.CapturedID, m.CapturedPassword = p, id, password
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnResult, nil
}

type MockUsers struct {
	CapturedQuery string
	CapturedLimit int
	ReturnUsers   []model.UserSummary
	ReturnUser    *model.User
	ReturnErr     error
}

func (m *MockUsers) Search(_ context.Context, q string, limit int) ([]model.UserSummary, error) {
	m.CapturedQuery, m.CapturedLimit = q, limit
	return m.ReturnUsers, m.ReturnErr
}

func (m *MockUsers) GetByID(_ context.Context, _ string) (*model.User, error) {
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnUser, nil
}

type MockStats struct {
	ReturnStats *model.Stats
	ReturnErr   error
}

func (m *MockStats) Get(context.Context) (*model.Stats, error) {
	if m.ReturnErr != nil {
		return nil, m.ReturnErr
	}
	return m.ReturnStats, nil
}

var alice = &model.Principal{ID: "u-alice", Email: "alice@x.com", Name: "Alice", Role: model.RoleDeveloper}

// asPrincipal stands in for the session middleware.
func asPrincipal(p *model.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
