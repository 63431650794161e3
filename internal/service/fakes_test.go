package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakif/connhub/internal/apperror"
	"github.com/sakif/connhub/internal/model"
	"github.com/sakif/connhub/internal/repository"
)

// =========================================================================
// FAKE STORE
// =========================================================================
//
// fakeStore is an in-memory implementation of every repository interface.
// A hand-written fake (not a mock framework) keeps the tests readable: you
// can see exactly what the "database" does. Failure fields let tests
// simulate a broken store.

type fakeStore struct {
	mu sync.Mutex

	users       map[string]*model.User
	accounts    map[string]string // provider/subject → user ID
	sessions    map[string]*model.Session
	connections map[string]*model.Connection
	shares      map[string]map[string]bool // connection ID → user IDs
	nextID      int

	// beforeCreateUser runs inside CreateUser before the uniqueness check.
	// Tests use it to slip in a competing insert.
	beforeCreateUser func(u *model.User)

	getUserErr    error
	createUserErr error
	sessionErr    error
	touchErr      error
	countErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]*model.User),
		accounts:    make(map[string]string),
		sessions:    make(map[string]*model.Session),
		connections: make(map[string]*model.Connection),
		shares:      make(map[string]map[string]bool),
	}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

// insertUser stores a user directly, bypassing hooks. Caller holds no lock.
func (f *fakeStore) insertUser(u *model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertUserLocked(u)
}

func (f *fakeStore) insertUserLocked(u *model.User) {
	if u.ID == "" {
		u.ID = f.id("user")
	}
	if u.Role == "" {
		u.Role = model.DefaultRole
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	stored := *u
	f.users[u.ID] = &stored
}

func (f *fakeStore) CreateUser(_ context.Context, u *model.User) error {
	f.mu.Lock()
	hook := f.beforeCreateUser
	f.beforeCreateUser = nil
	f.mu.Unlock()
	if hook != nil {
		hook(u)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createUserErr != nil {
		return f.createUserErr
	}
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return apperror.Conflict("user", u.Email)
		}
	}
	f.insertUserLocked(u)
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getUserErr != nil {
		return nil, f.getUserErr
	}
	for _, u := range f.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", email)
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.users[u.ID]
	if !ok {
		return apperror.NotFound("user", u.ID)
	}
	existing.Name = u.Name
	existing.AvatarURL = u.AvatarURL
	return nil
}

func (f *fakeStore) SearchUsers(_ context.Context, opts repository.UserSearch) ([]model.UserSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := strings.ToLower(opts.Query)
	var out []model.UserSummary
	for _, u := range f.users {
		if strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(u.Email, q) {
			out = append(out, model.UserSummary{User: *u})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeStore) CountUsers(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return len(f.users), nil
}

func (f *fakeStore) LinkAccount(_ context.Context, userID, provider, subject string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := provider + "/" + subject
	if _, ok := f.accounts[key]; !ok {
		f.accounts[key] = userID
	}
	return nil
}

func (f *fakeStore) CreateSession(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return f.sessionErr
	}
	stored := *s
	f.sessions[s.TokenHash] = &stored
	return nil
}

func (f *fakeStore) GetSessionWithUser(_ context.Context, hash string) (*model.Session, *model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return nil, nil, f.sessionErr
	}
	s, ok := f.sessions[hash]
	if !ok {
		return nil, nil, apperror.NotFound("session", "(redacted)")
	}
	u, ok := f.users[s.UserID]
	if !ok {
		return nil, nil, apperror.NotFound("session", "(redacted)")
	}
	sc, uc := *s, *u
	return &sc, &uc, nil
}

func (f *fakeStore) TouchSession(_ context.Context, hash string, lastActive, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	if s, ok := f.sessions[hash]; ok {
		s.LastActive = lastActive
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (f *fakeStore) DeleteSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, hash)
	return nil
}

func (f *fakeStore) DeleteUserSessions(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, h)
		}
	}
	return nil
}

func (f *fakeStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for h, s := range f.sessions {
		if !s.ExpiresAt.After(now) {
			delete(f.sessions, h)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreateConnection(_ context.Context, c *model.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[c.OwnerID]; !ok {
		return apperror.NotFound("user", c.OwnerID)
	}
	c.ID = f.id("conn")
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	stored := *c
	f.connections[c.ID] = &stored
	return nil
}

func (f *fakeStore) GetConnection(_ context.Context, id string) (*model.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connections[id]
	if !ok {
		return nil, apperror.NotFound("connection", id)
	}
	copied := *c
	return &copied, nil
}

func (f *fakeStore) UpdateConnection(_ context.Context, c *model.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.connections[c.ID]; !ok {
		return apperror.NotFound("connection", c.ID)
	}
	stored := *c
	f.connections[c.ID] = &stored
	return nil
}

func (f *fakeStore) DeleteConnection(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.connections[id]; !ok {
		return apperror.NotFound("connection", id)
	}
	delete(f.connections, id)
	delete(f.shares, id)
	return nil
}

func (f *fakeStore) SearchConnections(_ context.Context, opts repository.ConnectionSearch) ([]model.ConnectionListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := strings.ToLower(opts.Query)
	out := []model.ConnectionListing{}
	for _, c := range f.connections {
		owner := f.users[c.OwnerID]
		if !strings.Contains(strings.ToLower(c.Name), q) && !strings.Contains(owner.Email, q) {
			continue
		}
		l := model.ConnectionListing{
			Connection: *c,
			Owner:      model.UserRef{ID: owner.ID, Email: owner.Email, Name: owner.Name},
			SharedWith: []model.UserRef{},
		}
		for uid := range f.shares[c.ID] {
			u := f.users[uid]
			l.SharedWith = append(l.SharedWith, model.UserRef{ID: u.ID, Email: u.Email})
		}
		l.ShareCount = len(l.SharedWith)
		out = append(out, l)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeStore) AddShare(_ context.Context, connID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.connections[connID]; !ok {
		return apperror.NotFound("user or connection", connID)
	}
	if _, ok := f.users[userID]; !ok {
		return apperror.NotFound("user or connection", userID)
	}
	if f.shares[connID] == nil {
		f.shares[connID] = make(map[string]bool)
	}
	f.shares[connID][userID] = true
	return nil
}

func (f *fakeStore) RemoveShare(_ context.Context, connID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.shares[connID][userID] {
		return apperror.NotFound("share", connID+"/"+userID)
	}
	delete(f.shares[connID], userID)
	return nil
}

func (f *fakeStore) CountConnections(_ context.Context, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	n := 0
	for _, c := range f.connections {
		if since.IsZero() || !c.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) userCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

// discardLogger keeps test output clean.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
