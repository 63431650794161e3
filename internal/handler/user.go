package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/connhub/internal/apperror"
	"github.com/sakif/connhub/internal/model"
)

// UserDirectory is the read side of the user service.
type UserDirectory interface {
	Search(ctx context.Context, q string, limit int) ([]model.UserSummary, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// UserHandler serves /api/users.
type UserHandler struct {
	users  UserDirectory
	logger *slog.Logger
}

func NewUserHandler(users UserDirectory, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// HandleList searches users by name or email.
//
// HTTP: GET /api/users?q=ali&limit=20
//
// limit is optional. The service clamps it; the handler only rejects
// values that are not numbers.
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, apperror.ValidationFailed("limit", "limit must be a number"))
			return
		}
		limit = n
	}

	users, err := h.users.Search(r.Context(), query.Get("q"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(users))
}

// HandleGet returns one user.
//
// HTTP: GET /api/users/{id}
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
