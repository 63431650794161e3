package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/connhub/internal/apperror"
	"github.com/sakif/connhub/internal/auth"
	"github.com/sakif/connhub/internal/model"
	"github.com/sakif/connhub/internal/probe"
	"github.com/sakif/connhub/internal/service"
)

// ConnectionManager is what the connection endpoints need from the
// service layer. *service.ConnectionService implements it.
type ConnectionManager interface {
	Search(ctx context.Context, q string) ([]model.ConnectionListing, error)
	Get(ctx context.Context, id string) (*model.Connection, error)
	Create(ctx context.Context, p *model.Principal, in service.ConnectionInput) (*model.Connection, error)
	Update(ctx context.Context, p *model.Principal, id string, in service.ConnectionUpdate) (*model.Connection, error)
	Delete(ctx context.Context, p *model.Principal, id string) error
	Share(ctx context.Context, p *model.Principal, id, userID string) error
	Unshare(ctx context.Context, p *model.Principal, id, userID string) error
	Test(ctx context.Context, p *model.Principal, id, password string) (*probe.Result, error)
}

// ConnectionHandler serves /api/connections. Every route sits behind
// RequireAuth; ownership checks happen in the service.
type ConnectionHandler struct {
	connections ConnectionManager
	logger      *slog.Logger
}

// NewConnectionHandler creates a ConnectionHandler.
func NewConnectionHandler(connections ConnectionManager, logger *slog.Logger) *ConnectionHandler {
	return &ConnectionHandler{connections: connections, logger: logger}
}

type connectionRequest struct {
	Name     string       `json:"name"`
	DBType   model.DBType `json:"dbType"`
	Host     string       `json:"host"`
	Port     int          `json:"port"`
	Username string       `json:"username"`
	Database string       `json:"database"`
}

// connectionPatch uses pointers so "absent" and "empty" differ.
type connectionPatch struct {
	Name     *string       `json:"name"`
	DBType   *model.DBType `json:"dbType"`
	Host     *string       `json:"host"`
	Port     *int          `json:"port"`
	Username *string       `json:"username"`
	Database *string       `json:"database"`
}

type shareRequest struct {
	UserID string `json:"userId"`
}

type testRequest struct {
	Password string `json:"password"`
}

// HandleList searches connections.
//
// HTTP: GET /api/connections?q=prod
//
// RESPONSE: {"results": [...]}, with an empty array when nothing matches.
func (h *ConnectionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	listings, err := h.connections.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(listings))
}

// HandleGet returns one connection.
//
// HTTP: GET /api/connections/{id}
func (h *ConnectionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	conn, err := h.connections.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// HandleCreate saves a new connection owned by the caller.
//
// HTTP: POST /api/connections
// REQUEST BODY: {"name":"Primary","dbType":"postgres","host":"db","port":5432,"username":"app","database":"app"}
func (h *ConnectionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req connectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.connections.Create(r.Context(), p, service.ConnectionInput(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

// HandleUpdate applies a partial update.
//
// HTTP: PUT /api/connections/{id}
// Only the fields present in the body change. Owner or ADMIN.
func (h *ConnectionHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req connectionPatch
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.connections.Update(r.Context(), p, chi.URLParam(r, "id"), service.ConnectionUpdate(req))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// HandleDelete removes a connection.
//
// HTTP: DELETE /api/connections/{id}
// Returns 204 No Content. Owner or ADMIN.
func (h *ConnectionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.connections.Delete(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleShare grants another user access.
//
// HTTP: POST /api/connections/{id}/shares
// REQUEST BODY: {"userId": "..."}
func (h *ConnectionHandler) HandleShare(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.connections.Share(r.Context(), p, chi.URLParam(r, "id"), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUnshare revokes a share.
//
// HTTP: DELETE /api/connections/{id}/shares/{userId}
func (h *ConnectionHandler) HandleUnshare(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.connections.Unshare(r.Context(), p, chi.URLParam(r, "id"), chi.URLParam(r, "userId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTest checks whether the described database answers.
//
// HTTP: POST /api/connections/{id}/test
// REQUEST BODY: {"password": "..."}
//
// An unreachable database is still a 200: the result says so. The
// password is used for this one probe and never stored or logged.
func (h *ConnectionHandler) HandleTest(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req testRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.connections.Test(r.Context(), p, chi.URLParam(r, "id"), req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// principal fetches the caller or writes a 401. RequireAuth normally
// guarantees one is present.
func principal(w http.ResponseWriter, r *http.Request) (*model.Principal, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
	}
	return p, ok
}
