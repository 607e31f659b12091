package httptransport

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/porthorian/authlite"
	"github.com/porthorian/authlite/pkg/authz"
	oerrors "github.com/porthorian/authlite/pkg/errors"
)

// Admin is the subset of *authlite.Client the admin API drives.
type Admin interface {
	Registry() *authz.Registry
	CreateUser(ctx context.Context, input authlite.CreateUserInput) (int64, error)
	DeleteUser(ctx context.Context, userID int64) error
	GetUser(ctx context.Context, userID int64) (authlite.User, error)
	PermissionMask(ctx context.Context, userID int64) (authz.PermissionMask, error)
	ReplacePermissions(ctx context.Context, userID int64, value authz.Replacement) error
	GrantPermissions(ctx context.Context, userID int64, names ...string) (authz.PermissionMask, error)
	RevokePermissions(ctx context.Context, userID int64, names ...string) (authz.PermissionMask, error)
}

var _ Admin = (*authlite.Client)(nil)

type Handler struct {
	admin  Admin
	logger logr.Logger
}

func NewHandler(admin Admin, logger logr.Logger) *Handler {
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	return &Handler{admin: admin, logger: logger}
}

// Routes registers the user and permission routes. guardUsers wraps account
// routes and guardPermissions wraps mask changes; nil leaves a route open.
func (h *Handler) Routes(guardUsers, guardPermissions func(http.Handler) http.Handler) chi.Router {
	guardUsers = orPassthrough(guardUsers)
	guardPermissions = orPassthrough(guardPermissions)

	r := chi.NewRouter()
	r.With(guardUsers).Post("/users", h.createUser)
	r.Route("/users/{id}", func(r chi.Router) {
		r.With(guardUsers).Get("/", h.getUser)
		r.With(guardUsers).Delete("/", h.deleteUser)
		r.With(guardUsers).Get("/permissions", h.getPermissions)
		r.With(guardPermissions).Put("/permissions", h.replacePermissions)
		r.With(guardPermissions).Post("/permissions", h.grantPermissions)
		r.With(guardPermissions).Delete("/permissions", h.revokePermissions)
	})
	return r
}

func orPassthrough(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw != nil {
		return mw
	}
	return func(next http.Handler) http.Handler { return next }
}

type createUserRequest struct {
	Login       string   `json:"login"`
	Password    string   `json:"password"`
	Permissions []string `json:"permissions"`
}

type userResponse struct {
	ID             int64      `json:"id"`
	Login          string     `json:"login"`
	PermissionMask uint64     `json:"permission_mask"`
	Permissions    []string   `json:"permissions"`
	DateAdded      time.Time  `json:"date_added"`
	DateModified   *time.Time `json:"date_modified,omitempty"`
}

// permissionsRequest carries names, or for PUT alternatively a raw mask.
type permissionsRequest struct {
	Permissions []string `json:"permissions"`
	Mask        *uint64  `json:"mask,omitempty"`
}

type permissionsResponse struct {
	UserID         int64    `json:"user_id"`
	PermissionMask uint64   `json:"permission_mask"`
	Permissions    []string `json:"permissions"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var payload createUserRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	id, err := h.admin.CreateUser(r.Context(), authlite.CreateUserInput{
		Login:       payload.Login,
		Password:    payload.Password,
		Permissions: payload.Permissions,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := h.admin.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(user))
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	user, err := h.admin.GetUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(user))
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	if err := h.admin.DeleteUser(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	mask, err := h.admin.PermissionMask(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.permissions(id, mask))
}

func (h *Handler) replacePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var payload permissionsRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	var value authz.Replacement = authz.Names(payload.Permissions)
	if payload.Mask != nil {
		if len(payload.Permissions) > 0 {
			writeError(w, http.StatusBadRequest, "mask and permissions are mutually exclusive")
			return
		}
		value = authz.PermissionMask(*payload.Mask)
	}

	if err := h.admin.ReplacePermissions(r.Context(), id, value); err != nil {
		h.fail(w, r, err)
		return
	}

	mask, err := h.admin.PermissionMask(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.permissions(id, mask))
}

func (h *Handler) grantPermissions(w http.ResponseWriter, r *http.Request) {
	h.updatePermissions(w, r, h.admin.GrantPermissions)
}

func (h *Handler) revokePermissions(w http.ResponseWriter, r *http.Request) {
	h.updatePermissions(w, r, h.admin.RevokePermissions)
}

func (h *Handler) updatePermissions(
	w http.ResponseWriter,
	r *http.Request,
	apply func(ctx context.Context, userID int64, names ...string) (authz.PermissionMask, error),
) {
	id, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var payload permissionsRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if payload.Mask != nil || len(payload.Permissions) == 0 {
		writeError(w, http.StatusBadRequest, "permissions are required")
		return
	}

	mask, err := apply(r.Context(), id, payload.Permissions...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.permissions(id, mask))
}

func (h *Handler) permissions(id int64, mask authz.PermissionMask) permissionsResponse {
	names := h.admin.Registry().Names(mask)
	if names == nil {
		names = []string{}
	}
	return permissionsResponse{UserID: id, PermissionMask: uint64(mask), Permissions: names}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if oerrors.IsInternalCode(err) {
		h.logger.Error(err, "admin request failed", "method", r.Method, "path", r.URL.Path)
	}
	writeCodedError(w, err)
}

func newUserResponse(user authlite.User) userResponse {
	permissions := user.Permissions
	if permissions == nil {
		permissions = []string{}
	}
	return userResponse{
		ID:             user.ID,
		Login:          user.Login,
		PermissionMask: uint64(user.PermissionMask),
		Permissions:    permissions,
		DateAdded:      user.DateAdded,
		DateModified:   user.DateModified,
	}
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}
