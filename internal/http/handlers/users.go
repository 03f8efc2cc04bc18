package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hongminglow/authz-be/internal/auth"
	"github.com/hongminglow/authz-be/internal/http/respond"
	"github.com/hongminglow/authz-be/internal/middleware"
	"github.com/hongminglow/authz-be/internal/models"
	"github.com/hongminglow/authz-be/internal/models/dto"
	"github.com/hongminglow/authz-be/internal/storage"
)

// UsersHandler serves permission-gated user management.
type UsersHandler struct {
	store       storage.Store
	hasher      auth.PasswordHasher
	resolver    *auth.Resolver
	defaultRole string
	log         *logrus.Entry
}

// NewUsersHandler constructs the handler. resolver decides which roles a
// caller may assign or act on.
func NewUsersHandler(store storage.Store, hasher auth.PasswordHasher, resolver *auth.Resolver, defaultRole string, log *logrus.Entry) *UsersHandler {
	return &UsersHandler{store: store, hasher: hasher, resolver: resolver, defaultRole: defaultRole, log: log}
}

// Register attaches user routes, each behind its own permission.
func (h *UsersHandler) Register(r *mux.Router, authz *middleware.Authorizer) {
	gate := func(perm string, fn http.HandlerFunc) http.Handler {
		return authz.RequirePermission(perm)(fn)
	}
	r.Handle("/users", gate(models.PermCreateUser, h.handleCreate)).Methods(http.MethodPost)
	r.Handle("/users", gate(models.PermReadUser, h.handleList)).Methods(http.MethodGet)
	r.Handle("/users/count", gate(models.PermCountUser, h.handleCount)).Methods(http.MethodGet)
	r.Handle("/users/{id:[0-9]+}", gate(models.PermReadUser, h.handleGet)).Methods(http.MethodGet)
	r.Handle("/users/{id:[0-9]+}", gate(models.PermUpdateUser, h.handleUpdate)).Methods(http.MethodPut)
	r.Handle("/users/{id:[0-9]+}", gate(models.PermDeleteUser, h.handleDelete)).Methods(http.MethodDelete)
}

func (h *UsersHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Role) == "" {
		req.Role = h.defaultRole
	}

	created, err := createUser(r, h.store, h.hasher, req, h.authorizeRole)
	if err != nil {
		writeError(w, h.log, err, "failed to create user")
		return
	}
	h.actor(r).WithField("user_id", created.ID).Info("user created")
	respond.JSON(w, http.StatusCreated, "User created successfully", created)
}

func (h *UsersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, h.log, err, "failed to list users")
		return
	}
	respond.JSON(w, http.StatusOK, "ok", users)
}

func (h *UsersHandler) handleCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountUsers(r.Context())
	if err != nil {
		writeError(w, h.log, err, "failed to count users")
		return
	}
	respond.JSON(w, http.StatusOK, "ok", dto.CountResponse{UserCount: count})
}

func (h *UsersHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	user, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, h.log, notFoundAs(err, "user not found"), "failed to fetch user")
		return
	}
	respond.JSON(w, http.StatusOK, "ok", user)
}

func (h *UsersHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req dto.UpdateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	updated, err := h.update(r, id, req)
	if err != nil {
		writeError(w, h.log, err, "failed to update user")
		return
	}
	h.actor(r).WithField("user_id", id).Info("user updated")
	respond.JSON(w, http.StatusOK, "User updated successfully", updated)
}

func (h *UsersHandler) update(r *http.Request, id int64, req dto.UpdateUserRequest) (models.User, error) {
	ctx := r.Context()
	user, err := h.store.FindByID(ctx, id)
	if err != nil {
		return models.User{}, notFoundAs(err, "user not found")
	}
	if err := h.authorizeRole(ctx, user.RoleID); err != nil {
		return models.User{}, err
	}
	user.PasswordHash = ""

	if req.FullName != nil {
		if strings.TrimSpace(*req.FullName) == "" {
			return models.User{}, badRequest("fullName cannot be empty")
		}
		user.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if err := validateEmail(email); err != nil {
			return models.User{}, badRequest(err.Error())
		}
		user.Email = email
	}
	if req.Phone != nil {
		user.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Address != nil {
		user.Address = strings.TrimSpace(*req.Address)
	}
	if req.Occupation != nil {
		user.Occupation = strings.TrimSpace(*req.Occupation)
	}
	if req.Role != nil {
		role, err := h.store.FindRoleByName(ctx, strings.TrimSpace(*req.Role))
		if errors.Is(err, storage.ErrNotFound) {
			return models.User{}, badRequest("unknown role")
		}
		if err != nil {
			return models.User{}, fmt.Errorf("find role: %w", err)
		}
		if err := h.authorizeRole(ctx, role.ID); err != nil {
			return models.User{}, err
		}
		user.RoleID = role.ID
	}
	if req.Password != nil {
		if err := validatePassword(*req.Password); err != nil {
			return models.User{}, badRequest(err.Error())
		}
		hash, err := h.hasher.Hash(*req.Password)
		if err != nil {
			return models.User{}, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = hash
	}

	updated, err := h.store.UpdateUser(ctx, user)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		return models.User{}, &requestError{status: http.StatusConflict, msg: "email already in use"}
	case err != nil:
		return models.User{}, notFoundAs(err, "user not found")
	}
	return updated, nil
}

func (h *UsersHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		writeError(w, h.log, notFoundAs(err, "user not found"), "failed to delete user")
		return
	}
	h.actor(r).WithField("user_id", id).Info("user deleted")
	respond.JSON(w, http.StatusOK, "User deleted successfully", nil)
}

// authorizeRole rejects a role that grants any permission the caller lacks,
// whether the caller is assigning it or editing a user who holds it.
func (h *UsersHandler) authorizeRole(ctx context.Context, roleID int64) error {
	caller, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return &requestError{status: http.StatusForbidden, msg: "insufficient permissions"}
	}
	if caller.RoleID == roleID {
		return nil
	}
	held, err := h.resolver.Permissions(ctx, caller.RoleID)
	if err != nil {
		return err
	}
	target, err := h.resolver.Permissions(ctx, roleID)
	if err != nil {
		return err
	}
	for name := range target {
		if !held.Has(name) {
			return &requestError{status: http.StatusForbidden, msg: "role exceeds your permissions"}
		}
	}
	return nil
}

func (h *UsersHandler) actor(r *http.Request) *logrus.Entry {
	p, _ := auth.PrincipalFrom(r.Context())
	return h.log.WithField("actor_id", p.UserID)
}

// notFoundAs maps storage.ErrNotFound to a 404 carrying msg.
func notFoundAs(err error, msg string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &requestError{status: http.StatusNotFound, msg: msg}
	}
	return err
}
