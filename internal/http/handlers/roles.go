package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hongminglow/authz-be/internal/http/respond"
	"github.com/hongminglow/authz-be/internal/middleware"
	"github.com/hongminglow/authz-be/internal/models"
	"github.com/hongminglow/authz-be/internal/models/dto"
	"github.com/hongminglow/authz-be/internal/storage"
)

// RolesHandler manages the role/permission join behind the admin gate.
type RolesHandler struct {
	store storage.RoleStore
	log   *logrus.Entry
}

// NewRolesHandler constructs the handler.
func NewRolesHandler(store storage.RoleStore, log *logrus.Entry) *RolesHandler {
	return &RolesHandler{store: store, log: log}
}

// Register attaches the admin-only routes.
func (h *RolesHandler) Register(r *mux.Router, authz *middleware.Authorizer) {
	admin := r.NewRoute().Subrouter()
	admin.Use(authz.RequireAdmin())
	admin.HandleFunc("/roles", h.handleListRoles).Methods(http.MethodGet)
	admin.HandleFunc("/permissions", h.handleListPermissions).Methods(http.MethodGet)
	admin.HandleFunc("/roles/{id:[0-9]+}/permissions", h.handleGrant).Methods(http.MethodPost)
	admin.HandleFunc("/roles/{id:[0-9]+}/permissions/{permissionID:[0-9]+}", h.handleRevoke).Methods(http.MethodDelete)
}

func (h *RolesHandler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roles, err := h.store.ListRoles(ctx)
	if err != nil {
		writeError(w, h.log, err, "failed to list roles")
		return
	}
	out := make([]dto.RoleResponse, 0, len(roles))
	for _, role := range roles {
		perms, err := h.store.RolePermissions(ctx, role.ID)
		if err != nil {
			writeError(w, h.log, err, "failed to list roles")
			return
		}
		out = append(out, dto.RoleResponse{Role: role, Permissions: perms})
	}
	respond.JSON(w, http.StatusOK, "ok", out)
}

func (h *RolesHandler) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.store.ListPermissions(r.Context())
	if err != nil {
		writeError(w, h.log, err, "failed to list permissions")
		return
	}
	respond.JSON(w, http.StatusOK, "ok", perms)
}

func (h *RolesHandler) handleGrant(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req dto.GrantPermissionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	perm, err := h.resolvePermission(r, req)
	if err != nil {
		writeError(w, h.log, err, "failed to grant permission")
		return
	}

	err = h.store.GrantPermission(r.Context(), roleID, perm.ID)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		respond.Error(w, http.StatusConflict, "permission already granted")
		return
	case err != nil:
		writeError(w, h.log, notFoundAs(err, "role not found"), "failed to grant permission")
		return
	}
	h.log.WithFields(logrus.Fields{"role_id": roleID, "permission": perm.Name}).Info("permission granted")
	respond.JSON(w, http.StatusCreated, "Permission granted", models.RolePermission{RoleID: roleID, PermissionID: perm.ID})
}

func (h *RolesHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	permID, ok := pathID(w, r, "permissionID")
	if !ok {
		return
	}
	if err := h.store.RevokePermission(r.Context(), roleID, permID); err != nil {
		writeError(w, h.log, notFoundAs(err, "permission not granted to role"), "failed to revoke permission")
		return
	}
	h.log.WithFields(logrus.Fields{"role_id": roleID, "permission_id": permID}).Info("permission revoked")
	respond.JSON(w, http.StatusOK, "Permission revoked", nil)
}

func (h *RolesHandler) resolvePermission(r *http.Request, req dto.GrantPermissionRequest) (models.Permission, error) {
	var (
		perm models.Permission
		err  error
	)
	switch name := strings.TrimSpace(req.PermissionName); {
	case req.PermissionID > 0:
		perm, err = h.store.FindPermissionByID(r.Context(), req.PermissionID)
	case name != "":
		perm, err = h.store.FindPermissionByName(r.Context(), models.CanonicalPermission(name))
	default:
		return models.Permission{}, badRequest("permission_id or permission_name is required")
	}
	if err != nil {
		return models.Permission{}, notFoundAs(err, "permission not found")
	}
	return perm, nil
}
