package dto

import "github.com/hongminglow/authz-be/internal/models"

// GrantPermissionRequest links a permission to a role, by id or by name.
type GrantPermissionRequest struct {
	PermissionID   int64  `json:"permission_id"`
	PermissionName string `json:"permission_name"`
}

type RoleResponse struct {
	models.Role
	Permissions []string `json:"permissions"`
}
