package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hongminglow/authz-be/internal/models"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists indicates a uniqueness conflict.
var ErrAlreadyExists = errors.New("record already exists")

// ErrPreconditionFailed indicates a conditional update matched no row.
var ErrPreconditionFailed = errors.New("precondition failed")

// UserStore captures persistence operations on user records.
type UserStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	FindByID(ctx context.Context, id int64) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	// UpdateUser writes the profile fields and role of an existing user in one
	// update. A non-empty PasswordHash is written in the same update; an empty
	// one keeps the stored hash.
	UpdateUser(ctx context.Context, user models.User) (models.User, error)
	DeleteUser(ctx context.Context, id int64) error
	CountUsers(ctx context.Context) (int64, error)

	// SetResetChallenge stores pin and expiry together, replacing any pending challenge.
	SetResetChallenge(ctx context.Context, userID int64, pin string, expiry time.Time) error
	// ConsumeResetChallenge stores passwordHash and clears the challenge in a single
	// update, provided the stored pin equals pin and has not expired at now.
	// Returns ErrPreconditionFailed otherwise.
	ConsumeResetChallenge(ctx context.Context, userID int64, pin, passwordHash string, now time.Time) error
	// ClearExpiredChallenges nulls every challenge whose expiry is before now.
	ClearExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

// RoleStore captures persistence operations on roles, permissions and their join.
type RoleStore interface {
	FindRoleByID(ctx context.Context, id int64) (models.Role, error)
	FindRoleByName(ctx context.Context, name string) (models.Role, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
	CreateRole(ctx context.Context, role models.Role) (models.Role, error)
	ListPermissions(ctx context.Context) ([]models.Permission, error)
	FindPermissionByID(ctx context.Context, id int64) (models.Permission, error)
	FindPermissionByName(ctx context.Context, name string) (models.Permission, error)
	CreatePermission(ctx context.Context, perm models.Permission) (models.Permission, error)
	// RolePermissions returns the permission names joined to a role.
	// An unknown role yields an empty set.
	RolePermissions(ctx context.Context, roleID int64) ([]string, error)
	GrantPermission(ctx context.Context, roleID, permissionID int64) error
	RevokePermission(ctx context.Context, roleID, permissionID int64) error
}

// Store is the full credential store.
type Store interface {
	UserStore
	RoleStore
	Close()
}
