package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hongminglow/authz-be/internal/models"
)

// Seed inserts the default roles, permissions and join rows. It is idempotent.
func Seed(ctx context.Context, store RoleStore, roles []models.RoleSeed) error {
	permIDs := make(map[string]int64)
	for _, seed := range roles {
		role, err := ensureRole(ctx, store, seed)
		if err != nil {
			return err
		}
		for _, name := range seed.Permissions {
			name = models.CanonicalPermission(name)
			id, ok := permIDs[name]
			if !ok {
				perm, err := ensurePermission(ctx, store, name)
				if err != nil {
					return err
				}
				id = perm.ID
				permIDs[name] = id
			}
			if err := store.GrantPermission(ctx, role.ID, id); err != nil && !errors.Is(err, ErrAlreadyExists) {
				return fmt.Errorf("grant %s to %s: %w", name, seed.Name, err)
			}
		}
	}
	return nil
}

func ensureRole(ctx context.Context, store RoleStore, seed models.RoleSeed) (models.Role, error) {
	role, err := store.FindRoleByName(ctx, seed.Name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Role{}, fmt.Errorf("find role %s: %w", seed.Name, err)
	}
	role, err = store.CreateRole(ctx, models.Role{Name: seed.Name, Description: seed.Description})
	if err != nil {
		return models.Role{}, fmt.Errorf("create role %s: %w", seed.Name, err)
	}
	return role, nil
}

func ensurePermission(ctx context.Context, store RoleStore, name string) (models.Permission, error) {
	perm, err := store.FindPermissionByName(ctx, name)
	if err == nil {
		return perm, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.Permission{}, fmt.Errorf("find permission %s: %w", name, err)
	}
	perm, err = store.CreatePermission(ctx, models.Permission{Name: name, Description: models.PermissionDescriptions[name]})
	if err != nil {
		return models.Permission{}, fmt.Errorf("create permission %s: %w", name, err)
	}
	return perm, nil
}

// BootstrapAdmin creates an admin user with the given email and password hash
// unless a user with that email already exists. It reports whether a user was created.
func BootstrapAdmin(ctx context.Context, store Store, email, passwordHash string) (bool, error) {
	if _, err := store.FindByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("find bootstrap admin: %w", err)
	}

	role, err := store.FindRoleByName(ctx, models.RoleAdmin)
	if err != nil {
		return false, fmt.Errorf("find admin role: %w", err)
	}
	_, err = store.CreateUser(ctx, models.User{
		FullName:     "Administrator",
		Email:        email,
		RoleID:       role.ID,
		PasswordHash: passwordHash,
	})
	if err != nil {
		return false, fmt.Errorf("create bootstrap admin: %w", err)
	}
	return true, nil
}
