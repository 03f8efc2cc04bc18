// Package memory provides a process-local credential store with the same
// semantics as the Postgres store. It backs local runs (DATABASE_URL=memory://)
// and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hongminglow/authz-be/internal/models"
	"github.com/hongminglow/authz-be/internal/storage"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

// Store keeps users, roles, permissions and join rows in maps guarded by one mutex.
type Store struct {
	mu          sync.RWMutex
	users       map[int64]models.User
	roles       map[int64]models.Role
	permissions map[int64]models.Permission
	grants      map[models.RolePermission]struct{}
	nextUserID  int64
	nextRoleID  int64
	nextPermID  int64
	now         func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:       make(map[int64]models.User),
		roles:       make(map[int64]models.Role),
		permissions: make(map[int64]models.Permission),
		grants:      make(map[models.RolePermission]struct{}),
		now:         time.Now,
	}
}

// Close is a no-op.
func (s *Store) Close() {}

// CreateUser inserts a new user. The email must be unique and the role must exist.
func (s *Store) CreateUser(_ context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emailTaken(user.Email, 0) {
		return models.User{}, storage.ErrAlreadyExists
	}
	if _, ok := s.roles[user.RoleID]; !ok {
		return models.User{}, storage.ErrNotFound
	}
	s.nextUserID++
	now := s.now().UTC()
	user.ID = s.nextUserID
	user.PIN, user.PINExpiry = nil, nil
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = user
	return s.withRole(user), nil
}

// FindByID fetches a user by id.
func (s *Store) FindByID(_ context.Context, id int64) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return s.withRole(user), nil
}

// FindByEmail fetches a user by exact email.
func (s *Store) FindByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Email == email {
			return s.withRole(user), nil
		}
	}
	return models.User{}, storage.ErrNotFound
}

// ListUsers returns all users ordered by id.
func (s *Store) ListUsers(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.User, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, s.withRole(user))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateUser writes profile fields, role and, when set, the password hash.
func (s *Store) UpdateUser(_ context.Context, user models.User) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[user.ID]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	if s.emailTaken(user.Email, user.ID) {
		return models.User{}, storage.ErrAlreadyExists
	}
	if _, ok := s.roles[user.RoleID]; !ok {
		return models.User{}, storage.ErrNotFound
	}
	current.FullName = user.FullName
	current.Email = user.Email
	current.Phone = user.Phone
	current.Address = user.Address
	current.Occupation = user.Occupation
	current.RoleID = user.RoleID
	if user.PasswordHash != "" {
		current.PasswordHash = user.PasswordHash
	}
	current.UpdatedAt = s.now().UTC()
	s.users[current.ID] = current
	return s.withRole(current), nil
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

// CountUsers returns the number of users.
func (s *Store) CountUsers(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

// SetResetChallenge stores pin and expiry together.
func (s *Store) SetResetChallenge(_ context.Context, userID int64, pin string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	p, e := pin, expiry
	user.PIN, user.PINExpiry = &p, &e
	user.UpdatedAt = s.now().UTC()
	s.users[userID] = user
	return nil
}

// ConsumeResetChallenge swaps in the new hash and clears the challenge if it still matches.
func (s *Store) ConsumeResetChallenge(_ context.Context, userID int64, pin, passwordHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	if !user.HasPendingChallenge() || *user.PIN != pin || now.After(*user.PINExpiry) {
		return storage.ErrPreconditionFailed
	}
	user.PasswordHash = passwordHash
	user.PIN, user.PINExpiry = nil, nil
	user.UpdatedAt = s.now().UTC()
	s.users[userID] = user
	return nil
}

// ClearExpiredChallenges nulls challenges that expired before now.
func (s *Store) ClearExpiredChallenges(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared int64
	for id, user := range s.users {
		if user.PINExpiry != nil && user.PINExpiry.Before(now) {
			user.PIN, user.PINExpiry = nil, nil
			s.users[id] = user
			cleared++
		}
	}
	return cleared, nil
}

// FindRoleByID fetches a role by id.
func (s *Store) FindRoleByID(_ context.Context, id int64) (models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[id]
	if !ok {
		return models.Role{}, storage.ErrNotFound
	}
	return role, nil
}

// FindRoleByName fetches a role by its unique name.
func (s *Store) FindRoleByName(_ context.Context, name string) (models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, role := range s.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return models.Role{}, storage.ErrNotFound
}

// ListRoles returns all roles ordered by id.
func (s *Store) ListRoles(_ context.Context) ([]models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Role, 0, len(s.roles))
	for _, role := range s.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateRole inserts a role with a unique name.
func (s *Store) CreateRole(_ context.Context, role models.Role) (models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.roles {
		if existing.Name == role.Name {
			return models.Role{}, storage.ErrAlreadyExists
		}
	}
	s.nextRoleID++
	role.ID = s.nextRoleID
	s.roles[role.ID] = role
	return role, nil
}

// ListPermissions returns all permissions ordered by id.
func (s *Store) ListPermissions(_ context.Context) ([]models.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Permission, 0, len(s.permissions))
	for _, perm := range s.permissions {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindPermissionByID fetches a permission by id.
func (s *Store) FindPermissionByID(_ context.Context, id int64) (models.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perm, ok := s.permissions[id]
	if !ok {
		return models.Permission{}, storage.ErrNotFound
	}
	return perm, nil
}

// FindPermissionByName fetches a permission by its unique name.
func (s *Store) FindPermissionByName(_ context.Context, name string) (models.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, perm := range s.permissions {
		if perm.Name == name {
			return perm, nil
		}
	}
	return models.Permission{}, storage.ErrNotFound
}

// CreatePermission inserts a permission with a unique name.
func (s *Store) CreatePermission(_ context.Context, perm models.Permission) (models.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.permissions {
		if existing.Name == perm.Name {
			return models.Permission{}, storage.ErrAlreadyExists
		}
	}
	s.nextPermID++
	perm.ID = s.nextPermID
	s.permissions[perm.ID] = perm
	return perm, nil
}

// RolePermissions returns the sorted permission names joined to a role.
func (s *Store) RolePermissions(_ context.Context, roleID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := []string{}
	for grant := range s.grants {
		if grant.RoleID != roleID {
			continue
		}
		if perm, ok := s.permissions[grant.PermissionID]; ok {
			names = append(names, perm.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// GrantPermission adds a join row. Both sides must exist.
func (s *Store) GrantPermission(_ context.Context, roleID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[roleID]; !ok {
		return storage.ErrNotFound
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return storage.ErrNotFound
	}
	key := models.RolePermission{RoleID: roleID, PermissionID: permissionID}
	if _, ok := s.grants[key]; ok {
		return storage.ErrAlreadyExists
	}
	s.grants[key] = struct{}{}
	return nil
}

// RevokePermission removes a join row.
func (s *Store) RevokePermission(_ context.Context, roleID, permissionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.RolePermission{RoleID: roleID, PermissionID: permissionID}
	if _, ok := s.grants[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.grants, key)
	return nil
}

func (s *Store) emailTaken(email string, exceptID int64) bool {
	for id, user := range s.users {
		if id != exceptID && user.Email == email {
			return true
		}
	}
	return false
}

// withRole returns a copy of user with the role name filled in and the
// challenge pointers detached from the stored record.
func (s *Store) withRole(user models.User) models.User {
	if role, ok := s.roles[user.RoleID]; ok {
		user.Role = role.Name
	}
	if user.PIN != nil {
		pin := *user.PIN
		user.PIN = &pin
	}
	if user.PINExpiry != nil {
		expiry := *user.PINExpiry
		user.PINExpiry = &expiry
	}
	return user
}
