package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hongminglow/authz-be/internal/models"
	"github.com/hongminglow/authz-be/internal/storage"
)

// Ensure Store satisfies the storage.Store interface at compile time.
var _ storage.Store = (*Store)(nil)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// userColumns selects a user joined with its role name. Queries using it
// alias users as u and roles as r.
const userColumns = `u.id, u.full_name, u.email, u.phone, u.address, u.occupation, u.role_id, r.name,
	u.password_hash, u.pin, u.pin_expiry, u.created_at, u.updated_at`

// Store provides Postgres-backed persistence for users, roles and permissions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store and runs migrations.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	s := &Store{pool: pool}
	if err := migratePool(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Close releases database resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	const query = `
		WITH u AS (
			INSERT INTO users (full_name, email, phone, address, occupation, role_id, password_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING *
		)
		SELECT ` + userColumns + `
		FROM u
		JOIN roles r ON u.role_id = r.id;
	`
	row := s.pool.QueryRow(ctx, query, user.FullName, user.Email, user.Phone, user.Address, user.Occupation, user.RoleID, user.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		return models.User{}, mapError(err)
	}
	return created, nil
}

// FindByID fetches a user by id.
func (s *Store) FindByID(ctx context.Context, id int64) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u JOIN roles r ON u.role_id = r.id WHERE u.id = $1;`
	return scanUser(s.pool.QueryRow(ctx, query, id))
}

// FindByEmail fetches a user by email address.
func (s *Store) FindByEmail(ctx context.Context, email string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u JOIN roles r ON u.role_id = r.id WHERE u.email = $1;`
	return scanUser(s.pool.QueryRow(ctx, query, email))
}

// ListUsers returns all users ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u JOIN roles r ON u.role_id = r.id ORDER BY u.id;`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// UpdateUser writes profile fields, role and, when set, the password hash.
func (s *Store) UpdateUser(ctx context.Context, user models.User) (models.User, error) {
	const query = `
		WITH u AS (
			UPDATE users
			SET full_name = $2, email = $3, phone = $4, address = $5, occupation = $6, role_id = $7,
				password_hash = COALESCE(NULLIF($8, ''), password_hash), updated_at = NOW()
			WHERE id = $1
			RETURNING *
		)
		SELECT ` + userColumns + `
		FROM u
		JOIN roles r ON u.role_id = r.id;
	`
	row := s.pool.QueryRow(ctx, query, user.ID, user.FullName, user.Email, user.Phone, user.Address, user.Occupation, user.RoleID, user.PasswordHash)
	updated, err := scanUser(row)
	if err != nil {
		return models.User{}, mapError(err)
	}
	return updated, nil
}

// DeleteUser removes a user row.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CountUsers returns the number of user rows.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users;`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// SetResetChallenge stores pin and expiry in one update, replacing any pending challenge.
func (s *Store) SetResetChallenge(ctx context.Context, userID int64, pin string, expiry time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET pin = $2, pin_expiry = $3, updated_at = NOW() WHERE id = $1;`,
		userID, pin, expiry)
	if err != nil {
		return fmt.Errorf("set reset challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ConsumeResetChallenge swaps in the new hash and clears the challenge, but only
// while the stored pin still matches and has not expired. A missing user also
// reports ErrPreconditionFailed.
func (s *Store) ConsumeResetChallenge(ctx context.Context, userID int64, pin, passwordHash string, now time.Time) error {
	const query = `
		UPDATE users
		SET password_hash = $3, pin = NULL, pin_expiry = NULL, updated_at = NOW()
		WHERE id = $1 AND pin = $2 AND pin_expiry >= $4;
	`
	tag, err := s.pool.Exec(ctx, query, userID, pin, passwordHash, now)
	if err != nil {
		return fmt.Errorf("consume reset challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrPreconditionFailed
	}
	return nil
}

// ClearExpiredChallenges nulls challenges that expired before now.
func (s *Store) ClearExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET pin = NULL, pin_expiry = NULL WHERE pin_expiry IS NOT NULL AND pin_expiry < $1;`, now)
	if err != nil {
		return 0, fmt.Errorf("clear expired challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FindRoleByID fetches a role by id.
func (s *Store) FindRoleByID(ctx context.Context, id int64) (models.Role, error) {
	return scanRole(s.pool.QueryRow(ctx, `SELECT id, name, description FROM roles WHERE id = $1;`, id))
}

// FindRoleByName fetches a role by name.
func (s *Store) FindRoleByName(ctx context.Context, name string) (models.Role, error) {
	return scanRole(s.pool.QueryRow(ctx, `SELECT id, name, description FROM roles WHERE name = $1;`, name))
}

// ListRoles returns all roles ordered by id.
func (s *Store) ListRoles(ctx context.Context) ([]models.Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description FROM roles ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	roles, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.Role])
	if err != nil {
		return nil, fmt.Errorf("collect roles: %w", err)
	}
	return roles, nil
}

// CreateRole inserts a role.
func (s *Store) CreateRole(ctx context.Context, role models.Role) (models.Role, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO roles (name, description) VALUES ($1, $2) RETURNING id, name, description;`,
		role.Name, role.Description)
	created, err := scanRole(row)
	if err != nil {
		return models.Role{}, mapError(err)
	}
	return created, nil
}

// ListPermissions returns all permissions ordered by id.
func (s *Store) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	perms, err := pgx.CollectRows(rows, pgx.RowToStructByPos[models.Permission])
	if err != nil {
		return nil, fmt.Errorf("collect permissions: %w", err)
	}
	return perms, nil
}

// FindPermissionByID fetches a permission by id.
func (s *Store) FindPermissionByID(ctx context.Context, id int64) (models.Permission, error) {
	return scanPermission(s.pool.QueryRow(ctx, `SELECT id, name, description FROM permissions WHERE id = $1;`, id))
}

// FindPermissionByName fetches a permission by name.
func (s *Store) FindPermissionByName(ctx context.Context, name string) (models.Permission, error) {
	return scanPermission(s.pool.QueryRow(ctx, `SELECT id, name, description FROM permissions WHERE name = $1;`, name))
}

// CreatePermission inserts a permission.
func (s *Store) CreatePermission(ctx context.Context, perm models.Permission) (models.Permission, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO permissions (name, description) VALUES ($1, $2) RETURNING id, name, description;`,
		perm.Name, perm.Description)
	created, err := scanPermission(row)
	if err != nil {
		return models.Permission{}, mapError(err)
	}
	return created, nil
}

// RolePermissions returns the permission names joined to a role in a single round trip.
func (s *Store) RolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	const query = `
		SELECT COALESCE(array_agg(p.name ORDER BY p.name), '{}')
		FROM role_permissions rp
		JOIN permissions p ON rp.permission_id = p.id
		WHERE rp.role_id = $1;
	`
	var names []string
	if err := s.pool.QueryRow(ctx, query, roleID).Scan(&names); err != nil {
		return nil, fmt.Errorf("role permissions: %w", err)
	}
	return names, nil
}

// GrantPermission adds a join row.
func (s *Store) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2);`, roleID, permissionID)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// RevokePermission removes a join row.
func (s *Store) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2;`, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("revoke permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.FullName, &user.Email, &user.Phone, &user.Address, &user.Occupation,
		&user.RoleID, &user.Role, &user.PasswordHash, &user.PIN, &user.PINExpiry, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrNotFound
		}
		return models.User{}, err
	}
	return user, nil
}

func scanRole(row pgx.Row) (models.Role, error) {
	var role models.Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Role{}, storage.ErrNotFound
		}
		return models.Role{}, err
	}
	return role, nil
}

func scanPermission(row pgx.Row) (models.Permission, error) {
	var perm models.Permission
	if err := row.Scan(&perm.ID, &perm.Name, &perm.Description); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Permission{}, storage.ErrNotFound
		}
		return models.Permission{}, err
	}
	return perm, nil
}

// mapError translates constraint violations into storage sentinels.
func mapError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return storage.ErrAlreadyExists
		case foreignKeyViolation:
			return storage.ErrNotFound
		}
	}
	return err
}
