package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/hongminglow/authz-be/internal/models"
)

// PermissionSource lists the permission names joined to a role.
// Unknown roles yield an empty list rather than an error.
type PermissionSource interface {
	RolePermissions(ctx context.Context, roleID int64) ([]string, error)
}

// PermissionSet is the resolved permission set of one role.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from canonicalised names.
func NewPermissionSet(names []string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, name := range names {
		set[models.CanonicalPermission(name)] = struct{}{}
	}
	return set
}

// Has reports whether the set grants name or one of its aliases.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[models.CanonicalPermission(name)]
	return ok
}

// Resolver answers whether a role grants a permission. It reads the store on
// every request, so changes to join rows take effect on the next request.
type Resolver struct {
	source PermissionSource
}

// NewResolver creates a Resolver backed by source.
func NewResolver(source PermissionSource) *Resolver {
	return &Resolver{source: source}
}

// Permissions returns the permission set for roleID, using the request memo
// when one is installed in ctx.
func (r *Resolver) Permissions(ctx context.Context, roleID int64) (PermissionSet, error) {
	m, _ := ctx.Value(memoKey{}).(*memo)
	if m != nil {
		if set, ok := m.get(roleID); ok {
			return set, nil
		}
	}

	names, err := r.source.RolePermissions(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions for role %d: %w", roleID, err)
	}
	set := NewPermissionSet(names)
	if m != nil {
		m.put(roleID, set)
	}
	return set, nil
}

// HasPermission reports whether roleID grants name. Unknown roles and unknown
// permissions resolve to false without error.
func (r *Resolver) HasPermission(ctx context.Context, roleID int64, name string) (bool, error) {
	set, err := r.Permissions(ctx, roleID)
	if err != nil {
		return false, err
	}
	return set.Has(name), nil
}

type memoKey struct{}

type memo struct {
	mu   sync.Mutex
	sets map[int64]PermissionSet
}

func (m *memo) get(roleID int64) (PermissionSet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[roleID]
	return set, ok
}

func (m *memo) put(roleID int64, set PermissionSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[roleID] = set
}

// WithMemo installs a request-scoped permission cache in ctx. Lookups sharing
// the returned context hit the store at most once per role.
func WithMemo(ctx context.Context) context.Context {
	if _, ok := ctx.Value(memoKey{}).(*memo); ok {
		return ctx
	}
	return context.WithValue(ctx, memoKey{}, &memo{sets: make(map[int64]PermissionSet)})
}
