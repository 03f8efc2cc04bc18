package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hongminglow/authz-be/internal/auth"
	"github.com/hongminglow/authz-be/internal/http/respond"
	"github.com/hongminglow/authz-be/internal/metrics"
	"github.com/hongminglow/authz-be/internal/models"
	"github.com/hongminglow/authz-be/internal/storage"
)

// Gate labels used in decision metrics.
const (
	GatePermission = "permission"
	GateAdmin      = "admin"
)

// SubjectStore re-reads the authenticated subject on every request.
type SubjectStore interface {
	FindByID(ctx context.Context, id int64) (models.User, error)
}

// Authorizer gates requests on a bearer token plus either a named permission
// or the coarse admin marker.
type Authorizer struct {
	tokens   *auth.TokenManager
	admin    *auth.TokenManager
	users    SubjectStore
	resolver *auth.Resolver
	log      *logrus.Entry
	metrics  *metrics.Metrics
}

// NewAuthorizer builds an Authorizer. tokens verifies tokens for the
// permission gate with whatever revocation predicate it was built with; the
// admin gate derives an AdminOnly manager from it.
func NewAuthorizer(tokens *auth.TokenManager, users SubjectStore, resolver *auth.Resolver, log *logrus.Entry, m *metrics.Metrics) *Authorizer {
	return &Authorizer{
		tokens:   tokens,
		admin:    tokens.WithRevocation(auth.AdminOnly),
		users:    users,
		resolver: resolver,
		log:      log,
		metrics:  m,
	}
}

// Authorize runs the permission gate: bearer extraction, token verification,
// subject lookup, then the permission check. Each step runs only if the
// previous one succeeded.
func (a *Authorizer) Authorize(r *http.Request, permission string) (auth.Principal, error) {
	ctx := r.Context()

	raw, ok := bearerToken(r)
	if !ok {
		return auth.Principal{}, auth.ErrUnauthorized
	}

	claims, err := a.tokens.Verify(raw)
	if err != nil {
		a.log.WithError(err).Debug("token rejected")
		return auth.Principal{}, fmt.Errorf("%w: %w", auth.ErrUnauthorized, err)
	}

	user, err := a.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return auth.Principal{}, auth.ErrSubjectNotFound
	}
	if err != nil {
		return auth.Principal{}, fmt.Errorf("load subject %d: %w", claims.UserID, err)
	}

	allowed, err := a.resolver.HasPermission(ctx, user.RoleID, permission)
	if err != nil {
		return auth.Principal{}, err
	}
	if !allowed {
		return auth.Principal{}, fmt.Errorf("%w: role %q lacks %q", auth.ErrForbidden, user.Role, permission)
	}

	return auth.Principal{
		UserID:  user.ID,
		Email:   user.Email,
		RoleID:  user.RoleID,
		Role:    user.Role,
		IsAdmin: user.Role == models.RoleAdmin,
	}, nil
}

// RequirePermission wraps a handler so it only runs for subjects whose role
// grants permission.
func (a *Authorizer) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r = r.WithContext(auth.WithMemo(r.Context()))
			principal, err := a.Authorize(r, permission)
			if err != nil {
				a.deny(w, r, GatePermission, err)
				return
			}
			a.metrics.ObserveDecision(GatePermission, "allow")
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

// RequireAdmin wraps a handler behind the coarse admin gate. The token alone
// decides; the store is not consulted.
func (a *Authorizer) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				a.deny(w, r, GateAdmin, auth.ErrUnauthorized)
				return
			}
			claims, err := a.admin.Verify(raw)
			if err != nil {
				a.log.WithError(err).Debug("admin token rejected")
				a.deny(w, r, GateAdmin, fmt.Errorf("%w: %w", auth.ErrUnauthorized, err))
				return
			}
			a.metrics.ObserveDecision(GateAdmin, "allow")
			principal := auth.Principal{UserID: claims.UserID, Role: claims.Role, IsAdmin: claims.IsAdmin}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

func (a *Authorizer) deny(w http.ResponseWriter, r *http.Request, gate string, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		a.metrics.ObserveDecision(gate, "unauthorized")
		respond.Error(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrSubjectNotFound):
		a.metrics.ObserveDecision(gate, "not_found")
		respond.Error(w, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrForbidden):
		a.metrics.ObserveDecision(gate, "forbidden")
		a.log.WithField("path", r.URL.Path).Debug(err.Error())
		respond.Error(w, http.StatusForbidden, "insufficient permissions")
	default:
		a.metrics.ObserveDecision(gate, "error")
		a.log.WithError(err).WithFields(logrus.Fields{
			"path":       r.URL.Path,
			"request_id": RequestIDFrom(r.Context()),
		}).Error("authorization failed")
		respond.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
