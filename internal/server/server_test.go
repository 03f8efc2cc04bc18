package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hongminglow/authz-be/internal/auth"
	"github.com/hongminglow/authz-be/internal/config"
	"github.com/hongminglow/authz-be/internal/mail"
	"github.com/hongminglow/authz-be/internal/metrics"
	"github.com/hongminglow/authz-be/internal/models"
	"github.com/hongminglow/authz-be/internal/storage"
	"github.com/hongminglow/authz-be/internal/storage/memory"
)

type outbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (o *outbox) Dispatch(msg mail.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
}

func (o *outbox) lastPIN(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.msgs)
	body := o.msgs[len(o.msgs)-1].Body
	for _, field := range strings.Fields(body) {
		field = strings.Trim(field, ".,:")
		if len(field) == 4 && strings.Trim(field, "0123456789") == "" {
			return field
		}
	}
	t.Fatalf("no pin in mail body %q", body)
	return ""
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
}

type testServer struct {
	handler http.Handler
	store   *memory.Store
	outbox  *outbox
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	require.NoError(t, storage.Seed(ctx, store, models.DefaultRoles))

	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	adminRole, err := store.FindRoleByName(ctx, models.RoleAdmin)
	require.NoError(t, err)
	hash, err := hasher.Hash("admin-password")
	require.NoError(t, err)
	_, err = store.CreateUser(ctx, models.User{FullName: "Root", Email: "root@example.com", PasswordHash: hash, RoleID: adminRole.ID})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := config.Config{
		Port:        "0",
		APIPrefix:   "/api/v1",
		CORSOrigins: []string{"*"},
		DefaultRole: models.RoleEmployee,
	}
	ts := &testServer{store: store, outbox: &outbox{}, metrics: metrics.New()}
	deps := Deps{
		Store:   store,
		Tokens:  auth.NewTokenManager("test-secret", "authz-test", time.Hour),
		Hasher:  hasher,
		Resets:  auth.NewResetManager(store, hasher, ts.outbox, 15*time.Minute, logrus.NewEntry(logger), ts.metrics),
		Metrics: ts.metrics,
		Log:     logger,
	}
	ts.handler = NewHandler(cfg, deps)
	return ts
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func (s *testServer) register(t *testing.T, email, password string) models.User {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"fullName": "Test " + email,
		"email":    email,
		"password": password,
		"role":     models.RoleAdmin,
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var user models.User
	require.NoError(t, json.Unmarshal(env.Data, &user))
	return user
}

func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, code, env.Message)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(env.Data), `"status":"ok"`)
	assert.NotEmpty(t, env.RequestID, "envelopes echo the request id")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "authz_http_requests_total")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)

	user := s.register(t, "a@x.com", "password-1")
	assert.Equal(t, models.RoleEmployee, user.Role, "public registration ignores the requested role")

	code, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"fullName": "Dup", "email": "a@x.com", "password": "password-1",
	})
	assert.Equal(t, http.StatusConflict, code)

	for name, body := range map[string]map[string]string{
		"bad email":      {"fullName": "X", "email": "not-an-email", "password": "password-1"},
		"short password": {"fullName": "X", "email": "x@x.com", "password": "short"},
		"no name":        {"email": "x@x.com", "password": "password-1"},
	} {
		code, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", "", body)
		assert.Equal(t, http.StatusBadRequest, code, name)
	}

	code, _ = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "a@x.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "nobody@x.com", "password": "password-1"})
	assert.Equal(t, http.StatusUnauthorized, code)

	s.login(t, "a@x.com", "password-1")
}

func TestPermissionGatedUserRoutes(t *testing.T) {
	s := newTestServer(t)
	victim := s.register(t, "victim@x.com", "password-1")
	s.register(t, "emp@x.com", "password-1")
	employee := s.login(t, "emp@x.com", "password-1")
	admin := s.login(t, "root@example.com", "admin-password")

	code, _ := s.do(t, http.MethodGet, "/api/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = s.do(t, http.MethodGet, "/api/v1/users", employee, nil)
	assert.Equal(t, http.StatusOK, code)

	path := fmt.Sprintf("/api/v1/users/%d", victim.ID)
	code, env := s.do(t, http.MethodDelete, path, employee, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "insufficient permissions", env.Message)

	code, _ = s.do(t, http.MethodGet, "/api/v1/users/count", employee, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodPut, path, employee, map[string]string{"fullName": "Hacked"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/users/count", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"userCount":3}`, string(env.Data))

	code, env = s.do(t, http.MethodPut, path, admin, map[string]string{"fullName": "Renamed", "role": models.RoleManager})
	require.Equal(t, http.StatusOK, code, env.Message)
	var updated models.User
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, "Renamed", updated.FullName)
	assert.Equal(t, models.RoleManager, updated.Role)

	code, _ = s.do(t, http.MethodDelete, path, admin, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, path, admin, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCreateUserWithRole(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "root@example.com", "admin-password")

	code, env := s.do(t, http.MethodPost, "/api/v1/users", admin, map[string]string{
		"fullName": "Mgr", "email": "mgr@x.com", "password": "password-1", "role": models.RoleManager,
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var user models.User
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, models.RoleManager, user.Role)

	code, _ = s.do(t, http.MethodPost, "/api/v1/users", admin, map[string]string{
		"fullName": "X", "email": "x@x.com", "password": "password-1", "role": "overlord",
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAdminGateAndGrants(t *testing.T) {
	s := newTestServer(t)
	victim := s.register(t, "victim@x.com", "password-1")
	s.register(t, "emp@x.com", "password-1")
	employee := s.login(t, "emp@x.com", "password-1")
	admin := s.login(t, "root@example.com", "admin-password")

	code, _ := s.do(t, http.MethodGet, "/api/v1/roles", employee, nil)
	assert.Equal(t, http.StatusUnauthorized, code, "non-admin tokens are revoked at the admin gate")

	code, env := s.do(t, http.MethodGet, "/api/v1/roles", admin, nil)
	require.Equal(t, http.StatusOK, code)
	var roles []struct {
		ID          int64    `json:"id"`
		Name        string   `json:"name"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &roles))
	require.Len(t, roles, 3)

	var employeeRoleID int64
	for _, r := range roles {
		if r.Name == models.RoleEmployee {
			employeeRoleID = r.ID
			assert.NotContains(t, r.Permissions, models.PermDeleteUser)
		}
	}
	require.NotZero(t, employeeRoleID)

	del, err := s.store.FindPermissionByName(context.Background(), models.PermDeleteUser)
	require.NoError(t, err)

	grantPath := fmt.Sprintf("/api/v1/roles/%d/permissions", employeeRoleID)
	code, _ = s.do(t, http.MethodPost, grantPath, admin, map[string]string{"permission_name": models.PermDeleteUser})
	require.Equal(t, http.StatusCreated, code)
	code, _ = s.do(t, http.MethodPost, grantPath, admin, map[string]int64{"permission_id": del.ID})
	assert.Equal(t, http.StatusConflict, code)
	code, _ = s.do(t, http.MethodPost, grantPath, admin, map[string]string{"permission_name": "fly"})
	assert.Equal(t, http.StatusNotFound, code)

	revokePath := fmt.Sprintf("%s/%d", grantPath, del.ID)
	code, _ = s.do(t, http.MethodDelete, revokePath, admin, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodDelete, revokePath, admin, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/users/%d", victim.ID), employee, nil)
	assert.Equal(t, http.StatusForbidden, code, "revocation applies on the next request")

	code, _ = s.do(t, http.MethodGet, "/api/v1/permissions", admin, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com", "password-1")
	token := s.login(t, "a@x.com", "password-1")

	code, _ := s.do(t, http.MethodPost, "/api/v1/users/forgot-password", token, map[string]string{"email": "ghost@x.com"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/users/forgot-password", token, map[string]string{"email": "a@x.com"})
	require.Equal(t, http.StatusOK, code)
	pin := s.outbox.lastPIN(t)

	wrong := "0000"
	if pin == wrong {
		wrong = "1111"
	}
	code, env := s.do(t, http.MethodPost, "/api/v1/users/verify-pin", token, map[string]string{"email": "a@x.com", "pin": wrong})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid or expired PIN", env.Message)

	code, _ = s.do(t, http.MethodPost, "/api/v1/users/verify-pin", token, map[string]string{"email": "a@x.com", "pin": "12a4"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/users/verify-pin", token, map[string]string{"email": "a@x.com", "pin": pin})
	require.Equal(t, http.StatusOK, code)

	reset := map[string]string{"email": "a@x.com", "pin": pin, "newPassword": "password-2"}
	code, _ = s.do(t, http.MethodPost, "/api/v1/users/reset-password", token, reset)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodPost, "/api/v1/users/reset-password", token, reset)
	assert.Equal(t, http.StatusBadRequest, code, "a consumed pin cannot be replayed")

	code, _ = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "a@x.com", "password": "password-1"})
	assert.Equal(t, http.StatusUnauthorized, code)
	s.login(t, "a@x.com", "password-2")
}

func TestManagerCannotVerifyPIN(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(t, "root@example.com", "admin-password")
	code, _ := s.do(t, http.MethodPost, "/api/v1/users", admin, map[string]string{
		"fullName": "Mgr", "email": "mgr@x.com", "password": "password-1", "role": models.RoleManager,
	})
	require.Equal(t, http.StatusCreated, code)
	manager := s.login(t, "mgr@x.com", "password-1")

	code, _ = s.do(t, http.MethodPost, "/api/v1/users/verify-pin", manager, map[string]string{"email": "mgr@x.com", "pin": "1234"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(t, http.MethodPost, "/api/v1/users/forgot-password", manager, map[string]string{"email": "mgr@x.com"})
	assert.Equal(t, http.StatusOK, code)
}

func TestUnmatchedRoutesAreCounted(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodGet, "/api/v1/nowhere", "", nil)
	require.Equal(t, http.StatusNotFound, code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), `authz_http_requests_total{method="GET",route="unmatched",status="404"} 1`)
}

func TestRoleAssignmentIsBoundedByCaller(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "emp@x.com", "password-1")
	employee := s.login(t, "emp@x.com", "password-1")
	admin := s.login(t, "root@example.com", "admin-password")

	code, env := s.do(t, http.MethodPost, "/api/v1/users", employee, map[string]string{
		"fullName": "Mallory", "email": "mallory@x.com", "password": "password-1", "role": models.RoleAdmin,
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "role exceeds your permissions", env.Message)
	code, _ = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "mallory@x.com", "password": "password-1"})
	assert.Equal(t, http.StatusUnauthorized, code, "no admin account was created")

	code, _ = s.do(t, http.MethodPost, "/api/v1/users", employee, map[string]string{
		"fullName": "Peer", "email": "peer@x.com", "password": "password-1", "role": models.RoleEmployee,
	})
	assert.Equal(t, http.StatusCreated, code)

	code, env = s.do(t, http.MethodPost, "/api/v1/users", admin, map[string]string{
		"fullName": "Mgr", "email": "mgr@x.com", "password": "password-1", "role": models.RoleManager,
	})
	require.Equal(t, http.StatusCreated, code)
	var mgr models.User
	require.NoError(t, json.Unmarshal(env.Data, &mgr))
	manager := s.login(t, "mgr@x.com", "password-1")

	code, _ = s.do(t, http.MethodPut, fmt.Sprintf("/api/v1/users/%d", mgr.ID), manager, map[string]string{"role": models.RoleAdmin})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodPut, "/api/v1/users/1", manager, map[string]string{"password": "takeover-1"})
	assert.Equal(t, http.StatusForbidden, code)
	s.login(t, "root@example.com", "admin-password")
}
