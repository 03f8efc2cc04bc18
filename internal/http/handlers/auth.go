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
	"github.com/hongminglow/authz-be/internal/models"
	"github.com/hongminglow/authz-be/internal/models/dto"
	"github.com/hongminglow/authz-be/internal/storage"
)

// AuthHandler owns the public register/login endpoints.
type AuthHandler struct {
	store       storage.Store
	tokens      *auth.TokenManager
	hasher      auth.PasswordHasher
	defaultRole string
	log         *logrus.Entry
}

// NewAuthHandler constructs the handler. Self-registered users always get defaultRole.
func NewAuthHandler(store storage.Store, tokens *auth.TokenManager, hasher auth.PasswordHasher, defaultRole string, log *logrus.Entry) *AuthHandler {
	return &AuthHandler{store: store, tokens: tokens, hasher: hasher, defaultRole: defaultRole, log: log}
}

// Register attaches auth routes to the router.
func (h *AuthHandler) Register(r *mux.Router) {
	r.HandleFunc("/auth/register", h.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.handleLogin).Methods(http.MethodPost)
}

func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Role = h.defaultRole

	created, err := createUser(r, h.store, h.hasher, req, nil)
	if err != nil {
		writeError(w, h.log, err, "failed to create user")
		return
	}

	respond.JSON(w, http.StatusCreated, "User registered successfully", created)
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		respond.Error(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.store.FindByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respond.Error(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.log.WithError(err).Error("login: fetch user")
		respond.Error(w, http.StatusInternalServerError, "failed to fetch user")
		return
	}
	if err := h.hasher.Compare(user.PasswordHash, req.Password); err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.log.WithError(err).WithField("user_id", user.ID).Error("login: compare password")
		}
		respond.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.Issue(user.ID, auth.Privileges{Role: user.Role, IsAdmin: user.Role == models.RoleAdmin})
	if err != nil {
		h.log.WithError(err).Error("login: issue token")
		respond.Error(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	respond.JSON(w, http.StatusOK, "login successful", dto.LoginResponse{Token: token, User: user})
}

// roleGuard vets the role a new user is about to receive.
type roleGuard func(ctx context.Context, roleID int64) error

// createUser validates req, resolves its role and stores the user. A nil
// guard accepts any role. Client-side failures come back as *requestError.
func createUser(r *http.Request, store storage.Store, hasher auth.PasswordHasher, req dto.RegisterRequest, guard roleGuard) (models.User, error) {
	ctx := r.Context()
	fullName := strings.TrimSpace(req.FullName)
	email := strings.TrimSpace(req.Email)
	if fullName == "" {
		return models.User{}, badRequest("fullName is required")
	}
	if err := validateEmail(email); err != nil {
		return models.User{}, badRequest(err.Error())
	}
	if err := validatePassword(req.Password); err != nil {
		return models.User{}, badRequest(err.Error())
	}

	role, err := store.FindRoleByName(ctx, strings.TrimSpace(req.Role))
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, badRequest("unknown role")
	}
	if err != nil {
		return models.User{}, fmt.Errorf("find role: %w", err)
	}
	if guard != nil {
		if err := guard(ctx, role.ID); err != nil {
			return models.User{}, err
		}
	}

	hash, err := hasher.Hash(req.Password)
	if err != nil {
		return models.User{}, err
	}

	created, err := store.CreateUser(ctx, models.User{
		FullName:     fullName,
		Email:        email,
		Phone:        strings.TrimSpace(req.Phone),
		Address:      strings.TrimSpace(req.Address),
		Occupation:   strings.TrimSpace(req.Occupation),
		RoleID:       role.ID,
		PasswordHash: hash,
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return models.User{}, &requestError{status: http.StatusConflict, msg: "user already exists"}
	}
	if err != nil {
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}
