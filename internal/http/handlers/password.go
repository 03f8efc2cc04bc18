package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hongminglow/authz-be/internal/auth"
	"github.com/hongminglow/authz-be/internal/http/respond"
	"github.com/hongminglow/authz-be/internal/middleware"
	"github.com/hongminglow/authz-be/internal/models"
	"github.com/hongminglow/authz-be/internal/models/dto"
)

// PasswordHandler exposes the PIN-based reset flow.
type PasswordHandler struct {
	resets *auth.ResetManager
	log    *logrus.Entry
}

// NewPasswordHandler constructs the handler.
func NewPasswordHandler(resets *auth.ResetManager, log *logrus.Entry) *PasswordHandler {
	return &PasswordHandler{resets: resets, log: log}
}

// Register attaches the reset routes.
func (h *PasswordHandler) Register(r *mux.Router, authz *middleware.Authorizer) {
	r.Handle("/users/forgot-password",
		authz.RequirePermission(models.PermForgotUserPassword)(http.HandlerFunc(h.handleForgot))).Methods(http.MethodPost)
	r.Handle("/users/verify-pin",
		authz.RequirePermission(models.PermVerifyUserPIN)(http.HandlerFunc(h.handleVerify))).Methods(http.MethodPost)
	r.Handle("/users/reset-password",
		authz.RequirePermission(models.PermResetUserPassword)(http.HandlerFunc(h.handleReset))).Methods(http.MethodPost)
}

func (h *PasswordHandler) handleForgot(w http.ResponseWriter, r *http.Request) {
	var req dto.ForgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if err := validateEmail(email); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.resets.IssueChallenge(r.Context(), email); err != nil {
		h.fail(w, err, "failed to issue reset pin")
		return
	}
	respond.JSON(w, http.StatusOK, "PIN sent to your email", nil)
}

func (h *PasswordHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req dto.VerifyPINRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if err := validateEmail(email); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validatePIN(req.PIN); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.resets.VerifyChallenge(r.Context(), email, req.PIN); err != nil {
		h.fail(w, err, "failed to verify pin")
		return
	}
	respond.JSON(w, http.StatusOK, "PIN verified", nil)
}

func (h *PasswordHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	var req dto.ResetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if err := validateEmail(email); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validatePIN(req.PIN); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validatePassword(req.NewPassword); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.resets.ResetPassword(r.Context(), email, req.PIN, req.NewPassword); err != nil {
		h.fail(w, err, "failed to reset password")
		return
	}
	respond.JSON(w, http.StatusOK, "Password reset successfully", nil)
}

func (h *PasswordHandler) fail(w http.ResponseWriter, err error, internalMsg string) {
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		respond.Error(w, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrInvalidOrExpired):
		respond.Error(w, http.StatusBadRequest, "invalid or expired PIN")
	default:
		writeError(w, h.log, err, internalMsg)
	}
}
