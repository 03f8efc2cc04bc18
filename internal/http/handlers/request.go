package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hongminglow/authz-be/internal/http/respond"
)

const (
	maxBodyBytes      = 1 << 20
	minPasswordLength = 8
)

// decodeJSON reads a bounded JSON body into dst, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

// pathID parses a positive integer mux variable, writing a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		respond.Error(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func validateEmail(email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.New("email is invalid")
	}
	return nil
}

func validatePassword(password string) error {
	if !utf8.ValidString(password) || utf8.RuneCountInString(strings.TrimSpace(password)) < minPasswordLength {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}

func validatePIN(pin string) error {
	if len(pin) != 4 {
		return errors.New("pin must be 4 digits")
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return errors.New("pin must be 4 digits")
		}
	}
	return nil
}

// requestError is a failure the client caused; its message is safe to return.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, msg: msg}
}

// writeError reports a requestError verbatim and anything else as a logged 500.
func writeError(w http.ResponseWriter, log *logrus.Entry, err error, internalMsg string) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		respond.Error(w, reqErr.status, reqErr.msg)
		return
	}
	log.WithError(err).Error(internalMsg)
	respond.Error(w, http.StatusInternalServerError, internalMsg)
}
