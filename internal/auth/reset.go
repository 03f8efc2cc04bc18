package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hongminglow/authz-be/internal/mail"
	"github.com/hongminglow/authz-be/internal/metrics"
	"github.com/hongminglow/authz-be/internal/models"
	"github.com/hongminglow/authz-be/internal/storage"
)

// DefaultChallengeTTL is how long an issued PIN stays valid.
const DefaultChallengeTTL = 15 * time.Minute

const (
	pinMin = 1000
	pinMax = 9999
)

// ChallengeStore is the part of the user store the reset flow touches.
type ChallengeStore interface {
	FindByEmail(ctx context.Context, email string) (models.User, error)
	SetResetChallenge(ctx context.Context, userID int64, pin string, expiry time.Time) error
	ConsumeResetChallenge(ctx context.Context, userID int64, pin, passwordHash string, now time.Time) error
}

// Mailer hands a message off for asynchronous delivery.
type Mailer interface {
	Dispatch(msg mail.Message)
}

// ResetManager runs the PIN-based password reset state machine stored on the
// user's pin and pin_expiry fields.
type ResetManager struct {
	users   ChallengeStore
	hasher  PasswordHasher
	mailer  Mailer
	ttl     time.Duration
	log     *logrus.Entry
	metrics *metrics.Metrics

	now    func() time.Time
	newPIN func() (string, error)
}

// NewResetManager wires the reset flow. A non-positive ttl falls back to
// DefaultChallengeTTL.
func NewResetManager(users ChallengeStore, hasher PasswordHasher, mailer Mailer, ttl time.Duration, log *logrus.Entry, m *metrics.Metrics) *ResetManager {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ResetManager{
		users:   users,
		hasher:  hasher,
		mailer:  mailer,
		ttl:     ttl,
		log:     log,
		metrics: m,
		now:     time.Now,
		newPIN:  randomPIN,
	}
}

// IssueChallenge stores a fresh PIN for the user and mails it. A pending
// challenge is overwritten. Mail failures never reach the caller.
func (m *ResetManager) IssueChallenge(ctx context.Context, email string) error {
	user, err := m.lookup(ctx, email)
	if err != nil {
		m.metrics.ObserveChallenge("issue", outcome(err))
		return err
	}

	pin, err := m.newPIN()
	if err != nil {
		m.metrics.ObserveChallenge("issue", "error")
		return fmt.Errorf("generate pin: %w", err)
	}
	expiry := m.now().UTC().Add(m.ttl)
	if err := m.users.SetResetChallenge(ctx, user.ID, pin, expiry); err != nil {
		m.metrics.ObserveChallenge("issue", "error")
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("store reset challenge: %w", err)
	}

	if m.mailer != nil {
		m.mailer.Dispatch(mail.PINMessage(user.Email, pin, m.ttl))
	}
	m.log.WithField("user_id", user.ID).Info("reset challenge issued")
	m.metrics.ObserveChallenge("issue", "ok")
	return nil
}

// VerifyChallenge checks the presented PIN without consuming it.
func (m *ResetManager) VerifyChallenge(ctx context.Context, email, pin string) error {
	_, err := m.validate(ctx, email, pin)
	m.metrics.ObserveChallenge("verify", outcome(err))
	return err
}

// ResetPassword validates the PIN, then atomically replaces the password hash
// and clears the challenge. The write only lands if the stored PIN still
// matches and has not expired, so a concurrent re-issue wins.
func (m *ResetManager) ResetPassword(ctx context.Context, email, pin, newPassword string) error {
	err := m.reset(ctx, email, pin, newPassword)
	m.metrics.ObserveChallenge("reset", outcome(err))
	return err
}

func (m *ResetManager) reset(ctx context.Context, email, pin, newPassword string) error {
	user, err := m.validate(ctx, email, pin)
	if err != nil {
		return err
	}

	hash, err := m.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	err = m.users.ConsumeResetChallenge(ctx, user.ID, pin, hash, m.now().UTC())
	switch {
	case err == nil:
		m.log.WithField("user_id", user.ID).Info("password reset")
		return nil
	case errors.Is(err, storage.ErrPreconditionFailed):
		return ErrInvalidOrExpired
	case errors.Is(err, storage.ErrNotFound):
		return ErrUserNotFound
	default:
		return fmt.Errorf("consume reset challenge: %w", err)
	}
}

func (m *ResetManager) validate(ctx context.Context, email, pin string) (models.User, error) {
	user, err := m.lookup(ctx, email)
	if err != nil {
		return models.User{}, err
	}
	if !user.HasPendingChallenge() || *user.PIN != pin {
		return models.User{}, ErrInvalidOrExpired
	}
	if m.now().After(*user.PINExpiry) {
		return models.User{}, ErrInvalidOrExpired
	}
	return user, nil
}

func (m *ResetManager) lookup(ctx context.Context, email string) (models.User, error) {
	user, err := m.users.FindByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUserNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidOrExpired):
		return "invalid"
	default:
		return "error"
	}
}

// randomPIN draws a PIN uniformly from [1000, 9999].
func randomPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(pinMax-pinMin+1))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n.Int64()+pinMin, 10), nil
}
