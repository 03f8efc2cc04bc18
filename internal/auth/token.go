package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is the validity window of issued tokens.
const DefaultTokenTTL = time.Hour

// Privileges are the caller-supplied claims embedded in a token.
type Privileges struct {
	Role    string
	IsAdmin bool
}

// Claims is the JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	UserID  int64  `json:"userId"`
	Role    string `json:"role,omitempty"`
	IsAdmin bool   `json:"isAdmin"`
}

// RevocationFunc reports whether an otherwise valid token must be rejected.
type RevocationFunc func(*Claims) bool

// AdminOnly revokes every token whose claims do not mark the subject as admin.
func AdminOnly(c *Claims) bool {
	return !c.IsAdmin
}

// NeverRevoked accepts every token that passes signature and expiry checks.
func NeverRevoked(*Claims) bool {
	return false
}

// TokenManager issues and verifies signed JWTs for authenticated users.
type TokenManager struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	revoked RevocationFunc
	now     func() time.Time
}

// TokenOption customises a TokenManager.
type TokenOption func(*TokenManager)

// WithClock overrides the time source used for issuing and verifying.
func WithClock(now func() time.Time) TokenOption {
	return func(t *TokenManager) { t.now = now }
}

// WithRevocationPredicate sets the predicate evaluated on every verification.
func WithRevocationPredicate(fn RevocationFunc) TokenOption {
	return func(t *TokenManager) { t.revoked = fn }
}

// NewTokenManager creates a manager with the provided secret, issuer, and lifetime.
// Verification applies AdminOnly unless another predicate is supplied.
func NewTokenManager(secret, issuer string, ttl time.Duration, opts ...TokenOption) *TokenManager {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	t := &TokenManager{
		secret:  []byte(secret),
		issuer:  issuer,
		ttl:     ttl,
		revoked: AdminOnly,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithRevocation returns a manager sharing key, issuer, lifetime and clock but
// applying fn at verification time.
func (t *TokenManager) WithRevocation(fn RevocationFunc) *TokenManager {
	clone := *t
	clone.revoked = fn
	return &clone
}

// TTL returns the validity window.
func (t *TokenManager) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for subjectID carrying p.
func (t *TokenManager) Issue(subjectID int64, p Privileges) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.FormatInt(subjectID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
		UserID:  subjectID,
		Role:    p.Role,
		IsAdmin: p.IsAdmin,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry and the revocation predicate, in that order.
func (t *TokenManager) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, classify(err)
	}

	if claims.UserID <= 0 || claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return nil, fmt.Errorf("%w: missing or inconsistent subject", ErrMalformedToken)
	}
	if t.revoked != nil && t.revoked(claims) {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
}
