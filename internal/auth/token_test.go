package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var issuedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestManager(at time.Time, opts ...TokenOption) *TokenManager {
	opts = append([]TokenOption{WithClock(fixedClock(at))}, opts...)
	return NewTokenManager(testSecret, "authz-test", time.Hour, opts...)
}

func TestTokenManager_IssueAndVerify(t *testing.T) {
	tm := newTestManager(issuedAt)

	token, err := tm.Issue(42, Privileges{Role: "admin", IsAdmin: true})
	require.NoError(t, err)

	claims, err := tm.Verify(token)
	require.NoError(t, err)
	assert.EqualValues(t, 42, claims.UserID)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, "authz-test", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, issuedAt.Add(time.Hour).Equal(claims.ExpiresAt.Time))
}

func TestTokenManager_DefaultTTL(t *testing.T) {
	tm := NewTokenManager(testSecret, "authz-test", 0)
	assert.Equal(t, DefaultTokenTTL, tm.TTL())
}

func TestTokenManager_ExpiredIsOnlyExpired(t *testing.T) {
	cases := []struct {
		name string
		p    Privileges
	}{
		{"admin", Privileges{Role: "admin", IsAdmin: true}},
		{"non-admin", Privileges{Role: "employee"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, err := newTestManager(issuedAt).Issue(7, tc.p)
			require.NoError(t, err)

			for _, after := range []time.Duration{time.Hour + time.Second, 2 * time.Hour, 48 * time.Hour} {
				_, err = newTestManager(issuedAt.Add(after)).Verify(token)
				assert.ErrorIs(t, err, ErrTokenExpired)
				assert.NotErrorIs(t, err, ErrTokenRevoked)
				assert.NotErrorIs(t, err, ErrInvalidSignature)
				assert.NotErrorIs(t, err, ErrMalformedToken)
			}
		})
	}
}

func TestTokenManager_WithinWindow(t *testing.T) {
	token, err := newTestManager(issuedAt).Issue(7, Privileges{IsAdmin: true})
	require.NoError(t, err)

	_, err = newTestManager(issuedAt.Add(59 * time.Minute)).Verify(token)
	assert.NoError(t, err)
}

func TestTokenManager_AdminOnlyRevokesNonAdmin(t *testing.T) {
	tm := newTestManager(issuedAt)

	for _, role := range []string{"", "employee", "manager", "admin"} {
		token, err := tm.Issue(5, Privileges{Role: role, IsAdmin: false})
		require.NoError(t, err)

		_, err = tm.Verify(token)
		assert.ErrorIs(t, err, ErrTokenRevoked, "role %q", role)
	}
}

func TestTokenManager_WithRevocation(t *testing.T) {
	admin := newTestManager(issuedAt)
	open := admin.WithRevocation(NeverRevoked)

	token, err := admin.Issue(5, Privileges{Role: "employee"})
	require.NoError(t, err)

	claims, err := open.Verify(token)
	require.NoError(t, err)
	assert.False(t, claims.IsAdmin)

	_, err = admin.Verify(token)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	custom := newTestManager(issuedAt, WithRevocationPredicate(func(c *Claims) bool { return c.Role != "manager" }))
	token, err = custom.Issue(5, Privileges{Role: "manager"})
	require.NoError(t, err)
	_, err = custom.Verify(token)
	assert.NoError(t, err)
}

func TestTokenManager_InvalidSignature(t *testing.T) {
	other := NewTokenManager("another-secret", "authz-test", time.Hour, WithClock(fixedClock(issuedAt)))
	token, err := other.Issue(5, Privileges{IsAdmin: true})
	require.NoError(t, err)

	_, err = newTestManager(issuedAt).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestTokenManager_RejectsUnexpectedAlgorithm(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "5",
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
		},
		UserID:  5,
		IsAdmin: true,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newTestManager(issuedAt).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestTokenManager_Malformed(t *testing.T) {
	tm := newTestManager(issuedAt)

	for _, raw := range []string{"", "not-a-token", "a.b", "a.b.c"} {
		_, err := tm.Verify(raw)
		assert.ErrorIs(t, err, ErrMalformedToken, "token %q", raw)
	}
}

func TestTokenManager_MissingSubject(t *testing.T) {
	claims := jwt.MapClaims{
		"isAdmin": true,
		"exp":     issuedAt.Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = newTestManager(issuedAt).Verify(token)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestTokenManager_MissingExpiry(t *testing.T) {
	claims := jwt.MapClaims{"sub": "5", "userId": 5, "isAdmin": true}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = newTestManager(issuedAt).Verify(token)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTokenRevoked)
}
