package models

import "time"

// User captures application-facing fields for an authenticated identity.
type User struct {
	ID           int64      `json:"id"`
	FullName     string     `json:"full_name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone"`
	Address      string     `json:"address"`
	Occupation   string     `json:"occupation"`
	RoleID       int64      `json:"role_id"`
	Role         string     `json:"role"`
	PasswordHash string     `json:"-"`
	PIN          *string    `json:"-"`
	PINExpiry    *time.Time `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasPendingChallenge reports whether a reset PIN is currently stored.
func (u User) HasPendingChallenge() bool {
	return u.PIN != nil && u.PINExpiry != nil
}
