package users

import (
	"errors"
	"time"
)

// ErrUserNotFound is returned when a user lookup finds no row
var ErrUserNotFound = errors.New("user not found")

// User represents an account in the system
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name,omitempty"`
	AvatarURL      string    `json:"avatar_url,omitempty"`
	CreditsBalance int64     `json:"credits_balance"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
