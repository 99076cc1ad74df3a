package domain

import "time"

// User represents a registered account allowed to sign in.
type User struct {
	ID           int64
	Email        string
	PasswordHash string `json:"-"`
	CreatedAt    time.Time
}
