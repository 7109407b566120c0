package db

import "time"

// User is an authenticated principal who may own one or more mail accounts.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// MailAccount is a mailbox an authenticated user is allowed to watch.
type MailAccount struct {
	ID          string
	UserID      string
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

// RefreshToken is an opaque long-lived credential exchanged for access tokens.
type RefreshToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
