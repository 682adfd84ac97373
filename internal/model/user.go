package model

import "time"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session is a server-side login session; the token travels in a cookie.
type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
}
