package models

import (
	"time"
)

// User lives in Redis: index hash "users" maps username to id and
// "user:<id>" holds the username and password hash.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

type LoginAttempt struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"                         json:"id"`
	Username  string    `gorm:"size:255;not null;index:idx_user_time,priority:1" json:"username"`
	Success   bool      `gorm:"not null"                                         json:"success"`
	IPAddress string    `gorm:"size:64"                                          json:"ip_address"`
	CreatedAt time.Time `gorm:"not null;index:idx_user_time,priority:2"          json:"created_at"`
}

type AuthEvent struct {
	Type     string    `json:"type"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username,omitempty"`
	At       time.Time `json:"at"`
}

const (
	EventSignedUp      = "user_signed_up"
	EventLoggedIn      = "user_logged_in"
	EventRefreshed     = "token_refreshed"
	EventReuseDetected = "refresh_reuse_detected"
	EventLoggedOut     = "user_logged_out"
)
