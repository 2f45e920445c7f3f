package models

import (
	"time"

	"backoffice/internal/rbac"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusPending   UserStatus = "pending"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusSuspended, UserStatusPending:
		return true
	}
	return false
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	Role         rbac.Role
	Status       UserStatus
	AvatarURL    *string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is the server-side record behind a refresh token. RefreshTokenID
// holds the jti of the only refresh token currently accepted for it.
type Session struct {
	ID             string
	UserID         string
	RefreshTokenID string
	Provider       string
	IPAddress      string
	UserAgent      string
	CreatedAt      time.Time
	LastSeenAt     time.Time
	ExpiresAt      time.Time
	RevokedAt      *time.Time
}

func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// OAuthCredential is the external provider's grant. Local tokens are derived
// from the federated identity, never from these values.
type OAuthCredential struct {
	Provider          string
	ProviderAccountID string
	UserID            string
	AccessToken       string
	RefreshToken      string
	Scope             string
	ExpiresAt         time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
