package models

import (
	"time"
)

// User is an account that owns one mailbox.
// MailAddress is nil until the address has been provisioned.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	MailAddress *string   `json:"mail_address"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UserSettings holds per-user mailbox preferences.
type UserSettings struct {
	UserID                  string    `json:"user_id"`
	PaginationPerPage       int       `json:"pagination_per_page"`
	InternalFallbackReplies bool      `json:"internal_fallback_replies"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// UserSettingsRequest represents the request payload for saving user settings.
type UserSettingsRequest struct {
	DisplayName             string `json:"display_name"`
	PaginationPerPage       int    `json:"pagination_per_page"`
	InternalFallbackReplies bool   `json:"internal_fallback_replies"`
}

// UserSettingsResponse represents the response payload for user settings.
type UserSettingsResponse struct {
	DisplayName             string  `json:"display_name"`
	MailAddress             *string `json:"mail_address"`
	PaginationPerPage       int     `json:"pagination_per_page"`
	InternalFallbackReplies bool    `json:"internal_fallback_replies"`
}

// AuthStatusResponse represents the authentication and setup status of a user.
type AuthStatusResponse struct {
	IsAuthenticated bool `json:"isAuthenticated"`
	IsSetupComplete bool `json:"isSetupComplete"`
}
