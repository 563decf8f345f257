package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type FederatedIdentity struct {
	ID                    uuid.UUID   `json:"id"`
	UserID                uuid.UUID   `json:"user_id"`
	Provider              string      `json:"provider"`
	SubjectID             string      `json:"subject_id"`
	Email                 pgtype.Text `json:"email"`
	DisplayName           pgtype.Text `json:"display_name"`
	AvatarUrl             pgtype.Text `json:"avatar_url"`
	EncryptedAccessToken  []byte      `json:"encrypted_access_token"`
	EncryptedRefreshToken []byte      `json:"encrypted_refresh_token"`
	TokenExpiresAt        *time.Time  `json:"token_expires_at"`
	IsActive              bool        `json:"is_active"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

type OauthState struct {
	Token          string      `json:"token"`
	Provider       string      `json:"provider"`
	RedirectTarget pgtype.Text `json:"redirect_target"`
	CodeVerifier   pgtype.Text `json:"code_verifier"`
	LinkUserID     *uuid.UUID  `json:"link_user_id"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
	Consumed       bool        `json:"consumed"`
}

type User struct {
	ID           uuid.UUID   `json:"id"`
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	PasswordHash pgtype.Text `json:"password_hash"`
	IsActive     bool        `json:"is_active"`
	LastLoginAt  *time.Time  `json:"last_login_at"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
