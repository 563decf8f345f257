package sentinel

import "time"

// HealthResponse is returned by the /healthz endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// --- Providers ---

// Provider describes a login provider for rendering a login page.
type Provider struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
}

type providersResponse struct {
	Providers []Provider `json:"providers"`
}

// --- Accounts ---

// User is the public view of an account.
type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	IsActive    bool       `json:"is_active"`
	HasPassword bool       `json:"has_password"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Identity is a provider account linked to a user.
type Identity struct {
	Provider    string    `json:"provider"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	LinkedAt    time.Time `json:"linked_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Profile is returned by GET /api/auth/me.
type Profile struct {
	User       User       `json:"user"`
	Identities []Identity `json:"identities"`
}

// LoginResult is the JSON body of a callback made without a redirect target.
type LoginResult struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Linked    bool      `json:"linked"`
}

type linkRequest struct {
	RedirectURL string `json:"redirect_url,omitempty"`
}

type linkResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

// StatusResponse is a generic {"success": true} response.
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
