package oauth

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownProvider           = errors.New("unsupported provider")
	ErrInvalidOrExpiredState     = errors.New("invalid or expired state")
	ErrOAuthProviderError        = errors.New("oauth provider error")
	ErrTokenExchangeFailed       = errors.New("token exchange failed")
	ErrIdentityClaimsUnavailable = errors.New("failed to get user information")
	ErrNotLinked                 = errors.New("account is not linked")
	ErrLastAuthMethod            = errors.New("cannot unlink the only authentication method, set a password first")
	ErrAlreadyLinked             = errors.New("account is already linked")
	ErrIdentityInUse             = errors.New("provider account is linked to another user")
	ErrUserNotFound              = errors.New("user not found")
	ErrWeakPassword              = errors.New("password must be at least 8 characters")
)

// ProviderError is reported when the provider redirects back with an error
// instead of an authorization code.
type ProviderError struct {
	Provider    Provider
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("OAuth error: %s (%s)", e.Code, e.Description)
	}
	return fmt.Sprintf("OAuth error: %s", e.Code)
}

func (e *ProviderError) Unwrap() error { return ErrOAuthProviderError }
