package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Querier interface {
	ConsumeOAuthState(ctx context.Context, arg ConsumeOAuthStateParams) (OauthState, error)
	CreateFederatedIdentity(ctx context.Context, arg CreateFederatedIdentityParams) (FederatedIdentity, error)
	CreateUser(ctx context.Context, arg CreateUserParams) (User, error)
	DeactivateFederatedIdentity(ctx context.Context, arg DeactivateFederatedIdentityParams) error
	DeleteExpiredOAuthState(ctx context.Context, arg DeleteExpiredOAuthStateParams) (int64, error)
	DeleteExpiredOAuthStates(ctx context.Context, before time.Time) (int64, error)
	GetFederatedIdentity(ctx context.Context, arg GetFederatedIdentityParams) (FederatedIdentity, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserForUpdate(ctx context.Context, id uuid.UUID) (User, error)
	InsertOAuthState(ctx context.Context, arg InsertOAuthStateParams) (OauthState, error)
	ListActiveIdentitiesForUser(ctx context.Context, userID uuid.UUID) ([]FederatedIdentity, error)
	LockIdentityKey(ctx context.Context, arg LockIdentityKeyParams) error
	SetUserPassword(ctx context.Context, arg SetUserPasswordParams) (int64, error)
	TouchUserLastLogin(ctx context.Context, arg TouchUserLastLoginParams) (User, error)
	UpdateFederatedIdentity(ctx context.Context, arg UpdateFederatedIdentityParams) (FederatedIdentity, error)
}

var _ Querier = (*Queries)(nil)
