package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/gsarma/sentinel/internal/store"
)

// MinPasswordLength is the shortest password SetPassword accepts.
const MinPasswordLength = 8

// Sealer encrypts provider tokens before they are stored. binding ties the
// ciphertext to the identity it belongs to.
type Sealer interface {
	Seal(plaintext, binding []byte) ([]byte, error)
}

// Linker maps provider identities onto local user accounts.
type Linker struct {
	repo   store.Repository
	sealer Sealer
	log    *zap.Logger
	now    func() time.Time
}

func NewLinker(repo store.Repository, sealer Sealer, log *zap.Logger) *Linker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Linker{repo: repo, sealer: sealer, log: log, now: time.Now}
}

// LinkOrUpdate records id for a local user and returns that user. When
// linkUserID is set the identity is attached to that user; otherwise the user
// is found by email or created. Everything happens in one transaction.
func (l *Linker) LinkOrUpdate(ctx context.Context, id Identity, tokens Tokens, linkUserID *uuid.UUID) (*store.User, error) {
	now := l.now().UTC()

	binding := IdentityBinding(id.Provider, id.SubjectID)
	access, err := l.sealer.Seal([]byte(tokens.AccessToken), binding)
	if err != nil {
		return nil, fmt.Errorf("sealing access token: %w", err)
	}
	var refresh []byte
	if tokens.RefreshToken != "" {
		if refresh, err = l.sealer.Seal([]byte(tokens.RefreshToken), binding); err != nil {
			return nil, fmt.Errorf("sealing refresh token: %w", err)
		}
	}
	lifetime := tokens.ExpiresIn
	if lifetime <= 0 {
		lifetime = DefaultTokenLifetime
	}
	expiresAt := now.Add(lifetime)

	var email pgtype.Text
	if id.Email != nil {
		email = pgtype.Text{String: *id.Email, Valid: true}
	}

	var user store.User
	err = l.repo.ExecTx(ctx, func(q store.Querier) error {
		key := store.LockIdentityKeyParams{Provider: string(id.Provider), SubjectID: id.SubjectID}
		if err := q.LockIdentityKey(ctx, key); err != nil {
			return fmt.Errorf("locking identity: %w", err)
		}

		existing, err := q.GetFederatedIdentity(ctx, store.GetFederatedIdentityParams{
			Provider:  string(id.Provider),
			SubjectID: id.SubjectID,
		})
		switch {
		case err == nil:
			if linkUserID != nil && existing.UserID != *linkUserID {
				return ErrIdentityInUse
			}
			if _, err := q.UpdateFederatedIdentity(ctx, store.UpdateFederatedIdentityParams{
				ID:                    existing.ID,
				Email:                 email,
				DisplayName:           optionalText(id.DisplayName),
				AvatarUrl:             optionalText(id.AvatarURL),
				EncryptedAccessToken:  access,
				EncryptedRefreshToken: refresh,
				TokenExpiresAt:        &expiresAt,
				UpdatedAt:             now,
			}); err != nil {
				return fmt.Errorf("updating identity: %w", err)
			}
			user.ID = existing.UserID

		case errors.Is(err, pgx.ErrNoRows):
			owner, err := l.resolveUser(ctx, q, id, linkUserID, now)
			if err != nil {
				return err
			}
			if _, err := q.CreateFederatedIdentity(ctx, store.CreateFederatedIdentityParams{
				ID:                    uuid.New(),
				UserID:                owner.ID,
				Provider:              string(id.Provider),
				SubjectID:             id.SubjectID,
				Email:                 email,
				DisplayName:           optionalText(id.DisplayName),
				AvatarUrl:             optionalText(id.AvatarURL),
				EncryptedAccessToken:  access,
				EncryptedRefreshToken: refresh,
				TokenExpiresAt:        &expiresAt,
				CreatedAt:             now,
			}); err != nil {
				return fmt.Errorf("creating identity: %w", err)
			}
			user.ID = owner.ID

		default:
			return fmt.Errorf("looking up identity: %w", err)
		}

		user, err = q.TouchUserLastLogin(ctx, store.TouchUserLastLoginParams{ID: user.ID, LastLoginAt: now})
		if err != nil {
			return fmt.Errorf("stamping last login: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// resolveUser picks the account a new identity belongs to: the link-intent
// user, an existing user with the same email, or a freshly created user.
func (l *Linker) resolveUser(ctx context.Context, q store.Querier, id Identity, linkUserID *uuid.UUID, now time.Time) (store.User, error) {
	if linkUserID != nil {
		u, err := q.GetUser(ctx, *linkUserID)
		if errors.Is(err, pgx.ErrNoRows) {
			return store.User{}, ErrUserNotFound
		}
		if err != nil {
			return store.User{}, fmt.Errorf("loading link user: %w", err)
		}
		return u, nil
	}

	if id.Email != nil {
		u, err := q.GetUserByEmail(ctx, *id.Email)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return store.User{}, fmt.Errorf("looking up user by email: %w", err)
		}
	}

	fallback := fmt.Sprintf("%s_%s", id.Provider, id.SubjectID)
	username, email := fallback, fmt.Sprintf("%s@%s.local", fallback, id.Provider)
	if id.Email != nil {
		username, email = *id.Email, *id.Email
	}
	u, err := q.CreateUser(ctx, store.CreateUserParams{
		ID:        uuid.New(),
		Username:  username,
		Email:     email,
		IsActive:  true,
		CreatedAt: now,
	})
	if err != nil {
		return store.User{}, fmt.Errorf("creating user: %w", err)
	}
	l.log.Info("created user from federated identity",
		zap.String("user_id", u.ID.String()),
		zap.String("provider", string(id.Provider)))
	return u, nil
}

// Unlink deactivates the user's identity for provider. The row is kept.
func (l *Linker) Unlink(ctx context.Context, userID uuid.UUID, provider Provider) error {
	now := l.now().UTC()
	return l.repo.ExecTx(ctx, func(q store.Querier) error {
		user, err := q.GetUserForUpdate(ctx, userID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("loading user: %w", err)
		}

		active, err := q.ListActiveIdentitiesForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("listing identities: %w", err)
		}
		var target *store.FederatedIdentity
		for i := range active {
			if active[i].Provider == string(provider) {
				target = &active[i]
				break
			}
		}
		if target == nil {
			return ErrNotLinked
		}
		if !user.PasswordHash.Valid && len(active) == 1 {
			return ErrLastAuthMethod
		}

		if err := q.DeactivateFederatedIdentity(ctx, store.DeactivateFederatedIdentityParams{
			ID:        target.ID,
			UpdatedAt: now,
		}); err != nil {
			return fmt.Errorf("deactivating identity: %w", err)
		}
		return nil
	})
}

// SetPassword stores a bcrypt hash of password for the user.
func (l *Linker) SetPassword(ctx context.Context, userID uuid.UUID, password string) error {
	if len(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	n, err := l.repo.SetUserPassword(ctx, store.SetUserPasswordParams{
		ID:           userID,
		PasswordHash: pgtype.Text{String: string(hash), Valid: true},
		UpdatedAt:    l.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("saving password: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// HasActiveIdentity reports whether the user has an active identity for provider.
func (l *Linker) HasActiveIdentity(ctx context.Context, userID uuid.UUID, provider Provider) (bool, error) {
	active, err := l.repo.ListActiveIdentitiesForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("listing identities: %w", err)
	}
	for _, fi := range active {
		if fi.Provider == string(provider) {
			return true, nil
		}
	}
	return false, nil
}

// IdentityBinding is the additional data sealed provider tokens are bound
// to. A token only opens under the identity it was stored for.
func IdentityBinding(provider Provider, subjectID string) []byte {
	return []byte(string(provider) + ":" + subjectID)
}

// Profile is a user together with its active identities.
type Profile struct {
	User       store.User
	Identities []store.FederatedIdentity
}

func (l *Linker) Profile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	u, err := l.repo.GetUser(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	active, err := l.repo.ListActiveIdentitiesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	return &Profile{User: u, Identities: active}, nil
}
