package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const identityColumns = `id, user_id, provider, subject_id, email, display_name, avatar_url,
       encrypted_access_token, encrypted_refresh_token, token_expires_at, is_active, created_at, updated_at`

const createFederatedIdentity = `-- name: CreateFederatedIdentity :one
INSERT INTO federated_identities (
    id, user_id, provider, subject_id, email, display_name, avatar_url,
    encrypted_access_token, encrypted_refresh_token, token_expires_at, is_active, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, $11, $11)
RETURNING ` + identityColumns

type CreateFederatedIdentityParams struct {
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
	CreatedAt             time.Time   `json:"created_at"`
}

func (q *Queries) CreateFederatedIdentity(ctx context.Context, arg CreateFederatedIdentityParams) (FederatedIdentity, error) {
	row := q.db.QueryRow(ctx, createFederatedIdentity,
		arg.ID,
		arg.UserID,
		arg.Provider,
		arg.SubjectID,
		arg.Email,
		arg.DisplayName,
		arg.AvatarUrl,
		arg.EncryptedAccessToken,
		arg.EncryptedRefreshToken,
		arg.TokenExpiresAt,
		arg.CreatedAt,
	)
	return scanIdentity(row)
}

const deactivateFederatedIdentity = `-- name: DeactivateFederatedIdentity :exec
UPDATE federated_identities
SET is_active = FALSE, updated_at = $2
WHERE id = $1
`

type DeactivateFederatedIdentityParams struct {
	ID        uuid.UUID `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (q *Queries) DeactivateFederatedIdentity(ctx context.Context, arg DeactivateFederatedIdentityParams) error {
	_, err := q.db.Exec(ctx, deactivateFederatedIdentity, arg.ID, arg.UpdatedAt)
	return err
}

const getFederatedIdentity = `-- name: GetFederatedIdentity :one
SELECT ` + identityColumns + `
FROM federated_identities
WHERE provider = $1 AND subject_id = $2
`

type GetFederatedIdentityParams struct {
	Provider  string `json:"provider"`
	SubjectID string `json:"subject_id"`
}

func (q *Queries) GetFederatedIdentity(ctx context.Context, arg GetFederatedIdentityParams) (FederatedIdentity, error) {
	return scanIdentity(q.db.QueryRow(ctx, getFederatedIdentity, arg.Provider, arg.SubjectID))
}

const listActiveIdentitiesForUser = `-- name: ListActiveIdentitiesForUser :many
SELECT ` + identityColumns + `
FROM federated_identities
WHERE user_id = $1 AND is_active = TRUE
ORDER BY created_at
`

func (q *Queries) ListActiveIdentitiesForUser(ctx context.Context, userID uuid.UUID) ([]FederatedIdentity, error) {
	rows, err := q.db.Query(ctx, listActiveIdentitiesForUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []FederatedIdentity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Serialises linkers racing on the same provider account until the
// surrounding transaction ends.
const lockIdentityKey = `-- name: LockIdentityKey :exec
SELECT pg_advisory_xact_lock(hashtextextended($1 || ':' || $2, 0))
`

type LockIdentityKeyParams struct {
	Provider  string `json:"provider"`
	SubjectID string `json:"subject_id"`
}

func (q *Queries) LockIdentityKey(ctx context.Context, arg LockIdentityKeyParams) error {
	_, err := q.db.Exec(ctx, lockIdentityKey, arg.Provider, arg.SubjectID)
	return err
}

const updateFederatedIdentity = `-- name: UpdateFederatedIdentity :one
UPDATE federated_identities
SET email = $2,
    display_name = $3,
    avatar_url = $4,
    encrypted_access_token = $5,
    encrypted_refresh_token = $6,
    token_expires_at = $7,
    is_active = TRUE,
    updated_at = $8
WHERE id = $1
RETURNING ` + identityColumns

type UpdateFederatedIdentityParams struct {
	ID                    uuid.UUID   `json:"id"`
	Email                 pgtype.Text `json:"email"`
	DisplayName           pgtype.Text `json:"display_name"`
	AvatarUrl             pgtype.Text `json:"avatar_url"`
	EncryptedAccessToken  []byte      `json:"encrypted_access_token"`
	EncryptedRefreshToken []byte      `json:"encrypted_refresh_token"`
	TokenExpiresAt        *time.Time  `json:"token_expires_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

func (q *Queries) UpdateFederatedIdentity(ctx context.Context, arg UpdateFederatedIdentityParams) (FederatedIdentity, error) {
	row := q.db.QueryRow(ctx, updateFederatedIdentity,
		arg.ID,
		arg.Email,
		arg.DisplayName,
		arg.AvatarUrl,
		arg.EncryptedAccessToken,
		arg.EncryptedRefreshToken,
		arg.TokenExpiresAt,
		arg.UpdatedAt,
	)
	return scanIdentity(row)
}

func scanIdentity(row interface{ Scan(...any) error }) (FederatedIdentity, error) {
	var i FederatedIdentity
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Provider,
		&i.SubjectID,
		&i.Email,
		&i.DisplayName,
		&i.AvatarUrl,
		&i.EncryptedAccessToken,
		&i.EncryptedRefreshToken,
		&i.TokenExpiresAt,
		&i.IsActive,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}
