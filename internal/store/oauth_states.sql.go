package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const consumeOAuthState = `-- name: ConsumeOAuthState :one
UPDATE oauth_states
SET consumed = TRUE
WHERE token = $1
  AND provider = $2
  AND consumed = FALSE
  AND expires_at > $3
RETURNING token, provider, redirect_target, code_verifier, link_user_id, created_at, expires_at, consumed
`

type ConsumeOAuthStateParams struct {
	Token    string    `json:"token"`
	Provider string    `json:"provider"`
	Now      time.Time `json:"now"`
}

func (q *Queries) ConsumeOAuthState(ctx context.Context, arg ConsumeOAuthStateParams) (OauthState, error) {
	row := q.db.QueryRow(ctx, consumeOAuthState, arg.Token, arg.Provider, arg.Now)
	var i OauthState
	err := row.Scan(
		&i.Token,
		&i.Provider,
		&i.RedirectTarget,
		&i.CodeVerifier,
		&i.LinkUserID,
		&i.CreatedAt,
		&i.ExpiresAt,
		&i.Consumed,
	)
	return i, err
}

const deleteExpiredOAuthState = `-- name: DeleteExpiredOAuthState :execrows
DELETE FROM oauth_states
WHERE token = $1
  AND provider = $2
  AND consumed = FALSE
  AND expires_at <= $3
`

type DeleteExpiredOAuthStateParams struct {
	Token    string    `json:"token"`
	Provider string    `json:"provider"`
	Now      time.Time `json:"now"`
}

func (q *Queries) DeleteExpiredOAuthState(ctx context.Context, arg DeleteExpiredOAuthStateParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteExpiredOAuthState, arg.Token, arg.Provider, arg.Now)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const deleteExpiredOAuthStates = `-- name: DeleteExpiredOAuthStates :execrows
DELETE FROM oauth_states
WHERE expires_at <= $1
`

func (q *Queries) DeleteExpiredOAuthStates(ctx context.Context, before time.Time) (int64, error) {
	result, err := q.db.Exec(ctx, deleteExpiredOAuthStates, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const insertOAuthState = `-- name: InsertOAuthState :one
INSERT INTO oauth_states (token, provider, redirect_target, code_verifier, link_user_id, created_at, expires_at, consumed)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
RETURNING token, provider, redirect_target, code_verifier, link_user_id, created_at, expires_at, consumed
`

type InsertOAuthStateParams struct {
	Token          string      `json:"token"`
	Provider       string      `json:"provider"`
	RedirectTarget pgtype.Text `json:"redirect_target"`
	CodeVerifier   pgtype.Text `json:"code_verifier"`
	LinkUserID     *uuid.UUID  `json:"link_user_id"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
}

func (q *Queries) InsertOAuthState(ctx context.Context, arg InsertOAuthStateParams) (OauthState, error) {
	row := q.db.QueryRow(ctx, insertOAuthState,
		arg.Token,
		arg.Provider,
		arg.RedirectTarget,
		arg.CodeVerifier,
		arg.LinkUserID,
		arg.CreatedAt,
		arg.ExpiresAt,
	)
	var i OauthState
	err := row.Scan(
		&i.Token,
		&i.Provider,
		&i.RedirectTarget,
		&i.CodeVerifier,
		&i.LinkUserID,
		&i.CreatedAt,
		&i.ExpiresAt,
		&i.Consumed,
	)
	return i, err
}
