package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/gsarma/sentinel/internal/store"
)

// DefaultStateTTL bounds how long a user has to finish a login at the provider.
const DefaultStateTTL = 10 * time.Minute

// stateTokenBytes is the entropy of a state token (256 bits).
const stateTokenBytes = 32

// State is a one-time anti-CSRF token bound to one authorization request.
type State struct {
	Token          string
	Provider       Provider
	RedirectTarget string
	CodeVerifier   string
	LinkUserID     *uuid.UUID
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Consumed       bool
}

// StateBackend persists states. Consume must be an atomic check-and-mark:
// of any number of concurrent calls for one token, at most one succeeds.
type StateBackend interface {
	Save(ctx context.Context, s State) error
	// Consume marks the state consumed and returns it. It returns
	// ErrInvalidOrExpiredState when the token is unknown, bound to another
	// provider, already consumed, or expired at now. An expired unconsumed
	// state is deleted.
	Consume(ctx context.Context, token string, provider Provider, now time.Time) (State, error)
}

// IssueOptions carries the optional data stored alongside a state.
type IssueOptions struct {
	CodeVerifier string
	LinkUserID   *uuid.UUID
}

// StateStore issues and redeems state tokens.
type StateStore struct {
	backend StateBackend
	ttl     time.Duration
	now     func() time.Time
}

func NewStateStore(backend StateBackend, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{backend: backend, ttl: ttl, now: time.Now}
}

// Issue stores a fresh state for provider and returns its token.
func (s *StateStore) Issue(ctx context.Context, provider Provider, redirectTarget string, opts IssueOptions) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	now := s.now().UTC()
	err = s.backend.Save(ctx, State{
		Token:          token,
		Provider:       provider,
		RedirectTarget: redirectTarget,
		CodeVerifier:   opts.CodeVerifier,
		LinkUserID:     opts.LinkUserID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	})
	if err != nil {
		return "", fmt.Errorf("saving state: %w", err)
	}
	return token, nil
}

// Consume redeems token for provider. A token satisfies Consume at most once.
func (s *StateStore) Consume(ctx context.Context, token string, provider Provider) (State, error) {
	if token == "" {
		return State{}, ErrInvalidOrExpiredState
	}
	return s.backend.Consume(ctx, token, provider, s.now().UTC())
}

func generateToken() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SQLStateBackend keeps states in the oauth_states table.
type SQLStateBackend struct {
	q store.Querier
}

func NewSQLStateBackend(q store.Querier) *SQLStateBackend {
	return &SQLStateBackend{q: q}
}

func (b *SQLStateBackend) Save(ctx context.Context, s State) error {
	_, err := b.q.InsertOAuthState(ctx, store.InsertOAuthStateParams{
		Token:          s.Token,
		Provider:       string(s.Provider),
		RedirectTarget: optionalText(s.RedirectTarget),
		CodeVerifier:   optionalText(s.CodeVerifier),
		LinkUserID:     s.LinkUserID,
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
	})
	return err
}

func (b *SQLStateBackend) Consume(ctx context.Context, token string, provider Provider, now time.Time) (State, error) {
	row, err := b.q.ConsumeOAuthState(ctx, store.ConsumeOAuthStateParams{
		Token:    token,
		Provider: string(provider),
		Now:      now,
	})
	if err == nil {
		return State{
			Token:          row.Token,
			Provider:       Provider(row.Provider),
			RedirectTarget: row.RedirectTarget.String,
			CodeVerifier:   row.CodeVerifier.String,
			LinkUserID:     row.LinkUserID,
			CreatedAt:      row.CreatedAt,
			ExpiresAt:      row.ExpiresAt,
			Consumed:       row.Consumed,
		}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return State{}, fmt.Errorf("consuming state: %w", err)
	}

	if _, err := b.q.DeleteExpiredOAuthState(ctx, store.DeleteExpiredOAuthStateParams{
		Token:    token,
		Provider: string(provider),
		Now:      now,
	}); err != nil {
		return State{}, fmt.Errorf("deleting expired state: %w", err)
	}
	return State{}, ErrInvalidOrExpiredState
}

func optionalText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
