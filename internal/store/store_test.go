package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore migrates the database at DATABASE_URL; the test is skipped
// without it.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = Migrate(ctx, pool)
	require.NoError(t, err)
	// A second run applies nothing.
	applied, err := Migrate(ctx, pool)
	require.NoError(t, err)
	assert.Empty(t, applied)
	return NewStore(pool)
}

func TestConsumeOAuthState_SingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	token := "st-" + uuid.NewString()

	_, err := s.InsertOAuthState(ctx, InsertOAuthStateParams{
		Token:     token,
		Provider:  "google",
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
	})
	require.NoError(t, err)

	_, err = s.ConsumeOAuthState(ctx, ConsumeOAuthStateParams{Token: token, Provider: "facebook", Now: now})
	require.ErrorIs(t, err, pgx.ErrNoRows)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeOAuthState(ctx, ConsumeOAuthStateParams{Token: token, Provider: "google", Now: now})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestDeleteExpiredOAuthStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	token := "st-" + uuid.NewString()

	_, err := s.InsertOAuthState(ctx, InsertOAuthStateParams{
		Token:     token,
		Provider:  "google",
		CreatedAt: now.Add(-20 * time.Minute),
		ExpiresAt: now.Add(-10 * time.Minute),
	})
	require.NoError(t, err)

	n, err := s.DeleteExpiredOAuthStates(ctx, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	_, err = s.ConsumeOAuthState(ctx, ConsumeOAuthStateParams{Token: token, Provider: "google", Now: now.Add(-15 * time.Minute)})
	require.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestExecTx_RollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()
	email := strings.ToLower("rollback-" + id.String() + "@example.com")
	boom := errors.New("boom")

	err := s.ExecTx(ctx, func(q Querier) error {
		if _, err := q.CreateUser(ctx, CreateUserParams{
			ID: id, Username: email, Email: email, IsActive: true, CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetUser(ctx, id)
	require.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestGetUserByEmail_CaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := uuid.New()
	email := "case-" + id.String() + "@example.com"

	_, err := s.CreateUser(ctx, CreateUserParams{
		ID: id, Username: email, Email: email, IsActive: true, CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	u, err := s.GetUserByEmail(ctx, strings.ToUpper(email))
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
}
