package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsarma/sentinel/internal/store/storetest"
)

func newTestStateStore(t *testing.T) (*StateStore, *storetest.Memory, *time.Time) {
	t.Helper()
	repo := storetest.New()
	s := NewStateStore(NewSQLStateBackend(repo), 0)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, repo, &now
}

func TestStateStore_IssueConsumeOnce(t *testing.T) {
	s, _, _ := newTestStateStore(t)
	ctx := context.Background()
	linkUser := uuid.New()

	token, err := s.Issue(ctx, Twitter, "https://app/cb", IssueOptions{CodeVerifier: "v", LinkUserID: &linkUser})
	require.NoError(t, err)
	assert.Len(t, token, 43)

	st, err := s.Consume(ctx, token, Twitter)
	require.NoError(t, err)
	assert.Equal(t, "https://app/cb", st.RedirectTarget)
	assert.Equal(t, "v", st.CodeVerifier)
	require.NotNil(t, st.LinkUserID)
	assert.Equal(t, linkUser, *st.LinkUserID)
	assert.True(t, st.Consumed)

	_, err = s.Consume(ctx, token, Twitter)
	require.ErrorIs(t, err, ErrInvalidOrExpiredState)
}

func TestStateStore_TokensAreUnique(t *testing.T) {
	s, _, _ := newTestStateStore(t)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		token, err := s.Issue(context.Background(), Google, "", IssueOptions{})
		require.NoError(t, err)
		require.False(t, seen[token])
		seen[token] = true
	}
}

func TestStateStore_Rejections(t *testing.T) {
	s, repo, now := newTestStateStore(t)
	ctx := context.Background()

	_, err := s.Consume(ctx, "", Google)
	require.ErrorIs(t, err, ErrInvalidOrExpiredState)
	_, err = s.Consume(ctx, "never-issued", Google)
	require.ErrorIs(t, err, ErrInvalidOrExpiredState)

	token, err := s.Issue(ctx, Google, "", IssueOptions{})
	require.NoError(t, err)
	_, err = s.Consume(ctx, token, Facebook)
	require.ErrorIs(t, err, ErrInvalidOrExpiredState)
	require.Len(t, repo.States(), 1, "wrong-provider lookups leave the state alone")

	*now = now.Add(DefaultStateTTL)
	_, err = s.Consume(ctx, token, Google)
	require.ErrorIs(t, err, ErrInvalidOrExpiredState)
	assert.Empty(t, repo.States(), "expired state is deleted on lookup")
}

func TestStateStore_CustomTTL(t *testing.T) {
	repo := storetest.New()
	s := NewStateStore(NewSQLStateBackend(repo), time.Minute)
	_, err := s.Issue(context.Background(), Google, "", IssueOptions{})
	require.NoError(t, err)
	st := repo.States()[0]
	assert.Equal(t, time.Minute, st.ExpiresAt.Sub(st.CreatedAt))
	assert.False(t, st.RedirectTarget.Valid)
	assert.False(t, st.CodeVerifier.Valid)
}

func TestStateStore_BackendErrors(t *testing.T) {
	s, repo, _ := newTestStateStore(t)
	ctx := context.Background()
	boom := errors.New("connection reset")

	repo.Fail["InsertOAuthState"] = boom
	_, err := s.Issue(ctx, Google, "", IssueOptions{})
	require.ErrorIs(t, err, boom)
	delete(repo.Fail, "InsertOAuthState")

	token, err := s.Issue(ctx, Google, "", IssueOptions{})
	require.NoError(t, err)
	repo.Fail["ConsumeOAuthState"] = boom
	_, err = s.Consume(ctx, token, Google)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, ErrInvalidOrExpiredState)
}
