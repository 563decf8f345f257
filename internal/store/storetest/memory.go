// Package storetest provides an in-memory store.Repository for tests.
//
// Individual queries are atomic. ExecTx serialises transactions and restores
// the users and identities tables when the callback fails, which is enough to
// observe commit/rollback behaviour without a database.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gsarma/sentinel/internal/store"
)

// ErrUniqueViolation mirrors a unique constraint failure.
var ErrUniqueViolation = errors.New("storetest: unique violation")

type identityKey struct {
	provider string
	subject  string
}

// Memory implements store.Repository with maps.
type Memory struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users      map[uuid.UUID]store.User
	identities map[identityKey]store.FederatedIdentity
	states     map[string]store.OauthState

	// Fail maps a query name (e.g. "CreateFederatedIdentity") to the error
	// it should return.
	Fail map[string]error
}

func New() *Memory {
	return &Memory{
		users:      make(map[uuid.UUID]store.User),
		identities: make(map[identityKey]store.FederatedIdentity),
		states:     make(map[string]store.OauthState),
		Fail:       make(map[string]error),
	}
}

var _ store.Repository = (*Memory)(nil)

func (m *Memory) ExecTx(ctx context.Context, fn func(store.Querier) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	users := make(map[uuid.UUID]store.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	identities := make(map[identityKey]store.FederatedIdentity, len(m.identities))
	for k, v := range m.identities {
		identities[k] = v
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.users = users
		m.identities = identities
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Memory) fail(name string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail[name]
}

// --- inspection helpers ---

// Users returns a copy of every stored user.
func (m *Memory) Users() []store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out
}

// Identities returns every stored identity, active or not.
func (m *Memory) Identities() []store.FederatedIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.FederatedIdentity, 0, len(m.identities))
	for _, fi := range m.identities {
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// States returns every stored OAuth state.
func (m *Memory) States() []store.OauthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.OauthState, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s)
	}
	return out
}

// PutUser inserts or replaces a user row directly.
func (m *Memory) PutUser(u store.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// --- users ---

func (m *Memory) CreateUser(_ context.Context, arg store.CreateUserParams) (store.User, error) {
	if err := m.fail("CreateUser"); err != nil {
		return store.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, arg.Email) || u.Username == arg.Username {
			return store.User{}, fmt.Errorf("users: %w", ErrUniqueViolation)
		}
	}
	u := store.User{
		ID:        arg.ID,
		Username:  arg.Username,
		Email:     arg.Email,
		IsActive:  arg.IsActive,
		CreatedAt: arg.CreatedAt,
		UpdatedAt: arg.CreatedAt,
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (store.User, error) {
	if err := m.fail("GetUser"); err != nil {
		return store.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return store.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (m *Memory) GetUserForUpdate(ctx context.Context, id uuid.UUID) (store.User, error) {
	return m.GetUser(ctx, id)
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if err := m.fail("GetUserByEmail"); err != nil {
		return store.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return store.User{}, pgx.ErrNoRows
}

func (m *Memory) SetUserPassword(_ context.Context, arg store.SetUserPasswordParams) (int64, error) {
	if err := m.fail("SetUserPassword"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[arg.ID]
	if !ok {
		return 0, nil
	}
	u.PasswordHash = arg.PasswordHash
	u.UpdatedAt = arg.UpdatedAt
	m.users[u.ID] = u
	return 1, nil
}

func (m *Memory) TouchUserLastLogin(_ context.Context, arg store.TouchUserLastLoginParams) (store.User, error) {
	if err := m.fail("TouchUserLastLogin"); err != nil {
		return store.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[arg.ID]
	if !ok {
		return store.User{}, pgx.ErrNoRows
	}
	at := arg.LastLoginAt
	u.LastLoginAt = &at
	u.UpdatedAt = at
	m.users[u.ID] = u
	return u, nil
}

// --- federated identities ---

func (m *Memory) LockIdentityKey(context.Context, store.LockIdentityKeyParams) error {
	return m.fail("LockIdentityKey")
}

func (m *Memory) GetFederatedIdentity(_ context.Context, arg store.GetFederatedIdentityParams) (store.FederatedIdentity, error) {
	if err := m.fail("GetFederatedIdentity"); err != nil {
		return store.FederatedIdentity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fi, ok := m.identities[identityKey{arg.Provider, arg.SubjectID}]
	if !ok {
		return store.FederatedIdentity{}, pgx.ErrNoRows
	}
	return fi, nil
}

func (m *Memory) CreateFederatedIdentity(_ context.Context, arg store.CreateFederatedIdentityParams) (store.FederatedIdentity, error) {
	if err := m.fail("CreateFederatedIdentity"); err != nil {
		return store.FederatedIdentity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := identityKey{arg.Provider, arg.SubjectID}
	if _, ok := m.identities[key]; ok {
		return store.FederatedIdentity{}, fmt.Errorf("federated_identities: %w", ErrUniqueViolation)
	}
	if _, ok := m.users[arg.UserID]; !ok {
		return store.FederatedIdentity{}, fmt.Errorf("federated_identities: unknown user %s", arg.UserID)
	}
	fi := store.FederatedIdentity{
		ID:                    arg.ID,
		UserID:                arg.UserID,
		Provider:              arg.Provider,
		SubjectID:             arg.SubjectID,
		Email:                 arg.Email,
		DisplayName:           arg.DisplayName,
		AvatarUrl:             arg.AvatarUrl,
		EncryptedAccessToken:  arg.EncryptedAccessToken,
		EncryptedRefreshToken: arg.EncryptedRefreshToken,
		TokenExpiresAt:        arg.TokenExpiresAt,
		IsActive:              true,
		CreatedAt:             arg.CreatedAt,
		UpdatedAt:             arg.CreatedAt,
	}
	m.identities[key] = fi
	return fi, nil
}

func (m *Memory) UpdateFederatedIdentity(_ context.Context, arg store.UpdateFederatedIdentityParams) (store.FederatedIdentity, error) {
	if err := m.fail("UpdateFederatedIdentity"); err != nil {
		return store.FederatedIdentity{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, fi := range m.identities {
		if fi.ID != arg.ID {
			continue
		}
		fi.Email = arg.Email
		fi.DisplayName = arg.DisplayName
		fi.AvatarUrl = arg.AvatarUrl
		fi.EncryptedAccessToken = arg.EncryptedAccessToken
		fi.EncryptedRefreshToken = arg.EncryptedRefreshToken
		fi.TokenExpiresAt = arg.TokenExpiresAt
		fi.IsActive = true
		fi.UpdatedAt = arg.UpdatedAt
		m.identities[key] = fi
		return fi, nil
	}
	return store.FederatedIdentity{}, pgx.ErrNoRows
}

func (m *Memory) ListActiveIdentitiesForUser(_ context.Context, userID uuid.UUID) ([]store.FederatedIdentity, error) {
	if err := m.fail("ListActiveIdentitiesForUser"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.FederatedIdentity
	for _, fi := range m.identities {
		if fi.UserID == userID && fi.IsActive {
			out = append(out, fi)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) DeactivateFederatedIdentity(_ context.Context, arg store.DeactivateFederatedIdentityParams) error {
	if err := m.fail("DeactivateFederatedIdentity"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, fi := range m.identities {
		if fi.ID == arg.ID {
			fi.IsActive = false
			fi.UpdatedAt = arg.UpdatedAt
			m.identities[key] = fi
		}
	}
	return nil
}

// --- oauth states ---

func (m *Memory) InsertOAuthState(_ context.Context, arg store.InsertOAuthStateParams) (store.OauthState, error) {
	if err := m.fail("InsertOAuthState"); err != nil {
		return store.OauthState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[arg.Token]; ok {
		return store.OauthState{}, fmt.Errorf("oauth_states: %w", ErrUniqueViolation)
	}
	s := store.OauthState{
		Token:          arg.Token,
		Provider:       arg.Provider,
		RedirectTarget: arg.RedirectTarget,
		CodeVerifier:   arg.CodeVerifier,
		LinkUserID:     arg.LinkUserID,
		CreatedAt:      arg.CreatedAt,
		ExpiresAt:      arg.ExpiresAt,
	}
	m.states[s.Token] = s
	return s, nil
}

func (m *Memory) ConsumeOAuthState(_ context.Context, arg store.ConsumeOAuthStateParams) (store.OauthState, error) {
	if err := m.fail("ConsumeOAuthState"); err != nil {
		return store.OauthState{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[arg.Token]
	if !ok || s.Provider != arg.Provider || s.Consumed || !s.ExpiresAt.After(arg.Now) {
		return store.OauthState{}, pgx.ErrNoRows
	}
	s.Consumed = true
	m.states[s.Token] = s
	return s, nil
}

func (m *Memory) DeleteExpiredOAuthState(_ context.Context, arg store.DeleteExpiredOAuthStateParams) (int64, error) {
	if err := m.fail("DeleteExpiredOAuthState"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[arg.Token]
	if !ok || s.Provider != arg.Provider || s.Consumed || s.ExpiresAt.After(arg.Now) {
		return 0, nil
	}
	delete(m.states, arg.Token)
	return 1, nil
}

func (m *Memory) DeleteExpiredOAuthStates(_ context.Context, before time.Time) (int64, error) {
	if err := m.fail("DeleteExpiredOAuthStates"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for token, s := range m.states {
		if !s.ExpiresAt.After(before) {
			delete(m.states, token)
			n++
		}
	}
	return n, nil
}
