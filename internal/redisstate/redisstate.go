// Package redisstate keeps OAuth states in Redis, one hash per state.
package redisstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	rdb "github.com/redis/go-redis/v9"

	"github.com/gsarma/sentinel/internal/oauth"
)

const defaultPrefix = "sentinel:oauth_state:"

// consumeScript checks and marks a state in one step. It returns nil when
// the state is unknown, bound to another provider, consumed or expired; an
// expired state is deleted.
var consumeScript = rdb.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  return false
end
if redis.call('HGET', key, 'provider') ~= ARGV[1] then
  return false
end
if redis.call('HGET', key, 'consumed') == '1' then
  return false
end
local expires = tonumber(redis.call('HGET', key, 'expires_at'))
if expires == nil or expires <= tonumber(ARGV[2]) then
  redis.call('DEL', key)
  return false
end
redis.call('HSET', key, 'consumed', '1')
return redis.call('HGETALL', key)
`)

// Backend implements oauth.StateBackend.
type Backend struct {
	client rdb.UniversalClient
	prefix string
}

func New(client rdb.UniversalClient, prefix string) *Backend {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Backend{client: client, prefix: prefix}
}

var _ oauth.StateBackend = (*Backend)(nil)

func (b *Backend) key(token string) string { return b.prefix + token }

func (b *Backend) Save(ctx context.Context, s oauth.State) error {
	fields := map[string]interface{}{
		"provider":        string(s.Provider),
		"redirect_target": s.RedirectTarget,
		"code_verifier":   s.CodeVerifier,
		"created_at":      s.CreatedAt.UnixMilli(),
		"expires_at":      s.ExpiresAt.UnixMilli(),
		"consumed":        "0",
	}
	if s.LinkUserID != nil {
		fields["link_user_id"] = s.LinkUserID.String()
	}

	key := b.key(s.Token)
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.ExpireAt(ctx, key, s.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save state: %w", err)
	}
	return nil
}

func (b *Backend) Consume(ctx context.Context, token string, provider oauth.Provider, now time.Time) (oauth.State, error) {
	res, err := consumeScript.Run(ctx, b.client, []string{b.key(token)}, string(provider), now.UnixMilli()).Slice()
	if errors.Is(err, rdb.Nil) {
		return oauth.State{}, oauth.ErrInvalidOrExpiredState
	}
	if err != nil {
		return oauth.State{}, fmt.Errorf("redis consume state: %w", err)
	}
	st, err := decode(token, res)
	if err != nil {
		return oauth.State{}, fmt.Errorf("redis consume state: %w", err)
	}
	return st, nil
}

// decode turns an HGETALL reply into a State.
func decode(token string, reply []interface{}) (oauth.State, error) {
	if len(reply)%2 != 0 {
		return oauth.State{}, errors.New("malformed state hash")
	}
	fields := make(map[string]string, len(reply)/2)
	for i := 0; i < len(reply); i += 2 {
		k, _ := reply[i].(string)
		v, _ := reply[i+1].(string)
		fields[k] = v
	}

	st := oauth.State{
		Token:          token,
		Provider:       oauth.Provider(fields["provider"]),
		RedirectTarget: fields["redirect_target"],
		CodeVerifier:   fields["code_verifier"],
		Consumed:       fields["consumed"] == "1",
	}
	var err error
	if st.CreatedAt, err = millis(fields["created_at"]); err != nil {
		return oauth.State{}, err
	}
	if st.ExpiresAt, err = millis(fields["expires_at"]); err != nil {
		return oauth.State{}, err
	}
	if raw := fields["link_user_id"]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return oauth.State{}, fmt.Errorf("link_user_id: %w", err)
		}
		st.LinkUserID = &id
	}
	return st, nil
}

func millis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
