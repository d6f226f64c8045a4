// Package redisstore keeps sessions in Redis. Each session is a hash holding
// the immutable record as JSON next to its mutable consumed and last-seen
// fields; every mutation runs as a Lua script so it is atomic per key.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Smart-Samurai/Krapi-sub010/internal/config"
	"github.com/Smart-Samurai/Krapi-sub010/internal/model"
)

// DefaultGrace is how long a session key outlives its expiry before Redis
// drops it.
const DefaultGrace = 7 * 24 * time.Hour

// createScript writes a session hash unless the key exists.
// KEYS[1] = key
// ARGV[1] = record JSON
// ARGV[2] = unix ms at which Redis drops the key
var createScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	redis.call('HSET', KEYS[1], 'data', ARGV[1], 'consumed', '0')
	redis.call('PEXPIREAT', KEYS[1], ARGV[2])
	return 1
`)

// touchScript stamps last_seen_at only while the session is unconsumed and
// returns the stored fields.
// KEYS[1] = key
// ARGV[1] = last seen timestamp
var touchScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return false
	end
	if redis.call('HGET', KEYS[1], 'consumed') == '0' then
		redis.call('HSET', KEYS[1], 'last_seen_at', ARGV[1])
	end
	return redis.call('HMGET', KEYS[1], 'data', 'consumed', 'consumed_at', 'last_seen_at')
`)

// consumeScript flips consumed from 0 to 1 exactly once.
// KEYS[1] = key
// ARGV[1] = consumed timestamp
var consumeScript = redis.NewScript(`
	if redis.call('HGET', KEYS[1], 'consumed') == '0' then
		redis.call('HSET', KEYS[1], 'consumed', '1', 'consumed_at', ARGV[1])
		return 1
	end
	return 0
`)

// record is the immutable part of a session.
type record struct {
	ID         string            `json:"id"`
	Type       model.SessionType `json:"type"`
	UserID     string            `json:"user_id"`
	ProjectID  *string           `json:"project_id,omitempty"`
	ProjectIDs []string          `json:"project_ids"` // null and [] differ
	APIKeyID   *string           `json:"api_key_id,omitempty"`
	Scopes     []string          `json:"scopes"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// Store implements service.SessionStore on Redis.
type Store struct {
	client *redis.Client
	prefix string
	grace  time.Duration
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return New(client, cfg.KeyPrefix, DefaultGrace), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string, grace time.Duration) *Store {
	if prefix == "" {
		prefix = "krapi:session:"
	}
	if grace < 0 {
		grace = 0
	}
	return &Store{client: client, prefix: prefix, grace: grace}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(tokenHash string) string {
	return s.prefix + tokenHash
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// CreateSession stores sess under its token hash.
func (s *Store) CreateSession(ctx context.Context, sess *model.Session) error {
	data, err := json.Marshal(record{
		ID:         sess.ID,
		Type:       sess.Type,
		UserID:     sess.UserID,
		ProjectID:  sess.ProjectID,
		ProjectIDs: sess.ProjectIDs,
		APIKeyID:   sess.APIKeyID,
		Scopes:     sess.Scopes.Strings(),
		Metadata:   sess.Metadata,
		CreatedAt:  sess.CreatedAt.UTC(),
		ExpiresAt:  sess.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	dropAt := sess.ExpiresAt.Add(s.grace).UnixMilli()

	created, err := createScript.Run(ctx, s.client, []string{s.key(sess.TokenHash)}, string(data), dropAt).Int()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("create session: %w", config.ErrConflict)
	}
	return nil
}

// TouchSession stamps last_seen_at on an unconsumed session and returns it.
func (s *Store) TouchSession(ctx context.Context, tokenHash string, at time.Time) (*model.Session, error) {
	vals, err := touchScript.Run(ctx, s.client, []string{s.key(tokenHash)}, formatTime(at)).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session: %w", config.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return decode(tokenHash, vals)
}

// ConsumeSession marks the session consumed. Unknown and already consumed
// sessions are left alone.
func (s *Store) ConsumeSession(ctx context.Context, tokenHash string, at time.Time) error {
	if err := consumeScript.Run(ctx, s.client, []string{s.key(tokenHash)}, formatTime(at)).Err(); err != nil {
		return fmt.Errorf("consume session: %w", err)
	}
	return nil
}

// PurgeSessions deletes sessions that expired, or were consumed, before
// the cutoff. Redis also drops keys on its own once the grace period ends.
func (s *Store) PurgeSessions(ctx context.Context, before time.Time) (int64, error) {
	var purged int64
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		vals, err := s.client.HMGet(ctx, key, "data", "consumed", "consumed_at", "last_seen_at").Result()
		if err != nil {
			return purged, fmt.Errorf("purge sessions: %w", err)
		}
		sess, err := decode(key[len(s.prefix):], vals)
		if err != nil {
			// Half-written or foreign keys under the prefix are skipped.
			continue
		}
		ended := sess.ExpiresAt.Before(before) ||
			(sess.Consumed && sess.ConsumedAt != nil && sess.ConsumedAt.Before(before))
		if !ended {
			continue
		}
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return purged, fmt.Errorf("purge sessions: %w", err)
		}
		purged += n
	}
	if err := iter.Err(); err != nil {
		return purged, fmt.Errorf("purge sessions: %w", err)
	}
	return purged, nil
}

// decode rebuilds a session from data, consumed, consumed_at, last_seen_at.
func decode(tokenHash string, vals []interface{}) (*model.Session, error) {
	if len(vals) != 4 {
		return nil, fmt.Errorf("session %s: unexpected reply of %d fields", tokenHash, len(vals))
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", tokenHash, config.ErrNotFound)
	}
	var r record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", tokenHash, err)
	}
	// Scopes retired since the session was written are dropped.
	scopes, _ := model.KnownScopeSet(r.Scopes)
	sess := &model.Session{
		ID:         r.ID,
		TokenHash:  tokenHash,
		Type:       r.Type,
		UserID:     r.UserID,
		ProjectID:  r.ProjectID,
		ProjectIDs: r.ProjectIDs,
		APIKeyID:   r.APIKeyID,
		Scopes:     scopes,
		Metadata:   r.Metadata,
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
	}
	if c, _ := vals[1].(string); c == "1" {
		sess.Consumed = true
	}
	var err error
	if sess.ConsumedAt, err = parseTime(vals[2]); err != nil {
		return nil, fmt.Errorf("session %s consumed_at: %w", tokenHash, err)
	}
	if sess.LastSeenAt, err = parseTime(vals[3]); err != nil {
		return nil, fmt.Errorf("session %s last_seen_at: %w", tokenHash, err)
	}
	return sess, nil
}

func parseTime(v interface{}) (*time.Time, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
