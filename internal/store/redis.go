package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/williamzujkowski/puppeteer-mcp-go/internal/types"
)

const redisPrefix = "pmcp"

// Redis persists sessions and API key hashes in redis with TTL-backed expiry.
// Contexts and pages describe live browser state and stay in an embedded
// memory store; sessions are mirrored there so cascade deletes work.
type Redis struct {
	client *redis.Client
	mem    *Memory
	ttl    time.Duration
}

// RedisOptions configure the redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedis connects to redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connect %s: %w", opts.Addr, err)
	}
	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Redis store connected")
	return &Redis{client: client, mem: NewMemory(opts.TTL), ttl: opts.TTL}, nil
}

func sessionKey(id string) string { return redisPrefix + ":session:" + id }
func userKey(userID string) string { return redisPrefix + ":user:" + userID }
func keyHashKey(keyID string) string { return redisPrefix + ":key:" + keyID }

const sessionIndexKey = redisPrefix + ":sessions"

func (r *Redis) CreateSession(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}
	ttl := time.Duration(0)
	if !s.ExpiresAt.IsZero() {
		ttl = time.Until(s.ExpiresAt)
		if ttl <= 0 {
			return types.ErrSessionExpired
		}
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(s.ID), data, ttl)
	pipe.SAdd(ctx, sessionIndexKey, s.ID)
	pipe.SAdd(ctx, userKey(s.UserID), s.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	return r.mem.CreateSession(ctx, s)
}

func (r *Redis) GetSession(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	return &s, nil
}

func (r *Redis) TouchSession(ctx context.Context, id string) error {
	s, err := r.GetSession(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now()
	s.LastAccessedAt = now
	if r.ttl > 0 {
		s.ExpiresAt = now.Add(r.ttl)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", id, err)
	}
	ttl := time.Duration(0)
	if !s.ExpiresAt.IsZero() {
		ttl = time.Until(s.ExpiresAt)
	}
	if err := r.client.Set(ctx, sessionKey(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	// Best effort: the mirror may be empty after a restart.
	_ = r.mem.TouchSession(ctx, id)
	return nil
}

func (r *Redis) DeleteSession(ctx context.Context, id string) error {
	s, err := r.GetSession(ctx, id)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, sessionIndexKey, id)
	pipe.SRem(ctx, userKey(s.UserID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	_ = r.mem.DeleteSession(ctx, id)
	return nil
}

func (r *Redis) SessionsByUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := r.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetSession(ctx, id)
		if errors.Is(err, types.ErrSessionNotFound) {
			// TTL fired; drop the stale index entry.
			r.client.SRem(ctx, userKey(userID), id)
			r.client.SRem(ctx, sessionIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Redis) ExpireSessions(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := r.client.SMembers(ctx, sessionIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	var expired []string
	for _, id := range ids {
		s, err := r.GetSession(ctx, id)
		switch {
		case errors.Is(err, types.ErrSessionNotFound):
			// Redis TTL already removed the value; clean the indexes and
			// cascade the in-memory mirror.
			r.client.SRem(ctx, sessionIndexKey, id)
			_ = r.mem.DeleteSession(ctx, id)
			expired = append(expired, id)
		case err != nil:
			return expired, err
		case s.Expired(now):
			if err := r.DeleteSession(ctx, id); err != nil && !errors.Is(err, types.ErrSessionNotFound) {
				return expired, err
			}
			expired = append(expired, id)
		}
	}
	return expired, nil
}

func (r *Redis) CreateContext(ctx context.Context, c *Context) error {
	return r.mem.CreateContext(ctx, c)
}

func (r *Redis) GetContext(ctx context.Context, id string) (*Context, error) {
	return r.mem.GetContext(ctx, id)
}

func (r *Redis) UpdateContext(ctx context.Context, c *Context) error {
	return r.mem.UpdateContext(ctx, c)
}

func (r *Redis) TouchContext(ctx context.Context, id string) error {
	return r.mem.TouchContext(ctx, id)
}

func (r *Redis) DeleteContext(ctx context.Context, id string) error {
	return r.mem.DeleteContext(ctx, id)
}

func (r *Redis) ContextsBySession(ctx context.Context, sessionID string) ([]*Context, error) {
	return r.mem.ContextsBySession(ctx, sessionID)
}

func (r *Redis) CreatePage(ctx context.Context, p *Page) error { return r.mem.CreatePage(ctx, p) }

func (r *Redis) GetPage(ctx context.Context, id string) (*Page, error) {
	return r.mem.GetPage(ctx, id)
}

func (r *Redis) UpdatePage(ctx context.Context, p *Page) error { return r.mem.UpdatePage(ctx, p) }

func (r *Redis) DeletePage(ctx context.Context, id string) error { return r.mem.DeletePage(ctx, id) }

func (r *Redis) PagesByContext(ctx context.Context, contextID string) ([]*Page, error) {
	return r.mem.PagesByContext(ctx, contextID)
}

func (r *Redis) PutKeyHash(ctx context.Context, keyID, hash string) error {
	if err := r.client.Set(ctx, keyHashKey(keyID), hash, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	return nil
}

func (r *Redis) GetKeyHash(ctx context.Context, keyID string) (string, error) {
	h, err := r.client.Get(ctx, keyHashKey(keyID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", types.ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	return h, nil
}

func (r *Redis) DeleteKeyHash(ctx context.Context, keyID string) error {
	n, err := r.client.Del(ctx, keyHashKey(keyID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	if n == 0 {
		return types.ErrKeyNotFound
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
