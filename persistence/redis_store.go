package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/o3willard-AI/alcs-sub001/internal/tlsutil"
	"github.com/o3willard-AI/alcs-sub001/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore is a Redis-based implementation of Store.
// Suitable for distributed production deployments. Sessions are stored as
// JSON strings with sorted sets indexing them by start time and state.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisStore creates a new Redis-based session store
func NewRedisStore(ctx context.Context, config RedisStoreConfig, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:      fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password:  config.Password,
		DB:        config.DB,
		PoolSize:  config.PoolSize,
		TLSConfig: tlsutil.ConfigIf(config.TLS),
	})

	// Test connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, config, logger), nil
}

// NewRedisStoreFromClient wraps an existing client. The store owns the
// client and closes it on Close.
func NewRedisStoreFromClient(client *redis.Client, config RedisStoreConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "alcs:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "session:",
		ttl:       config.TTL,
		logger:    logger.With(zap.String("component", "redis_session_store")),
	}
}

// sessionKey returns the Redis key for a session
func (s *RedisStore) sessionKey(id string) string {
	return s.keyPrefix + "data:" + id
}

// stateKey returns the Redis key for a state index
func (s *RedisStore) stateKey(state session.State) string {
	return s.keyPrefix + "state:" + string(state)
}

// allKey returns the Redis key for the all-sessions index
func (s *RedisStore) allKey() string {
	return s.keyPrefix + "all"
}

func (s *RedisStore) Create(ctx context.Context, id string) (*session.Session, error) {
	sess := newSession(id)
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.sessionKey(sess.ID), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyExists
	}

	score := float64(sess.StartedAt.UnixNano())
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: sess.ID})
	pipe.ZAdd(ctx, s.stateKey(sess.State), redis.Z{Score: score, Member: sess.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to index session: %w", err)
	}
	return sess, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*session.Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Update(ctx context.Context, sess *session.Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidInput
	}

	// Get old session for index cleanup
	old, err := s.Get(ctx, sess.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	var expiration time.Duration
	if s.ttl > 0 && sess.State.Settled() && sess.State != session.StateIdle {
		expiration = s.ttl
	}

	score := float64(sess.StartedAt.UnixNano())
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sessionKey(sess.ID), data, expiration)
	if old.State != sess.State {
		pipe.ZRem(ctx, s.stateKey(old.State), sess.ID)
	}
	pipe.ZAdd(ctx, s.stateKey(sess.State), redis.Z{Score: score, Member: sess.ID})
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: sess.ID})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	old, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.ZRem(ctx, s.allKey(), id)
	pipe.ZRem(ctx, s.stateKey(old.State), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, filter ListFilter) ([]*session.Session, error) {
	var ids []string
	if len(filter.States) == 0 {
		all, err := s.client.ZRevRange(ctx, s.allKey(), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		ids = all
	} else {
		seen := make(map[string]struct{})
		for _, st := range filter.States {
			members, err := s.client.ZRange(ctx, s.stateKey(st), 0, -1).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to list sessions: %w", err)
			}
			for _, id := range members {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					ids = append(ids, id)
				}
			}
		}
	}
	if len(ids) == 0 {
		return []*session.Session{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	sessions := make([]*session.Session, 0, len(values))
	var stale []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired by TTL; the index entry is left behind.
			stale = append(stale, ids[i])
			continue
		}
		var sess session.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			s.logger.Warn("skipping undecodable session", zap.String("session_id", ids[i]), zap.Error(err))
			continue
		}
		sessions = append(sessions, &sess)
	}
	if len(stale) > 0 {
		s.pruneIndex(ctx, stale)
	}

	return applyFilter(sessions, filter), nil
}

func (s *RedisStore) pruneIndex(ctx context.Context, ids []string) {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe := s.client.Pipeline()
	pipe.ZRem(ctx, s.allKey(), members...)
	for _, st := range session.AllStates {
		pipe.ZRem(ctx, s.stateKey(st), members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Debug("index prune failed", zap.Error(err))
	}
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the store
func (s *RedisStore) Close() error {
	return s.client.Close()
}
