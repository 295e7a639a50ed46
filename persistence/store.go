package persistence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/o3willard-AI/alcs-sub001/session"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrStoreClosed   = errors.New("store is closed")
	ErrInvalidInput  = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
	StoreTypeMongo    StoreType = "mongo"
)

// StoreConfig is the configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type" env:"TYPE"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis" env:"REDIS"`

	// Mongo configuration (only used when Type is "mongo")
	Mongo MongoStoreConfig `json:"mongo" yaml:"mongo" env:"MONGO"`

	// AutoMigrate creates the SQL tables on startup instead of relying on
	// `alcs migrate up`. Only used when Type is "database".
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	Host      string `json:"host" yaml:"host" env:"HOST"`
	Port      int    `json:"port" yaml:"port" env:"PORT"`
	Password  string `json:"password" yaml:"password" env:"PASSWORD"`
	DB        int    `json:"db" yaml:"db" env:"DB"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`
	TLS       bool   `json:"tls" yaml:"tls" env:"TLS"`
	// TTL expires settled sessions after this long; zero keeps them forever.
	TTL time.Duration `json:"ttl" yaml:"ttl" env:"TTL"`
}

// MongoStoreConfig contains MongoDB-specific configuration
type MongoStoreConfig struct {
	URI        string        `json:"uri" yaml:"uri" env:"URI"`
	Database   string        `json:"database" yaml:"database" env:"DATABASE"`
	Collection string        `json:"collection" yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: StoreTypeMemory,
		Redis: RedisStoreConfig{
			Host:      "localhost",
			Port:      6379,
			PoolSize:  10,
			KeyPrefix: "alcs:",
		},
		Mongo: MongoStoreConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "alcs",
			Collection: "sessions",
			Timeout:    10 * time.Second,
		},
	}
}

// ListFilter narrows List results. Sessions are returned newest first.
type ListFilter struct {
	States []session.State `json:"states,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store persists sessions. The orchestrator treats it as the only source of
// truth for session data and keeps nothing cached beyond the in-flight call.
type Store interface {
	// Create persists a fresh IDLE session. An empty id gets a generated one.
	Create(ctx context.Context, id string) (*session.Session, error)

	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*session.Session, error)

	// Update replaces the stored session. It returns ErrNotFound if the
	// session was never created.
	Update(ctx context.Context, s *session.Session) error

	// Delete removes a session. Deleting an unknown id returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// List returns sessions matching the filter.
	List(ctx context.Context, filter ListFilter) ([]*session.Session, error)

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error

	// Close closes the store and releases resources
	Close() error
}

// newSession builds the record Create persists.
func newSession(id string) *session.Session {
	return session.New(id, session.TaskSpec{}, 0, 0, time.Now().UTC())
}

func matchesStates(s *session.Session, states []session.State) bool {
	if len(states) == 0 {
		return true
	}
	for _, st := range states {
		if s.State == st {
			return true
		}
	}
	return false
}

// applyFilter filters, sorts newest first and paginates in memory.
func applyFilter(all []*session.Session, filter ListFilter) []*session.Session {
	out := make([]*session.Session, 0, len(all))
	for _, s := range all {
		if matchesStates(s, filter.States) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return paginate(out, filter.Offset, filter.Limit)
}

func paginate(in []*session.Session, offset, limit int) []*session.Session {
	if offset > 0 {
		if offset >= len(in) {
			return []*session.Session{}
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
