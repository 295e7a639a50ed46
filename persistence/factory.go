package persistence

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps carries the shared resources some backends need.
type Deps struct {
	// DB is required for StoreTypeDatabase.
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewStore creates a Store based on the configuration
func NewStore(ctx context.Context, config StoreConfig, deps Deps) (Store, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		return NewRedisStore(ctx, config.Redis, logger)
	case StoreTypeDatabase:
		if deps.DB == nil {
			return nil, fmt.Errorf("database store requires a database connection")
		}
		return NewGormStore(ctx, deps.DB, config.AutoMigrate, logger)
	case StoreTypeMongo:
		return NewMongoStore(ctx, config.Mongo, logger)
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", config.Type)
	}
}
