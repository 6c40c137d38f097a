package persistence

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/BaSui01/hitlflow/hitl"
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeDatabase StoreType = "database"
)

// Config selects and configures the registry backend.
type Config struct {
	Type      StoreType
	KeyPrefix string
	// AutoMigrate creates the table through GORM (database backend only).
	AutoMigrate bool
}

// Backends carries the shared connections a store may be built on.
type Backends struct {
	Redis redis.UniversalClient
	DB    *gorm.DB
}

// ParseStoreType normalizes a configured store type.
func ParseStoreType(s string) (StoreType, error) {
	switch t := StoreType(strings.ToLower(strings.TrimSpace(s))); t {
	case "", StoreTypeMemory:
		return StoreTypeMemory, nil
	case StoreTypeRedis, StoreTypeDatabase:
		return t, nil
	case "postgres", "mysql", "sqlite":
		return StoreTypeDatabase, nil
	default:
		return "", fmt.Errorf("unsupported store type: %s", s)
	}
}

// NewStore creates a hitl.Store based on the configuration
func NewStore(cfg Config, b Backends) (hitl.Store, error) {
	switch cfg.Type {
	case "", StoreTypeMemory:
		return hitl.NewMemoryStore(), nil
	case StoreTypeRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("redis store requires a redis client")
		}
		return NewRedisStore(b.Redis, cfg.KeyPrefix), nil
	case StoreTypeDatabase:
		if b.DB == nil {
			return nil, fmt.Errorf("database store requires a database connection")
		}
		if cfg.AutoMigrate {
			if err := AutoMigrate(b.DB); err != nil {
				return nil, fmt.Errorf("auto migrate hitl_suspensions: %w", err)
			}
		}
		return NewSQLStore(b.DB), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
