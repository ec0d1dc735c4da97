package persistence

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcouncil/internal/cache"
)

// NewSessionStore creates a SessionStore based on the configuration.
// The cache manager is only required for the redis backend.
func NewSessionStore(config StoreConfig, mgr *cache.Manager, logger *zap.Logger) (SessionStore, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemorySessionStore(), nil
	case StoreTypeFile:
		return NewFileSessionStore(config, logger)
	case StoreTypeRedis:
		return NewRedisSessionStore(mgr, logger)
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", config.Type)
	}
}
