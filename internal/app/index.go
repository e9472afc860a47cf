package app

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/lealtad-backend/internal/codeindex"
	"github.com/angelmondragon/lealtad-backend/pkg/config"
	pkgredis "github.com/angelmondragon/lealtad-backend/pkg/redis"
)

// IndexStore returns the configured code index backend. The memory backend
// is private to one process; the redis backend is shared by every API
// instance and filled by the cron worker.
func IndexStore(cfg config.CodesConfig, client *pkgredis.Client) (codeindex.Store, error) {
	switch strings.ToLower(cfg.IndexBackend) {
	case config.IndexBackendMemory:
		return codeindex.NewMemoryStore(), nil
	case config.IndexBackendRedis:
		if client == nil {
			return nil, fmt.Errorf("redis client required for %s index backend", config.IndexBackendRedis)
		}
		store, err := codeindex.NewRedisStore(client, cfg.Step(), cfg.DriftSteps)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown code index backend %q", cfg.IndexBackend)
	}
}
