package auth

import (
	"context"
	"fmt"

	"github.com/stacklok/facet-query-server/internal/config"
)

// MigrationConnectionString builds the connection string used by migrations
// and prime-db. It connects as the migration user with a dynamic auth token
// when one is configured, and with the static password otherwise.
func MigrationConnectionString(ctx context.Context, cfg *config.DatabaseConfig) (string, error) {
	if cfg == nil {
		return "", errNoDatabaseConfig
	}

	user := cfg.GetMigrationUser()

	if cfg.DynamicAuth == nil {
		password, err := cfg.GetPassword()
		if err != nil {
			return "", err
		}
		return cfg.BuildConnectionStringWithAuth(user, password), nil
	}

	token, err := ResolveAuthToken(ctx, cfg, user)
	if err != nil {
		return "", fmt.Errorf("failed to resolve auth token for migration user: %w", err)
	}

	return cfg.BuildConnectionStringWithAuth(user, token), nil
}
