// Package auth resolves dynamic database credentials.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stacklok/facet-query-server/internal/app/storage/auth/aws"
	"github.com/stacklok/facet-query-server/internal/config"
)

var (
	errNoDatabaseConfig = errors.New("database configuration is required")
	errNoAuthMethod     = errors.New("dynamic auth is configured but no supported auth method (e.g., awsRdsIam) is specified")
)

// tokenSource mints short-lived passwords
type tokenSource interface {
	Token(ctx context.Context, user string) (string, error)
	BeforeConnect(user string) func(context.Context, *pgx.ConnConfig) error
}

func newTokenSource(ctx context.Context, cfg *config.DatabaseConfig) (tokenSource, error) {
	if cfg.DynamicAuth.AWSRDSIAM != nil {
		return aws.NewTokenSource(ctx, cfg)
	}
	return nil, errNoAuthMethod
}

// ResolveAuthToken returns a short-lived password for user, or an empty
// string when dynamic authentication is not configured.
func ResolveAuthToken(ctx context.Context, cfg *config.DatabaseConfig, user string) (string, error) {
	if cfg == nil {
		return "", errNoDatabaseConfig
	}
	if cfg.DynamicAuth == nil {
		return "", nil
	}

	src, err := newTokenSource(ctx, cfg)
	if err != nil {
		return "", err
	}
	return src.Token(ctx, user)
}

// NewDynamicAuth returns a pgx BeforeConnect hook that sets a fresh token as
// the password of every new pool connection for user.
func NewDynamicAuth(
	ctx context.Context,
	cfg *config.DatabaseConfig,
	user string,
) (func(context.Context, *pgx.ConnConfig) error, error) {
	if cfg == nil {
		return nil, errNoDatabaseConfig
	}
	if cfg.DynamicAuth == nil {
		return nil, fmt.Errorf("dynamic authentication is not configured")
	}

	src, err := newTokenSource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return src.BeforeConnect(user), nil
}
