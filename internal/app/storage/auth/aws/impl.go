// Package aws mints AWS RDS IAM authentication tokens for PostgreSQL.
package aws

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"
	"github.com/jackc/pgx/v5"

	"github.com/stacklok/facet-query-server/internal/config"
)

const (
	// RegionDetect asks the instance metadata service for the region
	RegionDetect = "detect"

	imdsTimeout = 2 * time.Second
)

// regionDetector looks up the region the process runs in
type regionDetector func(ctx context.Context) (string, error)

// TokenSource mints IAM tokens for one database endpoint. The region and
// credential chain are resolved once; every token is signed afresh.
type TokenSource struct {
	endpoint    string
	region      string
	credentials aws.CredentialsProvider
}

// NewTokenSource resolves the region of cfg and loads the default AWS
// credential chain.
func NewTokenSource(ctx context.Context, cfg *config.DatabaseConfig) (*TokenSource, error) {
	if cfg.DynamicAuth == nil || cfg.DynamicAuth.AWSRDSIAM == nil {
		return nil, fmt.Errorf("AWS RDS IAM authentication is not configured")
	}

	region, err := resolveRegion(ctx, cfg.DynamicAuth.AWSRDSIAM.Region, detectRegion)
	if err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &TokenSource{
		endpoint:    net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		region:      region,
		credentials: awsCfg.Credentials,
	}, nil
}

// Region returns the resolved region
func (s *TokenSource) Region() string {
	return s.region
}

// Token signs a token that authenticates user. Tokens expire after 15 minutes.
func (s *TokenSource) Token(ctx context.Context, user string) (string, error) {
	token, err := auth.BuildAuthToken(ctx, s.endpoint, s.region, user, s.credentials)
	if err != nil {
		return "", fmt.Errorf("failed to build authentication token: %w", err)
	}
	return token, nil
}

// BeforeConnect returns a pgx hook that authenticates every new connection
// as user with a fresh token.
func (s *TokenSource) BeforeConnect(user string) func(context.Context, *pgx.ConnConfig) error {
	return func(ctx context.Context, connConfig *pgx.ConnConfig) error {
		token, err := s.Token(ctx, user)
		if err != nil {
			return err
		}
		connConfig.User = user
		connConfig.Password = token
		return nil
	}
}

func resolveRegion(ctx context.Context, configured string, detect regionDetector) (string, error) {
	switch configured {
	case "":
		return "", fmt.Errorf("AWS RDS IAM region is not configured")
	case RegionDetect:
		region, err := detect(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to get region from IMDS: %w", err)
		}
		if region == "" {
			return "", fmt.Errorf("IMDS returned an empty region")
		}
		return region, nil
	default:
		return configured, nil
	}
}

func detectRegion(ctx context.Context) (string, error) {
	client := imds.New(imds.Options{
		HTTPClient: &http.Client{Timeout: imdsTimeout},
	})
	out, err := client.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		return "", err
	}
	return out.Region, nil
}
