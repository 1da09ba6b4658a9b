package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"
)

// rdsTokenLifetime is how long a generated token is reused. RDS accepts a
// token for 15 minutes.
const rdsTokenLifetime = 10 * time.Minute

// AWSCredentials are optional static keys. When empty the default AWS
// credential chain (env, shared config, instance role) is used.
type AWSCredentials struct {
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// TokenBuilder signs an RDS IAM auth token
type TokenBuilder func(ctx context.Context, endpoint, region, dbUser string, creds aws.CredentialsProvider) (string, error)

// RDSIAMAuthenticator issues IAM database auth tokens for RDS MySQL and
// PostgreSQL data sources, caching one token per endpoint and user
type RDSIAMAuthenticator struct {
	static AWSCredentials
	build  TokenBuilder
	now    func() time.Time

	mu      sync.Mutex
	configs map[string]aws.Config
	tokens  map[string]cachedToken
}

type cachedToken struct {
	token      string
	expiration time.Time
}

// NewRDSIAMAuthenticator creates a new authenticator
func NewRDSIAMAuthenticator(static AWSCredentials) *RDSIAMAuthenticator {
	return &RDSIAMAuthenticator{
		static:  static,
		build:   buildAuthToken,
		now:     time.Now,
		configs: make(map[string]aws.Config),
		tokens:  make(map[string]cachedToken),
	}
}

func buildAuthToken(ctx context.Context, endpoint, region, dbUser string, creds aws.CredentialsProvider) (string, error) {
	return auth.BuildAuthToken(ctx, endpoint, region, dbUser, creds)
}

// GetAuthToken returns a token for dbUser at host:port in region
func (a *RDSIAMAuthenticator) GetAuthToken(ctx context.Context, host string, port int, region, dbUser string) (string, error) {
	token, _, err := a.GetAuthTokenWithExpiry(ctx, host, port, region, dbUser)
	return token, err
}

// GetAuthTokenWithExpiry also returns when the cached token stops being reused
func (a *RDSIAMAuthenticator) GetAuthTokenWithExpiry(ctx context.Context, host string, port int, region, dbUser string) (string, time.Time, error) {
	if host == "" || port == 0 {
		return "", time.Time{}, fmt.Errorf("host and port are required for IAM authentication")
	}
	if region == "" {
		return "", time.Time{}, fmt.Errorf("region is required for IAM authentication")
	}
	if dbUser == "" {
		return "", time.Time{}, fmt.Errorf("database user is required for IAM authentication")
	}

	endpoint := fmt.Sprintf("%s:%d", host, port)
	key := region + "|" + endpoint + "|" + dbUser

	a.mu.Lock()
	defer a.mu.Unlock()

	if cached, ok := a.tokens[key]; ok && a.now().Before(cached.expiration) {
		return cached.token, cached.expiration, nil
	}

	cfg, err := a.loadConfig(ctx, region)
	if err != nil {
		return "", time.Time{}, err
	}

	token, err := a.build(ctx, endpoint, region, dbUser, cfg.Credentials)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build auth token: %w", err)
	}

	cached := cachedToken{token: token, expiration: a.now().Add(rdsTokenLifetime)}
	a.tokens[key] = cached
	return token, cached.expiration, nil
}

// loadConfig loads the AWS config for region once. Callers hold a.mu.
func (a *RDSIAMAuthenticator) loadConfig(ctx context.Context, region string) (aws.Config, error) {
	if cfg, ok := a.configs[region]; ok {
		return cfg, nil
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if a.static.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			a.static.AccessKeyID, a.static.SecretAccessKey, a.static.SessionToken)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	a.configs[region] = cfg
	return cfg, nil
}

// Invalidate drops every cached token
func (a *RDSIAMAuthenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens = make(map[string]cachedToken)
}
