package security

import (
	"context"
	"errors"
	"fmt"

	"chart-gateway/internal/model"
)

// ErrVaultNotConfigured is returned for encrypted passwords when no master key is set
var ErrVaultNotConfigured = errors.New("credential vault is not configured")

// CredentialResolver turns a data source's auth settings into the password
// used to open its connections
type CredentialResolver struct {
	vault     *CredentialVault
	iam       *RDSIAMAuthenticator
	rotations *TokenManager
}

// NewCredentialResolver creates a resolver. vault and iam may be nil when
// the corresponding auth mode is not in use.
func NewCredentialResolver(vault *CredentialVault, iam *RDSIAMAuthenticator) *CredentialResolver {
	return &CredentialResolver{vault: vault, iam: iam}
}

// WithRotation registers every issued IAM token with tm so the source is
// recycled before the token expires
func (r *CredentialResolver) WithRotation(tm *TokenManager) *CredentialResolver {
	r.rotations = tm
	return r
}

// Password returns the connection password for ds
func (r *CredentialResolver) Password(ctx context.Context, ds *model.DataSource) (string, error) {
	cfg := ds.Config

	switch cfg.AuthMode {
	case "", model.AuthModePassword:
		return cfg.Password, nil

	case model.AuthModeEncrypted:
		if r.vault == nil {
			return "", ErrVaultNotConfigured
		}
		plaintext, err := r.vault.DecryptCredentials(cfg.Password)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt password for %s: %w", ds.Name, err)
		}
		return string(plaintext), nil

	case model.AuthModeRDSIAM:
		if r.iam == nil {
			return "", fmt.Errorf("IAM authentication is not configured")
		}
		port := cfg.Port
		if port == 0 {
			port = defaultIAMPort(ds.Type)
		}
		token, expiresAt, err := r.iam.GetAuthTokenWithExpiry(ctx, cfg.Host, port, cfg.Region, cfg.Username)
		if err != nil {
			return "", err
		}
		if r.rotations != nil {
			r.rotations.RegisterToken(ds.Name, expiresAt)
		}
		return token, nil

	default:
		return "", fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// EncryptPassword seals a password for storage with AuthModeEncrypted
func (r *CredentialResolver) EncryptPassword(password string) (string, error) {
	if r.vault == nil {
		return "", ErrVaultNotConfigured
	}
	return r.vault.EncryptCredentials([]byte(password))
}

func defaultIAMPort(dbType model.DatabaseType) int {
	switch dbType {
	case model.DatabaseTypePostgreSQL:
		return 5432
	default:
		return 3306
	}
}
