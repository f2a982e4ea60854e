package identity

import (
	"encoding/base64"
	"time"

	"github.com/caarlos0/env/v11"
	goerrors "github.com/goliatone/go-errors"
)

// EnvConfig implements Config from environment variables. The host
// application can provide its own Config; this covers the common
// deployment where secrets arrive through the process environment.
type EnvConfig struct {
	SigningKey          string        `env:"IDENTITY_SIGNING_KEY,required"`
	Issuer              string        `env:"IDENTITY_ISSUER" envDefault:"go-identity"`
	Audience            []string      `env:"IDENTITY_AUDIENCE" envSeparator:","`
	ClaimsTTL           time.Duration `env:"IDENTITY_CLAIMS_TTL" envDefault:"24h"`
	AccessTTL           time.Duration `env:"IDENTITY_ACCESS_TTL" envDefault:"24h"`
	RefreshTTL          time.Duration `env:"IDENTITY_REFRESH_TTL" envDefault:"720h"`
	RPID                string        `env:"IDENTITY_RP_ID" envDefault:"localhost"`
	RPDisplayName       string        `env:"IDENTITY_RP_DISPLAY_NAME" envDefault:"go-identity"`
	RPOrigins           []string      `env:"IDENTITY_RP_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	ChallengeTTL        time.Duration `env:"IDENTITY_CHALLENGE_TTL" envDefault:"5m"`
	SecretEncryptionKey string        `env:"IDENTITY_SECRET_ENCRYPTION_KEY,required"`
	TOTPIssuer          string        `env:"IDENTITY_TOTP_ISSUER" envDefault:"go-identity"`

	encryptionKey []byte
}

var _ Config = (*EnvConfig)(nil)

// NewEnvConfig parses and validates configuration from the environment.
func NewEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid identity configuration")
	}
	if err := cfg.decodeEncryptionKey(); err != nil {
		return nil, err
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, goerrors.New("refresh TTL must exceed access TTL", goerrors.CategoryValidation)
	}
	return cfg, nil
}

func (c *EnvConfig) decodeEncryptionKey() error {
	key, err := base64.StdEncoding.DecodeString(c.SecretEncryptionKey)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "secret encryption key must be base64")
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return goerrors.New("secret encryption key must be 16, 24, or 32 bytes", goerrors.CategoryValidation)
	}
	c.encryptionKey = key
	return nil
}

func (c *EnvConfig) GetSigningKey() string          { return c.SigningKey }
func (c *EnvConfig) GetIssuer() string              { return c.Issuer }
func (c *EnvConfig) GetAudience() []string          { return c.Audience }
func (c *EnvConfig) GetClaimsTTL() time.Duration    { return c.ClaimsTTL }
func (c *EnvConfig) GetAccessTTL() time.Duration    { return c.AccessTTL }
func (c *EnvConfig) GetRefreshTTL() time.Duration   { return c.RefreshTTL }
func (c *EnvConfig) GetRPID() string                { return c.RPID }
func (c *EnvConfig) GetRPDisplayName() string       { return c.RPDisplayName }
func (c *EnvConfig) GetRPOrigins() []string         { return c.RPOrigins }
func (c *EnvConfig) GetChallengeTTL() time.Duration { return c.ChallengeTTL }
func (c *EnvConfig) GetSecretEncryptionKey() []byte { return c.encryptionKey }
func (c *EnvConfig) GetTOTPIssuer() string          { return c.TOTPIssuer }
