package identity

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds the options every service in the module reads. Concrete
// implementations live with the host application; EnvConfig is provided
// for the common case.
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetClaimsTTL() time.Duration
	GetAccessTTL() time.Duration
	GetRefreshTTL() time.Duration
	GetRPID() string
	GetRPDisplayName() string
	GetRPOrigins() []string
	GetChallengeTTL() time.Duration
	GetSecretEncryptionKey() []byte
	GetTOTPIssuer() string
}

// Authorization is the role/permission snapshot derived for one account
// at authentication time. An empty value is valid: identity authenticates
// even without any membership.
type Authorization struct {
	OrganizationID string   `json:"org,omitempty"`
	UnitID         string   `json:"unit,omitempty"`
	RoleIDs        []string `json:"roles,omitempty"`
	Permissions    []string `json:"permissions,omitempty"`
}

// SessionMetadata carries per-request client attributes attached to a
// session at issuance.
type SessionMetadata struct {
	UserAgent string
	IPAddress string
}

// TokenPair is the opaque token material returned to the caller exactly
// once. Neither value is recoverable afterwards.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AuthResult is the outcome of a successful authentication: the signed
// claims token, the opaque token pair, and the session metadata.
type AuthResult struct {
	AccountID   string
	ClaimsToken string
	Tokens      TokenPair
	Session     *Session
	Authz       Authorization
}

// TokenService signs and verifies the self-contained claims tokens.
type TokenService interface {
	Generate(accountID string, authz Authorization, ttl time.Duration) (string, error)
	Validate(raw string) (*SessionClaims, error)
}

// PermissionResolver computes the authorization snapshot for an account.
type PermissionResolver interface {
	Resolve(ctx context.Context, accountID string) (Authorization, error)
}

// PasswordHasher hashes and compares password credentials.
type PasswordHasher interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
