package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountStatus is the lifecycle status of an account.
type AccountStatus = string

const (
	// AccountStatusActive allows the account to authenticate.
	AccountStatusActive AccountStatus = "active"
	// AccountStatusSuspended blocks authentication but keeps data.
	AccountStatusSuspended AccountStatus = "suspended"
	// AccountStatusDisabled is terminal; the account never authenticates again.
	AccountStatusDisabled AccountStatus = "disabled"
)

// Account is the internal identity record grouping credentials and sessions.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`
	ID            uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Status        AccountStatus `bun:"status,notnull" json:"status,omitempty"`
	CreatedAt     *time.Time    `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`

	Identifiers []*Identifier `bun:"rel:has-many,join:id=account_id" json:"identifiers,omitempty"`
}

// IdentifierType distinguishes the kinds of account identifiers.
type IdentifierType = string

const (
	IdentifierEmail    IdentifierType = "email"
	IdentifierPhone    IdentifierType = "phone"
	IdentifierUsername IdentifierType = "username"
)

// Identifier is an account-distinguishing value. (Type, Value) is unique
// across all accounts; email is the cross-credential linking key.
type Identifier struct {
	bun.BaseModel `bun:"table:account_identifiers,alias:ident"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID     uuid.UUID      `bun:"account_id,notnull,type:uuid" json:"account_id,omitempty"`
	Type          IdentifierType `bun:"type,notnull" json:"type,omitempty"`
	Value         string         `bun:"value,notnull" json:"value,omitempty"`
	Verified      bool           `bun:"verified,notnull" json:"verified,omitempty"`
}

// PasswordCredential stores the memory-hard password hash for an account.
// At most one row per account.
type PasswordCredential struct {
	bun.BaseModel `bun:"table:password_credentials,alias:pwc"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID     uuid.UUID `bun:"account_id,notnull,unique,type:uuid" json:"account_id,omitempty"`
	PasswordHash  string    `bun:"password_hash,notnull" json:"-"`
}

// Passkey is a registered WebAuthn credential. SignCount must strictly
// increase on every successful assertion or verification fails.
type Passkey struct {
	bun.BaseModel `bun:"table:passkeys,alias:pk"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID     uuid.UUID  `bun:"account_id,notnull,type:uuid" json:"account_id,omitempty"`
	CredentialID  string     `bun:"credential_id,notnull,unique" json:"credential_id,omitempty"`
	PublicKey     []byte     `bun:"public_key,notnull" json:"-"`
	SignCount     uint32     `bun:"sign_count,notnull" json:"sign_count,omitempty"`
	Transports    []string   `bun:"transports" json:"transports,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// TOTPSecret holds the authenticator secret under AES-GCM. Exactly one
// per account, written once during setup.
type TOTPSecret struct {
	bun.BaseModel `bun:"table:totp_secrets,alias:totp"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID     uuid.UUID  `bun:"account_id,notnull,unique,type:uuid" json:"account_id,omitempty"`
	Ciphertext    []byte     `bun:"ciphertext,notnull" json:"-"`
	Nonce         []byte     `bun:"nonce,notnull" json:"-"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// FederatedLink associates an account with an external provider subject.
// (Provider, SubjectID) is unique.
type FederatedLink struct {
	bun.BaseModel `bun:"table:federated_links,alias:fed"`
	ID            uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID     uuid.UUID      `bun:"account_id,notnull,type:uuid" json:"account_id,omitempty"`
	Provider      string         `bun:"provider,notnull" json:"provider,omitempty"`
	SubjectID     string         `bun:"subject_id,notnull" json:"subject_id,omitempty"`
	Profile       map[string]any `bun:"profile,type:jsonb" json:"profile,omitempty"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Organization is a tenant grouping memberships and roles.
type Organization struct {
	bun.BaseModel `bun:"table:organizations,alias:org"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull" json:"name,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// OrganizationUnit is an optional subdivision of an organization.
type OrganizationUnit struct {
	bun.BaseModel  `bun:"table:organization_units,alias:unit"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	OrganizationID uuid.UUID  `bun:"organization_id,notnull,type:uuid" json:"organization_id,omitempty"`
	Name           string     `bun:"name,notnull" json:"name,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Membership ties an account to an organization and optionally a unit.
// An account may hold several; role resolution picks one via a
// MembershipSelector.
type Membership struct {
	bun.BaseModel  `bun:"table:organization_memberships,alias:mbr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID      uuid.UUID  `bun:"account_id,notnull,type:uuid" json:"account_id,omitempty"`
	OrganizationID uuid.UUID  `bun:"organization_id,notnull,type:uuid" json:"organization_id,omitempty"`
	UnitID         *uuid.UUID `bun:"organization_unit_id,nullzero,type:uuid" json:"organization_unit_id,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Role is a named bundle of permissions scoped to an organization or unit.
type Role struct {
	bun.BaseModel  `bun:"table:roles,alias:role"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	OrganizationID uuid.UUID  `bun:"organization_id,notnull,type:uuid" json:"organization_id,omitempty"`
	UnitID         *uuid.UUID `bun:"organization_unit_id,nullzero,type:uuid" json:"organization_unit_id,omitempty"`
	Name           string     `bun:"name,notnull" json:"name,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Permission is a grantable capability identified by a unique code.
type Permission struct {
	bun.BaseModel `bun:"table:permissions,alias:perm"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Code          string    `bun:"code,notnull,unique" json:"code,omitempty"`
	Description   string    `bun:"description" json:"description,omitempty"`
}

// RolePermission joins roles to permissions.
type RolePermission struct {
	bun.BaseModel `bun:"table:role_permissions,alias:rp"`
	RoleID        uuid.UUID `bun:"role_id,pk,type:uuid" json:"role_id,omitempty"`
	PermissionID  uuid.UUID `bun:"permission_id,pk,type:uuid" json:"permission_id,omitempty"`
}

// RoleAssignment joins memberships to roles.
type RoleAssignment struct {
	bun.BaseModel `bun:"table:role_assignments,alias:ra"`
	MembershipID  uuid.UUID `bun:"membership_id,pk,type:uuid" json:"membership_id,omitempty"`
	RoleID        uuid.UUID `bun:"role_id,pk,type:uuid" json:"role_id,omitempty"`
}

// Session is a revocable authentication session. Raw tokens are never
// stored; AccessHash and RefreshHash are SHA-256 digests of the opaque
// tokens handed to the client exactly once.
type Session struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID     uuid.UUID `bun:"account_id,notnull,type:uuid" json:"account_id,omitempty"`
	AccessHash    string    `bun:"access_hash,notnull,unique" json:"-"`
	RefreshHash   string    `bun:"refresh_hash,notnull,unique" json:"-"`
	// PreviousRefreshHash keeps the pre-rotation refresh digest so a
	// replayed old token is recognized as reuse instead of an unknown token.
	PreviousRefreshHash string     `bun:"previous_refresh_hash,nullzero" json:"-"`
	UserAgent           string     `bun:"user_agent" json:"user_agent,omitempty"`
	IPAddress           string     `bun:"ip_address" json:"ip_address,omitempty"`
	AccessExpiresAt     time.Time  `bun:"access_expires_at,notnull" json:"access_expires_at,omitempty"`
	RefreshExpiresAt    time.Time  `bun:"refresh_expires_at,notnull" json:"refresh_expires_at,omitempty"`
	RevokedAt           *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	CreatedAt           *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	LastActivityAt      *time.Time `bun:"last_activity_at,nullzero,default:current_timestamp" json:"last_activity_at,omitempty"`
}

// Revoked reports whether the session has been terminally revoked.
func (s *Session) Revoked() bool {
	return s != nil && s.RevokedAt != nil
}

// ActiveAt reports whether the session validates at the given instant.
func (s *Session) ActiveAt(t time.Time) bool {
	return s != nil && !s.Revoked() && t.Before(s.AccessExpiresAt)
}

// RefreshableAt reports whether the session can still be refreshed at
// the given instant.
func (s *Session) RefreshableAt(t time.Time) bool {
	return s != nil && !s.Revoked() && t.Before(s.RefreshExpiresAt)
}

// Revocation reasons recorded in the audit log.
const (
	RevocationReasonLogout       = "manual_logout"
	RevocationReasonAdminKick    = "admin_kick"
	RevocationReasonSecurity     = "security"
	RevocationReasonExpired      = "expired"
	RevocationReasonRefreshReuse = "refresh_reuse"
)

// SessionRevocation is an append-only audit record. Rows are never
// updated or deleted.
type SessionRevocation struct {
	bun.BaseModel `bun:"table:session_revocations,alias:rev"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	SessionID     uuid.UUID  `bun:"session_id,notnull,type:uuid" json:"session_id,omitempty"`
	RevokedBy     *uuid.UUID `bun:"revoked_by,nullzero,type:uuid" json:"revoked_by,omitempty"`
	Reason        string     `bun:"reason,notnull" json:"reason,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Password reset lifecycle statuses.
const (
	ResetRequestedStatus = "requested"
	ResetCompletedStatus = "completed"
)

// PasswordReset is a single-use, time-boxed request to replace an
// account's password credential.
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_resets,alias:pwr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID     *uuid.UUID `bun:"account_id,nullzero,type:uuid" json:"account_id,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	// TokenHash is the SHA-256 digest of the reset token; the raw token
	// is handed out once and never stored.
	TokenHash string     `bun:"token_hash,nullzero" json:"-"`
	Status    string     `bun:"status,notnull" json:"status,omitempty"`
	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// MarkPasswordAsReset builds the update record flipping a reset to
// completed.
func MarkPasswordAsReset(id uuid.UUID) *PasswordReset {
	now := time.Now()
	return &PasswordReset{
		ID:        id,
		Status:    ResetCompletedStatus,
		UpdatedAt: &now,
	}
}

// PasskeyChallenge stores server-side WebAuthn ceremony state keyed by an
// opaque challenge reference. Rows are one-time and TTL-swept.
type PasskeyChallenge struct {
	bun.BaseModel `bun:"table:passkey_challenges,alias:pkc"`
	ID            string     `bun:"id,pk" json:"id,omitempty"`
	Kind          string     `bun:"kind,notnull" json:"kind,omitempty"`
	AccountID     *uuid.UUID `bun:"account_id,nullzero,type:uuid" json:"account_id,omitempty"`
	SessionData   []byte     `bun:"session_data,notnull" json:"-"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}
