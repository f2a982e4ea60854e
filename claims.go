package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the signed authorization snapshot carried by the
// claims cookie. It embeds role and permission data so low-sensitivity
// checks avoid a store lookup; the tradeoff is a revocation-lag window
// bounded by the claims TTL, which is why privileged operations must
// recheck the opaque access token.
type SessionClaims struct {
	jwt.RegisteredClaims
	UID         string   `json:"uid,omitempty"`
	OrgID       string   `json:"org,omitempty"`
	UnitID      string   `json:"unit,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// AccountID returns the subject account id.
func (c *SessionClaims) AccountID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

// HasPermission checks whether the claims carry the permission code.
func (c *SessionClaims) HasPermission(code string) bool {
	for _, p := range c.Permissions {
		if p == code {
			return true
		}
	}
	return false
}

// HasRole checks whether the claims carry the role id.
func (c *SessionClaims) HasRole(roleID string) bool {
	for _, r := range c.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// InOrganization checks the organization scope of the claims.
func (c *SessionClaims) InOrganization(orgID string) bool {
	return c.OrgID != "" && c.OrgID == orgID
}

// Authorization reconstructs the authorization snapshot from the claims.
func (c *SessionClaims) Authorization() Authorization {
	return Authorization{
		OrganizationID: c.OrgID,
		UnitID:         c.UnitID,
		RoleIDs:        c.Roles,
		Permissions:    c.Permissions,
	}
}

// Expires returns the expiration time, zero when unset.
func (c *SessionClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedTime returns the issued-at time, zero when unset.
func (c *SessionClaims) IssuedTime() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
