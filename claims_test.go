package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func sampleClaims() *SessionClaims {
	return &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "subject-id",
		},
		UID:         "account-id",
		OrgID:       "org-id",
		UnitID:      "unit-id",
		Roles:       []string{"role-a", "role-b"},
		Permissions: []string{"users.read", "users.write"},
	}
}

func TestClaimsAccountID(t *testing.T) {
	claims := sampleClaims()
	assert.Equal(t, "account-id", claims.AccountID())

	claims.UID = ""
	assert.Equal(t, "subject-id", claims.AccountID())
}

func TestClaimsHasPermission(t *testing.T) {
	claims := sampleClaims()
	assert.True(t, claims.HasPermission("users.read"))
	assert.False(t, claims.HasPermission("billing.read"))
	assert.False(t, claims.HasPermission(""))
}

func TestClaimsHasRole(t *testing.T) {
	claims := sampleClaims()
	assert.True(t, claims.HasRole("role-a"))
	assert.False(t, claims.HasRole("role-c"))
}

func TestClaimsInOrganization(t *testing.T) {
	claims := sampleClaims()
	assert.True(t, claims.InOrganization("org-id"))
	assert.False(t, claims.InOrganization("other-org"))

	claims.OrgID = ""
	assert.False(t, claims.InOrganization(""))
}

func TestClaimsAuthorization(t *testing.T) {
	authz := sampleClaims().Authorization()
	assert.Equal(t, "org-id", authz.OrganizationID)
	assert.Equal(t, "unit-id", authz.UnitID)
	assert.Equal(t, []string{"role-a", "role-b"}, authz.RoleIDs)
	assert.Equal(t, []string{"users.read", "users.write"}, authz.Permissions)
}

func TestClaimsTimes(t *testing.T) {
	claims := sampleClaims()
	assert.True(t, claims.Expires().IsZero())
	assert.True(t, claims.IssuedTime().IsZero())

	now := time.Now()
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(time.Hour))
	claims.IssuedAt = jwt.NewNumericDate(now)
	assert.Equal(t, now.Add(time.Hour).Unix(), claims.Expires().Unix())
	assert.Equal(t, now.Unix(), claims.IssuedTime().Unix())
}
