package identity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func membershipAt(accountID, orgID uuid.UUID, created time.Time) *Membership {
	return &Membership{
		ID:             uuid.New(),
		AccountID:      accountID,
		OrganizationID: orgID,
		CreatedAt:      &created,
	}
}

func TestRoleResolverResolve(t *testing.T) {
	store := newFakeAuthzStore()
	accountID := uuid.New()
	orgID := uuid.New()
	unitID := uuid.New()

	membership := membershipAt(accountID, orgID, time.Now())
	membership.UnitID = &unitID
	store.memberships[accountID] = []*Membership{membership}

	adminRole := uuid.New()
	viewerRole := uuid.New()
	store.roles[membership.ID] = []uuid.UUID{adminRole, viewerRole}
	store.codes[adminRole] = []string{"users.write", "users.read"}
	store.codes[viewerRole] = []string{"users.read", "reports.read"}

	authz, err := NewRoleResolver(store).Resolve(context.Background(), accountID.String())
	require.NoError(t, err)

	assert.Equal(t, orgID.String(), authz.OrganizationID)
	assert.Equal(t, unitID.String(), authz.UnitID)
	assert.ElementsMatch(t, []string{adminRole.String(), viewerRole.String()}, authz.RoleIDs)
	// union is de-duplicated and sorted
	assert.Equal(t, []string{"reports.read", "users.read", "users.write"}, authz.Permissions)
}

func TestRoleResolverNoMembership(t *testing.T) {
	authz, err := NewRoleResolver(newFakeAuthzStore()).Resolve(context.Background(), uuid.New().String())
	require.NoError(t, err)
	assert.Empty(t, authz.OrganizationID)
	assert.Empty(t, authz.RoleIDs)
	assert.Empty(t, authz.Permissions)
}

func TestRoleResolverMembershipWithoutRoles(t *testing.T) {
	store := newFakeAuthzStore()
	accountID := uuid.New()
	orgID := uuid.New()
	store.memberships[accountID] = []*Membership{membershipAt(accountID, orgID, time.Now())}

	authz, err := NewRoleResolver(store).Resolve(context.Background(), accountID.String())
	require.NoError(t, err)
	assert.Equal(t, orgID.String(), authz.OrganizationID)
	assert.Empty(t, authz.RoleIDs)
	assert.Empty(t, authz.Permissions)
}

func TestRoleResolverBadAccountID(t *testing.T) {
	_, err := NewRoleResolver(newFakeAuthzStore()).Resolve(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestMembershipSelectors(t *testing.T) {
	accountID := uuid.New()
	base := time.Now()

	oldOrg := uuid.New()
	newOrg := uuid.New()
	oldest := membershipAt(accountID, oldOrg, base.Add(-48*time.Hour))
	newest := membershipAt(accountID, newOrg, base)
	memberships := []*Membership{newest, oldest}

	assert.Equal(t, oldest, SelectOldestMembership()(memberships))
	assert.Equal(t, newest, SelectNewestMembership()(memberships))
	assert.Equal(t, oldest, SelectByOrganization(oldOrg)(memberships))
	assert.Nil(t, SelectByOrganization(uuid.New())(memberships))

	assert.Nil(t, SelectOldestMembership()(nil))
	assert.Nil(t, SelectNewestMembership()(nil))
}

func TestRoleResolverWithSelector(t *testing.T) {
	store := newFakeAuthzStore()
	accountID := uuid.New()

	firstOrg := uuid.New()
	secondOrg := uuid.New()
	first := membershipAt(accountID, firstOrg, time.Now().Add(-time.Hour))
	second := membershipAt(accountID, secondOrg, time.Now())
	store.memberships[accountID] = []*Membership{first, second}

	resolver := NewRoleResolver(store).WithSelector(SelectByOrganization(secondOrg))
	authz, err := resolver.Resolve(context.Background(), accountID.String())
	require.NoError(t, err)
	assert.Equal(t, secondOrg.String(), authz.OrganizationID)
}

func TestDedupeCodes(t *testing.T) {
	assert.Nil(t, dedupeCodes(nil))
	assert.Equal(t, []string{"a", "b"}, dedupeCodes([]string{"b", "a", "b", "a"}))
}
