package identity

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// AuthorizationStore is the storage surface behind permission resolution.
type AuthorizationStore interface {
	ListMemberships(ctx context.Context, accountID uuid.UUID) ([]*Membership, error)
	ListRoleIDs(ctx context.Context, membershipID uuid.UUID) ([]uuid.UUID, error)
	ListPermissionCodes(ctx context.Context, roleIDs []uuid.UUID) ([]string, error)
}

// MembershipSelector picks which membership drives role resolution when
// an account belongs to several organizations. "First found" was the
// original behavior; making the choice a strategy keeps it visible and
// replaceable.
type MembershipSelector func(memberships []*Membership) *Membership

// SelectOldestMembership picks the earliest created membership. This is
// the default and matches the original first-found behavior under a
// stable ordering.
func SelectOldestMembership() MembershipSelector {
	return func(memberships []*Membership) *Membership {
		if len(memberships) == 0 {
			return nil
		}
		oldest := memberships[0]
		for _, m := range memberships[1:] {
			if m.CreatedAt != nil && oldest.CreatedAt != nil && m.CreatedAt.Before(*oldest.CreatedAt) {
				oldest = m
			}
		}
		return oldest
	}
}

// SelectNewestMembership picks the most recently created membership.
func SelectNewestMembership() MembershipSelector {
	return func(memberships []*Membership) *Membership {
		if len(memberships) == 0 {
			return nil
		}
		newest := memberships[0]
		for _, m := range memberships[1:] {
			if m.CreatedAt != nil && newest.CreatedAt != nil && m.CreatedAt.After(*newest.CreatedAt) {
				newest = m
			}
		}
		return newest
	}
}

// SelectByOrganization picks the membership in a caller-specified
// organization, falling back to none.
func SelectByOrganization(orgID uuid.UUID) MembershipSelector {
	return func(memberships []*Membership) *Membership {
		for _, m := range memberships {
			if m.OrganizationID == orgID {
				return m
			}
		}
		return nil
	}
}

// RoleResolver computes the authorization snapshot for one account from
// its organizational memberships.
type RoleResolver struct {
	store    AuthorizationStore
	selector MembershipSelector
	logger   Logger
}

var _ PermissionResolver = (*RoleResolver)(nil)

// NewRoleResolver wires the resolver with the oldest-membership selector.
func NewRoleResolver(store AuthorizationStore) *RoleResolver {
	return &RoleResolver{
		store:    store,
		selector: SelectOldestMembership(),
		logger:   defLogger{},
	}
}

func (r *RoleResolver) WithSelector(selector MembershipSelector) *RoleResolver {
	if selector != nil {
		r.selector = selector
	}
	return r
}

func (r *RoleResolver) WithLogger(logger Logger) *RoleResolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Resolve derives org scope, role ids, and the de-duplicated union of
// permission codes for the selected membership. An account without any
// membership resolves to an empty snapshot; identity still authenticates.
func (r *RoleResolver) Resolve(ctx context.Context, accountID string) (Authorization, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return Authorization{}, ErrBadCredentials
	}

	memberships, err := r.store.ListMemberships(ctx, id)
	if err != nil {
		return Authorization{}, wrapInternal(err, "failed to list memberships")
	}

	membership := r.selector(memberships)
	if membership == nil {
		return Authorization{}, nil
	}

	roleIDs, err := r.store.ListRoleIDs(ctx, membership.ID)
	if err != nil {
		return Authorization{}, wrapInternal(err, "failed to list role assignments")
	}

	authz := Authorization{
		OrganizationID: membership.OrganizationID.String(),
	}
	if membership.UnitID != nil {
		authz.UnitID = membership.UnitID.String()
	}

	if len(roleIDs) == 0 {
		return authz, nil
	}

	for _, roleID := range roleIDs {
		authz.RoleIDs = append(authz.RoleIDs, roleID.String())
	}

	codes, err := r.store.ListPermissionCodes(ctx, roleIDs)
	if err != nil {
		return Authorization{}, wrapInternal(err, "failed to list permission codes")
	}

	authz.Permissions = dedupeCodes(codes)
	return authz, nil
}

func dedupeCodes(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
