package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type authorizationStore struct {
	db *bun.DB
}

var _ AuthorizationStore = (*authorizationStore)(nil)

func NewAuthorizationStore(db *bun.DB) AuthorizationStore {
	return &authorizationStore{db: db}
}

func (a *authorizationStore) ListMemberships(ctx context.Context, accountID uuid.UUID) ([]*Membership, error) {
	var records []*Membership
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.account_id = ?", accountID).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (a *authorizationStore) ListRoleIDs(ctx context.Context, membershipID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := a.db.NewSelect().
		Model((*RoleAssignment)(nil)).
		Column("role_id").
		Where("?TableAlias.membership_id = ?", membershipID).
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (a *authorizationStore) ListPermissionCodes(ctx context.Context, roleIDs []uuid.UUID) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	var codes []string
	err := a.db.NewSelect().
		Model((*Permission)(nil)).
		Column("code").
		Join(`JOIN role_permissions AS rp ON rp.permission_id = ?TableAlias.id`).
		Where("rp.role_id IN (?)", bun.In(roleIDs)).
		Scan(ctx, &codes)
	if err != nil {
		return nil, err
	}
	return codes, nil
}
