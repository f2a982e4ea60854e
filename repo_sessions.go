package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type sessions struct {
	db *bun.DB
}

var _ Sessions = (*sessions)(nil)

func NewSessionsRepository(db *bun.DB) Sessions {
	return &sessions{db: db}
}

func (s *sessions) Create(ctx context.Context, session *Session) (*Session, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if _, err := s.db.NewInsert().Model(session).Exec(ctx); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *sessions) GetByAccessHash(ctx context.Context, hash string) (*Session, error) {
	return s.getByHash(ctx, "access_hash", hash)
}

func (s *sessions) GetByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	return s.getByHash(ctx, "refresh_hash", hash)
}

func (s *sessions) GetByPreviousRefreshHash(ctx context.Context, hash string) (*Session, error) {
	return s.getByHash(ctx, "previous_refresh_hash", hash)
}

func (s *sessions) getByHash(ctx context.Context, column, hash string) (*Session, error) {
	record := &Session{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias."+column+" = ?", hash).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}
	return record, nil
}

func (s *sessions) TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.NewUpdate().
		Model((*Session)(nil)).
		Set("last_activity_at = ?", at).
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}

// RotateTokens is a single conditional update: it only matches while the
// presented refresh hash is still current and the session is unrevoked,
// so a replayed token changes zero rows.
func (s *sessions) RotateTokens(ctx context.Context, id uuid.UUID, currentRefreshHash, newAccessHash, newRefreshHash string, accessExpiresAt, at time.Time) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*Session)(nil)).
		Set("access_hash = ?", newAccessHash).
		Set("previous_refresh_hash = ?", currentRefreshHash).
		Set("refresh_hash = ?", newRefreshHash).
		Set("access_expires_at = ?", accessExpiresAt).
		Set("last_activity_at = ?", at).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.refresh_hash = ?", currentRefreshHash).
		Where("?TableAlias.revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *sessions) Revoke(ctx context.Context, id uuid.UUID, revokedBy *uuid.UUID, reason string, at time.Time) (bool, error) {
	var flipped bool
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*Session)(nil)).
			Set("revoked_at = ?", at).
			Where("?TableAlias.id = ?", id).
			Where("?TableAlias.revoked_at IS NULL").
			Exec(ctx)
		if err != nil {
			return err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		flipped = true
		return insertRevocations(ctx, tx, []uuid.UUID{id}, revokedBy, reason, at)
	})
	if err != nil {
		return false, err
	}
	return flipped, nil
}

func (s *sessions) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID, revokedBy *uuid.UUID, reason string, at time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewUpdate().
			Model((*Session)(nil)).
			Set("revoked_at = ?", at).
			Where("?TableAlias.account_id = ?", accountID).
			Where("?TableAlias.revoked_at IS NULL").
			Returning("id").
			Scan(ctx, &ids)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				ids = nil
				return nil
			}
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		return insertRevocations(ctx, tx, ids, revokedBy, reason, at)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *sessions) ListActive(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*Session, error) {
	var records []*Session
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.account_id = ?", accountID).
		Where("?TableAlias.revoked_at IS NULL").
		Where("?TableAlias.access_expires_at > ?", now).
		OrderExpr("?TableAlias.last_activity_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *sessions) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var ids []uuid.UUID
		err := tx.NewUpdate().
			Model((*Session)(nil)).
			Set("revoked_at = ?", now).
			Where("?TableAlias.refresh_expires_at <= ?", now).
			Where("?TableAlias.revoked_at IS NULL").
			Returning("id").
			Scan(ctx, &ids)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return nil
			}
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		count = len(ids)
		return insertRevocations(ctx, tx, ids, nil, RevocationReasonExpired, now)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func insertRevocations(ctx context.Context, tx bun.IDB, sessionIDs []uuid.UUID, revokedBy *uuid.UUID, reason string, at time.Time) error {
	rows := make([]*SessionRevocation, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		rows = append(rows, &SessionRevocation{
			ID:        uuid.New(),
			SessionID: id,
			RevokedBy: revokedBy,
			Reason:    reason,
			CreatedAt: &at,
		})
	}

	_, err := tx.NewInsert().Model(&rows).Exec(ctx)
	return err
}
