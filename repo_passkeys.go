package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type passkeys struct {
	db *bun.DB
}

var _ Passkeys = (*passkeys)(nil)

func NewPasskeysRepository(db *bun.DB) Passkeys {
	return &passkeys{db: db}
}

func (p *passkeys) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*Passkey, error) {
	var records []*Passkey
	err := p.db.NewSelect().
		Model(&records).
		Where("?TableAlias.account_id = ?", accountID).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (p *passkeys) GetByCredentialID(ctx context.Context, credentialID string) (*Passkey, error) {
	record := &Passkey{}
	err := p.db.NewSelect().
		Model(record).
		Where("?TableAlias.credential_id = ?", credentialID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"credential_id": credentialID})
		}
		return nil, err
	}
	return record, nil
}

func (p *passkeys) Create(ctx context.Context, passkey *Passkey) (*Passkey, error) {
	if passkey.ID == uuid.Nil {
		passkey.ID = uuid.New()
	}
	if _, err := p.db.NewInsert().Model(passkey).Exec(ctx); err != nil {
		return nil, err
	}
	return passkey, nil
}

// BumpSignCount enforces the strictly-increasing counter at the row
// level so concurrent assertions cannot write a stale value.
func (p *passkeys) BumpSignCount(ctx context.Context, id uuid.UUID, newCount uint32) (bool, error) {
	res, err := p.db.NewUpdate().
		Model((*Passkey)(nil)).
		Set("sign_count = ?", newCount).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.sign_count < ?", newCount).
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

type passkeyChallenges struct {
	db *bun.DB
}

var _ PasskeyChallenges = (*passkeyChallenges)(nil)

func NewPasskeyChallengesRepository(db *bun.DB) PasskeyChallenges {
	return &passkeyChallenges{db: db}
}

func (p *passkeyChallenges) Save(ctx context.Context, challenge *PasskeyChallenge) error {
	_, err := p.db.NewInsert().Model(challenge).Exec(ctx)
	return err
}

// Consume deletes the challenge row and returns it, so a ceremony
// response can only ever be finished once.
func (p *passkeyChallenges) Consume(ctx context.Context, id, kind string, now time.Time) (*PasskeyChallenge, error) {
	record := &PasskeyChallenge{}
	err := p.db.NewDelete().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.kind = ?", kind).
		Where("?TableAlias.expires_at > ?", now).
		Returning("*").
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"challenge": id})
		}
		return nil, err
	}
	return record, nil
}

func (p *passkeyChallenges) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := p.db.NewDelete().
		Model((*PasskeyChallenge)(nil)).
		Where("?TableAlias.expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
