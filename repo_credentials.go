package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PasswordCredentials stores at most one password hash per account.
type PasswordCredentials interface {
	GetByAccount(ctx context.Context, accountID uuid.UUID) (*PasswordCredential, error)
	// Set inserts or replaces the account's password hash.
	Set(ctx context.Context, accountID uuid.UUID, passwordHash string) error
	SetTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, passwordHash string) error
}

type passwordCredentials struct {
	db *bun.DB
}

var _ PasswordCredentials = (*passwordCredentials)(nil)

func NewPasswordCredentialsRepository(db *bun.DB) PasswordCredentials {
	return &passwordCredentials{db: db}
}

func (p *passwordCredentials) GetByAccount(ctx context.Context, accountID uuid.UUID) (*PasswordCredential, error) {
	record := &PasswordCredential{}
	err := p.db.NewSelect().
		Model(record).
		Where("?TableAlias.account_id = ?", accountID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"account_id": accountID.String()})
		}
		return nil, err
	}
	return record, nil
}

func (p *passwordCredentials) Set(ctx context.Context, accountID uuid.UUID, passwordHash string) error {
	return p.SetTx(ctx, p.db, accountID, passwordHash)
}

func (p *passwordCredentials) SetTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, passwordHash string) error {
	record := &PasswordCredential{
		ID:           uuid.New(),
		AccountID:    accountID,
		PasswordHash: passwordHash,
	}

	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (account_id) DO UPDATE").
		Set("password_hash = EXCLUDED.password_hash").
		Exec(ctx)
	return err
}

type totpSecrets struct {
	db *bun.DB
}

var _ TOTPSecrets = (*totpSecrets)(nil)

func NewTOTPSecretsRepository(db *bun.DB) TOTPSecrets {
	return &totpSecrets{db: db}
}

func (t *totpSecrets) GetByAccount(ctx context.Context, accountID uuid.UUID) (*TOTPSecret, error) {
	record := &TOTPSecret{}
	err := t.db.NewSelect().
		Model(record).
		Where("?TableAlias.account_id = ?", accountID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"account_id": accountID.String()})
		}
		return nil, err
	}
	return record, nil
}

func (t *totpSecrets) Create(ctx context.Context, secret *TOTPSecret) (*TOTPSecret, error) {
	if secret.ID == uuid.Nil {
		secret.ID = uuid.New()
	}
	// No ON CONFLICT clause: the unique constraint on account_id is the
	// exactly-once guarantee, and the service maps the violation.
	if _, err := t.db.NewInsert().Model(secret).Exec(ctx); err != nil {
		return nil, err
	}
	return secret, nil
}
