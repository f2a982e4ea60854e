package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type federatedStore struct {
	db       *bun.DB
	accounts Accounts
}

var _ ResolverStore = (*federatedStore)(nil)

func NewFederatedStore(db *bun.DB, accounts Accounts) ResolverStore {
	return &federatedStore{db: db, accounts: accounts}
}

func (f *federatedStore) FindLink(ctx context.Context, provider, subjectID string) (*FederatedLink, error) {
	record := &FederatedLink{}
	err := f.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", provider).
		Where("?TableAlias.subject_id = ?", subjectID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"provider": provider,
					"subject":  subjectID,
				})
		}
		return nil, err
	}
	return record, nil
}

func (f *federatedStore) FindAccountByIdentifier(ctx context.Context, identType IdentifierType, value string) (*Account, error) {
	return f.accounts.GetByIdentifierValue(ctx, identType, value)
}

func (f *federatedStore) AccountByID(ctx context.Context, id string) (*Account, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id})
	}
	return f.accounts.GetByID(ctx, parsed)
}

// AttachLink upserts on (provider, subject) so re-linking the same
// external identity is idempotent.
func (f *federatedStore) AttachLink(ctx context.Context, link *FederatedLink) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	_, err := f.db.NewInsert().
		Model(link).
		On("CONFLICT (provider, subject_id) DO UPDATE").
		Set("profile = EXCLUDED.profile").
		Exec(ctx)
	return err
}

func (f *federatedStore) CreateAccountWithLink(ctx context.Context, account *Account, identifier *Identifier, link *FederatedLink) (*Account, error) {
	var created *Account
	err := f.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		created, err = f.accounts.CreateWithIdentifierTx(ctx, tx, account, identifier)
		if err != nil {
			return err
		}

		link.AccountID = created.ID
		if link.ID == uuid.Nil {
			link.ID = uuid.New()
		}
		_, err = tx.NewInsert().Model(link).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
