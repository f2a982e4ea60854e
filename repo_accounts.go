package identity

import (
	"context"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts is the accounts repository. It also satisfies AccountLookup
// for the passkey service. The generic repository stays an internal
// detail; every lookup callers need goes through uuid-typed methods, so
// the string-keyed generic surface is not part of the contract.
type Accounts interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByIdentifierValue(ctx context.Context, identType IdentifierType, value string) (*Account, error)
	GetByIdentifierValueTx(ctx context.Context, tx bun.IDB, identType IdentifierType, value string) (*Account, error)
	// CreateWithIdentifier inserts the account and its first identifier
	// in one transaction.
	CreateWithIdentifier(ctx context.Context, account *Account, identifier *Identifier) (*Account, error)
	CreateWithIdentifierTx(ctx context.Context, tx bun.IDB, account *Account, identifier *Identifier) (*Account, error)
	AddIdentifierTx(ctx context.Context, tx bun.IDB, identifier *Identifier) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus) (*Account, error)
	// MarkIdentifierVerified flips the verified flag on one identifier;
	// reports whether a row changed.
	MarkIdentifierVerified(ctx context.Context, identType IdentifierType, value string) (bool, error)
}

type accounts struct {
	repository.Repository[*Account]
	db *bun.DB
}

var (
	_ Accounts      = (*accounts)(nil)
	_ AccountLookup = (*accounts)(nil)
)

func NewAccountsRepository(db *bun.DB) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
	})

	return &accounts{
		Repository: repo,
		db:         db,
	}
}

func (a *accounts) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	record := &Account{}
	err := a.db.NewSelect().
		Model(record).
		Relation("Identifiers").
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"id": id.String()})
		}
		return nil, err
	}
	return record, nil
}

func (a *accounts) GetByIdentifierValue(ctx context.Context, identType IdentifierType, value string) (*Account, error) {
	return a.GetByIdentifierValueTx(ctx, a.db, identType, value)
}

func (a *accounts) GetByIdentifierValueTx(ctx context.Context, tx bun.IDB, identType IdentifierType, value string) (*Account, error) {
	record := &Account{}
	err := tx.NewSelect().
		Model(record).
		Relation("Identifiers").
		Join(`JOIN account_identifiers AS ident ON ident.account_id = ?TableAlias.id`).
		Where("ident.type = ?", identType).
		Where("ident.value = ?", value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"type":  identType,
					"value": value,
				})
		}
		return nil, err
	}
	return record, nil
}

func (a *accounts) CreateWithIdentifier(ctx context.Context, account *Account, identifier *Identifier) (*Account, error) {
	err := a.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := a.CreateWithIdentifierTx(ctx, tx, account, identifier)
		if err != nil {
			return err
		}
		*account = *created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (a *accounts) CreateWithIdentifierTx(ctx context.Context, tx bun.IDB, account *Account, identifier *Identifier) (*Account, error) {
	prepareAccountDefaults(account)

	created, err := a.Repository.CreateTx(ctx, tx, account)
	if err != nil {
		return nil, err
	}

	identifier.AccountID = created.ID
	if err := a.AddIdentifierTx(ctx, tx, identifier); err != nil {
		return nil, err
	}

	created.Identifiers = append(created.Identifiers, identifier)
	return created, nil
}

func (a *accounts) AddIdentifierTx(ctx context.Context, tx bun.IDB, identifier *Identifier) error {
	if identifier.ID == uuid.Nil {
		identifier.ID = uuid.New()
	}
	_, err := tx.NewInsert().Model(identifier).Exec(ctx)
	return err
}

func (a *accounts) UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus) (*Account, error) {
	record := &Account{
		ID:     id,
		Status: status,
	}
	return a.Repository.Update(ctx, record, repository.UpdateByID(id.String()))
}

func (a *accounts) MarkIdentifierVerified(ctx context.Context, identType IdentifierType, value string) (bool, error) {
	res, err := a.db.NewUpdate().
		Model((*Identifier)(nil)).
		Set("verified = ?", true).
		Where("?TableAlias.type = ?", identType).
		Where("?TableAlias.value = ?", value).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func prepareAccountDefaults(record *Account) {
	if record == nil {
		return
	}

	if record.Status == "" {
		record.Status = AccountStatusActive
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
