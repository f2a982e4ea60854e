package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Accounts() Accounts
	Sessions() Sessions
	Passwords() PasswordCredentials
	Passkeys() Passkeys
	PasskeyChallenges() PasskeyChallenges
	TOTPSecrets() TOTPSecrets
	PasswordResets() repository.Repository[*PasswordReset]
	Federated() ResolverStore
	Authorization() AuthorizationStore
}

func NewPasswordResetsRepository(db *bun.DB) repository.Repository[*PasswordReset] {
	handlers := repository.ModelHandlers[*PasswordReset]{
		NewRecord: func() *PasswordReset {
			return &PasswordReset{}
		},
		GetID: func(record *PasswordReset) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *PasswordReset, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "email"
		},
	}
	return repository.NewRepository(db, handlers)
}

type mngr struct {
	db            *bun.DB
	accounts      Accounts
	sessions      Sessions
	passwords     PasswordCredentials
	passkeys      Passkeys
	challenges    PasskeyChallenges
	totpSecrets   TOTPSecrets
	resets        repository.Repository[*PasswordReset]
	federated     ResolverStore
	authorization AuthorizationStore
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	accounts := NewAccountsRepository(db)
	return &mngr{
		db:            db,
		accounts:      accounts,
		sessions:      NewSessionsRepository(db),
		passwords:     NewPasswordCredentialsRepository(db),
		passkeys:      NewPasskeysRepository(db),
		challenges:    NewPasskeyChallengesRepository(db),
		totpSecrets:   NewTOTPSecretsRepository(db),
		resets:        NewPasswordResetsRepository(db),
		federated:     NewFederatedStore(db, accounts),
		authorization: NewAuthorizationStore(db),
	}
}

func (m mngr) Validate() error {
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}

	if m.passwords == nil {
		return errors.New("repository passwords should be initialized")
	}

	if m.passkeys == nil || m.challenges == nil {
		return errors.New("repository passkeys should be initialized")
	}

	if m.totpSecrets == nil {
		return errors.New("repository totpSecrets should be initialized")
	}

	if m.resets == nil {
		return errors.New("repository passwordResets should be initialized")
	}

	if m.federated == nil {
		return errors.New("repository federated should be initialized")
	}

	if m.authorization == nil {
		return errors.New("repository authorization should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Accounts() Accounts                   { return m.accounts }
func (m mngr) Sessions() Sessions                   { return m.sessions }
func (m mngr) Passwords() PasswordCredentials       { return m.passwords }
func (m mngr) Passkeys() Passkeys                   { return m.passkeys }
func (m mngr) PasskeyChallenges() PasskeyChallenges { return m.challenges }
func (m mngr) TOTPSecrets() TOTPSecrets             { return m.totpSecrets }

func (m mngr) PasswordResets() repository.Repository[*PasswordReset] { return m.resets }
func (m mngr) Federated() ResolverStore             { return m.federated }
func (m mngr) Authorization() AuthorizationStore    { return m.authorization }
