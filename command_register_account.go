package identity

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

type RegisterAccountMessage struct {
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	PhoneRegion string `json:"phone_region"`
	Password    string `json:"password"`
	UseHashid   bool
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

func (e RegisterAccountMessage) Validate() error {
	if err := validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(8, 128)),
	); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration request")
	}

	if e.Phone != "" {
		region := e.PhoneRegion
		if region == "" {
			region = "US"
		}
		parsed, err := phonenumbers.Parse(e.Phone, region)
		if err != nil || !phonenumbers.IsValidNumber(parsed) {
			return goerrors.New("invalid phone number", goerrors.CategoryValidation).
				WithMetadata(map[string]any{"phone": e.Phone})
		}
	}

	return nil
}

// RegisterAccountHandler creates an account, its email (and optional
// phone) identifiers, and a password credential in one transaction.
type RegisterAccountHandler struct {
	repo   RepositoryManager
	hasher PasswordHasher
	logger Logger
}

func NewRegisterAccountHandler(repo RepositoryManager) *RegisterAccountHandler {
	return &RegisterAccountHandler{
		repo:   repo,
		hasher: Argon2Hasher{},
		logger: defLogger{},
	}
}

func (h *RegisterAccountHandler) WithLogger(logger Logger) *RegisterAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterAccountHandler) WithPasswordHasher(hasher PasswordHasher) *RegisterAccountHandler {
	if hasher != nil {
		h.hasher = hasher
	}
	return h
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	hash, err := h.hasher.HashPassword(event.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	account := &Account{Status: AccountStatusActive}
	if event.UseHashid {
		if id, err := hashid.NewUUID(event.Email); err == nil {
			account.ID = id
		}
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		created, err := h.repo.Accounts().CreateWithIdentifierTx(ctx, tx, account, &Identifier{
			Type:  IdentifierEmail,
			Value: event.Email,
		})
		if err != nil {
			if IsConflict(err) {
				return ErrEmailAlreadyRegistered
			}
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create account")
		}

		if event.Phone != "" {
			if err := h.repo.Accounts().AddIdentifierTx(ctx, tx, &Identifier{
				AccountID: created.ID,
				Type:      IdentifierPhone,
				Value:     event.Phone,
			}); err != nil {
				if IsConflict(err) {
					return goerrors.New("phone already registered", goerrors.CategoryConflict)
				}
				return err
			}
		}

		return h.repo.Passwords().SetTx(ctx, tx, created.ID, hash)
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "account registration transaction failed")
	}

	h.logger.Info("account registered", "email", event.Email)
	return nil
}
