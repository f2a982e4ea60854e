package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

const passwordResetWindow = 24 * time.Hour

type FinalizePasswordResetMessage struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (p FinalizePasswordResetMessage) Type() string { return "account.password_reset_finalize" }

// FinalizePasswordResetHandler consumes a reset token, replaces the
// password credential, and revokes every live session for the account.
type FinalizePasswordResetHandler struct {
	repo     RepositoryManager
	hasher   PasswordHasher
	sessions *SessionManager
	logger   Logger
	now      func() time.Time
}

func NewFinalizePasswordResetHandler(repo RepositoryManager) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:   repo,
		hasher: Argon2Hasher{},
		logger: defLogger{},
		now:    time.Now,
	}
}

// WithSessionManager enables revocation of existing sessions after the
// credential changes.
func (h *FinalizePasswordResetHandler) WithSessionManager(sessions *SessionManager) *FinalizePasswordResetHandler {
	h.sessions = sessions
	return h
}

func (h *FinalizePasswordResetHandler) WithPasswordHasher(hasher PasswordHasher) *FinalizePasswordResetHandler {
	if hasher != nil {
		h.hasher = hasher
	}
	return h
}

func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) WithClock(now func() time.Time) *FinalizePasswordResetHandler {
	if now != nil {
		h.now = now
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	reset := &PasswordReset{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Only the digest is stored, so the presented token is hashed
		// before lookup.
		err := tx.NewSelect().
			Model(reset).
			Where("?TableAlias.token_hash = ?", HashOpaqueToken(event.Token)).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return goerrors.New("invalid or expired password reset token", goerrors.CategoryNotFound).
					WithCode(goerrors.CodeNotFound)
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
		}

		if reset.Status != ResetRequestedStatus {
			return goerrors.New("password reset token has already been used", goerrors.CategoryConflict).
				WithTextCode("TOKEN_ALREADY_USED")
		}

		if reset.CreatedAt == nil {
			return goerrors.New("password reset record is missing creation date", goerrors.CategoryInternal)
		}

		if h.now().Sub(*reset.CreatedAt) > passwordResetWindow {
			return goerrors.New("password reset token has expired", goerrors.CategoryValidation).
				WithTextCode(textCodeTokenExpired)
		}

		if reset.AccountID == nil {
			return goerrors.New("password reset record is not associated with an account", goerrors.CategoryInternal)
		}

		passwordHash, err := h.hasher.HashPassword(event.Password)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		if err := h.repo.Passwords().SetTx(ctx, tx, *reset.AccountID, passwordHash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update account password")
		}

		if _, err := h.repo.PasswordResets().UpdateTx(ctx, tx, MarkPasswordAsReset(reset.ID)); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password reset status")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	// A credential change invalidates every outstanding session.
	if h.sessions != nil && reset.AccountID != nil {
		if _, err := h.sessions.RevokeAll(ctx, *reset.AccountID, reset.AccountID, RevocationReasonSecurity); err != nil {
			h.logger.Error("failed to revoke sessions after password reset", "account", reset.AccountID, "error", err)
		}
	}

	return nil
}
