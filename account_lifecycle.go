package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	textCodeInvalidTransition = "INVALID_ACCOUNT_STATE_TRANSITION"
	textCodeTerminalState     = "TERMINAL_ACCOUNT_STATE"
)

// ErrInvalidTransition is returned when a requested status change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid account state transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when attempting to move away from the
// disabled status.
var ErrTerminalState = goerrors.New("account state is terminal", goerrors.CategoryConflict).
	WithTextCode(textCodeTerminalState).
	WithCode(goerrors.CodeConflict)

var accountTransitions = map[AccountStatus][]AccountStatus{
	AccountStatusActive:    {AccountStatusSuspended, AccountStatusDisabled},
	AccountStatusSuspended: {AccountStatusActive, AccountStatusDisabled},
	AccountStatusDisabled:  {},
}

// CanTransition reports whether the status change is permitted by the
// lifecycle table.
func CanTransition(from, to AccountStatus) bool {
	for _, allowed := range accountTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AccountStatusStore is the slice of the accounts repository the
// lifecycle needs.
type AccountStatusStore interface {
	UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus) (*Account, error)
}

// AccountLifecycle applies status transitions and retires sessions when
// an account leaves the active state.
type AccountLifecycle struct {
	accounts AccountStatusStore
	sessions *SessionManager
	logger   Logger
}

func NewAccountLifecycle(accounts AccountStatusStore) *AccountLifecycle {
	return &AccountLifecycle{
		accounts: accounts,
		logger:   defLogger{},
	}
}

// WithSessionManager enables session revocation on suspension and
// disablement.
func (l *AccountLifecycle) WithSessionManager(sessions *SessionManager) *AccountLifecycle {
	l.sessions = sessions
	return l
}

func (l *AccountLifecycle) WithLogger(logger Logger) *AccountLifecycle {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// Suspend blocks authentication for the account and revokes its live
// sessions.
func (l *AccountLifecycle) Suspend(ctx context.Context, account *Account, actor *uuid.UUID) (*Account, error) {
	return l.transition(ctx, account, AccountStatusSuspended, actor)
}

// Reinstate returns a suspended account to active.
func (l *AccountLifecycle) Reinstate(ctx context.Context, account *Account, actor *uuid.UUID) (*Account, error) {
	return l.transition(ctx, account, AccountStatusActive, actor)
}

// Disable is terminal; the account never authenticates again.
func (l *AccountLifecycle) Disable(ctx context.Context, account *Account, actor *uuid.UUID) (*Account, error) {
	return l.transition(ctx, account, AccountStatusDisabled, actor)
}

func (l *AccountLifecycle) transition(ctx context.Context, account *Account, target AccountStatus, actor *uuid.UUID) (*Account, error) {
	if account == nil {
		return nil, goerrors.New("account is required", goerrors.CategoryValidation)
	}

	from := account.Status
	if from == target {
		return account, nil
	}

	if from == AccountStatusDisabled {
		return nil, ErrTerminalState
	}

	if !CanTransition(from, target) {
		return nil, ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}

	updated, err := l.accounts.UpdateStatus(ctx, account.ID, target)
	if err != nil {
		return nil, wrapInternal(err, "failed to update account status")
	}

	if target != AccountStatusActive && l.sessions != nil {
		reason := RevocationReasonAdminKick
		if target == AccountStatusDisabled {
			reason = RevocationReasonSecurity
		}
		if _, err := l.sessions.RevokeAll(ctx, account.ID, actor, reason); err != nil {
			l.logger.Error("failed to revoke sessions on status change", "account", account.ID, "error", err)
		}
	}

	l.logger.Info("account status changed", "account", account.ID, "from", from, "to", target)
	return updated, nil
}
