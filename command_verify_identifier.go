package identity

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
)

type VerifyIdentifierMessage struct {
	Kind  IdentifierType `json:"type"`
	Value string         `json:"value"`
}

func (m VerifyIdentifierMessage) Type() string { return "account.verify_identifier" }

func (m VerifyIdentifierMessage) Validate() error {
	rules := []*validation.FieldRules{
		validation.Field(&m.Value, validation.Required),
	}
	if m.Kind == IdentifierEmail {
		rules = append(rules, validation.Field(&m.Value, is.Email))
	}
	if err := validation.ValidateStruct(&m, rules...); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid verification request")
	}
	return nil
}

// VerifyIdentifierHandler marks an identifier as verified after the host
// application confirmed ownership out of band.
type VerifyIdentifierHandler struct {
	repo   RepositoryManager
	logger Logger
}

func NewVerifyIdentifierHandler(repo RepositoryManager) *VerifyIdentifierHandler {
	return &VerifyIdentifierHandler{
		repo:   repo,
		logger: defLogger{},
	}
}

func (h *VerifyIdentifierHandler) WithLogger(logger Logger) *VerifyIdentifierHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *VerifyIdentifierHandler) Execute(ctx context.Context, event VerifyIdentifierMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during identifier verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyIdentifierHandler) execute(ctx context.Context, event VerifyIdentifierMessage) error {
	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	changed, err := h.repo.Accounts().MarkIdentifierVerified(ctx, event.Kind, event.Value)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark identifier verified")
	}

	if !changed {
		return goerrors.New("identifier not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound).
			WithMetadata(map[string]any{"type": event.Kind})
	}

	h.logger.Info("identifier verified", "type", event.Kind)
	return nil
}
