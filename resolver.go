package identity

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-repository-bun"
)

// FederatedProfile is an externally verified identity produced by the
// provider collaborator after its own redirect/token exchange. Core never
// speaks a provider wire protocol.
type FederatedProfile struct {
	Provider      string         `json:"provider"`
	SubjectID     string         `json:"subject_id"`
	Email         string         `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	Name          string         `json:"name,omitempty"`
	Raw           map[string]any `json:"raw,omitempty"`
}

// Validate checks the profile fields core depends on.
func (p FederatedProfile) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Provider, validation.Required),
		validation.Field(&p.SubjectID, validation.Required),
		validation.Field(&p.Email, is.Email),
	)
}

// Linking modes applied by LinkDecision.
const (
	LinkModeAutoCreate    = "auto_create"
	LinkModeEmailMatch    = "email_match"
	LinkModeRejectUnknown = "reject_unknown"
)

// LinkDecision controls resolution behavior for a single federated login.
type LinkDecision struct {
	Mode                 string
	AllowSignup          bool
	AllowLinking         bool
	RequireEmailVerified bool
}

// LinkingPolicy decides how a federated profile may join the account
// graph. Email-equality union is a global trust decision: an unverified
// provider email can take over an existing account, so the policy is an
// explicit, swappable value instead of implicit control flow.
type LinkingPolicy func(ctx context.Context, profile *FederatedProfile) (LinkDecision, error)

// PolicyAutoCreate links by verified email and signs up unknown profiles.
func PolicyAutoCreate() LinkingPolicy {
	return func(ctx context.Context, profile *FederatedProfile) (LinkDecision, error) {
		return LinkDecision{
			Mode:                 LinkModeAutoCreate,
			AllowSignup:          true,
			AllowLinking:         true,
			RequireEmailVerified: true,
		}, nil
	}
}

// PolicyEmailMatch links to existing verified-email accounts only; no signup.
func PolicyEmailMatch() LinkingPolicy {
	return func(ctx context.Context, profile *FederatedProfile) (LinkDecision, error) {
		return LinkDecision{
			Mode:                 LinkModeEmailMatch,
			AllowSignup:          false,
			AllowLinking:         true,
			RequireEmailVerified: true,
		}, nil
	}
}

// PolicyRejectUnknown only accepts profiles whose provider subject is
// already linked.
func PolicyRejectUnknown() LinkingPolicy {
	return func(ctx context.Context, profile *FederatedProfile) (LinkDecision, error) {
		return LinkDecision{
			Mode:                 LinkModeRejectUnknown,
			AllowSignup:          false,
			AllowLinking:         false,
			RequireEmailVerified: true,
		}, nil
	}
}

// ResolverStore is the transactional storage surface behind identity
// resolution. RepositoryManager implements it.
type ResolverStore interface {
	FindLink(ctx context.Context, provider, subjectID string) (*FederatedLink, error)
	FindAccountByIdentifier(ctx context.Context, identType IdentifierType, value string) (*Account, error)
	AccountByID(ctx context.Context, id string) (*Account, error)
	AttachLink(ctx context.Context, link *FederatedLink) error
	CreateAccountWithLink(ctx context.Context, account *Account, identifier *Identifier, link *FederatedLink) (*Account, error)
}

// ResolveOutcome describes what resolution did, for audit logging.
type ResolveOutcome struct {
	Account   *Account
	IsNewUser bool
	Linked    bool
}

// IdentityResolver maps a verified federated profile to exactly one
// account, creating or linking as the policy allows.
type IdentityResolver struct {
	store  ResolverStore
	policy LinkingPolicy
	logger Logger
}

// NewIdentityResolver wires the resolver with the default auto-create policy.
func NewIdentityResolver(store ResolverStore) *IdentityResolver {
	return &IdentityResolver{
		store:  store,
		policy: PolicyAutoCreate(),
		logger: defLogger{},
	}
}

func (r *IdentityResolver) WithPolicy(policy LinkingPolicy) *IdentityResolver {
	if policy != nil {
		r.policy = policy
	}
	return r
}

func (r *IdentityResolver) WithLogger(logger Logger) *IdentityResolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Resolve returns the account for a verified profile. Resolution order:
// existing federated link wins, then email identifier union (policy
// permitting), then signup (policy permitting). Re-resolving the same
// (provider, subject) always yields the same account with no duplicate
// rows.
func (r *IdentityResolver) Resolve(ctx context.Context, profile *FederatedProfile) (*ResolveOutcome, error) {
	if profile == nil {
		return nil, ErrBadCredentials
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	decision, err := r.policy(ctx, profile)
	if err != nil {
		return nil, err
	}

	if decision.RequireEmailVerified && !profile.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	existing, err := r.store.FindLink(ctx, profile.Provider, profile.SubjectID)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, wrapInternal(err, "failed to find federated link")
	}
	if existing != nil {
		account, err := r.store.AccountByID(ctx, existing.AccountID.String())
		if err != nil {
			return nil, wrapInternal(err, "failed to load linked account")
		}
		return &ResolveOutcome{Account: account}, nil
	}

	email := strings.ToLower(strings.TrimSpace(profile.Email))

	if email != "" && decision.Mode != LinkModeRejectUnknown {
		account, err := r.store.FindAccountByIdentifier(ctx, IdentifierEmail, email)
		if err != nil && !repository.IsRecordNotFound(err) {
			return nil, wrapInternal(err, "failed to find account by email")
		}
		if account != nil {
			if !decision.AllowLinking {
				return nil, ErrLinkingNotAllowed
			}
			if err := r.store.AttachLink(ctx, r.newLink(account, profile)); err != nil {
				return nil, wrapInternal(err, "failed to attach federated link")
			}
			r.logger.Info("federated link attached", "provider", profile.Provider, "account", account.ID)
			return &ResolveOutcome{Account: account, Linked: true}, nil
		}
	}

	if decision.Mode == LinkModeEmailMatch || decision.Mode == LinkModeRejectUnknown {
		return nil, ErrSignupNotAllowed
	}
	if !decision.AllowSignup {
		return nil, ErrSignupNotAllowed
	}

	account := &Account{Status: AccountStatusActive}
	identifier := &Identifier{
		Type:     IdentifierEmail,
		Value:    email,
		Verified: profile.EmailVerified,
	}

	created, err := r.store.CreateAccountWithLink(ctx, account, identifier, r.newLink(account, profile))
	if err != nil {
		return nil, wrapInternal(err, "failed to create account")
	}

	r.logger.Info("account created from federated profile", "provider", profile.Provider, "account", created.ID)
	return &ResolveOutcome{Account: created, IsNewUser: true}, nil
}

func (r *IdentityResolver) newLink(account *Account, profile *FederatedProfile) *FederatedLink {
	return &FederatedLink{
		AccountID: account.ID,
		Provider:  profile.Provider,
		SubjectID: profile.SubjectID,
		Profile:   profile.Raw,
	}
}
