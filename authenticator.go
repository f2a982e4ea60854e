package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// AccountRegistrar is the slice of the accounts repository the
// authenticator needs: lookups for login, creation for registration.
type AccountRegistrar interface {
	AccountLookup
	CreateWithIdentifierTx(ctx context.Context, tx bun.IDB, account *Account, identifier *Identifier) (*Account, error)
}

// Auther orchestrates the full authentication pipeline: credential
// verification, identity resolution, permission resolution, session
// issuance, and claims signing. Every successful entry point returns an
// AuthResult carrying the raw token material exactly once.
type Auther struct {
	accounts    AccountRegistrar
	passwords   PasswordCredentials
	hasher      PasswordHasher
	resolver    *IdentityResolver
	permissions PermissionResolver
	sessions    *SessionManager
	passkeys    *PasskeyService
	tokens      TokenService
	tx          repository.TransactionManager
	claimsTTL   time.Duration
	logger      Logger
}

// NewAuthenticator wires the pipeline from its collaborators. Pass nil
// for passkeys or resolver when those credential types are not offered;
// the corresponding entry points then fail closed.
func NewAuthenticator(repos RepositoryManager, tokens TokenService, cfg Config) *Auther {
	claimsTTL := cfg.GetClaimsTTL()
	if claimsTTL <= 0 {
		claimsTTL = 24 * time.Hour
	}

	return &Auther{
		accounts:    repos.Accounts(),
		passwords:   repos.Passwords(),
		hasher:      &Argon2Hasher{},
		resolver:    NewIdentityResolver(repos.Federated()),
		permissions: NewRoleResolver(repos.Authorization()),
		tokens:      tokens,
		tx:          repos,
		claimsTTL:   claimsTTL,
		logger:      defLogger{},
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Auther) WithSessionManager(sessions *SessionManager) *Auther {
	s.sessions = sessions
	return s
}

func (s *Auther) WithPasskeys(passkeys *PasskeyService) *Auther {
	s.passkeys = passkeys
	return s
}

func (s *Auther) WithPasswordHasher(hasher PasswordHasher) *Auther {
	if hasher != nil {
		s.hasher = hasher
	}
	return s
}

func (s *Auther) WithLinkingPolicy(policy LinkingPolicy) *Auther {
	s.resolver.WithPolicy(policy)
	return s
}

func (s *Auther) WithMembershipSelector(selector MembershipSelector) *Auther {
	if rr, ok := s.permissions.(*RoleResolver); ok {
		rr.WithSelector(selector)
	}
	return s
}

// WithClock threads a time source through every time-dependent
// collaborator. Set clocks before sessions or passkeys if those are
// wired later.
func (s *Auther) WithClock(now func() time.Time) *Auther {
	if now == nil {
		return s
	}
	if ts, ok := s.tokens.(*TokenServiceImpl); ok {
		ts.WithClock(now)
	}
	if s.sessions != nil {
		s.sessions.WithClock(now)
	}
	if s.passkeys != nil {
		s.passkeys.WithClock(now)
	}
	return s
}

// LoginWithPassword authenticates an email/password pair. Every failure
// along the way collapses into the uniform bad-credential error.
func (s *Auther) LoginWithPassword(ctx context.Context, email, password string, meta SessionMetadata) (*AuthResult, error) {
	account, err := s.accounts.GetByIdentifierValue(ctx, IdentifierEmail, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrBadCredentials
		}
		return nil, wrapInternal(err, "failed to look up account")
	}

	if account.Status != AccountStatusActive {
		s.logger.Debug("login blocked by account status", "account", account.ID, "status", account.Status)
		return nil, ErrBadCredentials
	}

	credential, err := s.passwords.GetByAccount(ctx, account.ID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrBadCredentials
		}
		return nil, wrapInternal(err, "failed to look up credential")
	}

	if err := s.hasher.ComparePasswordAndHash(password, credential.PasswordHash); err != nil {
		return nil, ErrBadCredentials
	}

	return s.completeLogin(ctx, account, meta)
}

// LoginWithFederated authenticates an externally verified provider
// profile, resolving it to exactly one account per the linking policy.
func (s *Auther) LoginWithFederated(ctx context.Context, profile *FederatedProfile, meta SessionMetadata) (*AuthResult, error) {
	outcome, err := s.resolver.Resolve(ctx, profile)
	if err != nil {
		return nil, err
	}

	account := outcome.Account
	if account.Status != AccountStatusActive {
		s.logger.Debug("federated login blocked by account status", "account", account.ID, "status", account.Status)
		return nil, ErrBadCredentials
	}

	return s.completeLogin(ctx, account, meta)
}

// LoginWithPasskey finishes a WebAuthn assertion ceremony started with
// the passkey service's BeginLogin.
func (s *Auther) LoginWithPasskey(ctx context.Context, email, challengeID string, responseJSON []byte, meta SessionMetadata) (*AuthResult, error) {
	if s.passkeys == nil {
		return nil, ErrBadCredentials
	}

	account, err := s.passkeys.FinishLogin(ctx, email, challengeID, responseJSON)
	if err != nil {
		return nil, err
	}

	if account.Status != AccountStatusActive {
		s.logger.Debug("passkey login blocked by account status", "account", account.ID, "status", account.Status)
		return nil, ErrBadCredentials
	}

	return s.completeLogin(ctx, account, meta)
}

// Refresh rotates the opaque token pair and reissues the signed claims
// token from a fresh authorization snapshot.
func (s *Auther) Refresh(ctx context.Context, refreshToken string, meta SessionMetadata) (*AuthResult, error) {
	if s.sessions == nil {
		return nil, ErrNoSession
	}

	pair, session, err := s.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	authz, err := s.permissions.Resolve(ctx, session.AccountID.String())
	if err != nil {
		return nil, err
	}

	claims, err := s.tokens.Generate(session.AccountID.String(), authz, s.claimsTTL)
	if err != nil {
		return nil, err
	}

	return &AuthResult{
		AccountID:   session.AccountID.String(),
		ClaimsToken: claims,
		Tokens:      pair,
		Session:     session,
		Authz:       authz,
	}, nil
}

// Logout revokes the session behind an opaque access token. Unknown
// tokens are a no-op; logout never fails on account of a missing session.
// An expired access token still revokes, so the paired refresh token
// cannot outlive a user-intended logout.
func (s *Auther) Logout(ctx context.Context, accessToken string) error {
	if s.sessions == nil || accessToken == "" {
		return nil
	}

	_, err := s.sessions.RevokeByAccessToken(ctx, accessToken, RevocationReasonLogout)
	return err
}

// Register creates an account with an email identifier and a password
// credential, then logs it in. Duplicate emails conflict.
func (s *Auther) Register(ctx context.Context, email, password string, meta SessionMetadata) (*AuthResult, error) {
	if _, err := s.accounts.GetByIdentifierValue(ctx, IdentifierEmail, email); err == nil {
		return nil, ErrEmailAlreadyRegistered
	} else if !repository.IsRecordNotFound(err) {
		return nil, wrapInternal(err, "failed to look up account")
	}

	hash, err := s.hasher.HashPassword(password)
	if err != nil {
		return nil, wrapInternal(err, "failed to hash password")
	}

	account := &Account{Status: AccountStatusActive}
	identifier := &Identifier{Type: IdentifierEmail, Value: email}

	// Account, identifier, and credential land in one transaction so a
	// failed credential write cannot strand a passwordless account.
	err = s.runInTx(ctx, func(ctx context.Context, tx bun.IDB) error {
		created, err := s.accounts.CreateWithIdentifierTx(ctx, tx, account, identifier)
		if err != nil {
			return err
		}
		account = created
		return s.passwords.SetTx(ctx, tx, created.ID, hash)
	})
	if err != nil {
		// Concurrent registration loses the unique-constraint race.
		if IsConflict(err) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, wrapInternal(err, "failed to register account")
	}

	s.logger.Info("account registered", "account", account.ID)

	return s.completeLogin(ctx, account, meta)
}

// ValidateSession authenticates an opaque access token and returns the
// live session.
func (s *Auther) ValidateSession(ctx context.Context, accessToken string) (*Session, error) {
	if s.sessions == nil {
		return nil, ErrNoSession
	}
	return s.sessions.Validate(ctx, accessToken)
}

// TokenService exposes the claims codec for middleware-style callers.
func (s *Auther) TokenService() TokenService {
	return s.tokens
}

// runInTx executes fn inside a store transaction when a transaction
// manager is wired; without one the writes run against the stores
// directly, which ignore the handle.
func (s *Auther) runInTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	if s.tx == nil {
		return fn(ctx, nil)
	}
	return s.tx.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

func (s *Auther) completeLogin(ctx context.Context, account *Account, meta SessionMetadata) (*AuthResult, error) {
	authz, err := s.permissions.Resolve(ctx, account.ID.String())
	if err != nil {
		return nil, err
	}

	var pair TokenPair
	var session *Session
	if s.sessions != nil {
		pair, session, err = s.sessions.Issue(ctx, account.ID, meta)
		if err != nil {
			return nil, err
		}
	}

	claims, err := s.tokens.Generate(account.ID.String(), authz, s.claimsTTL)
	if err != nil {
		return nil, err
	}

	s.logger.Info("login succeeded", "account", account.ID)

	return &AuthResult{
		AccountID:   account.ID.String(),
		ClaimsToken: claims,
		Tokens:      pair,
		Session:     session,
		Authz:       authz,
	}, nil
}
