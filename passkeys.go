package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// Passkeys is the storage surface for registered WebAuthn credentials.
type Passkeys interface {
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*Passkey, error)
	GetByCredentialID(ctx context.Context, credentialID string) (*Passkey, error)
	Create(ctx context.Context, passkey *Passkey) (*Passkey, error)
	// BumpSignCount persists the new counter only when it is strictly
	// greater than the stored one; it reports whether the row changed.
	BumpSignCount(ctx context.Context, id uuid.UUID, newCount uint32) (bool, error)
}

// PasskeyChallenges stores one-time server-side ceremony state.
type PasskeyChallenges interface {
	Save(ctx context.Context, challenge *PasskeyChallenge) error
	// Consume atomically loads and deletes a live challenge; expired or
	// missing challenges yield a not-found error.
	Consume(ctx context.Context, id, kind string, now time.Time) (*PasskeyChallenge, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// AccountLookup is the slice of the accounts repository the passkey
// service needs to locate candidates by email.
type AccountLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByIdentifierValue(ctx context.Context, identType IdentifierType, value string) (*Account, error)
}

// Ceremony kinds for stored challenges.
const (
	ceremonyRegistration = "registration"
	ceremonyLogin        = "login"
)

type passkeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

type passkeyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultPasskeyParser struct{}

func (defaultPasskeyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultPasskeyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// PasskeyService runs the server side of WebAuthn registration and
// authentication ceremonies. Challenges are scoped to the relying party,
// stored server-side, one-time, and TTL-bound.
type PasskeyService struct {
	provider     passkeyProvider
	parser       passkeyParser
	accounts     AccountLookup
	passkeys     Passkeys
	challenges   PasskeyChallenges
	challengeTTL time.Duration
	logger       Logger
	now          func() time.Time
}

// NewPasskeyService builds the WebAuthn provider from the relying-party
// configuration and wires the storage collaborators.
func NewPasskeyService(cfg Config, accounts AccountLookup, passkeys Passkeys, challenges PasskeyChallenges) (*PasskeyService, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.GetRPDisplayName(),
		RPID:          cfg.GetRPID(),
		RPOrigins:     cfg.GetRPOrigins(),
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid relying party configuration")
	}

	ttl := cfg.GetChallengeTTL()
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &PasskeyService{
		provider:     wa,
		parser:       defaultPasskeyParser{},
		accounts:     accounts,
		passkeys:     passkeys,
		challenges:   challenges,
		challengeTTL: ttl,
		logger:       defLogger{},
		now:          time.Now,
	}, nil
}

func (s *PasskeyService) WithLogger(logger Logger) *PasskeyService {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *PasskeyService) WithClock(now func() time.Time) *PasskeyService {
	if now != nil {
		s.now = now
	}
	return s
}

// PasskeyCeremony is handed to the browser collaborator: the public
// options JSON plus the opaque reference of the stored challenge.
type PasskeyCeremony struct {
	ChallengeID string
	OptionsJSON []byte
}

// BeginRegistration starts a registration ceremony for an already
// authenticated account. Existing credentials are excluded so the
// authenticator does not re-register.
func (s *PasskeyService) BeginRegistration(ctx context.Context, accountID uuid.UUID) (*PasskeyCeremony, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrBadCredentials
		}
		return nil, wrapInternal(err, "failed to load account")
	}

	user, err := s.loadWebauthnUser(ctx, account)
	if err != nil {
		return nil, err
	}

	opts := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
	}
	if len(user.credentials) > 0 {
		exclusions := make([]protocol.CredentialDescriptor, len(user.credentials))
		for i, cred := range user.credentials {
			exclusions[i] = protocol.CredentialDescriptor{
				Type:         protocol.PublicKeyCredentialType,
				CredentialID: cred.ID,
				Transport:    cred.Transport,
			}
		}
		opts = append(opts, webauthn.WithExclusions(exclusions))
	}

	creation, session, err := s.provider.BeginRegistration(user, opts...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to begin registration ceremony")
	}

	return s.storeCeremony(ctx, ceremonyRegistration, &account.ID, creation, session)
}

// FinishRegistration verifies the attestation against the stored
// challenge and persists the new credential with its initial counter.
func (s *PasskeyService) FinishRegistration(ctx context.Context, accountID uuid.UUID, challengeID string, responseJSON []byte) (*Passkey, error) {
	challenge, err := s.consumeCeremony(ctx, challengeID, ceremonyRegistration)
	if err != nil {
		return nil, err
	}
	if challenge.AccountID == nil || *challenge.AccountID != accountID {
		return nil, ErrChallengeExpired
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, wrapInternal(err, "failed to load account")
	}
	user, err := s.loadWebauthnUser(ctx, account)
	if err != nil {
		return nil, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(challenge.SessionData, &session); err != nil {
		return nil, wrapInternal(err, "failed to decode ceremony state")
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid credential response")
	}

	credential, err := s.provider.CreateCredential(user, session, parsed)
	if err != nil {
		s.logger.Error("passkey attestation verification failed", "account", accountID)
		return nil, ErrBadCredentials
	}

	record := &Passkey{
		AccountID:    account.ID,
		CredentialID: encodeCredentialID(credential.ID),
		PublicKey:    credential.PublicKey,
		SignCount:    credential.Authenticator.SignCount,
		Transports:   transportStrings(credential.Transport),
	}

	stored, err := s.passkeys.Create(ctx, record)
	if err != nil {
		return nil, wrapInternal(err, "failed to store passkey")
	}
	return stored, nil
}

// BeginLogin starts an authentication ceremony for the account behind an
// email identifier. It fails closed when the account has no passkeys.
func (s *PasskeyService) BeginLogin(ctx context.Context, email string) (*PasskeyCeremony, error) {
	account, err := s.accounts.GetByIdentifierValue(ctx, IdentifierEmail, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrBadCredentials
		}
		return nil, wrapInternal(err, "failed to load account")
	}

	user, err := s.loadWebauthnUser(ctx, account)
	if err != nil {
		return nil, err
	}
	if len(user.credentials) == 0 {
		return nil, ErrBadCredentials
	}

	assertion, session, err := s.provider.BeginLogin(user)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to begin login ceremony")
	}

	return s.storeCeremony(ctx, ceremonyLogin, &account.ID, assertion, session)
}

// FinishLogin verifies the signed assertion against the stored public
// key and challenge, enforces the strictly increasing signature counter,
// and persists the new counter.
func (s *PasskeyService) FinishLogin(ctx context.Context, email, challengeID string, responseJSON []byte) (*Account, error) {
	challenge, err := s.consumeCeremony(ctx, challengeID, ceremonyLogin)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByIdentifierValue(ctx, IdentifierEmail, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrBadCredentials
		}
		return nil, wrapInternal(err, "failed to load account")
	}
	if challenge.AccountID == nil || *challenge.AccountID != account.ID {
		return nil, ErrChallengeExpired
	}

	user, err := s.loadWebauthnUser(ctx, account)
	if err != nil {
		return nil, err
	}

	var session webauthn.SessionData
	if err := json.Unmarshal(challenge.SessionData, &session); err != nil {
		return nil, wrapInternal(err, "failed to decode ceremony state")
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid credential response")
	}

	credential, err := s.provider.ValidateLogin(user, session, parsed)
	if err != nil {
		s.logger.Error("passkey assertion verification failed", "account", account.ID)
		return nil, ErrBadCredentials
	}

	stored, err := s.passkeys.GetByCredentialID(ctx, encodeCredentialID(credential.ID))
	if err != nil {
		return nil, ErrBadCredentials
	}

	// A counter that fails to advance signals a cloned authenticator.
	if credential.Authenticator.CloneWarning || credential.Authenticator.SignCount <= stored.SignCount {
		s.logger.Error("passkey signature counter did not advance", "account", account.ID, "credential", stored.ID)
		return nil, ErrBadCredentials
	}

	bumped, err := s.passkeys.BumpSignCount(ctx, stored.ID, credential.Authenticator.SignCount)
	if err != nil {
		return nil, wrapInternal(err, "failed to persist signature counter")
	}
	if !bumped {
		// A concurrent assertion won the conditional update.
		return nil, ErrBadCredentials
	}

	return account, nil
}

// SweepChallenges removes expired ceremony state. Externally scheduled.
func (s *PasskeyService) SweepChallenges(ctx context.Context) (int, error) {
	return s.challenges.SweepExpired(ctx, s.now())
}

func (s *PasskeyService) storeCeremony(ctx context.Context, kind string, accountID *uuid.UUID, options any, session *webauthn.SessionData) (*PasskeyCeremony, error) {
	id, err := newChallengeID()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate challenge id")
	}

	state, err := json.Marshal(session)
	if err != nil {
		return nil, wrapInternal(err, "failed to encode ceremony state")
	}

	if err := s.challenges.Save(ctx, &PasskeyChallenge{
		ID:          id,
		Kind:        kind,
		AccountID:   accountID,
		SessionData: state,
		ExpiresAt:   s.now().Add(s.challengeTTL),
	}); err != nil {
		return nil, wrapInternal(err, "failed to store ceremony state")
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, wrapInternal(err, "failed to encode ceremony options")
	}

	return &PasskeyCeremony{ChallengeID: id, OptionsJSON: optionsJSON}, nil
}

func (s *PasskeyService) consumeCeremony(ctx context.Context, id, kind string) (*PasskeyChallenge, error) {
	if id == "" {
		return nil, ErrChallengeExpired
	}
	challenge, err := s.challenges.Consume(ctx, id, kind, s.now())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrChallengeExpired
		}
		return nil, wrapInternal(err, "failed to load ceremony state")
	}
	return challenge, nil
}

func (s *PasskeyService) loadWebauthnUser(ctx context.Context, account *Account) (*webauthnUser, error) {
	records, err := s.passkeys.ListByAccount(ctx, account.ID)
	if err != nil {
		return nil, wrapInternal(err, "failed to list passkeys")
	}

	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		credentialID, err := decodeCredentialID(record.CredentialID)
		if err != nil {
			return nil, wrapInternal(err, "failed to decode stored credential id")
		}
		credentials = append(credentials, webauthn.Credential{
			ID:        credentialID,
			PublicKey: record.PublicKey,
			Authenticator: webauthn.Authenticator{
				SignCount: record.SignCount,
			},
			Transport: transportValues(record.Transports),
		})
	}

	return &webauthnUser{account: account, credentials: credentials}, nil
}

// webauthnUser adapts an Account to the webauthn.User interface.
type webauthnUser struct {
	account     *Account
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.account.ID.String())
}

func (u *webauthnUser) WebAuthnName() string {
	return u.account.ID.String()
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	return u.account.ID.String()
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func encodeCredentialID(id []byte) string {
	return base64.RawURLEncoding.EncodeToString(id)
}

func decodeCredentialID(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(encoded)
}

func transportStrings(transports []protocol.AuthenticatorTransport) []string {
	if len(transports) == 0 {
		return nil
	}
	out := make([]string, len(transports))
	for i, t := range transports {
		out[i] = string(t)
	}
	return out
}

func transportValues(transports []string) []protocol.AuthenticatorTransport {
	if len(transports) == 0 {
		return nil
	}
	out := make([]protocol.AuthenticatorTransport, len(transports))
	for i, t := range transports {
		out[i] = protocol.AuthenticatorTransport(t)
	}
	return out
}

func newChallengeID() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
