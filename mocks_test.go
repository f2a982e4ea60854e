package identity

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type testConfig struct {
	signingKey    string
	issuer        string
	audience      []string
	claimsTTL     time.Duration
	accessTTL     time.Duration
	refreshTTL    time.Duration
	rpID          string
	rpDisplayName string
	rpOrigins     []string
	challengeTTL  time.Duration
	encryptionKey []byte
	totpIssuer    string
}

func newTestConfig() *testConfig {
	return &testConfig{
		signingKey:    "test-signing-key",
		issuer:        "identity-test",
		audience:      []string{"test-app"},
		claimsTTL:     24 * time.Hour,
		accessTTL:     24 * time.Hour,
		refreshTTL:    30 * 24 * time.Hour,
		rpID:          "localhost",
		rpDisplayName: "Identity Test",
		rpOrigins:     []string{"http://localhost:3000"},
		challengeTTL:  5 * time.Minute,
		encryptionKey: []byte("0123456789abcdef0123456789abcdef"),
		totpIssuer:    "identity-test",
	}
}

func (c *testConfig) GetSigningKey() string          { return c.signingKey }
func (c *testConfig) GetIssuer() string              { return c.issuer }
func (c *testConfig) GetAudience() []string          { return c.audience }
func (c *testConfig) GetClaimsTTL() time.Duration    { return c.claimsTTL }
func (c *testConfig) GetAccessTTL() time.Duration    { return c.accessTTL }
func (c *testConfig) GetRefreshTTL() time.Duration   { return c.refreshTTL }
func (c *testConfig) GetRPID() string                { return c.rpID }
func (c *testConfig) GetRPDisplayName() string       { return c.rpDisplayName }
func (c *testConfig) GetRPOrigins() []string         { return c.rpOrigins }
func (c *testConfig) GetChallengeTTL() time.Duration { return c.challengeTTL }
func (c *testConfig) GetSecretEncryptionKey() []byte { return c.encryptionKey }
func (c *testConfig) GetTOTPIssuer() string          { return c.totpIssuer }

// fakeSessions is an in-memory Sessions store mirroring the conditional
// update semantics of the SQL implementation.
type fakeSessions struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*Session
	revocations []*SessionRevocation
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[uuid.UUID]*Session{}}
}

func (f *fakeSessions) Create(ctx context.Context, session *Session) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	copied := *session
	f.sessions[session.ID] = &copied
	return session, nil
}

func (f *fakeSessions) GetByAccessHash(ctx context.Context, hash string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.AccessHash == hash {
			copied := *s
			return &copied, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeSessions) GetByRefreshHash(ctx context.Context, hash string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.RefreshHash == hash {
			copied := *s
			return &copied, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeSessions) GetByPreviousRefreshHash(ctx context.Context, hash string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.PreviousRefreshHash != "" && s.PreviousRefreshHash == hash {
			copied := *s
			return &copied, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeSessions) TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		s.LastActivityAt = &at
	}
	return nil
}

func (f *fakeSessions) RotateTokens(ctx context.Context, id uuid.UUID, currentRefreshHash, newAccessHash, newRefreshHash string, accessExpiresAt, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.RevokedAt != nil || s.RefreshHash != currentRefreshHash {
		return false, nil
	}
	s.AccessHash = newAccessHash
	s.PreviousRefreshHash = s.RefreshHash
	s.RefreshHash = newRefreshHash
	s.AccessExpiresAt = accessExpiresAt
	s.LastActivityAt = &at
	return true, nil
}

func (f *fakeSessions) Revoke(ctx context.Context, id uuid.UUID, revokedBy *uuid.UUID, reason string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.RevokedAt != nil {
		return false, nil
	}
	s.RevokedAt = &at
	f.revocations = append(f.revocations, &SessionRevocation{
		ID:        uuid.New(),
		SessionID: id,
		RevokedBy: revokedBy,
		Reason:    reason,
		CreatedAt: &at,
	})
	return true, nil
}

func (f *fakeSessions) RevokeAllForAccount(ctx context.Context, accountID uuid.UUID, revokedBy *uuid.UUID, reason string, at time.Time) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for _, s := range f.sessions {
		if s.AccountID == accountID && s.RevokedAt == nil {
			s.RevokedAt = &at
			ids = append(ids, s.ID)
			f.revocations = append(f.revocations, &SessionRevocation{
				ID:        uuid.New(),
				SessionID: s.ID,
				RevokedBy: revokedBy,
				Reason:    reason,
				CreatedAt: &at,
			})
		}
	}
	return ids, nil
}

func (f *fakeSessions) ListActive(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Session
	for _, s := range f.sessions {
		if s.AccountID == accountID && s.RevokedAt == nil && now.Before(s.AccessExpiresAt) {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeSessions) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, s := range f.sessions {
		if s.RevokedAt == nil && !now.Before(s.RefreshExpiresAt) {
			s.RevokedAt = &now
			count++
			f.revocations = append(f.revocations, &SessionRevocation{
				ID:        uuid.New(),
				SessionID: s.ID,
				Reason:    RevocationReasonExpired,
				CreatedAt: &now,
			})
		}
	}
	return count, nil
}

func (f *fakeSessions) revocationReasons(id uuid.UUID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.revocations {
		if r.SessionID == id {
			out = append(out, r.Reason)
		}
	}
	return out
}

// fakeAccounts implements AccountRegistrar.
type fakeAccounts struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*Account
	byIdent  map[string]uuid.UUID
	failWith error
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		byID:    map[uuid.UUID]*Account{},
		byIdent: map[string]uuid.UUID{},
	}
}

func identKey(identType IdentifierType, value string) string {
	return identType + ":" + value
}

func (f *fakeAccounts) add(account *Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	f.byID[account.ID] = account
	for _, ident := range account.Identifiers {
		f.byIdent[identKey(ident.Type, ident.Value)] = account.ID
	}
}

func (f *fakeAccounts) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if a, ok := f.byID[id]; ok {
		return a, nil
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeAccounts) GetByIdentifierValue(ctx context.Context, identType IdentifierType, value string) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	if id, ok := f.byIdent[identKey(identType, value)]; ok {
		return f.byID[id], nil
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeAccounts) UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byID[id]
	if !ok {
		return nil, repository.NewRecordNotFound()
	}
	a.Status = status
	return a, nil
}

func (f *fakeAccounts) CreateWithIdentifier(ctx context.Context, account *Account, identifier *Identifier) (*Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byIdent[identKey(identifier.Type, identifier.Value)]; ok {
		return nil, ErrEmailAlreadyRegistered
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	identifier.AccountID = account.ID
	account.Identifiers = append(account.Identifiers, identifier)
	f.byID[account.ID] = account
	f.byIdent[identKey(identifier.Type, identifier.Value)] = account.ID
	return account, nil
}

func (f *fakeAccounts) CreateWithIdentifierTx(ctx context.Context, tx bun.IDB, account *Account, identifier *Identifier) (*Account, error) {
	return f.CreateWithIdentifier(ctx, account, identifier)
}

// fakeTxManager satisfies repository.TransactionManager without a
// database; the callback runs immediately against the fakes.
type fakeTxManager struct{}

func (fakeTxManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(context.Context, bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

// fakePasswords implements PasswordCredentials without the Tx surface
// mattering; tests never pass a live transaction.
type fakePasswords struct {
	mu     sync.Mutex
	hashes map[uuid.UUID]string
}

func newFakePasswords() *fakePasswords {
	return &fakePasswords{hashes: map[uuid.UUID]string{}}
}

func (f *fakePasswords) GetByAccount(ctx context.Context, accountID uuid.UUID) (*PasswordCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash, ok := f.hashes[accountID]
	if !ok {
		return nil, repository.NewRecordNotFound()
	}
	return &PasswordCredential{AccountID: accountID, PasswordHash: hash}, nil
}

func (f *fakePasswords) Set(ctx context.Context, accountID uuid.UUID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes[accountID] = passwordHash
	return nil
}

func (f *fakePasswords) SetTx(ctx context.Context, tx bun.IDB, accountID uuid.UUID, passwordHash string) error {
	return f.Set(ctx, accountID, passwordHash)
}

// fakeResolverStore implements ResolverStore in memory.
type fakeResolverStore struct {
	mu       sync.Mutex
	accounts *fakeAccounts
	links    map[string]*FederatedLink
}

func newFakeResolverStore(accounts *fakeAccounts) *fakeResolverStore {
	return &fakeResolverStore{
		accounts: accounts,
		links:    map[string]*FederatedLink{},
	}
}

func linkKey(provider, subjectID string) string {
	return provider + ":" + subjectID
}

func (f *fakeResolverStore) FindLink(ctx context.Context, provider, subjectID string) (*FederatedLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.links[linkKey(provider, subjectID)]; ok {
		return l, nil
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeResolverStore) FindAccountByIdentifier(ctx context.Context, identType IdentifierType, value string) (*Account, error) {
	return f.accounts.GetByIdentifierValue(ctx, identType, value)
}

func (f *fakeResolverStore) AccountByID(ctx context.Context, id string) (*Account, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, repository.NewRecordNotFound()
	}
	return f.accounts.GetByID(ctx, parsed)
}

func (f *fakeResolverStore) AttachLink(ctx context.Context, link *FederatedLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[linkKey(link.Provider, link.SubjectID)] = link
	return nil
}

func (f *fakeResolverStore) CreateAccountWithLink(ctx context.Context, account *Account, identifier *Identifier, link *FederatedLink) (*Account, error) {
	created, err := f.accounts.CreateWithIdentifier(ctx, account, identifier)
	if err != nil {
		return nil, err
	}
	link.AccountID = created.ID
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[linkKey(link.Provider, link.SubjectID)] = link
	return created, nil
}

// fakeAuthzStore implements AuthorizationStore.
type fakeAuthzStore struct {
	memberships map[uuid.UUID][]*Membership
	roles       map[uuid.UUID][]uuid.UUID
	codes       map[uuid.UUID][]string
}

func newFakeAuthzStore() *fakeAuthzStore {
	return &fakeAuthzStore{
		memberships: map[uuid.UUID][]*Membership{},
		roles:       map[uuid.UUID][]uuid.UUID{},
		codes:       map[uuid.UUID][]string{},
	}
}

func (f *fakeAuthzStore) ListMemberships(ctx context.Context, accountID uuid.UUID) ([]*Membership, error) {
	return f.memberships[accountID], nil
}

func (f *fakeAuthzStore) ListRoleIDs(ctx context.Context, membershipID uuid.UUID) ([]uuid.UUID, error) {
	return f.roles[membershipID], nil
}

func (f *fakeAuthzStore) ListPermissionCodes(ctx context.Context, roleIDs []uuid.UUID) ([]string, error) {
	var out []string
	for _, id := range roleIDs {
		out = append(out, f.codes[id]...)
	}
	return out, nil
}

// fakeTOTPSecrets implements TOTPSecrets.
type fakeTOTPSecrets struct {
	mu      sync.Mutex
	secrets map[uuid.UUID]*TOTPSecret
}

func newFakeTOTPSecrets() *fakeTOTPSecrets {
	return &fakeTOTPSecrets{secrets: map[uuid.UUID]*TOTPSecret{}}
}

func (f *fakeTOTPSecrets) GetByAccount(ctx context.Context, accountID uuid.UUID) (*TOTPSecret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.secrets[accountID]; ok {
		return s, nil
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakeTOTPSecrets) Create(ctx context.Context, secret *TOTPSecret) (*TOTPSecret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.secrets[secret.AccountID]; ok {
		return nil, ErrTOTPAlreadyConfigured
	}
	if secret.ID == uuid.Nil {
		secret.ID = uuid.New()
	}
	f.secrets[secret.AccountID] = secret
	return secret, nil
}

// fakePasskeys implements Passkeys.
type fakePasskeys struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Passkey
}

func newFakePasskeys() *fakePasskeys {
	return &fakePasskeys{records: map[uuid.UUID]*Passkey{}}
}

func (f *fakePasskeys) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*Passkey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Passkey
	for _, p := range f.records {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePasskeys) GetByCredentialID(ctx context.Context, credentialID string) (*Passkey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.records {
		if p.CredentialID == credentialID {
			return p, nil
		}
	}
	return nil, repository.NewRecordNotFound()
}

func (f *fakePasskeys) Create(ctx context.Context, passkey *Passkey) (*Passkey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if passkey.ID == uuid.Nil {
		passkey.ID = uuid.New()
	}
	f.records[passkey.ID] = passkey
	return passkey, nil
}

func (f *fakePasskeys) BumpSignCount(ctx context.Context, id uuid.UUID, newCount uint32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[id]
	if !ok || p.SignCount >= newCount {
		return false, nil
	}
	p.SignCount = newCount
	return true, nil
}

// fakeChallenges implements PasskeyChallenges with one-time consumption.
type fakeChallenges struct {
	mu    sync.Mutex
	items map[string]*PasskeyChallenge
}

func newFakeChallenges() *fakeChallenges {
	return &fakeChallenges{items: map[string]*PasskeyChallenge{}}
}

func (f *fakeChallenges) Save(ctx context.Context, challenge *PasskeyChallenge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[challenge.ID] = challenge
	return nil
}

func (f *fakeChallenges) Consume(ctx context.Context, id, kind string, now time.Time) (*PasskeyChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.items[id]
	if !ok || c.Kind != kind || !now.Before(c.ExpiresAt) {
		return nil, repository.NewRecordNotFound()
	}
	delete(f.items, id)
	return c, nil
}

func (f *fakeChallenges) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for id, c := range f.items {
		if !now.Before(c.ExpiresAt) {
			delete(f.items, id)
			count++
		}
	}
	return count, nil
}
