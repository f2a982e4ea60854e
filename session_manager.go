package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Sessions is the storage surface behind the session manager. Conditional
// updates rely on the store's row-level atomicity; no in-process locking
// is required across instances.
type Sessions interface {
	Create(ctx context.Context, session *Session) (*Session, error)
	GetByAccessHash(ctx context.Context, hash string) (*Session, error)
	GetByRefreshHash(ctx context.Context, hash string) (*Session, error)
	// GetByPreviousRefreshHash finds the session whose refresh token was
	// rotated away from the given digest. Used for reuse detection.
	GetByPreviousRefreshHash(ctx context.Context, hash string) (*Session, error)
	TouchActivity(ctx context.Context, id uuid.UUID, at time.Time) error
	// RotateTokens conditionally swaps both token hashes for an
	// unrevoked session identified by its current refresh hash. It
	// reports whether the row changed, which is false when the refresh
	// hash was already rotated away (reuse).
	RotateTokens(ctx context.Context, id uuid.UUID, currentRefreshHash, newAccessHash, newRefreshHash string, accessExpiresAt, at time.Time) (bool, error)
	// Revoke flips revoked_at only when unset and appends the audit row
	// in the same transaction; reports whether the flag actually flipped.
	Revoke(ctx context.Context, id uuid.UUID, revokedBy *uuid.UUID, reason string, at time.Time) (bool, error)
	// RevokeAllForAccount is one transactional batch update; returns the
	// ids of sessions actually transitioned, each with its audit row.
	RevokeAllForAccount(ctx context.Context, accountID uuid.UUID, revokedBy *uuid.UUID, reason string, at time.Time) ([]uuid.UUID, error)
	ListActive(ctx context.Context, accountID uuid.UUID, now time.Time) ([]*Session, error)
	// SweepExpired revokes sessions past refresh expiry that were never
	// revoked, with one audit row each; returns the count processed.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

const opaqueTokenBytes = 32

// SessionManager issues, validates, rotates, and revokes opaque session
// token pairs. Raw tokens leave this type exactly once, at issuance and
// refresh; only SHA-256 hashes are ever persisted.
type SessionManager struct {
	sessions   Sessions
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     Logger
	now        func() time.Time

	// Collapses concurrent revocations of the same session so repeated
	// calls cannot race each other into the audit log.
	revokeGroup singleflight.Group
}

// NewSessionManager wires the manager with the configured TTLs. The
// refresh TTL must exceed the access TTL.
func NewSessionManager(sessions Sessions, cfg Config) (*SessionManager, error) {
	accessTTL := cfg.GetAccessTTL()
	refreshTTL := cfg.GetRefreshTTL()
	if accessTTL <= 0 {
		accessTTL = 24 * time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	if refreshTTL <= accessTTL {
		return nil, goerrors.New("refresh TTL must exceed access TTL", goerrors.CategoryValidation)
	}

	return &SessionManager{
		sessions:   sessions,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     defLogger{},
		now:        time.Now,
	}, nil
}

func (m *SessionManager) WithLogger(logger Logger) *SessionManager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	if now != nil {
		m.now = now
	}
	return m
}

// Issue creates a session with two independent high-entropy tokens and
// returns the raw values exactly once. Both TTLs run from issuance; the
// refresh window is not sliding.
func (m *SessionManager) Issue(ctx context.Context, accountID uuid.UUID, meta SessionMetadata) (TokenPair, *Session, error) {
	accessToken, err := generateOpaqueToken()
	if err != nil {
		return TokenPair{}, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate access token")
	}
	refreshToken, err := generateOpaqueToken()
	if err != nil {
		return TokenPair{}, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate refresh token")
	}

	now := m.now()
	session := &Session{
		AccountID:        accountID,
		AccessHash:       HashOpaqueToken(accessToken),
		RefreshHash:      HashOpaqueToken(refreshToken),
		UserAgent:        meta.UserAgent,
		IPAddress:        meta.IPAddress,
		AccessExpiresAt:  now.Add(m.accessTTL),
		RefreshExpiresAt: now.Add(m.refreshTTL),
	}

	created, err := m.sessions.Create(ctx, session)
	if err != nil {
		return TokenPair{}, nil, wrapInternal(err, "failed to persist session")
	}

	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, created, nil
}

// Validate authenticates an opaque access token. The session must be
// unrevoked and inside its access window. Failure is uniform; the caller
// never learns whether the token was unknown, expired, or revoked.
func (m *SessionManager) Validate(ctx context.Context, accessToken string) (*Session, error) {
	if accessToken == "" {
		return nil, ErrNoSession
	}

	session, err := m.sessions.GetByAccessHash(ctx, HashOpaqueToken(accessToken))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrNoSession
		}
		return nil, wrapInternal(err, "failed to look up session")
	}

	now := m.now()
	if !session.ActiveAt(now) {
		return nil, ErrNoSession
	}

	// Best effort; a failed activity touch must not fail validation.
	if err := m.sessions.TouchActivity(ctx, session.ID, now); err != nil {
		m.logger.Debug("session activity touch failed", "session", session.ID, "error", err)
	} else {
		session.LastActivityAt = &now
	}

	return session, nil
}

// Refresh rotates both tokens of an unrevoked session inside its refresh
// window. The refresh expiry is never extended. Presenting a refresh
// token that was already rotated away is treated as reuse: the session
// is revoked and the caller gets the uniform failure.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (TokenPair, *Session, error) {
	if refreshToken == "" {
		return TokenPair{}, nil, ErrNoSession
	}

	currentHash := HashOpaqueToken(refreshToken)
	session, err := m.sessions.GetByRefreshHash(ctx, currentHash)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return TokenPair{}, nil, m.handleRefreshReuse(ctx, currentHash)
		}
		return TokenPair{}, nil, wrapInternal(err, "failed to look up session")
	}

	now := m.now()
	if !session.RefreshableAt(now) {
		return TokenPair{}, nil, ErrNoSession
	}

	newAccess, err := generateOpaqueToken()
	if err != nil {
		return TokenPair{}, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate access token")
	}
	newRefresh, err := generateOpaqueToken()
	if err != nil {
		return TokenPair{}, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate refresh token")
	}

	accessExpiresAt := now.Add(m.accessTTL)
	rotated, err := m.sessions.RotateTokens(ctx, session.ID, currentHash, HashOpaqueToken(newAccess), HashOpaqueToken(newRefresh), accessExpiresAt, now)
	if err != nil {
		return TokenPair{}, nil, wrapInternal(err, "failed to rotate session tokens")
	}
	if !rotated {
		// The presented refresh hash lost a race with another rotation:
		// either a concurrent refresh or a replayed old token. Kill the
		// session rather than guess.
		m.logger.Error("refresh token reuse detected", "session", session.ID)
		if _, err := m.Revoke(ctx, session.ID, nil, RevocationReasonRefreshReuse); err != nil {
			m.logger.Error("failed to revoke session after refresh reuse", "session", session.ID, "error", err)
		}
		return TokenPair{}, nil, ErrNoSession
	}

	session.AccessHash = HashOpaqueToken(newAccess)
	session.RefreshHash = HashOpaqueToken(newRefresh)
	session.PreviousRefreshHash = currentHash
	session.AccessExpiresAt = accessExpiresAt
	session.LastActivityAt = &now

	return TokenPair{AccessToken: newAccess, RefreshToken: newRefresh}, session, nil
}

// handleRefreshReuse checks whether an unknown refresh hash is actually a
// replayed pre-rotation token. Reuse means the token leaked or the client
// is compromised; the whole session is revoked. The caller always gets
// the uniform failure either way.
func (m *SessionManager) handleRefreshReuse(ctx context.Context, presentedHash string) error {
	session, err := m.sessions.GetByPreviousRefreshHash(ctx, presentedHash)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrNoSession
		}
		return wrapInternal(err, "failed to look up session")
	}

	m.logger.Error("refresh token reuse detected", "session", session.ID)
	if _, err := m.Revoke(ctx, session.ID, nil, RevocationReasonRefreshReuse); err != nil {
		m.logger.Error("failed to revoke session after refresh reuse", "session", session.ID, "error", err)
	}
	return ErrNoSession
}

// RevokeByAccessToken retires the session behind an opaque access token.
// The lookup ignores the access window on purpose: an expired token
// still names a session whose refresh token would otherwise stay live.
// Unknown tokens are a no-op.
func (m *SessionManager) RevokeByAccessToken(ctx context.Context, accessToken, reason string) (bool, error) {
	if accessToken == "" {
		return false, nil
	}

	session, err := m.sessions.GetByAccessHash(ctx, HashOpaqueToken(accessToken))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return false, nil
		}
		return false, wrapInternal(err, "failed to look up session")
	}

	return m.Revoke(ctx, session.ID, &session.AccountID, reason)
}

// Revoke idempotently retires a session. The revoked-at flag flips at
// most once and every actual transition appends exactly one audit row.
// Concurrent calls for the same session collapse into one store write.
func (m *SessionManager) Revoke(ctx context.Context, sessionID uuid.UUID, revokedBy *uuid.UUID, reason string) (bool, error) {
	if reason == "" {
		reason = RevocationReasonLogout
	}

	result, err, _ := m.revokeGroup.Do(sessionID.String(), func() (any, error) {
		return m.sessions.Revoke(ctx, sessionID, revokedBy, reason, m.now())
	})
	if err != nil {
		return false, wrapInternal(err, "failed to revoke session")
	}

	return result.(bool), nil
}

// RevokeAll retires every live session for an account in one
// transactional batch, with one audit row per affected session.
func (m *SessionManager) RevokeAll(ctx context.Context, accountID uuid.UUID, revokedBy *uuid.UUID, reason string) (int, error) {
	if reason == "" {
		reason = RevocationReasonAdminKick
	}

	ids, err := m.sessions.RevokeAllForAccount(ctx, accountID, revokedBy, reason, m.now())
	if err != nil {
		return 0, wrapInternal(err, "failed to revoke account sessions")
	}

	return len(ids), nil
}

// ListActive returns the unrevoked, unexpired sessions for an account
// ordered by last activity. Only metadata is exposed; token hashes never
// leave the storage layer through this path.
func (m *SessionManager) ListActive(ctx context.Context, accountID uuid.UUID) ([]*Session, error) {
	sessions, err := m.sessions.ListActive(ctx, accountID, m.now())
	if err != nil {
		return nil, wrapInternal(err, "failed to list sessions")
	}
	for _, s := range sessions {
		s.AccessHash = ""
		s.RefreshHash = ""
		s.PreviousRefreshHash = ""
	}
	return sessions, nil
}

// SweepExpired converts sessions past their refresh expiry that were
// never explicitly revoked into revoked ones so the audit trail stays
// complete. Each transition is a single conditional update, so the sweep
// is safe to run concurrently with any other operation.
func (m *SessionManager) SweepExpired(ctx context.Context) (int, error) {
	count, err := m.sessions.SweepExpired(ctx, m.now())
	if err != nil {
		return 0, wrapInternal(err, "failed to sweep expired sessions")
	}
	if count > 0 {
		m.logger.Info("expired sessions swept", "count", count)
	}
	return count, nil
}

// HashOpaqueToken computes the storage digest of an opaque token. Tokens
// are random, so an unsalted SHA-256 is sufficient and keeps lookups to
// an indexed equality match.
func HashOpaqueToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateOpaqueToken() (string, error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
