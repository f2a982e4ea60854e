package identity

import (
	"time"

	"github.com/goliatone/go-router"
)

// Cookie names making up the session surface. The signed claims cookie
// is the fast path; the opaque cookies are the revocable source of truth.
const (
	CookieClaims  = "session"
	CookieAccess  = "session_token"
	CookieRefresh = "refresh_token"
)

// SessionCookies writes and clears the three session cookies on a
// router context. It does no routing and owns no handlers.
type SessionCookies struct {
	claimsTTL  time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
	secure     bool
	logger     Logger
}

func NewSessionCookies(cfg Config) *SessionCookies {
	claimsTTL := cfg.GetClaimsTTL()
	if claimsTTL <= 0 {
		claimsTTL = 24 * time.Hour
	}
	accessTTL := cfg.GetAccessTTL()
	if accessTTL <= 0 {
		accessTTL = 24 * time.Hour
	}
	refreshTTL := cfg.GetRefreshTTL()
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}

	return &SessionCookies{
		claimsTTL:  claimsTTL,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		secure:     true,
		logger:     defLogger{},
	}
}

// WithSecure disables the Secure attribute for local development over
// plain HTTP.
func (s *SessionCookies) WithSecure(secure bool) *SessionCookies {
	s.secure = secure
	return s
}

func (s *SessionCookies) WithLogger(logger Logger) *SessionCookies {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Write sets all three cookies from an authentication result.
func (s *SessionCookies) Write(c router.Context, result *AuthResult) {
	s.set(c, CookieClaims, result.ClaimsToken, s.claimsTTL)
	s.set(c, CookieAccess, result.Tokens.AccessToken, s.accessTTL)
	s.set(c, CookieRefresh, result.Tokens.RefreshToken, s.refreshTTL)
}

// Clear expires all three cookies on logout.
func (s *SessionCookies) Clear(c router.Context) {
	s.del(c, CookieClaims)
	s.del(c, CookieAccess)
	s.del(c, CookieRefresh)
}

// AccessToken reads the opaque access token from the request cookies.
func (s *SessionCookies) AccessToken(c router.Context) string {
	return c.Cookies(CookieAccess)
}

// RefreshToken reads the opaque refresh token from the request cookies.
func (s *SessionCookies) RefreshToken(c router.Context) string {
	return c.Cookies(CookieRefresh)
}

// ClaimsToken reads the signed claims token from the request cookies.
func (s *SessionCookies) ClaimsToken(c router.Context) string {
	return c.Cookies(CookieClaims)
}

func (s *SessionCookies) set(c router.Context, name, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    val,
		Path:     "/",
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   s.secure,
		SameSite: "Lax",
	})
}

func (s *SessionCookies) del(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   s.secure,
		SameSite: "Lax",
	})
}
