package identity

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeInvalidCredentials = "INVALID_CREDENTIALS"
	textCodeNoSession          = "NO_SESSION"
	textCodeTokenExpired       = "TOKEN_EXPIRED"
	textCodeTokenMalformed     = "TOKEN_MALFORMED"
	textCodePermissionDenied   = "PERMISSION_DENIED"
	textCodeTOTPConfigured     = "TOTP_ALREADY_CONFIGURED"
	textCodeTOTPNotConfigured  = "TOTP_NOT_CONFIGURED"
	textCodeChallengeExpired   = "CHALLENGE_EXPIRED"
	textCodeEmailExists        = "EMAIL_ALREADY_REGISTERED"
	textCodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"
	textCodeSignupDisabled     = "SIGNUP_DISABLED"
	textCodeLinkingDisabled    = "LINKING_DISABLED"
)

// ErrBadCredentials is the uniform authentication failure. Every
// bad-credential path returns this value so callers cannot enumerate
// which part of a credential was wrong.
var ErrBadCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(textCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoSession is returned for any session validation failure. The cause
// (missing, expired, revoked) is never disclosed.
var ErrNoSession = goerrors.New("no session", goerrors.CategoryAuth).
	WithTextCode(textCodeNoSession).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned when a signed claims token is past its expiry.
var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned when a signed claims token fails to decode
// or its signature does not verify.
var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(textCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrPermissionDenied is returned when a valid identity lacks a required
// permission code.
var ErrPermissionDenied = goerrors.New("permission denied", goerrors.CategoryAuthz).
	WithTextCode(textCodePermissionDenied).
	WithCode(goerrors.CodeForbidden)

// ErrTOTPAlreadyConfigured is returned when setup is attempted for an
// account that already holds a secret.
var ErrTOTPAlreadyConfigured = goerrors.New("authenticator already configured", goerrors.CategoryConflict).
	WithTextCode(textCodeTOTPConfigured).
	WithCode(goerrors.CodeConflict)

// ErrTOTPNotConfigured is returned when verification is attempted before setup.
var ErrTOTPNotConfigured = goerrors.New("authenticator not configured", goerrors.CategoryConflict).
	WithTextCode(textCodeTOTPNotConfigured).
	WithCode(goerrors.CodeConflict)

// ErrChallengeExpired is returned when a passkey ceremony references a
// challenge that is missing, already consumed, or past its TTL.
var ErrChallengeExpired = goerrors.New("ceremony challenge missing or expired", goerrors.CategoryAuth).
	WithTextCode(textCodeChallengeExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrEmailAlreadyRegistered is returned when registration hits an existing
// email identifier.
var ErrEmailAlreadyRegistered = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode(textCodeEmailExists).
	WithCode(goerrors.CodeConflict)

// ErrEmailNotVerified is returned when a linking policy requires a
// provider-verified email and the profile does not carry one.
var ErrEmailNotVerified = goerrors.New("email not verified", goerrors.CategoryAuth).
	WithTextCode(textCodeEmailNotVerified).
	WithCode(goerrors.CodeForbidden)

// ErrSignupNotAllowed is returned when the linking policy forbids creating
// a new account for an unknown federated profile.
var ErrSignupNotAllowed = goerrors.New("signup not allowed", goerrors.CategoryAuth).
	WithTextCode(textCodeSignupDisabled).
	WithCode(goerrors.CodeForbidden)

// ErrLinkingNotAllowed is returned when the linking policy forbids
// attaching a federated link to an existing account.
var ErrLinkingNotAllowed = goerrors.New("linking not allowed", goerrors.CategoryAuth).
	WithTextCode(textCodeLinkingDisabled).
	WithCode(goerrors.CodeForbidden)

// IsAuthFailure reports whether err is an authentication failure.
func IsAuthFailure(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryAuth
}

// IsConflict reports whether err is a duplicate-registration conflict,
// either one of this module's conflict errors or a unique-constraint
// violation surfaced by the database driver.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryConflict
	}

	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// wrapInternal hides unexpected failures behind an opaque internal error
// while preserving the cause for server-side logging.
func wrapInternal(err error, msg string) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
