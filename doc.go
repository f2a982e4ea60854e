// Package identity provides the authentication and session core for
// multi-credential products: password, federated sign-in, passkey
// (WebAuthn) and TOTP verification, identity resolution across external
// providers, role/permission derivation, and revocable opaque sessions
// paired with short-lived signed claims.
//
// Session model:
//   - Every successful authentication issues two independent high-entropy
//     opaque tokens (access + refresh) persisted only as SHA-256 hashes,
//     plus a signed JWT carrying the authorization snapshot. The JWT is
//     cheap to verify but cannot be revoked before its expiry; the opaque
//     access token is the authoritative, revocable handle. Privileged
//     operations must recheck the opaque token.
//   - Sessions are never deleted. Revocation flips a terminal flag and
//     appends a row to the session_revocations audit log. SweepExpired
//     converts expired-unrevoked sessions into revoked ones so the audit
//     trail stays complete.
//
// Identity resolution:
//   - A verified federated profile resolves to an account by provider
//     subject first, then by email identifier, then by signup. The email
//     union step is a trust decision, so it is modeled as a swappable
//     LinkingPolicy rather than implicit control flow.
//
// Authorization:
//   - Permission codes are derived from one organizational membership's
//     role assignments. Which membership wins is a MembershipSelector
//     strategy; the default picks the oldest membership.
package identity
