// Package marketauth is the identity and session security subsystem of the
// marketplace backend. It issues, verifies, and revokes every short-lived and
// long-lived credential a user or administrator session depends on: TOTP
// second factors and their backup codes, password-reset and
// email-verification tokens, CSRF tokens, refresh tokens, and administrative
// sessions with sliding expiration.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build]. The engine holds no mutable state between calls — Redis is
// the synchronization boundary, and every single-use consumption (CSRF
// validation, ephemeral token consumption, backup-code use) is a single
// atomic server-side operation, never a check-then-write pair.
//
// # Architecture boundaries
//
// marketauth exposes [Engine], [Builder], [Config], and value types. The
// outer API layer owns HTTP parsing, notification delivery, and user-profile
// domain logic; this package receives validated primitives (user id, raw
// code, raw token) and returns results or typed failures. User lookup goes
// through the injected [UserDirectory]; secret-at-rest protection goes
// through the injected [Keychain].
//
// # What this package must NOT do
//
//   - Send email or SMS. Issued raw tokens are returned to the caller for
//     out-of-band delivery.
//   - Distinguish "no such account" from success on enumeration-sensitive
//     paths (password-reset request, refresh-token validation).
//   - Hand-roll one-time-code arithmetic. TOTP derivation is delegated to a
//     vetted RFC 6238 implementation.
package marketauth
