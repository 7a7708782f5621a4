// Package identity defines the identity-provider boundary of the session
// core and the privileged admin API client.
//
// This package manages:
//   - The Provider and profile Watcher interfaces the session engine
//     consumes (sign-in events, live profile snapshots)
//   - JWT access-token issuance and validation (HS256 only)
//   - Input validation before any network call: email and phone shape,
//     password strength scoring
//   - Sliding-window rate limiting on sensitive operations
//   - The admin API client (user creation/deletion, recovery mail) behind a
//     circuit breaker, authenticated with a Bearer token plus CSRF header
//
// Validation and rate-limit failures are rejected synchronously, before the
// backend is contacted. Auth failures coming back from the backend are
// translated to localized, user-facing messages; a handful of known causes
// get specific text, everything else a generic fallback.
package identity
