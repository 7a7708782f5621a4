// Package api implements the HTTP REST API and WebSocket peer endpoint for
// the console core.
//
// This package provides:
//   - REST endpoints for session state, demo mode, theme and audit access
//   - WebSocket peer-link upgrade wired into the broadcast hub
//   - JWT bearer authentication with role-based checks at the boundary
//   - Middleware stack (request ID, logging, recovery, CORS, rate limiting)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between the console shells (web admin, embedded
// frames, kiosk displays) and the session core. Reads come straight from
// the session and theme engines; theme mutations flow through the theme
// engine and fan out over the broadcast channels to every other context.
//
// # Security
//
// Authentication uses short-lived HS256 bearer tokens issued at sign-in.
// Mutating endpoints additionally check the caller's role abilities and the
// demo read-only rule, and pass through the sliding-window rate limiter.
//
// # Graceful Degradation
//
// The server operates without a broker connection — session, theme and
// audit endpoints work, only cross-device propagation pauses. Peer links
// on the same host keep synchronizing regardless.
package api
