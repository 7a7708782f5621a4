// Package audit records session and security events.
//
// Events flow to a backend writer when one is configured; failures degrade
// to a local SQLite ring cache bounded per user, which also serves the
// initial history display before the backend answers. Logging is
// fire-and-forget throughout: an audit failure is logged and absorbed,
// never surfaced to the operation that triggered it.
//
// Metadata is sanitized before it leaves the process: any key containing
// "password", "passcode", or "secret" is stripped, recursively.
package audit
