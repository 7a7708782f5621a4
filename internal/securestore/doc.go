// Package securestore provides obfuscated key/value persistence for the
// session core.
//
// This package manages:
//   - Durable KV storage backed by the local_store SQLite table
//   - XOR keystream obfuscation of stored values (base64-wrapped)
//   - CSRF token generation, reuse, and rotation
//   - Change notification channels for watched keys
//
// # Obfuscation, Not Confidentiality
//
// Stored values are XOR-combined with a keystream derived from the deployment
// secret and client fingerprint, then base64-encoded. This defeats casual
// inspection of the database file but is NOT cryptography: anyone holding the
// configuration can trivially reverse it. Nothing that requires real
// confidentiality belongs in this store.
//
// # Degradation
//
// Storage is best-effort by contract. A failed write logs a warning and
// no-ops; a failed or corrupt read logs and reports a miss. Callers never
// see storage errors, the session continues without the cache.
package securestore
