// Package local is the SQLite-backed identity provider.
//
// It implements identity.Provider and identity.Watcher on top of the users
// and profiles tables: email/password sign-in against Argon2id hashes,
// identity event fan-out to subscribers, and live profile snapshots that
// notify watchers on every write.
//
// This is the deployment used when the console runs self-contained; a
// hosted identity backend can replace it behind the same interfaces.
package local
