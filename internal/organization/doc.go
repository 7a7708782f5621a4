// Package organization resolves and caches organization metadata.
//
// Organizations scope theming and session context. The default organization
// (id "default", name "General") always resolves without touching the
// backend. Everything else is looked up lazily through a Directory and held
// in a bounded LRU cache, so repeated session transitions do not re-query
// the backend.
package organization
