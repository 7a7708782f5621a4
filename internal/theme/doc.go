// Package theme owns the active visual theme of the console.
//
// This package manages:
//   - The theme snapshot: palette, logo, brand name, module labels
//   - Partial updates merged over defaults (palette shallow, rest wholesale)
//   - Persistence and restoration through the secure local store
//   - Subscriber notification on change
//   - Preview mode: a transient, revertible theme distinct from the
//     persisted one
//
// Every recognized palette key carries a hard-coded default, so a partial
// update can never leave a key undefined. Updates that produce a state equal
// to the current one short-circuit before any side effect; without this the
// cross-context broadcast would feed back on itself.
package theme
