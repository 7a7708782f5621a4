// Package guard gates console surfaces on session state.
//
// A guard subscription re-evaluates on every session snapshot and yields
// one of pending, signed-out, denied or allowed, together with the
// redirect and overlay directives the shell should act on. Evaluation
// only ever looks at the latest snapshot, so rapid re-entrant emissions
// collapse to their final decision.
package guard
