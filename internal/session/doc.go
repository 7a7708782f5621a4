// Package session implements the session state machine.
//
// States move Initial → Restoring → {Authenticated, Demo, SignedOut}.
// Construction restores a cached session first, so subscribers see a
// plausible identity before the provider has answered; the provider's
// event stream then confirms or corrects it. Authenticated sessions carry
// a live profile watch, a resolved organization, recomputed abilities and
// an idle timer; demo sessions are local-only, read-only and never reach
// the backend.
//
// Subscribers always receive deep-cloned snapshots. All transitions funnel
// through one mutex, so no partial state is ever observable.
package session
