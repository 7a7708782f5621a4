// Package role resolves raw role signals into canonical roles and derives
// the ability matrix the console uses for access decisions.
//
// Resolution is a pure, deterministic chain: email override table, canonical
// table, alias table (localized and legacy names), a diacritic-stripped
// retry, substring heuristics, and finally the lowest-privilege default.
// Ability matrices are computed from a static per-role table merged over an
// all-read module baseline so every module key is always defined.
//
// Nothing in this package touches the network or mutates shared state; both
// Normalize and Abilities are safe for concurrent use.
package role
