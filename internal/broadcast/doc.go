// Package broadcast keeps theme state converged across engine contexts.
//
// Three channels carry the same wire message: the secure store's change
// watcher (same-process contexts), the MQTT theme topics (contexts behind
// the broker) and WebSocket peer links (directly connected contexts).
// Every message names its source runtime and a per-source monotonic
// version; receivers drop their own messages and anything not newer than
// what they last saw from that source, so echo storms die at the first
// hop. Received state is applied with persistence and re-broadcast off:
// only an independent local mutation publishes again, though peer links
// still relay onward to their other peers.
package broadcast
