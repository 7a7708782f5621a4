// Package analytics records usage telemetry in InfluxDB.
//
// Writes are non-blocking and batched; a disconnected or disabled client
// silently drops points. Telemetry is never load-bearing: every caller
// treats the tracker as optional.
package analytics
