package analytics

import "errors"

// Sentinel errors for analytics operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, analytics.ErrDisabled) {
//	    // Run without telemetry
//	}
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("analytics: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("analytics: connection failed")

	// ErrDisabled indicates usage telemetry is disabled in config.
	ErrDisabled = errors.New("analytics: disabled in configuration")
)
