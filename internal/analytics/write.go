package analytics

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/gestionsostenible/console-core/internal/role"
)

// SessionTransition records a session state change.
//
// Tags carry the transition endpoints and role (low cardinality); the uid
// travels as a field so it never explodes the tag index.
func (c *Client) SessionTransition(uid, from, to string, r role.Role) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"session_transitions",
		map[string]string{
			"from": from,
			"to":   to,
			"role": string(r),
		},
		map[string]interface{}{
			"uid":   uid,
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// ThemeUpdate records a theme mutation.
//
// reset distinguishes full resets from incremental updates; source names
// the channel the change arrived on (local, store, broker, peer).
func (c *Client) ThemeUpdate(organizationID, source string, reset bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"theme_updates",
		map[string]string{
			"organization": organizationID,
			"source":       source,
		},
		map[string]interface{}{
			"reset": reset,
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// GuardDenied records a guard denial. Implements guard.DenialSink.
func (c *Client) GuardDenied(_ context.Context, uid, module string, r role.Role) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"guard_denials",
		map[string]string{
			"module": module,
			"role":   string(r),
		},
		map[string]interface{}{
			"uid":   uid,
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom measurement with full control over tags and
// fields, for telemetry that does not fit the helpers.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
