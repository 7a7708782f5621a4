package audit

import (
	"strings"
	"time"
)

// Well-known event names emitted by the session engine.
const (
	EventLogin          = "session.login"
	EventLogout         = "session.logout"
	EventTimeout        = "session.timeout"
	EventDemoStart      = "session.demo.start"
	EventDemoEnd        = "session.demo.end"
	EventPasswordChange = "security.password.change"
	EventUserCreate     = "admin.user.create"
	EventUserDelete     = "admin.user.delete"
	EventGuardDenied    = "guard.denied"
)

// maxMetadataListItems caps array values in sanitized metadata.
const maxMetadataListItems = 10

// Actor identifies who performed an action on someone else's behalf.
type Actor struct {
	UID   string `json:"uid,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Event is a single audit trail entry.
type Event struct {
	ID             string         `json:"id,omitempty"`
	UID            string         `json:"uid"`
	Email          string         `json:"email,omitempty"`
	Event          string         `json:"event"`
	Meta           map[string]any `json:"meta,omitempty"`
	Actor          *Actor         `json:"actor,omitempty"`
	ContextRole    string         `json:"contextRole,omitempty"`
	OrganizationID string         `json:"organizationId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// SanitizeMetadata strips credential-bearing keys from metadata before it
// is written anywhere. Keys are matched by substring, case-insensitive, so
// "newPassword" and "api_secret" are caught. Nested maps are sanitized
// recursively; arrays are truncated to 10 items.
func SanitizeMetadata(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for key, value := range meta {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "password") ||
			strings.Contains(lower, "passcode") ||
			strings.Contains(lower, "secret") {
			continue
		}
		if sanitized, ok := sanitizeValue(value); ok {
			out[key] = sanitized
		}
	}
	return out
}

func sanitizeValue(value any) (any, bool) {
	switch v := value.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, true
	case map[string]any:
		return SanitizeMetadata(v), true
	case []any:
		if len(v) > maxMetadataListItems {
			v = v[:maxMetadataListItems]
		}
		out := make([]any, 0, len(v))
		for _, item := range v {
			if sanitized, ok := sanitizeValue(item); ok {
				out = append(out, sanitized)
			}
		}
		return out, true
	default:
		// Unknown types are dropped rather than stringified: anything that
		// matters to the trail arrives as JSON-shaped data already.
		return nil, false
	}
}
