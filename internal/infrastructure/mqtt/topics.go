package mqtt

import "fmt"

// Topic prefixes for the console's cross-context channel.
//
// The theme channel is the MQTT rendition of the browser's named broadcast
// channel: every engine instance publishes its theme mutations and
// subscribes to everyone else's, filtering its own messages by source id.
const (
	// TopicPrefixTheme is the base for theme broadcast topics.
	// Scheme: console/theme/{organization_id}/{event}
	TopicPrefixTheme = "console/theme"

	// TopicPrefixSession is the base for session fact topics.
	TopicPrefixSession = "console/session"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "console/system"
)

// Topics provides builders for console MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	updateTopic := topics.ThemeUpdate("org-acme")
//	// Returns: "console/theme/org-acme/update"
type Topics struct{}

// ThemeUpdate returns the topic for theme update broadcasts scoped to an
// organization.
//
// Example: console/theme/org-acme/update
func (Topics) ThemeUpdate(organizationID string) string {
	return fmt.Sprintf("%s/%s/update", TopicPrefixTheme, organizationID)
}

// ThemeReset returns the topic for theme reset broadcasts scoped to an
// organization.
//
// Example: console/theme/org-acme/reset
func (Topics) ThemeReset(organizationID string) string {
	return fmt.Sprintf("%s/%s/reset", TopicPrefixTheme, organizationID)
}

// SessionEvent returns the topic for session lifecycle facts.
//
// Example: console/session/login
func (Topics) SessionEvent(event string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixSession, event)
}

// SystemStatus returns the system status topic used for online/offline
// presence (including the Last Will message).
//
// Example: console/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: console/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// AllThemeEvents returns a pattern matching theme broadcasts for one
// organization.
//
// Pattern: console/theme/org-acme/+
func (Topics) AllThemeEvents(organizationID string) string {
	return fmt.Sprintf("%s/%s/+", TopicPrefixTheme, organizationID)
}

// AllOrganizationsThemeEvents returns a pattern matching theme broadcasts
// for every organization.
//
// Pattern: console/theme/+/+
func (Topics) AllOrganizationsThemeEvents() string {
	return fmt.Sprintf("%s/+/+", TopicPrefixTheme)
}

// AllSessionEvents returns a pattern matching all session facts.
//
// Pattern: console/session/+
func (Topics) AllSessionEvents() string {
	return fmt.Sprintf("%s/+", TopicPrefixSession)
}

// AllTopics returns a pattern matching all console topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: console/#
func (Topics) AllTopics() string {
	return "console/#"
}
