package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gestionsostenible/console-core/internal/theme"
)

// MessageFlag marks console theme sync messages; anything else on the
// same channel is ignored.
const MessageFlag = "console.theme.sync"

// Message types.
const (
	TypeThemeUpdate = "theme:update"
	TypeThemeReset  = "theme:reset"
)

// Message errors.
var (
	ErrNotSyncMessage = errors.New("broadcast: not a theme sync message")
	ErrUnknownType    = errors.New("broadcast: unknown message type")
)

// Message is the wire format shared by all three broadcast channels.
type Message struct {
	Flag string `json:"flag"`
	Type string `json:"type"`

	// Source is the runtime instance id of the originating engine.
	// Receivers drop messages carrying their own id.
	Source string `json:"source"`

	// Version increases monotonically per source; receivers apply
	// last-version-wins per source.
	Version uint64 `json:"version"`

	OrganizationID string          `json:"organizationId,omitempty"`
	Theme          *theme.Snapshot `json:"theme,omitempty"`
}

func encodeMessage(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding sync message: %w", err)
	}
	return data, nil
}

func decodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding sync message: %w", err)
	}
	if msg.Flag != MessageFlag {
		return nil, ErrNotSyncMessage
	}
	if msg.Type != TypeThemeUpdate && msg.Type != TypeThemeReset {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
	return &msg, nil
}
