package nativemsg

import "encoding/json"

// Command names understood by the extension.
const (
	CommandGetAssets    = "get_assets"
	CommandGetSnapshots = "get_snapshots"
	CommandGetMetadata  = "get_metadata"
	CommandGetIcon      = "get_icon"
)

// ChromeMessage is the outbound stdio body: `{"command": "<NAME>"}`.
type ChromeMessage struct {
	Command string `json:"command"`
}

// NativeMessage is a tagged inbound stdio body from the extension. Replies to
// a ChromeMessage echo the command name; unsolicited pushes carry a push type
// instead.
type NativeMessage struct {
	// Type tags the variant: a command name for replies, or one of the
	// push types below.
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Push types the extension emits without being asked.
const (
	PushTabUpdated   = "tab_updated"
	PushTabActivated = "tab_activated"
	PushAssets       = "assets"
	PushSnapshot     = "snapshot"
)

// isPush reports whether a message type is an unsolicited push rather than a
// command reply.
func isPush(msgType string) bool {
	switch msgType {
	case PushTabUpdated, PushTabActivated, PushAssets, PushSnapshot:
		return true
	default:
		return false
	}
}
