package api

import (
	"encoding/json"
	"time"
)

// Event is a change notification published after every committed mutation.
// Type is "<entity>.<operation>", e.g. "network.create".
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata"`
}
