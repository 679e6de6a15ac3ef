package models

import (
	"github.com/TritonDataCenter/sdc-napi-sub002/napi/state"
)

// publish forwards a change notification, tolerating a daemon with no event
// hub wired (tests).
func publish(s *state.State, eventType string, metadata any) {
	if s.Events == nil {
		return
	}

	s.Events.Publish(eventType, metadata)
}
