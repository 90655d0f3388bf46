// Package stream delivers console events to connected browsers over SSE or
// a WebRTC data channel.
package stream

import (
	"encoding/json"
	"fmt"
)

// Kind names an event on the console stream.
type Kind string

const (
	KindSession   Kind = "session"
	KindHighlight Kind = "highlight"
	KindCommand   Kind = "command"
	KindTracks    Kind = "tracks"
	KindStudio    Kind = "studio"
)

// Event is one message on the console stream.
type Event struct {
	Kind Kind `json:"kind"`
	Data any  `json:"data"`
}

// NewEvent wraps data as an event of the given kind.
func NewEvent(kind Kind, data any) Event {
	return Event{Kind: kind, Data: data}
}

// Encode returns the JSON form sent on data channels.
func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", e.Kind, err)
	}
	return b, nil
}
