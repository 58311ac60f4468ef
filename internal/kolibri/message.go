package kolibri

import (
	"encoding/json"
	"math"
	"strings"
)

// Trace event types sent by the node. Other values may appear and are passed through.
const (
	EventState    = "state"
	EventLog      = "log"
	EventResult   = "result"
	EventError    = "error"
	EventComplete = "complete"
)

// TraceEvent is the structured form of a stream frame.
type TraceEvent struct {
	Type      string `json:"type"`
	Step      *int   `json:"step,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// Message is one normalized frame from a session, whatever the transport.
type Message struct {
	// Raw is the frame text as received.
	Raw string
	// Value is the decoded JSON value, or Raw itself when the frame is not JSON.
	Value any
	// Event is set when Value is an object carrying a string "type".
	Event *TraceEvent

	decoded bool
}

// IsRaw reports whether the frame could not be decoded as JSON.
func (m Message) IsRaw() bool {
	return !m.decoded
}

// Type returns the trace event type, or "" for frames that are not trace events.
func (m Message) Type() string {
	if m.Event == nil {
		return ""
	}
	return m.Event.Type
}

// IsTerminal reports whether the frame ends a VM run: complete, result or error.
func (m Message) IsTerminal() bool {
	switch m.Type() {
	case EventComplete, EventResult, EventError:
		return true
	}
	return false
}

func normalize(raw string) Message {
	msg := Message{Raw: raw, Value: raw}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return msg
	}
	var value any
	if err := json.Unmarshal([]byte(trimmed), &value); err != nil {
		return msg
	}
	msg.Value = value
	msg.decoded = true
	obj, ok := value.(map[string]any)
	if !ok {
		return msg
	}
	typ, ok := obj["type"].(string)
	if !ok {
		return msg
	}
	evt := &TraceEvent{Type: typ, Payload: obj["payload"]}
	if step, ok := obj["step"].(float64); ok && step == math.Trunc(step) {
		n := int(step)
		evt.Step = &n
	}
	if ts, ok := obj["timestamp"].(string); ok {
		evt.Timestamp = ts
	}
	msg.Event = evt
	return msg
}
