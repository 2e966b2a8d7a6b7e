package unibus

import (
	"time"

	"github.com/nerrad567/gray-logic-unibus/internal/unibus/line"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// StateMessage is published when a state slot changes.
// Topic: unibus/state/{module}/{category}/{index}
// QoS: configured, Retained: Yes
type StateMessage struct {
	// Module is the sensor type owning the slot (e.g., "humidity").
	Module string `json:"module" cbor:"module"`

	// Category is the quantity held by the slot (e.g., "temperature").
	Category string `json:"category" cbor:"category"`

	Index uint8 `json:"index" cbor:"index"`

	// Reading is the scaled value, or the no-data sentinel when NoData is set.
	Reading float64 `json:"reading" cbor:"reading"`

	NoData bool `json:"no_data" cbor:"no_data"`

	// Timestamp is when the slot changed (UTC).
	Timestamp time.Time `json:"timestamp" cbor:"timestamp"`
}

// NewStateMessage builds the message for a slot change.
func NewStateMessage(c state.Change) StateMessage {
	ts := c.Value.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return StateMessage{
		Module:    c.Key.Module.String(),
		Category:  c.Key.Category.String(),
		Index:     c.Key.Index,
		Reading:   c.Value.Reading,
		NoData:    c.Value.NoData,
		Timestamp: ts.UTC(),
	}
}

// CommandMessage switches one actuator channel.
// Topic: unibus/command/actuator/{kind}/{channel}
type CommandMessage struct {
	On bool `json:"on" cbor:"on"`
}

// ThresholdsMessage sets the window open and close temperatures.
// Topic: unibus/command/thresholds
type ThresholdsMessage struct {
	Open  uint8 `json:"open" cbor:"open"`
	Close uint8 `json:"close" cbor:"close"`
}

// LineHealth summarises a line for its status topic.
type LineHealth string

// Line health values.
const (
	LineOnline      LineHealth = "online"
	LineOffline     LineHealth = "offline"
	LineRegistering LineHealth = "registering"
)

// LineStatusMessage is published for each bus line.
// Topic: unibus/line/{name}/status
// QoS: configured, Retained: Yes
type LineStatusMessage struct {
	line.Status

	Health    LineHealth `json:"health" cbor:"health"`
	Timestamp time.Time  `json:"timestamp" cbor:"timestamp"`
}

// NewLineStatusMessage builds the status message for a line.
func NewLineStatusMessage(st line.Status) LineStatusMessage {
	health := LineOffline
	switch {
	case st.Online:
		health = LineOnline
	case st.Role == line.RoleRegistration && st.Phase != "" && st.Phase != line.PhaseUnregistered.String():
		health = LineRegistering
	}
	return LineStatusMessage{
		Status:    st,
		Health:    health,
		Timestamp: time.Now().UTC(),
	}
}
