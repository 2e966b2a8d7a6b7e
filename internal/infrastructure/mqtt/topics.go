package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic prefixes. Every UniBus topic lives under TopicPrefix.
const (
	TopicPrefix        = "unibus"
	TopicPrefixState   = TopicPrefix + "/state"
	TopicPrefixLine    = TopicPrefix + "/line"
	TopicPrefixSystem  = TopicPrefix + "/system"
	TopicPrefixCommand = TopicPrefix + "/command"
)

// Topics provides builders for UniBus MQTT topics.
//
//	topics := mqtt.Topics{}
//	topic := topics.State("humidity", "temperature", 0)
//	// Returns: "unibus/state/humidity/temperature/0"
type Topics struct{}

// State returns the topic a state slot is published on.
//
// Example: unibus/state/humidity/temperature/0
func (Topics) State(module, category string, index uint8) string {
	return fmt.Sprintf("%s/%s/%s/%d", TopicPrefixState, module, category, index)
}

// LineStatus returns the topic carrying a bus line's health.
//
// Example: unibus/line/north-wall/status
func (Topics) LineStatus(name string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixLine, name)
}

// SystemStatus returns the controller status topic. It also carries the
// Last Will.
//
// Example: unibus/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// ActuatorCommand returns the topic that switches one actuator channel.
//
// Example: unibus/command/actuator/light/3
func (Topics) ActuatorCommand(kind string, channel uint8) string {
	return fmt.Sprintf("%s/actuator/%s/%d", TopicPrefixCommand, kind, channel)
}

// Thresholds returns the topic that sets the window thresholds.
//
// Example: unibus/command/thresholds
func (Topics) Thresholds() string {
	return TopicPrefixCommand + "/thresholds"
}

// AllActuatorCommands matches every actuator command.
//
// Pattern: unibus/command/actuator/+/+
func (Topics) AllActuatorCommands() string {
	return TopicPrefixCommand + "/actuator/+/+"
}

// ParseActuatorCommand splits an actuator command topic into its kind and
// channel.
func ParseActuatorCommand(topic string) (kind string, channel uint8, err error) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixCommand+"/actuator/")
	if !ok {
		return "", 0, fmt.Errorf("%w: %q is not an actuator command", ErrInvalidTopic, topic)
	}
	kind, ch, ok := strings.Cut(rest, "/")
	if !ok || kind == "" || strings.Contains(ch, "/") {
		return "", 0, fmt.Errorf("%w: malformed actuator command %q", ErrInvalidTopic, topic)
	}
	n, err := strconv.ParseUint(ch, 10, 8)
	if err != nil {
		return "", 0, fmt.Errorf("%w: channel %q: %w", ErrInvalidTopic, ch, err)
	}
	return kind, uint8(n), nil
}
