package mqtt

import "errors"

// Connection state.
var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrNotConnected     = errors.New("mqtt: client not connected")
)

// Broker operations. The broker's own error is wrapped after these.
var (
	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")
)

// Argument validation, reported before anything reaches the broker.
var (
	ErrInvalidQoS    = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic  = errors.New("mqtt: invalid topic")
	ErrUnknownFormat = errors.New("mqtt: unknown payload format")
)
