package mqtt

import "errors"

var (
	// ErrNotConnected is returned when the broker connection is down
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connection fails
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishTimeout is returned when the broker does not acknowledge in time
	ErrPublishTimeout = errors.New("mqtt: publish timed out")

	// ErrPublishFailed is returned when the broker rejects a publish
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscription cannot be made
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidTopic is returned for an empty topic
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrInvalidQoS is returned for a QoS above 2
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
)
