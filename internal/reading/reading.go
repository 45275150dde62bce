// Package reading defines the canonical sensor reading and the normalizer
// that converts raw transport payloads into readings.
package reading

import "aquasense/internal/channel"

// Reading is one observed value on one channel. It is immutable once
// constructed; a payload describing several channels yields several Readings.
type Reading struct {
	Channel     channel.Channel
	DeviceID    string
	Value       float64
	RawMetadata string
	Timestamp   int64 // Unix milliseconds UTC
}
