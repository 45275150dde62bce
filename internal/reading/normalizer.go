package reading

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"aquasense/internal/channel"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownChannel   = errors.New("no recognized channel in payload")
)

// sensorMessage is the broker/socket payload shape. Stream payloads carry
// channel-keyed fields instead and are handled by the generic scan.
type sensorMessage struct {
	Type      string   `json:"type"`
	DeviceID  string   `json:"deviceId"`
	Value     *float64 `json:"value"`
	Metadata  string   `json:"metadata"`
	Timestamp string   `json:"timestamp"`
}

// Channel-keyed fields are checked per channel so that a payload carrying
// both "temperature" and "temp" yields a single reading.
var channelFields = []struct {
	ch   channel.Channel
	keys []string
}{
	{channel.PH, []string{"ph"}},
	{channel.Temperature, []string{"temperature", "temp"}},
	{channel.Weight, []string{"weight"}},
	{channel.Outside, []string{"outside"}},
}

type Normalizer struct {
	now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// Normalize parses a raw payload into zero or more Readings.
//
// Channel-keyed numeric fields are authoritative; the explicit type field
// (or the last segment of the topic hint) is used only when none matched.
// Device id precedence: payload > transport > "unknown". Timestamp
// precedence: payload RFC3339 > ingestion clock.
func (n *Normalizer) Normalize(sourceDeviceID string, payload []byte, hint string) ([]Reading, error) {
	const fn = "Normalizer:Normalize"

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrMalformedPayload, err)
	}

	// Field type mismatches are tolerated here; the generic scan above is
	// the authority on whether the payload parses at all.
	var msg sensorMessage
	_ = json.Unmarshal(payload, &msg)

	deviceID := msg.DeviceID
	if deviceID == "" {
		deviceID = sourceDeviceID
	}
	if deviceID == "" {
		deviceID = "unknown"
	}

	timestamp := n.now().UTC().UnixMilli()
	if msg.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			timestamp = ts.UTC().UnixMilli()
		}
	}

	metadata := msg.Metadata
	if metadata == "" {
		metadata = string(payload)
	}

	var readings []Reading
	for _, cf := range channelFields {
		for _, key := range cf.keys {
			value, ok := numericField(fields, key)
			if !ok {
				continue
			}
			readings = append(readings, Reading{
				Channel:     cf.ch,
				DeviceID:    deviceID,
				Value:       value,
				RawMetadata: metadata,
				Timestamp:   timestamp,
			})
			break
		}
	}
	if len(readings) > 0 {
		return readings, nil
	}

	// No channel-keyed fields: fall back to the explicit type field, then
	// to the topic hint, paired with the generic value field.
	resolved, err := resolveHint(msg.Type, hint)
	if err != nil || msg.Value == nil {
		return nil, fmt.Errorf("%s:%w: type=%q hint=%q", fn, ErrUnknownChannel, msg.Type, hint)
	}
	return []Reading{{
		Channel:     resolved,
		DeviceID:    deviceID,
		Value:       *msg.Value,
		RawMetadata: metadata,
		Timestamp:   timestamp,
	}}, nil
}

func resolveHint(typeField, hint string) (channel.Channel, error) {
	if typeField != "" {
		return channel.Resolve(typeField)
	}
	if idx := strings.LastIndex(hint, "/"); idx >= 0 {
		hint = hint[idx+1:]
	}
	return channel.Resolve(hint)
}

func numericField(fields map[string]json.RawMessage, key string) (float64, bool) {
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}
	// Decode through a pointer: unmarshalling null into a plain float64 is a
	// no-op and would pass a null field off as a zero reading.
	var value *float64
	if err := json.Unmarshal(raw, &value); err != nil || value == nil {
		return 0, false
	}
	return *value, true
}
