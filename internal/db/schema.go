package db

type SensorReading struct {
	Channel   string  `json:"channel"`
	DeviceID  string  `json:"device_id"`
	Value     float64 `json:"value"`
	Metadata  string  `json:"metadata"`
	Timestamp int64   `json:"timestamp"`
}

type ChannelStats struct {
	Count           int64 `json:"count"`
	LatestTimestamp int64 `json:"latest_timestamp"`
}
