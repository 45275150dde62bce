package api

type ReadingDTO struct {
	Channel   string  `json:"channel"`
	DeviceID  string  `json:"deviceId"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

type GetChannelReadingsResponse struct {
	Readings []ReadingDTO `json:"readings"`
}

type ChannelStatsResponse struct {
	Count           int64  `json:"count"`
	LatestTimestamp string `json:"latestTimestamp,omitempty"`
}
