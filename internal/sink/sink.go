// Package sink is the single write path into per-channel durable storage.
// All transport adapters share one Sink; adapters never touch the store
// directly.
package sink

import (
	"context"
	"errors"
	"fmt"

	"aquasense/internal/db"
	"aquasense/internal/reading"
)

var ErrStorageFailure = errors.New("storage failure")

type store interface {
	InsertReading(ctx context.Context, r db.SensorReading) error
}

type Config struct {
	Store store
}

type Sink struct {
	store store
}

func New(cfg Config) *Sink {
	return &Sink{store: cfg.Store}
}

// Append persists one reading. Safe for unbounded concurrent callers. A
// failed append is reported to the caller and never retried here; retry
// policy belongs to the adapter.
func (s *Sink) Append(ctx context.Context, r reading.Reading) error {
	const fn = "Sink:Append"
	rec := db.SensorReading{
		Channel:   r.Channel.String(),
		DeviceID:  r.DeviceID,
		Value:     r.Value,
		Metadata:  r.RawMetadata,
		Timestamp: r.Timestamp,
	}
	if err := s.store.InsertReading(ctx, rec); err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrStorageFailure, err)
	}
	return nil
}
