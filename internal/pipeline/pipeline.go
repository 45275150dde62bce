// Package pipeline is the shared ingestion path: normalize a raw transport
// payload, persist each resulting reading, then broadcast it to live
// viewers. All transport adapters consume this one capability instead of
// carrying their own copies of the flow.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"aquasense/internal/reading"
)

type normalizer interface {
	Normalize(sourceDeviceID string, payload []byte, hint string) ([]reading.Reading, error)
}

type persister interface {
	Append(ctx context.Context, r reading.Reading) error
}

type broadcaster interface {
	Broadcast(r reading.Reading)
}

type Config struct {
	Normalizer normalizer
	Sink       persister
	Hub        broadcaster
}

type Pipeline struct {
	normalizer normalizer
	sink       persister
	hub        broadcaster
}

func New(cfg Config) *Pipeline {
	return &Pipeline{
		normalizer: cfg.Normalizer,
		sink:       cfg.Sink,
		hub:        cfg.Hub,
	}
}

// Process runs one raw message through normalize, persist and broadcast.
//
// A reading is broadcast only after its append succeeded. Payloads with no
// recognized channel are dropped and logged, not reported as errors. A
// failed append for one reading does not stop the remaining readings from
// the same payload.
func (p *Pipeline) Process(ctx context.Context, sourceDeviceID string, payload []byte, hint string) error {
	readings, err := p.normalizer.Normalize(sourceDeviceID, payload, hint)
	if err != nil {
		if errors.Is(err, reading.ErrUnknownChannel) {
			slog.InfoContext(ctx, "Dropping payload with no recognized channel",
				"source_device_id", sourceDeviceID,
				"hint", hint,
			)
			return nil
		}
		return err
	}

	var firstErr error
	for _, r := range readings {
		if err := p.sink.Append(ctx, r); err != nil {
			slog.ErrorContext(ctx, "Persisting reading failed",
				"channel", r.Channel.String(),
				"device_id", r.DeviceID,
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p.hub.Broadcast(r)
	}
	return firstErr
}
