// Package stream bridges a partitioned Kafka event stream into the shared
// ingestion pipeline. With a checkpoint store configured, each partition
// resumes from its stored cursor and the cursor advances only after the
// event's pipeline run; without one the adapter runs best-effort from the
// tail of each partition.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"aquasense/internal/worker"
)

var (
	ErrReadMessage    = errors.New("error reading message")
	ErrCheckpointLoad = errors.New("error loading checkpoint")
)

// deviceIDHeader carries the device identity the transport attaches to each
// event, mirroring the hub-assigned connection property of cloud IoT
// brokers.
const deviceIDHeader = "device-id"

const readRetryDelay = time.Second

type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	SetOffset(offset int64) error
	Close() error
}

type checkpointStore interface {
	Load(ctx context.Context, partition int) (offset int64, found bool, err error)
	Save(ctx context.Context, partition int, offset int64) error
}

type pipeline interface {
	Process(ctx context.Context, sourceDeviceID string, payload []byte, hint string) error
}

type Config struct {
	Brokers    []string
	Topic      string
	Partitions []int
	// Checkpoints nil selects simple mode: no cursor, resume from "now".
	Checkpoints checkpointStore
	Pipeline    pipeline
}

type Adapter struct {
	cfg        Config
	processors []*partitionProcessor
}

func New(cfg Config) *Adapter {
	a := &Adapter{cfg: cfg}
	for _, partition := range cfg.Partitions {
		a.processors = append(a.processors, &partitionProcessor{
			partition: partition,
			reader: kafka.NewReader(kafka.ReaderConfig{
				Brokers:   cfg.Brokers,
				Topic:     cfg.Topic,
				Partition: partition,
			}),
			checkpoints: cfg.Checkpoints,
			pipeline:    cfg.Pipeline,
		})
	}
	return a
}

// Run starts one worker per partition and blocks until the context is
// cancelled. A failing partition never stops the others.
func (a *Adapter) Run(ctx context.Context) {
	mode := "checkpointed"
	if a.cfg.Checkpoints == nil {
		mode = "simple"
	}
	slog.InfoContext(ctx, "Stream adapter started...", "topic", a.cfg.Topic, "mode", mode, "partitions", a.cfg.Partitions)

	wg := sync.WaitGroup{}
	for _, p := range a.processors {
		p := p
		w := worker.New(worker.Config{
			Name:      fmt.Sprintf("stream-partition-%d", p.partition),
			Processor: p,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.seek(ctx); err != nil {
				slog.ErrorContext(ctx, "Seeking partition failed, stopping its worker",
					"partition", p.partition, "error", err)
				return
			}
			w.Run(ctx)
		}()
	}
	wg.Wait()
}

func (a *Adapter) Close(ctx context.Context) {
	slog.InfoContext(ctx, "Closing stream adapter resources...")
	for _, p := range a.processors {
		p.reader.Close()
	}
}

type partitionProcessor struct {
	partition   int
	reader      Reader
	checkpoints checkpointStore
	pipeline    pipeline
}

// seek positions the reader: at the stored cursor in checkpointed mode, at
// the partition tail otherwise.
func (p *partitionProcessor) seek(ctx context.Context) error {
	const fn = "PartitionProcessor:Seek"
	if p.checkpoints == nil {
		if err := p.reader.SetOffset(kafka.LastOffset); err != nil {
			return fmt.Errorf("%s:%w:%w", fn, ErrCheckpointLoad, err)
		}
		return nil
	}

	offset, found, err := p.checkpoints.Load(ctx, p.partition)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrCheckpointLoad, err)
	}
	if !found {
		offset = kafka.FirstOffset
	}
	if err := p.reader.SetOffset(offset); err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrCheckpointLoad, err)
	}
	return nil
}

// ProcessMessage handles one event: read, run the pipeline, then advance
// the checkpoint. The checkpoint advances past the event even when the
// pipeline failed, so a poison message cannot stall its partition; the drop
// is logged here with partition and offset and not resurfaced to the run
// loop.
func (p *partitionProcessor) ProcessMessage(ctx context.Context) error {
	const fn = "PartitionProcessor:ProcessMessage"
	m, err := p.reader.ReadMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			time.Sleep(readRetryDelay)
		}
		return fmt.Errorf("%s:%w:%w", fn, ErrReadMessage, err)
	}

	if perr := p.pipeline.Process(ctx, deviceID(m), m.Value, ""); perr != nil {
		slog.ErrorContext(ctx, "Pipeline failed for stream event, advancing past it",
			"partition", m.Partition,
			"offset", m.Offset,
			"error", perr,
		)
	}

	if p.checkpoints != nil {
		if err := p.checkpoints.Save(ctx, p.partition, m.Offset+1); err != nil {
			slog.ErrorContext(ctx, "Committing checkpoint failed",
				"partition", p.partition,
				"offset", m.Offset+1,
				"error", err,
			)
		}
	}
	return nil
}

func deviceID(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == deviceIDHeader {
			return string(h.Value)
		}
	}
	return string(m.Key)
}
