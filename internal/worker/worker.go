package worker

import (
	"context"
	"log/slog"
)

type Config struct {
	Name      string
	Processor Processor
}

type Processor interface {
	ProcessMessage(ctx context.Context) error
}

type Worker struct {
	name      string
	processor Processor
}

func New(cfg Config) *Worker {
	return &Worker{
		name:      cfg.Name,
		processor: cfg.Processor,
	}
}

// Run drives the processor until the context is cancelled. Processing
// errors are logged and never stop the loop.
func (w *Worker) Run(ctx context.Context) {
	slog.InfoContext(ctx, "Worker started...", "worker", w.name)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Worker stopped...", "worker", w.name)
			return
		default:
			if err := w.processor.ProcessMessage(ctx); err != nil {
				slog.ErrorContext(ctx, "Processing message failed", "worker", w.name, "error", err)
			}
		}
	}
}
