package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"aquasense/internal/adapters/broker"
	"aquasense/internal/adapters/socket"
	"aquasense/internal/adapters/stream"
	"aquasense/internal/api"
	"aquasense/internal/checkpoint"
	"aquasense/internal/config"
	"aquasense/internal/db"
	"aquasense/internal/hub"
	"aquasense/internal/pipeline"
	"aquasense/internal/reading"
	"aquasense/internal/sink"
)

const shutdownGrace = 5 * time.Second

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	slog.InfoContext(ctx, "Starting service...")

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	database, err := db.Init(ctx, db.Config{
		ConnString:     cfg.Database.ConnString,
		MigrationsPath: cfg.Database.MigrationsPath,
	})
	if err != nil {
		panic(err)
	}
	defer database.Close()

	fanout := hub.New()
	pl := pipeline.New(pipeline.Config{
		Normalizer: reading.NewNormalizer(),
		Sink:       sink.New(sink.Config{Store: database}),
		Hub:        fanout,
	})

	var checkpoints *checkpoint.RedisStore
	if cfg.Stream.Checkpointed {
		checkpoints, err = checkpoint.New(ctx, checkpoint.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Group:    cfg.Redis.Group,
		})
		if err != nil {
			panic(err)
		}
		defer checkpoints.Close()
	} else {
		slog.InfoContext(ctx, "No checkpoint store configured, stream adapter runs in simple mode")
	}

	brokerAdapter := broker.New(broker.Config{
		BrokerURL: cfg.Broker.URL,
		ClientID:  cfg.Broker.ClientID,
		Topics:    cfg.Broker.Topics,
		Pipeline:  pl,
	})
	streamCfg := stream.Config{
		Brokers:    cfg.Stream.Brokers,
		Topic:      cfg.Stream.Topic,
		Partitions: cfg.Stream.Partitions,
		Pipeline:   pl,
	}
	if checkpoints != nil {
		streamCfg.Checkpoints = checkpoints
	}
	streamAdapter := stream.New(streamCfg)
	socketAdapter := socket.New(socket.Config{Pipeline: pl})

	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := brokerAdapter.Run(ctx); err != nil {
			slog.ErrorContext(ctx, "Broker adapter stopped", "error", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		streamAdapter.Run(ctx)
	}()

	readAPI := api.New(api.Config{Repo: database})
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/api/channels/{channel}/readings", readAPI.GetChannelReadings)
	r.Get("/api/channels/{channel}/stats", readAPI.GetChannelStats)
	r.Get("/ws", fanout.HandleWS)
	r.Get("/ingest", socketAdapter.HandleWS)

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: r}
	go func() {
		slog.InfoContext(ctx, "HTTP server listening...", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "HTTP server error", "error", err)
			cancel()
		}
	}()

	go func() {
		<-sigs
		cancel()
	}()

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}

	wg.Wait()

	brokerAdapter.Close(shutdownCtx)
	streamAdapter.Close(shutdownCtx)
	fanout.Close()
}
