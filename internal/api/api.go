package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"aquasense/internal/channel"
	"aquasense/internal/db"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

type repository interface {
	LoadLatestReadings(ctx context.Context, channel string, limit int) ([]db.SensorReading, error)
	ChannelStats(ctx context.Context, channel string) (db.ChannelStats, error)
}

type API struct {
	repo repository
}

type Config struct {
	Repo repository
}

func New(cfg Config) *API {
	return &API{repo: cfg.Repo}
}

func (a *API) GetChannelReadings(w http.ResponseWriter, r *http.Request) {
	ch, err := channel.Resolve(chi.URLParam(r, "channel"))
	if err != nil {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	limit := defaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(parsed, maxLimit)
	}

	readings, err := a.repo.LoadLatestReadings(r.Context(), ch.String(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := GetChannelReadingsResponse{Readings: []ReadingDTO{}}
	for _, reading := range readings {
		resp.Readings = append(resp.Readings, ReadingDTO{
			Channel:   reading.Channel,
			DeviceID:  reading.DeviceID,
			Value:     reading.Value,
			Timestamp: time.UnixMilli(reading.Timestamp).UTC().Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (a *API) GetChannelStats(w http.ResponseWriter, r *http.Request) {
	ch, err := channel.Resolve(chi.URLParam(r, "channel"))
	if err != nil {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}

	stats, err := a.repo.ChannelStats(r.Context(), ch.String())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := ChannelStatsResponse{Count: stats.Count}
	if stats.LatestTimestamp > 0 {
		resp.LatestTimestamp = time.UnixMilli(stats.LatestTimestamp).UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
