package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/pgxscan"
	"github.com/jackc/pgx/v4"
)

var (
	ErrInsertFailed = errors.New("insert operation failed")
	ErrSelectFailed = errors.New("select operation failed")
)

func (db *DB) InsertReading(ctx context.Context, r SensorReading) error {
	const fn = "DB:InsertReading"
	_, err := db.pool.Exec(ctx, `
		INSERT INTO sensor_readings (
			channel,
			device_id,
			value,
			metadata,
			timestamp
		) VALUES ($1, $2, $3, $4, $5)
	`, r.Channel, r.DeviceID, r.Value, r.Metadata, r.Timestamp)
	if err != nil {
		return fmt.Errorf("%s:%w:%w", fn, ErrInsertFailed, err)
	}
	return nil
}

func (db *DB) LoadLatestReadings(ctx context.Context, channel string, limit int) ([]SensorReading, error) {
	const fn = "DB:LoadLatestReadings"
	var readings []SensorReading
	err := pgxscan.Select(ctx, db.pool, &readings, `
		SELECT
			channel,
			device_id,
			value,
			metadata,
			timestamp
		FROM sensor_readings
		WHERE channel = $1
		ORDER BY timestamp DESC, device_id
		LIMIT $2
	`, channel, limit)
	if err != nil {
		if err == pgx.ErrNoRows {
			return []SensorReading{}, nil
		}
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return readings, nil
}

func (db *DB) ChannelStats(ctx context.Context, channel string) (ChannelStats, error) {
	const fn = "DB:ChannelStats"
	var stats ChannelStats
	err := pgxscan.Get(ctx, db.pool, &stats, `
		SELECT
			COUNT(*) AS count,
			COALESCE(MAX(timestamp), 0) AS latest_timestamp
		FROM sensor_readings
		WHERE channel = $1
	`, channel)
	if err != nil {
		return ChannelStats{}, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return stats, nil
}
