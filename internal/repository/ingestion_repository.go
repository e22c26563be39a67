package repository

import (
	"context"
	"fmt"
	"time"

	"climate-api/internal/models"
	"climate-api/pkg/database"
	"climate-api/pkg/logging"
	"climate-api/pkg/metrics"
)

// IngestionRepository loads the dataset. It is used only by the ingester
// binary; the API never writes.
type IngestionRepository interface {
	CreateStationsBatch(ctx context.Context, stations []*models.Station) error
	CreateMeasurementsBatch(ctx context.Context, measurements []*models.Measurement) error

	// Truncate removes every measurement and station.
	Truncate(ctx context.Context) error
}

// NewIngestionRepository creates a repository that can write the dataset
func NewIngestionRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) IngestionRepository {
	return &climateRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// CreateStationsBatch inserts stations in a single transaction
func (r *climateRepository) CreateStationsBatch(ctx context.Context, stations []*models.Station) error {
	rows := make([][]interface{}, 0, len(stations))
	for _, s := range stations {
		rows = append(rows, []interface{}{s.Station, s.Name, s.Latitude, s.Longitude, s.Elevation})
	}
	return r.insertBatch(ctx, "station",
		`INSERT INTO station (station, name, latitude, longitude, elevation) VALUES (?, ?, ?, ?, ?)`,
		rows)
}

// CreateMeasurementsBatch inserts measurements in a single transaction
func (r *climateRepository) CreateMeasurementsBatch(ctx context.Context, measurements []*models.Measurement) error {
	rows := make([][]interface{}, 0, len(measurements))
	for _, m := range measurements {
		rows = append(rows, []interface{}{m.Station, m.Date, m.Precipitation, m.Tobs})
	}
	return r.insertBatch(ctx, "measurement",
		`INSERT INTO measurement (station, date, prcp, tobs) VALUES (?, ?, ?, ?)`,
		rows)
}

func (r *climateRepository) insertBatch(ctx context.Context, table, query string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		duration := time.Since(timer)
		r.metrics.IngestionBatchSize.Observe(float64(len(rows)))
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"table":       table,
			"count":       len(rows),
			"duration_ms": duration.Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(query))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, args := range rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.IngestionRecordsTotal.WithLabelValues(table).Add(float64(len(rows)))

	return nil
}

// Truncate removes all rows from both tables
func (r *climateRepository) Truncate(ctx context.Context) error {
	for _, table := range []string{"measurement", "station"} {
		if _, err := r.db.ExecContext(ctx, "truncate_"+table, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}
