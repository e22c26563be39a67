package repository

import (
	"context"
	"database/sql"
	"fmt"

	"climate-api/internal/models"
	"climate-api/pkg/database"
	"climate-api/pkg/logging"
	"climate-api/pkg/metrics"
)

// ClimateRepository provides read-only access to measurements and stations.
// Every read happens through a ClimateReader bound to one session.
type ClimateRepository interface {
	// Open acquires a session. Failures are *database.ConnectivityError.
	Open(ctx context.Context) (ClimateReader, error)

	HealthCheck(ctx context.Context) error
}

// ClimateReader runs queries on a single acquired session. Close must be
// called on every path.
type ClimateReader interface {
	// LatestMeasurementDate returns the greatest date in the measurement
	// table, or models.ErrNoMeasurements when it is empty.
	LatestMeasurementDate(ctx context.Context) (string, error)

	PrecipitationSince(ctx context.Context, since string) ([]models.PrecipitationEntry, error)
	Stations(ctx context.Context) ([]models.StationSummary, error)
	TemperatureObservationsSince(ctx context.Context, station, since string) ([]models.TemperatureObservation, error)

	// TemperatureStats aggregates tobs over the range. An empty range yields
	// all-nil stats, not an error.
	TemperatureStats(ctx context.Context, r models.TemperatureRange) (models.TemperatureStats, error)

	Close() error
}

const (
	latestDateQuery = `SELECT MAX(date) FROM measurement`

	precipitationQuery = `
		SELECT date, prcp
		FROM measurement
		WHERE date >= ?
		ORDER BY id
	`

	stationsQuery = `
		SELECT id, station, name
		FROM station
		ORDER BY id
	`

	temperatureObservationsQuery = `
		SELECT date, tobs
		FROM measurement
		WHERE station = ? AND date >= ?
		ORDER BY id
	`

	temperatureStatsQuery = `
		SELECT MIN(tobs) AS min_tobs, MAX(tobs) AS max_tobs, AVG(tobs) AS avg_tobs
		FROM measurement
		WHERE date >= ?
	`
)

// climateRepository implements ClimateRepository and IngestionRepository
type climateRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewClimateRepository creates a new read-only climate repository
func NewClimateRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ClimateRepository {
	return &climateRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Open acquires a dedicated session for one operation
func (r *climateRepository) Open(ctx context.Context) (ClimateReader, error) {
	session, err := r.db.Session(ctx)
	if err != nil {
		return nil, err
	}
	return &climateReader{session: session, logger: r.logger}, nil
}

// HealthCheck performs a repository health check
func (r *climateRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

type climateReader struct {
	session *database.Session
	logger  *logging.StructuredLogger
}

func (c *climateReader) LatestMeasurementDate(ctx context.Context) (string, error) {
	var latest sql.NullString
	if err := c.session.GetContext(ctx, "latest_measurement_date", &latest, latestDateQuery); err != nil {
		return "", fmt.Errorf("failed to get latest measurement date: %w", err)
	}
	if !latest.Valid {
		return "", models.ErrNoMeasurements
	}
	return latest.String, nil
}

func (c *climateReader) PrecipitationSince(ctx context.Context, since string) ([]models.PrecipitationEntry, error) {
	entries := []models.PrecipitationEntry{}
	if err := c.session.SelectContext(ctx, "precipitation_since", &entries, precipitationQuery, since); err != nil {
		return nil, fmt.Errorf("failed to list precipitation: %w", err)
	}

	c.logger.Debug(ctx, "[REPO_PRECIPITATION] Precipitation loaded", logging.Fields{
		"since": since,
		"count": len(entries),
	})
	return entries, nil
}

func (c *climateReader) Stations(ctx context.Context) ([]models.StationSummary, error) {
	stations := []models.StationSummary{}
	if err := c.session.SelectContext(ctx, "list_stations", &stations, stationsQuery); err != nil {
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}
	return stations, nil
}

func (c *climateReader) TemperatureObservationsSince(ctx context.Context, station, since string) ([]models.TemperatureObservation, error) {
	observations := []models.TemperatureObservation{}
	if err := c.session.SelectContext(ctx, "temperature_observations_since", &observations, temperatureObservationsQuery, station, since); err != nil {
		return nil, fmt.Errorf("failed to list temperature observations: %w", err)
	}

	c.logger.Debug(ctx, "[REPO_TOBS] Temperature observations loaded", logging.Fields{
		"station": station,
		"since":   since,
		"count":   len(observations),
	})
	return observations, nil
}

func (c *climateReader) TemperatureStats(ctx context.Context, rng models.TemperatureRange) (models.TemperatureStats, error) {
	query := temperatureStatsQuery
	args := []interface{}{rng.Start}
	if rng.End != nil {
		query += " AND date <= ?"
		args = append(args, *rng.End)
	}

	var stats models.TemperatureStats
	if err := c.session.GetContext(ctx, "temperature_stats", &stats, query, args...); err != nil {
		return models.TemperatureStats{}, fmt.Errorf("failed to aggregate temperatures: %w", err)
	}
	return stats, nil
}

func (c *climateReader) Close() error {
	return c.session.Close()
}
