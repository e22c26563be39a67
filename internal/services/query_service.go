package services

import (
	"context"
	"fmt"
	"time"

	"climate-api/internal/models"
	"climate-api/internal/repository"
	"climate-api/pkg/logging"
	"climate-api/pkg/metrics"
)

// RollingWindowDays is the fixed length of the trailing window ending at the
// latest recorded measurement. It is a day count, not a calendar year.
const RollingWindowDays = 365

// QueryOptions configures a QueryService.
type QueryOptions struct {
	// MostActiveStation is the station whose temperature observations are
	// served by ListTemperatureObservations.
	MostActiveStation string
}

// QueryService answers the fixed read queries over measurements and
// stations. It holds no mutable state; each operation uses its own session.
type QueryService struct {
	repo    repository.ClimateRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	opts    QueryOptions
}

// NewQueryService creates a new query service
func NewQueryService(repo repository.ClimateRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector, opts QueryOptions) *QueryService {
	return &QueryService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
		opts:    opts,
	}
}

// MostActiveStation returns the configured station code.
func (s *QueryService) MostActiveStation() string {
	return s.opts.MostActiveStation
}

// RollingWindowStart returns latest minus RollingWindowDays, both as
// YYYY-MM-DD strings.
func RollingWindowStart(latest string) (string, error) {
	t, err := models.ParseDate("latest measurement date", latest)
	if err != nil {
		return "", err
	}
	return models.FormatDate(t.AddDate(0, 0, -RollingWindowDays)), nil
}

// ListPrecipitation returns every precipitation value inside the rolling
// window, in storage order, keeping nulls.
func (s *QueryService) ListPrecipitation(ctx context.Context) ([]models.PrecipitationEntry, error) {
	const op = "list_precipitation"
	start := time.Now()

	reader, err := s.open(ctx, op)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, op, reader)

	since, err := s.windowStart(ctx, reader)
	if err != nil {
		return nil, err
	}

	entries, err := reader.PrecipitationSince(ctx, since)
	if err != nil {
		return nil, err
	}

	s.observe(ctx, op, start, len(entries), logging.Fields{"query_date": since})
	return entries, nil
}

// ListStations returns every station in storage order.
func (s *QueryService) ListStations(ctx context.Context) ([]models.StationSummary, error) {
	const op = "list_stations"
	start := time.Now()

	reader, err := s.open(ctx, op)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, op, reader)

	stations, err := reader.Stations(ctx)
	if err != nil {
		return nil, err
	}

	s.observe(ctx, op, start, len(stations), logging.Fields{})
	return stations, nil
}

// ListTemperatureObservations returns the most active station's
// observations inside the rolling window.
func (s *QueryService) ListTemperatureObservations(ctx context.Context) ([]models.TemperatureObservation, error) {
	const op = "list_temperature_observations"
	start := time.Now()

	reader, err := s.open(ctx, op)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, op, reader)

	since, err := s.windowStart(ctx, reader)
	if err != nil {
		return nil, err
	}

	observations, err := reader.TemperatureObservationsSince(ctx, s.opts.MostActiveStation, since)
	if err != nil {
		return nil, err
	}

	s.observe(ctx, op, start, len(observations), logging.Fields{
		"station":    s.opts.MostActiveStation,
		"query_date": since,
	})
	return observations, nil
}

// TemperatureStats returns min/max/avg temperature for date >= start as a
// one-element slice. The fields are nil when no rows match.
func (s *QueryService) TemperatureStats(ctx context.Context, start string) ([]models.TemperatureStats, error) {
	startDate, err := models.ParseDate("start", start)
	if err != nil {
		return nil, err
	}

	return s.temperatureStats(ctx, "temperature_stats", models.TemperatureRange{
		Start: models.FormatDate(startDate),
	})
}

// TemperatureStatsRange is TemperatureStats bounded by date <= end. An end
// before start is a valid query with nil results.
func (s *QueryService) TemperatureStatsRange(ctx context.Context, start, end string) ([]models.TemperatureStats, error) {
	startDate, err := models.ParseDate("start", start)
	if err != nil {
		return nil, err
	}
	endDate, err := models.ParseDate("end", end)
	if err != nil {
		return nil, err
	}

	endStr := models.FormatDate(endDate)
	return s.temperatureStats(ctx, "temperature_stats_range", models.TemperatureRange{
		Start: models.FormatDate(startDate),
		End:   &endStr,
	})
}

func (s *QueryService) temperatureStats(ctx context.Context, op string, rng models.TemperatureRange) ([]models.TemperatureStats, error) {
	start := time.Now()

	reader, err := s.open(ctx, op)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, op, reader)

	stats, err := reader.TemperatureStats(ctx, rng)
	if err != nil {
		return nil, err
	}

	fields := logging.Fields{"start": rng.Start, "empty": stats.Empty()}
	if rng.End != nil {
		fields["end"] = *rng.End
	}
	s.observe(ctx, op, start, 1, fields)

	return []models.TemperatureStats{stats}, nil
}

// windowStart derives query_date from the latest recorded measurement.
func (s *QueryService) windowStart(ctx context.Context, reader repository.ClimateReader) (string, error) {
	latest, err := reader.LatestMeasurementDate(ctx)
	if err != nil {
		return "", err
	}

	since, err := RollingWindowStart(latest)
	if err != nil {
		// Not a caller error: report it without the ParseError type.
		return "", fmt.Errorf("stored measurement date %q is malformed: %v", latest, err)
	}
	return since, nil
}

func (s *QueryService) open(ctx context.Context, op string) (repository.ClimateReader, error) {
	reader, err := s.repo.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return reader, nil
}

func (s *QueryService) release(ctx context.Context, op string, reader repository.ClimateReader) {
	if err := reader.Close(); err != nil {
		s.logger.Warn(ctx, "[QUERY_RELEASE_WARNING] Failed to release session", logging.Fields{
			"operation": op,
			"error":     err.Error(),
		})
	}
}

func (s *QueryService) observe(ctx context.Context, op string, start time.Time, rows int, fields logging.Fields) {
	duration := time.Since(start)
	s.metrics.RecordQuery(op, duration, rows)

	fields["operation"] = op
	fields["rows"] = rows
	fields["duration_ms"] = duration.Milliseconds()
	s.logger.Debug(ctx, "[QUERY_COMPLETE] Query completed", fields)
}
