package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"climate-api/internal/models"
	"climate-api/internal/repository"
	"climate-api/pkg/logging"
	"climate-api/pkg/metrics"
)

// IngestionService loads the station and measurement CSV exports into the
// store
type IngestionService struct {
	repo    repository.IngestionRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestionOptions controls a single ingestion run
type IngestionOptions struct {
	StationsFile     string
	MeasurementsFile string
	BatchSize        int
	// Truncate clears both tables before loading.
	Truncate bool
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	// RunID tags every log entry of the run.
	RunID        string
	Stations     FileIngestionResult
	Measurements FileIngestionResult
	Duration     time.Duration
	Errors       []string
}

// FileIngestionResult contains per-file ingestion statistics
type FileIngestionResult struct {
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
}

// maxRecordedErrors caps IngestionResult.Errors.
const maxRecordedErrors = 100

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.IngestionRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Ingest loads stations first, then measurements
func (s *IngestionService) Ingest(ctx context.Context, opts IngestionOptions) (*IngestionResult, error) {
	startTime := time.Now()
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}

	runID := uuid.NewString()
	runLog := s.logger.WithFields(logging.Fields{"run_id": runID})

	runLog.Info(ctx, "[INGEST_START] Starting data ingestion", logging.Fields{
		"stations_file":     opts.StationsFile,
		"measurements_file": opts.MeasurementsFile,
		"batch_size":        opts.BatchSize,
		"truncate":          opts.Truncate,
		"stage":             "INITIALIZATION",
	})

	result := &IngestionResult{RunID: runID, Errors: make([]string, 0)}

	if opts.Truncate {
		if err := s.repo.Truncate(ctx); err != nil {
			return nil, fmt.Errorf("failed to truncate tables: %w", err)
		}
	}

	if opts.StationsFile != "" {
		fileResult, err := s.ingestFile(ctx, opts.StationsFile, opts.BatchSize, result, s.stationLoader())
		if err != nil {
			return nil, fmt.Errorf("failed to ingest %s: %w", opts.StationsFile, err)
		}
		result.Stations = *fileResult
		logFileComplete(ctx, runLog, opts.StationsFile, fileResult)
	}

	if opts.MeasurementsFile != "" {
		fileResult, err := s.ingestFile(ctx, opts.MeasurementsFile, opts.BatchSize, result, s.measurementLoader())
		if err != nil {
			return nil, fmt.Errorf("failed to ingest %s: %w", opts.MeasurementsFile, err)
		}
		result.Measurements = *fileResult
		logFileComplete(ctx, runLog, opts.MeasurementsFile, fileResult)
	}

	result.Duration = time.Since(startTime)

	runLog.Info(ctx, "[INGEST_COMPLETE] Data ingestion completed", logging.Fields{
		"stations_loaded":     result.Stations.SuccessfulRecords,
		"measurements_loaded": result.Measurements.SuccessfulRecords,
		"failed_records":      result.Stations.FailedRecords + result.Measurements.FailedRecords,
		"duration_seconds":    result.Duration.Seconds(),
		"error_count":         len(result.Errors),
		"stage":               "COMPLETE",
	})

	return result, nil
}

func logFileComplete(ctx context.Context, runLog *logging.ContextLogger, path string, r *FileIngestionResult) {
	runLog.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested successfully", logging.Fields{
		"file_path":          path,
		"total_records":      r.TotalRecords,
		"successful_records": r.SuccessfulRecords,
		"failed_records":     r.FailedRecords,
		"stage":              "FILE_COMPLETE",
	})
}

// rowLoader converts CSV rows and flushes converted batches.
type rowLoader struct {
	header  string
	columns int
	add     func(row []string) error
	pending func() int
	flush   func(ctx context.Context) error
}

func (s *IngestionService) stationLoader() rowLoader {
	batch := make([]*models.Station, 0)
	return rowLoader{
		header:  "station",
		columns: 5,
		add: func(row []string) error {
			station, err := (&models.RawStationRecord{
				Station:   row[0],
				Name:      row[1],
				Latitude:  row[2],
				Longitude: row[3],
				Elevation: row[4],
			}).ToStation()
			if err != nil {
				return err
			}
			batch = append(batch, station)
			return nil
		},
		pending: func() int { return len(batch) },
		flush: func(ctx context.Context) error {
			if err := s.repo.CreateStationsBatch(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
			return nil
		},
	}
}

func (s *IngestionService) measurementLoader() rowLoader {
	batch := make([]*models.Measurement, 0)
	return rowLoader{
		header:  "station",
		columns: 4,
		add: func(row []string) error {
			m, err := (&models.RawMeasurementRecord{
				Station:       row[0],
				Date:          row[1],
				Precipitation: row[2],
				Tobs:          row[3],
			}).ToMeasurement()
			if err != nil {
				return err
			}
			batch = append(batch, m)
			return nil
		},
		pending: func() int { return len(batch) },
		flush: func(ctx context.Context) error {
			if err := s.repo.CreateMeasurementsBatch(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
			return nil
		},
	}
}

// ingestFile streams one CSV file through loader
func (s *IngestionService) ingestFile(ctx context.Context, path string, batchSize int, result *IngestionResult, loader rowLoader) (*FileIngestionResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return s.ingestReader(ctx, file, path, batchSize, result, loader)
}

func (s *IngestionService) ingestReader(ctx context.Context, r io.Reader, source string, batchSize int, result *IngestionResult, loader rowLoader) (*FileIngestionResult, error) {
	fileResult := &FileIngestionResult{}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	line := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				fileResult.TotalRecords++
				fileResult.FailedRecords++
				s.metrics.RecordIngestionError("csv_error")
				s.recordError(result, fmt.Sprintf("%s:%d: %v", source, line, err))
				continue
			}
			return nil, fmt.Errorf("error reading file: %w", err)
		}

		if line == 1 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), loader.header) {
			continue
		}

		fileResult.TotalRecords++

		if len(row) != loader.columns {
			fileResult.FailedRecords++
			s.metrics.RecordIngestionError("column_count")
			s.recordError(result, fmt.Sprintf("%s:%d: expected %d fields, got %d", source, line, loader.columns, len(row)))
			continue
		}

		if err := loader.add(row); err != nil {
			fileResult.FailedRecords++
			s.metrics.RecordIngestionError("conversion_error")
			s.recordError(result, fmt.Sprintf("%s:%d: %v", source, line, err))
			continue
		}

		if loader.pending() >= batchSize {
			n := loader.pending()
			if err := loader.flush(ctx); err != nil {
				return nil, fmt.Errorf("failed to insert batch: %w", err)
			}
			fileResult.SuccessfulRecords += n
		}
	}

	if n := loader.pending(); n > 0 {
		if err := loader.flush(ctx); err != nil {
			return nil, fmt.Errorf("failed to insert final batch: %w", err)
		}
		fileResult.SuccessfulRecords += n
	}

	return fileResult, nil
}

func (s *IngestionService) recordError(result *IngestionResult, msg string) {
	if len(result.Errors) < maxRecordedErrors {
		result.Errors = append(result.Errors, msg)
	}
}
