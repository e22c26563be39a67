// Package storetest builds throwaway SQLite stores for tests.
package storetest

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"climate-api/internal/schema"
	"climate-api/pkg/database"
	"climate-api/pkg/logging"
	"climate-api/pkg/metrics"
)

// Logger returns a logger that discards output.
func Logger() *logging.StructuredLogger {
	return logging.New(logging.Options{Service: "test", Level: logging.ErrorLevel, Output: io.Discard})
}

// Store is a migrated SQLite database in a temp directory.
type Store struct {
	DB      *database.DB
	Logger  *logging.StructuredLogger
	Metrics *metrics.Collector
}

// New opens a fresh store with the schema applied. It is closed on cleanup.
func New(t *testing.T) *Store {
	t.Helper()

	logger := Logger()
	collector := metrics.NewCollector("test")

	db, err := database.Open(&database.Config{
		Driver:          database.DriverSQLite,
		SQLitePath:      filepath.Join(t.TempDir(), "climate.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnectTimeout:  time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  time.Minute,
	}, logger, collector)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := schema.Apply(context.Background(), db.DB(), schema.Up); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	return &Store{DB: db, Logger: logger, Metrics: collector}
}

// Measurement is a fixture row. A nil Prcp is stored as NULL.
type Measurement struct {
	Station string
	Date    string
	Prcp    *float64
	Tobs    float64
}

// Station is a fixture row.
type Station struct {
	Station string
	Name    string
}

// AddMeasurements inserts rows in order.
func (s *Store) AddMeasurements(t *testing.T, rows ...Measurement) {
	t.Helper()
	for _, m := range rows {
		if _, err := s.DB.DB().Exec(
			`INSERT INTO measurement (station, date, prcp, tobs) VALUES (?, ?, ?, ?)`,
			m.Station, m.Date, m.Prcp, m.Tobs,
		); err != nil {
			t.Fatalf("insert measurement %+v: %v", m, err)
		}
	}
}

// AddStations inserts rows in order.
func (s *Store) AddStations(t *testing.T, rows ...Station) {
	t.Helper()
	for _, st := range rows {
		if _, err := s.DB.DB().Exec(
			`INSERT INTO station (station, name) VALUES (?, ?)`,
			st.Station, st.Name,
		); err != nil {
			t.Fatalf("insert station %+v: %v", st, err)
		}
	}
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
