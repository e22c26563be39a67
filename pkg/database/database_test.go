package database

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"

	"climate-api/pkg/logging"
	"climate-api/pkg/metrics"
)

func testLogger() *logging.StructuredLogger {
	return logging.New(logging.Options{Service: "database-test", Level: logging.ErrorLevel, Output: io.Discard})
}

func openSQLite(t *testing.T) (*DB, *metrics.Collector) {
	t.Helper()
	collector := metrics.NewCollector("database_test")
	db, err := Open(&Config{
		Driver:          DriverSQLite,
		SQLitePath:      filepath.Join(t.TempDir(), "climate.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnectTimeout:  time.Second,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	}, testLogger(), collector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, collector
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    []string
		wantErr bool
	}{
		{
			name: "postgres",
			cfg: Config{
				Driver: DriverPostgres, Host: "db", Port: 5432, User: "u", Password: "p",
				Database: "climate", SSLMode: "disable", ConnectTimeout: 3 * time.Second,
			},
			want: []string{"host=db", "port=5432", "dbname=climate", "sslmode=disable", "connect_timeout=3"},
		},
		{
			name: "sqlite file uri keeps existing query",
			cfg:  Config{Driver: DriverSQLite, SQLitePath: "file:test.db?mode=ro"},
			want: []string{"file:test.db?mode=ro&", "_foreign_keys=on", "_busy_timeout=5000"},
		},
		{
			name:    "sqlite without path",
			cfg:     Config{Driver: DriverSQLite},
			wantErr: true,
		},
		{
			name:    "unknown driver",
			cfg:     Config{Driver: "mysql"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := buildDSN(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildDSN() error = %v, wantErr %v", err, tt.wantErr)
			}
			for _, part := range tt.want {
				if !strings.Contains(dsn, part) {
					t.Errorf("dsn %q should contain %q", dsn, part)
				}
			}
		})
	}
}

func TestOpen_Unreachable(t *testing.T) {
	_, err := Open(&Config{
		Driver:     DriverSQLite,
		SQLitePath: "file:" + filepath.Join(t.TempDir(), "missing", "climate.db") + "?mode=ro",
	}, testLogger(), metrics.NewCollector("database_test"))

	var cerr *ConnectivityError
	if !errors.As(err, &cerr) {
		t.Fatalf("Open() error = %v, want *ConnectivityError", err)
	}
	if cerr.Op != "ping" || !cerr.IsTransient() {
		t.Errorf("ConnectivityError = %+v", cerr)
	}
}

func TestSession_QueryAndRelease(t *testing.T) {
	db, collector := openSQLite(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "create", `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.ExecContext(ctx, "insert", `INSERT INTO t (name) VALUES ('a'), ('b')`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	session, err := db.Session(ctx)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if v := testutil.ToFloat64(collector.SessionsOpen); v != 1 {
		t.Errorf("sessions open = %v, want 1", v)
	}

	var names []string
	if err := session.SelectContext(ctx, "select_names", &names, `SELECT name FROM t WHERE id >= ? ORDER BY id`, 1); err != nil {
		t.Fatalf("SelectContext: %v", err)
	}
	if len(names) != 2 || names[0] != "a" {
		t.Errorf("names = %v", names)
	}

	var count int
	if err := session.GetContext(ctx, "count", &count, `SELECT COUNT(*) FROM t`); err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	if err := session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Second close is a no-op.
	if err := session.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if v := testutil.ToFloat64(collector.SessionsOpen); v != 0 {
		t.Errorf("sessions open after close = %v, want 0", v)
	}
	if n := db.DB().Stats().InUse; n != 0 {
		t.Errorf("connections in use = %d, want 0", n)
	}
}

func TestSession_QueryErrorIsNotConnectivity(t *testing.T) {
	db, _ := openSQLite(t)
	ctx := context.Background()

	session, err := db.Session(ctx)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	defer session.Close()

	var v int
	err = session.GetContext(ctx, "missing_table", &v, `SELECT x FROM no_such_table`)
	if err == nil {
		t.Fatal("expected error")
	}
	var cerr *ConnectivityError
	if errors.As(err, &cerr) {
		t.Error("query failure should not be a ConnectivityError")
	}
}

func TestSession_BreakerOpensAfterFailures(t *testing.T) {
	db, collector := openSQLite(t)
	ctx := context.Background()

	// Closing the pool makes every acquisition fail.
	db.DB().Close()

	for i := 0; i < 2; i++ {
		_, err := db.Session(ctx)
		var cerr *ConnectivityError
		if !errors.As(err, &cerr) {
			t.Fatalf("attempt %d: error = %v, want *ConnectivityError", i, err)
		}
	}

	_, err := db.Session(ctx)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("error = %v, want breaker open", err)
	}
	if v := testutil.ToFloat64(collector.DBBreakerState); v != float64(gobreaker.StateOpen) {
		t.Errorf("breaker gauge = %v, want %v", v, float64(gobreaker.StateOpen))
	}
	if v := testutil.ToFloat64(collector.DBErrorsTotal.WithLabelValues("session_error")); v != 3 {
		t.Errorf("session errors = %v, want 3", v)
	}
}

func TestSession_CallerContextDoesNotTripBreaker(t *testing.T) {
	db, collector := openSQLite(t)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()

	tests := []struct {
		name string
		ctx  context.Context
		want error
	}{
		{name: "canceled", ctx: canceled, want: context.Canceled},
		{name: "deadline exceeded", ctx: expired, want: context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// More attempts than BreakerFailures.
			for i := 0; i < 3; i++ {
				_, err := db.Session(tt.ctx)
				if !errors.Is(err, tt.want) {
					t.Fatalf("attempt %d: error = %v, want %v", i, err, tt.want)
				}
				var cerr *ConnectivityError
				if errors.As(err, &cerr) {
					t.Fatalf("attempt %d: caller context error reported as ConnectivityError", i)
				}
			}
		})
	}

	if state := db.breaker.State(); state != gobreaker.StateClosed {
		t.Fatalf("breaker state = %v, want closed", state)
	}

	session, err := db.Session(context.Background())
	if err != nil {
		t.Fatalf("Session on healthy store: %v", err)
	}
	session.Close()

	if v := testutil.ToFloat64(collector.DBErrorsTotal.WithLabelValues("session_error")); v != 0 {
		t.Errorf("session errors = %v, want 0", v)
	}
}

func TestHealthCheck(t *testing.T) {
	db, _ := openSQLite(t)

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	db.DB().Close()
	var cerr *ConnectivityError
	if err := db.HealthCheck(context.Background()); !errors.As(err, &cerr) {
		t.Errorf("HealthCheck() after close = %v, want *ConnectivityError", err)
	}
}

func TestPoolMonitor(t *testing.T) {
	collector := metrics.NewCollector("database_test")
	db, err := Open(&Config{
		Driver:          DriverSQLite,
		SQLitePath:      filepath.Join(t.TempDir(), "monitor.db"),
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		MonitorInterval: 20 * time.Millisecond,
	}, testLogger(), collector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(collector.DBConnectionPool.WithLabelValues("total")) >= 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("pool monitor never reported an open connection")
}
