package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sony/gobreaker"

	"climate-api/pkg/logging"
	"climate-api/pkg/metrics"
)

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds database connection configuration
type Config struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// SQLitePath is a file path or a "file:" URI.
	SQLitePath string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration

	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// MonitorInterval is how often pool statistics are sampled. Zero
	// disables sampling.
	MonitorInterval time.Duration
}

// DB wraps sqlx.DB with monitoring, metrics and request-scoped sessions
type DB struct {
	db        *sqlx.DB
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
	config    *Config
	breaker   *gobreaker.CircuitBreaker
	scheduler *gocron.Scheduler
}

// Open creates a connection pool for the configured driver and verifies it
// with a ping.
func Open(cfg *Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ConnectivityError{Op: "ping", Err: err}
	}

	logger.Info(context.Background(), "[DB_INIT] Database connection established", logging.Fields{
		"driver":            cfg.Driver,
		"target":            describeTarget(cfg),
		"max_open_conns":    cfg.MaxOpenConns,
		"max_idle_conns":    cfg.MaxIdleConns,
		"conn_max_lifetime": cfg.ConnMaxLifetime.String(),
	})

	d := &DB{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		config:  cfg,
	}
	d.breaker = d.newBreaker()

	if cfg.MonitorInterval > 0 {
		if err := d.startPoolMonitor(cfg.MonitorInterval); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to schedule pool monitor: %w", err)
		}
	}

	return d, nil
}

func buildDSN(cfg *Config) (string, error) {
	switch cfg.Driver {
	case DriverPostgres:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host,
			cfg.Port,
			cfg.User,
			cfg.Password,
			cfg.Database,
			cfg.SSLMode,
		)
		if cfg.ConnectTimeout > 0 {
			dsn += fmt.Sprintf(" connect_timeout=%d", int(cfg.ConnectTimeout.Seconds()))
		}
		return dsn, nil

	case DriverSQLite:
		path := cfg.SQLitePath
		if path == "" {
			return "", errors.New("sqlite path is required")
		}
		params := url.Values{}
		params.Set("_foreign_keys", "on")
		params.Set("_busy_timeout", "5000")

		if strings.HasPrefix(path, "file:") {
			sep := "?"
			if strings.Contains(path, "?") {
				sep = "&"
			}
			return path + sep + params.Encode(), nil
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
		return "file:" + path + "?" + params.Encode(), nil

	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func describeTarget(cfg *Config) string {
	if cfg.Driver == DriverSQLite {
		return cfg.SQLitePath
	}
	return fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
}

func (p *DB) newBreaker() *gobreaker.CircuitBreaker {
	failures := p.config.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := p.config.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "db-session",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A caller that gives up says nothing about the store.
		IsSuccessful: func(err error) bool {
			return err == nil || isContextError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.metrics.DBBreakerState.Set(float64(to))
			p.logger.Warn(context.Background(), "[DB_BREAKER] Circuit breaker state changed", logging.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
}

// Close stops the pool monitor and closes the database connection
func (p *DB) Close() error {
	if p.scheduler != nil {
		p.scheduler.Stop()
	}
	p.logger.Info(context.Background(), "[DB_CLOSE] Closing database connection", logging.Fields{
		"driver": p.config.Driver,
		"target": describeTarget(p.config),
	})
	return p.db.Close()
}

// DB returns the underlying sqlx.DB instance
func (p *DB) DB() *sqlx.DB {
	return p.db
}

// DriverName returns the name of the driver in use.
func (p *DB) DriverName() string {
	return p.db.DriverName()
}

// Rebind converts '?' placeholders to the driver's bindvar style.
func (p *DB) Rebind(query string) string {
	return p.db.Rebind(query)
}

// Session acquires a dedicated connection from the pool. The caller must
// Close it. Acquisition goes through the circuit breaker; failures are
// reported as *ConnectivityError and never retried here. If ctx ends first
// its error is returned as is and the breaker does not count it.
func (p *DB) Session(ctx context.Context) (*Session, error) {
	res, err := p.breaker.Execute(func() (interface{}, error) {
		conn, err := p.db.Connx(ctx)
		if err != nil {
			return nil, err
		}
		if err := conn.PingContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && isContextError(err) {
			p.logger.Debug(ctx, "[DB_SESSION_ABANDONED] Session request ended by caller", logging.Fields{
				"driver": p.config.Driver,
				"reason": ctxErr.Error(),
			})
			return nil, ctxErr
		}
		p.metrics.RecordDBError("session_error")
		p.logger.Error(ctx, "[DB_SESSION_ERROR] Failed to open session", logging.Fields{
			"driver":        p.config.Driver,
			"breaker_state": p.breaker.State().String(),
		}, err)
		return nil, &ConnectivityError{Op: "open session", Err: err}
	}

	p.metrics.SessionsOpen.Inc()
	return &Session{conn: res.(*sqlx.Conn), db: p}, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ExecContext executes a command with context and metrics
func (p *DB) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	timer := p.metrics.NewTimer(p.metrics.DBQueryDuration.WithLabelValues(queryType))
	defer func() {
		duration := timer.ObserveDuration()

		p.logger.Debug(ctx, "[DB_EXEC] Command executed", logging.Fields{
			"query_type":  queryType,
			"duration_ms": duration.Milliseconds(),
		})
	}()

	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		p.metrics.RecordDBError("exec_error")
		p.logger.Error(ctx, "[DB_EXEC_ERROR] Command failed", logging.Fields{
			"query_type": queryType,
		}, err)
		return nil, err
	}

	return result, nil
}

// BeginTx begins a new read-write transaction
func (p *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		p.metrics.RecordDBError("transaction_begin_error")
		p.logger.Error(ctx, "[DB_TX_ERROR] Failed to begin transaction", logging.Fields{}, err)
		return nil, err
	}

	return tx, nil
}

// startPoolMonitor schedules periodic connection pool sampling
func (p *DB) startPoolMonitor(interval time.Duration) error {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if _, err := s.Every(interval).Do(p.samplePool); err != nil {
		return err
	}
	s.StartAsync()
	p.scheduler = s
	return nil
}

// samplePool updates connection pool metrics
func (p *DB) samplePool() {
	stats := p.db.Stats()

	p.metrics.UpdateDBConnectionPool(
		stats.InUse,
		stats.Idle,
		stats.OpenConnections,
	)

	if p.config.MaxOpenConns <= 0 {
		return
	}

	// Log warning if connection pool is near capacity
	utilization := float64(stats.InUse) / float64(p.config.MaxOpenConns)
	if utilization > 0.8 {
		p.logger.Warn(context.Background(), "[DB_POOL_WARNING] Connection pool utilization high", logging.Fields{
			"in_use":      stats.InUse,
			"idle":        stats.Idle,
			"total":       stats.OpenConnections,
			"max_open":    p.config.MaxOpenConns,
			"utilization": fmt.Sprintf("%.2f%%", utilization*100),
		})
	}
}

// HealthCheck performs a database health check
func (p *DB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.db.PingContext(pingCtx); err != nil {
		return &ConnectivityError{Op: "health check", Err: err}
	}

	return nil
}

// ConnectivityError reports that the data source could not be reached or a
// session could not be opened.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("database unavailable (%s): %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// IsTransient returns true; the caller decides whether to retry.
func (e *ConnectivityError) IsTransient() bool {
	return true
}
