package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"climate-api/pkg/database"
	"climate-api/pkg/logging"
)

// DefaultMostActiveStation is the station with the most observations in the
// Hawaii dataset.
const DefaultMostActiveStation = "USC00519281"

// Config is the full runtime configuration shared by all binaries.
type Config struct {
	AppEnv   string `validate:"oneof=dev prod"`
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Query    QueryConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host         string
	Port         int           `validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `validate:"gt=0"`
	WriteTimeout time.Duration `validate:"gt=0"`
	IdleTimeout  time.Duration `validate:"gt=0"`
}

// DatabaseConfig holds connection settings for PostgreSQL or SQLite.
type DatabaseConfig struct {
	Driver   string `validate:"oneof=postgres sqlite3"`
	Host     string `validate:"required_if=Driver postgres"`
	Port     int    `validate:"required_if=Driver postgres,max=65535"`
	User     string `validate:"required_if=Driver postgres"`
	Password string
	Database string `validate:"required_if=Driver postgres"`
	SSLMode  string `validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`

	// SQLitePath is the database file used when Driver is sqlite3.
	SQLitePath string `validate:"required_if=Driver sqlite3"`

	MaxOpenConns    int `validate:"min=1"`
	MaxIdleConns    int `validate:"min=0"`
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration `validate:"gt=0"`

	// BreakerFailures is the number of consecutive session failures that
	// opens the circuit; BreakerTimeout is how long it stays open.
	BreakerFailures uint32        `validate:"min=1"`
	BreakerTimeout  time.Duration `validate:"gt=0"`
}

// LoggingConfig selects level and output format.
type LoggingConfig struct {
	Level string `validate:"oneof=debug info warn warning error"`
}

// QueryConfig holds query service parameters.
type QueryConfig struct {
	MostActiveStation string `validate:"required"`
}

// LoadConfig reads an optional .env file and then the process environment.
// Variables already present in the environment win over .env values.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		AppEnv: strings.ToLower(getenvDefault("APP_ENV", "prod")),
		Server: ServerConfig{
			Host:         getenvDefault("SERVER_HOST", "0.0.0.0"),
			Port:         getenvInt("SERVER_PORT", 8080, &errs),
			ReadTimeout:  getenvDuration("SERVER_READ_TIMEOUT", 10*time.Second, &errs),
			WriteTimeout: getenvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second, &errs),
			IdleTimeout:  getenvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second, &errs),
		},
		Database: DatabaseConfig{
			Driver:          getenvDefault("DB_DRIVER", "sqlite3"),
			Host:            getenvDefault("DB_HOST", "localhost"),
			Port:            getenvInt("DB_PORT", 5432, &errs),
			User:            getenvDefault("DB_USER", "climate"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        getenvDefault("DB_NAME", "climate"),
			SSLMode:         getenvDefault("DB_SSLMODE", "disable"),
			SQLitePath:      getenvDefault("SQLITE_PATH", "Resources/hawaii.sqlite"),
			MaxOpenConns:    getenvInt("DB_MAX_OPEN_CONNS", 10, &errs),
			MaxIdleConns:    getenvInt("DB_MAX_IDLE_CONNS", 5, &errs),
			ConnMaxLifetime: getenvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute, &errs),
			ConnMaxIdleTime: getenvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute, &errs),
			ConnectTimeout:  getenvDuration("DB_CONNECT_TIMEOUT", 5*time.Second, &errs),
			BreakerFailures: uint32(getenvInt("DB_BREAKER_FAILURES", 5, &errs)),
			BreakerTimeout:  getenvDuration("DB_BREAKER_TIMEOUT", 30*time.Second, &errs),
		},
		Logging: LoggingConfig{
			Level: strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
		},
		Query: QueryConfig{
			MostActiveStation: getenvDefault("MOST_ACTIVE_STATION", DefaultMostActiveStation),
		},
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("invalid configuration: DB_MAX_IDLE_CONNS (%d) exceeds DB_MAX_OPEN_CONNS (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	return nil
}

// DatabaseConfig converts the settings for database.Open. monitor is the
// pool sampling interval; zero disables it.
func (c *Config) DatabaseConfig(monitor time.Duration) *database.Config {
	return &database.Config{
		Driver:          c.Database.Driver,
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Database,
		SSLMode:         c.Database.SSLMode,
		SQLitePath:      c.Database.SQLitePath,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
		ConnMaxIdleTime: c.Database.ConnMaxIdleTime,
		ConnectTimeout:  c.Database.ConnectTimeout,
		BreakerFailures: c.Database.BreakerFailures,
		BreakerTimeout:  c.Database.BreakerTimeout,
		MonitorInterval: monitor,
	}
}

// NewLogger builds the service logger: colorized console output in dev,
// JSON otherwise.
func (c *Config) NewLogger(service, version string) *logging.StructuredLogger {
	format := logging.JSONFormat
	if c.AppEnv == "dev" {
		format = logging.ConsoleFormat
	}
	return logging.New(logging.Options{
		Service: service,
		Version: version,
		Level:   logging.ParseLevel(c.Logging.Level),
		Format:  format,
	})
}

// Address returns the listen address for the HTTP server.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return def
	}
	return d
}
