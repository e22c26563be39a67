package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"climate-api/internal/config"
	"climate-api/internal/schema"
	"climate-api/pkg/database"
	"climate-api/pkg/logging"
	"climate-api/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	dir := schema.Direction(*direction)
	if dir != schema.Up && dir != schema.Down {
		fmt.Fprintf(os.Stderr, "Invalid direction %q: expected up or down\n", *direction)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("climate-migrate", "1.0.0", logging.ParseLevel(cfg.Logging.Level))
	ctx := context.Background()

	db, err := database.Open(cfg.DatabaseConfig(0), logger, metrics.NewCollector("climate_migrate"))
	if err != nil {
		logger.Fatal(ctx, "[MIGRATE_ERROR] Failed to connect to database", logging.Fields{
			"db_driver": cfg.Database.Driver,
		}, err)
	}
	defer db.Close()

	logger.Info(ctx, "[MIGRATE_START] Running migration", logging.Fields{
		"db_driver": db.DriverName(),
		"direction": string(dir),
	})

	if err := schema.Apply(ctx, db.DB(), dir); err != nil {
		logger.Fatal(ctx, "[MIGRATE_ERROR] Failed to execute migration", logging.Fields{
			"direction": string(dir),
		}, err)
	}

	logger.Info(ctx, "[MIGRATE_COMPLETE] Migration completed successfully", logging.Fields{
		"direction": string(dir),
	})
}
