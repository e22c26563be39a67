package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"climate-api/internal/config"
	"climate-api/internal/repository"
	"climate-api/internal/schema"
	"climate-api/internal/services"
	"climate-api/pkg/database"
	"climate-api/pkg/logging"
	"climate-api/pkg/metrics"
)

func main() {
	measurementsFile := flag.String("measurements", "Resources/hawaii_measurements.csv", "CSV file with station,date,prcp,tobs rows")
	stationsFile := flag.String("stations", "Resources/hawaii_stations.csv", "CSV file with station,name,latitude,longitude,elevation rows")
	batchSize := flag.Int("batch-size", 1000, "Number of records to insert in each transaction")
	truncate := flag.Bool("truncate", false, "Delete existing rows before loading")
	migrate := flag.Bool("migrate", false, "Create the schema before loading")
	verbose := flag.Bool("verbose", false, "Log per-batch debug output regardless of LOG_LEVEL")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger("climate-ingester", "1.0.0")
	if *verbose {
		logger.SetLevel(logging.DebugLevel)
	}

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting climate data ingestion", logging.Fields{
		"version":           "1.0.0",
		"measurements_file": *measurementsFile,
		"stations_file":     *stationsFile,
		"batch_size":        *batchSize,
		"truncate":          *truncate,
	})

	metricsCollector := metrics.NewCollector("climate_ingester")

	db, err := database.Open(cfg.DatabaseConfig(0), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	if *migrate {
		if err := schema.Apply(ctx, db.DB(), schema.Up); err != nil {
			logger.Fatal(ctx, "[INGESTER_ERROR] Failed to create schema", logging.Fields{}, err)
		}
	}

	ingestionRepo := repository.NewIngestionRepository(db, logger, metricsCollector)
	ingestionService := services.NewIngestionService(ingestionRepo, logger, metricsCollector)

	result, err := ingestionService.Ingest(ctx, services.IngestionOptions{
		StationsFile:     *stationsFile,
		MeasurementsFile: *measurementsFile,
		BatchSize:        *batchSize,
		Truncate:         *truncate,
	})
	if err != nil {
		logger.Fatal(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{}, err)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Stations:           %d loaded, %d failed\n", result.Stations.SuccessfulRecords, result.Stations.FailedRecords)
	fmt.Printf("Measurements:       %d loaded, %d failed\n", result.Measurements.SuccessfulRecords, result.Measurements.FailedRecords)
	fmt.Printf("Duration:           %v\n", result.Duration)

	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for i, errMsg := range result.Errors {
			if i == 10 {
				fmt.Printf("  ... and %d more errors\n", len(result.Errors)-10)
				break
			}
			fmt.Printf("  - %s\n", errMsg)
		}
	}
}
