package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"climate-api/internal/repository"
	"climate-api/internal/storetest"
	"climate-api/pkg/logging"
)

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestIngestionService_Ingest(t *testing.T) {
	store := storetest.New(t)
	ctx := context.Background()

	stations := writeCSV(t, "hawaii_stations.csv", `station,name,latitude,longitude,elevation
USC00519397,"WAIKIKI 717.2, HI US",21.2716,-157.8168,3
USC00519281,"WAIHEE 837.5, HI US",21.45167,-157.84889,32.9
`)
	measurements := writeCSV(t, "hawaii_measurements.csv", `station,date,prcp,tobs
USC00519397,2017-08-20,1.2,80
USC00519397,2017-08-21,,79
USC00519281,2017-08-22,0,81
USC00519281,08/23/2017,0,81
USC00519281,2017-08-23,0.5
USC00519281,2017-08-23,0.5,82
`)

	svc := NewIngestionService(repository.NewIngestionRepository(store.DB, store.Logger, store.Metrics), store.Logger, store.Metrics)

	result, err := svc.Ingest(ctx, IngestionOptions{
		StationsFile:     stations,
		MeasurementsFile: measurements,
		BatchSize:        2,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if result.Stations.SuccessfulRecords != 2 || result.Stations.FailedRecords != 0 {
		t.Errorf("stations = %+v", result.Stations)
	}
	if result.Measurements.TotalRecords != 6 {
		t.Errorf("measurement total = %d, want 6", result.Measurements.TotalRecords)
	}
	if result.Measurements.SuccessfulRecords != 4 || result.Measurements.FailedRecords != 2 {
		t.Errorf("measurements = %+v", result.Measurements)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("errors = %v, want 2", result.Errors)
	}
	if !strings.Contains(result.Errors[0], ":5:") {
		t.Errorf("first error should carry the line number: %q", result.Errors[0])
	}

	if v := testutil.ToFloat64(store.Metrics.IngestionRecordsTotal.WithLabelValues("measurement")); v != 4 {
		t.Errorf("ingested measurements metric = %v, want 4", v)
	}
	if v := testutil.ToFloat64(store.Metrics.IngestionErrorsTotal.WithLabelValues("conversion_error")); v != 1 {
		t.Errorf("conversion errors = %v, want 1", v)
	}
	if v := testutil.ToFloat64(store.Metrics.IngestionErrorsTotal.WithLabelValues("column_count")); v != 1 {
		t.Errorf("column count errors = %v, want 1", v)
	}

	var nulls int
	if err := store.DB.DB().Get(&nulls, `SELECT COUNT(*) FROM measurement WHERE prcp IS NULL`); err != nil {
		t.Fatalf("count nulls: %v", err)
	}
	if nulls != 1 {
		t.Errorf("null precipitation rows = %d, want 1", nulls)
	}

	var name string
	if err := store.DB.DB().Get(&name, `SELECT name FROM station WHERE station = 'USC00519397'`); err != nil {
		t.Fatalf("station name: %v", err)
	}
	if name != "WAIKIKI 717.2, HI US" {
		t.Errorf("station name = %q", name)
	}
}

func TestIngestionService_Truncate(t *testing.T) {
	store := storetest.New(t)
	ctx := context.Background()
	store.AddMeasurements(t, storetest.Measurement{Station: "OLD", Date: "2001-01-01", Tobs: 60})

	measurements := writeCSV(t, "m.csv", "USC00519397,2017-08-20,0.1,80\n")

	svc := NewIngestionService(repository.NewIngestionRepository(store.DB, store.Logger, store.Metrics), store.Logger, store.Metrics)
	result, err := svc.Ingest(ctx, IngestionOptions{MeasurementsFile: measurements, Truncate: true})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.Measurements.SuccessfulRecords != 1 {
		t.Errorf("measurements = %+v", result.Measurements)
	}

	var count int
	if err := store.DB.DB().Get(&count, `SELECT COUNT(*) FROM measurement`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("rows after truncate and load = %d, want 1", count)
	}
}

func TestIngestionService_MissingFile(t *testing.T) {
	store := storetest.New(t)
	svc := NewIngestionService(repository.NewIngestionRepository(store.DB, store.Logger, store.Metrics), store.Logger, store.Metrics)

	_, err := svc.Ingest(context.Background(), IngestionOptions{
		MeasurementsFile: filepath.Join(t.TempDir(), "absent.csv"),
	})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestIngestionService_RunIDOnEveryEntry(t *testing.T) {
	store := storetest.New(t)
	var buf bytes.Buffer
	logger := logging.New(logging.Options{Service: "ingest-test", Level: logging.InfoLevel, Output: &buf})

	stations := writeCSV(t, "s.csv", "station,name,latitude,longitude,elevation\nUSC00519397,WAIKIKI,21.2716,-157.8168,3\n")
	measurements := writeCSV(t, "m.csv", "station,date,prcp,tobs\nUSC00519397,2017-08-20,0.1,80\n")

	svc := NewIngestionService(repository.NewIngestionRepository(store.DB, store.Logger, store.Metrics), logger, store.Metrics)
	result, err := svc.Ingest(context.Background(), IngestionOptions{StationsFile: stations, MeasurementsFile: measurements})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if result.RunID == "" {
		t.Fatal("RunID should be set")
	}

	msgs := map[string]bool{}
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var entry map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("decode %q: %v", scanner.Text(), err)
		}
		msg, _ := entry["msg"].(string)
		if !strings.HasPrefix(msg, "[INGEST_") {
			continue
		}
		fields, _ := entry["fields"].(map[string]interface{})
		if fields["run_id"] != result.RunID {
			t.Errorf("%s run_id = %v, want %s", msg, fields["run_id"], result.RunID)
		}
		msgs[msg] = true
	}

	for _, want := range []string{
		"[INGEST_START] Starting data ingestion",
		"[INGEST_FILE_SUCCESS] File ingested successfully",
		"[INGEST_COMPLETE] Data ingestion completed",
	} {
		if !msgs[want] {
			t.Errorf("missing log entry %q", want)
		}
	}
}
