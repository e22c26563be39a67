package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func floatPtr(v float64) *float64 { return &v }

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    time.Time
		wantErr bool
	}{
		{name: "valid date", value: "2017-08-23", want: time.Date(2017, 8, 23, 0, 0, 0, 0, time.UTC)},
		{name: "leap day", value: "2016-02-29", want: time.Date(2016, 2, 29, 0, 0, 0, 0, time.UTC)},
		{name: "not a date", value: "not-a-date", wantErr: true},
		{name: "missing zero padding", value: "2017-8-23", wantErr: true},
		{name: "compact format", value: "20170823", wantErr: true},
		{name: "out of range day", value: "2017-02-30", wantErr: true},
		{name: "empty", value: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate("start", tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if tt.wantErr {
				var perr *ParseError
				if !errors.As(err, &perr) {
					t.Fatalf("error should be *ParseError, got %T", err)
				}
				if perr.Field != "start" || perr.Value != tt.value {
					t.Errorf("ParseError = %+v", perr)
				}
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseError(t *testing.T) {
	err := &ParseError{Field: "end", Value: "x", Message: "invalid end"}

	if err.Error() != "invalid end" {
		t.Errorf("Error() = %v, want %v", err.Error(), "invalid end")
	}
	if err.IsTransient() {
		t.Error("ParseError should not be transient")
	}
}

func TestPrecipitationEntry_JSON(t *testing.T) {
	entries := []PrecipitationEntry{
		{Date: "2017-08-20", Precipitation: floatPtr(1.2)},
		{Date: "2017-08-22", Precipitation: floatPtr(0)},
		{Date: "2017-08-23", Precipitation: nil},
	}

	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	want := `[{"2017-08-20":1.2},{"2017-08-22":0},{"2017-08-23":null}]`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}

	var decoded []PrecipitationEntry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decoded) != 3 || decoded[2].Precipitation != nil || *decoded[0].Precipitation != 1.2 {
		t.Errorf("Unmarshal = %+v", decoded)
	}

	var bad PrecipitationEntry
	if err := json.Unmarshal([]byte(`{"a":1,"b":2}`), &bad); err == nil {
		t.Error("expected error for multi-key entry")
	}
}

func TestTemperatureStats_JSON(t *testing.T) {
	data, err := json.Marshal([]TemperatureStats{{}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `[{"min":null,"max":null,"avg":null}]` {
		t.Errorf("Marshal empty stats = %s", data)
	}

	if !(TemperatureStats{}).Empty() {
		t.Error("zero stats should be Empty")
	}
	if (TemperatureStats{Min: floatPtr(60)}).Empty() {
		t.Error("stats with min should not be Empty")
	}
}

func TestStationSummary_JSON(t *testing.T) {
	data, err := json.Marshal(StationSummary{StationID: 1, Station: "USC00519397", Name: "WAIKIKI 717.2, HI US"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"station_id":1,"station":"USC00519397","station_name":"WAIKIKI 717.2, HI US"}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}
}

func TestRawMeasurementRecord_ToMeasurement(t *testing.T) {
	tests := []struct {
		name        string
		record      RawMeasurementRecord
		wantErr     bool
		wantField   string
		checkValues func(*testing.T, *Measurement)
	}{
		{
			name:   "valid record",
			record: RawMeasurementRecord{Station: "USC00519397", Date: "2010-01-01", Precipitation: "0.08", Tobs: "65"},
			checkValues: func(t *testing.T, m *Measurement) {
				if m.Station != "USC00519397" || m.Date != "2010-01-01" {
					t.Errorf("got %+v", m)
				}
				if m.Precipitation == nil || *m.Precipitation != 0.08 {
					t.Errorf("Precipitation = %v, want 0.08", m.Precipitation)
				}
				if m.Tobs != 65 {
					t.Errorf("Tobs = %v, want 65", m.Tobs)
				}
			},
		},
		{
			name:   "missing precipitation becomes null",
			record: RawMeasurementRecord{Station: "USC00519397", Date: "2010-01-02", Precipitation: "", Tobs: "63"},
			checkValues: func(t *testing.T, m *Measurement) {
				if m.Precipitation != nil {
					t.Errorf("Precipitation = %v, want nil", *m.Precipitation)
				}
			},
		},
		{
			name:   "whitespace is trimmed",
			record: RawMeasurementRecord{Station: " USC00519397 ", Date: " 2010-01-03 ", Precipitation: " 0 ", Tobs: " 74 "},
			checkValues: func(t *testing.T, m *Measurement) {
				if m.Station != "USC00519397" || m.Date != "2010-01-03" || m.Tobs != 74 {
					t.Errorf("got %+v", m)
				}
			},
		},
		{
			name:      "invalid date",
			record:    RawMeasurementRecord{Station: "USC00519397", Date: "01/03/2010", Tobs: "74"},
			wantErr:   true,
			wantField: "date",
		},
		{
			name:      "missing station",
			record:    RawMeasurementRecord{Date: "2010-01-03", Tobs: "74"},
			wantErr:   true,
			wantField: "station",
		},
		{
			name:      "invalid precipitation",
			record:    RawMeasurementRecord{Station: "USC00519397", Date: "2010-01-03", Precipitation: "T", Tobs: "74"},
			wantErr:   true,
			wantField: "prcp",
		},
		{
			name:      "missing temperature",
			record:    RawMeasurementRecord{Station: "USC00519397", Date: "2010-01-03"},
			wantErr:   true,
			wantField: "tobs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.record.ToMeasurement()

			if (err != nil) != tt.wantErr {
				t.Fatalf("ToMeasurement() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.wantErr {
				var perr *ParseError
				if !errors.As(err, &perr) || perr.Field != tt.wantField {
					t.Errorf("error = %v, want ParseError on %s", err, tt.wantField)
				}
				return
			}

			if tt.checkValues != nil {
				tt.checkValues(t, m)
			}
		})
	}
}

func TestRawStationRecord_ToStation(t *testing.T) {
	s, err := (&RawStationRecord{
		Station:   "USC00519281",
		Name:      "WAIHEE 837.5, HI US",
		Latitude:  "21.45167",
		Longitude: "-157.84889",
		Elevation: "",
	}).ToStation()
	if err != nil {
		t.Fatalf("ToStation: %v", err)
	}
	if s.Station != "USC00519281" || s.Name != "WAIHEE 837.5, HI US" {
		t.Errorf("got %+v", s)
	}
	if s.Latitude == nil || *s.Latitude != 21.45167 {
		t.Errorf("Latitude = %v", s.Latitude)
	}
	if s.Elevation != nil {
		t.Errorf("Elevation = %v, want nil", *s.Elevation)
	}

	if _, err := (&RawStationRecord{Station: "X", Latitude: "north"}).ToStation(); err == nil {
		t.Error("expected error for invalid latitude")
	}
	if _, err := (&RawStationRecord{Name: "nameless"}).ToStation(); err == nil {
		t.Error("expected error for missing station code")
	}
}
