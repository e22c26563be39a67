package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the ISO calendar date format used for every stored and
// requested date. Lexicographic order of values in this layout equals
// chronological order.
const DateLayout = "2006-01-02"

// ErrNoMeasurements is returned when an operation needs the latest recorded
// date but the measurement table is empty.
var ErrNoMeasurements = errors.New("no measurements recorded")

// Measurement is one daily observation at a station
type Measurement struct {
	ID            int64    `json:"id" db:"id"`
	Date          string   `json:"date" db:"date"`
	Station       string   `json:"station" db:"station"`
	Precipitation *float64 `json:"prcp" db:"prcp"`
	Tobs          float64  `json:"tobs" db:"tobs"`
}

// Station is a weather-observation site
type Station struct {
	ID        int64    `json:"id" db:"id"`
	Station   string   `json:"station" db:"station"`
	Name      string   `json:"name" db:"name"`
	Latitude  *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" db:"longitude"`
	Elevation *float64 `json:"elevation,omitempty" db:"elevation"`
}

// StationSummary is the public projection of a Station.
type StationSummary struct {
	StationID int64  `json:"station_id" db:"id"`
	Station   string `json:"station" db:"station"`
	Name      string `json:"station_name" db:"name"`
}

// TemperatureObservation is a dated temperature reading.
type TemperatureObservation struct {
	Date string  `json:"date" db:"date"`
	Tobs float64 `json:"tobs" db:"tobs"`
}

// TemperatureStats holds aggregates over observed temperatures. All fields
// are nil when no rows matched.
type TemperatureStats struct {
	Min *float64 `json:"min" db:"min_tobs"`
	Max *float64 `json:"max" db:"max_tobs"`
	Avg *float64 `json:"avg" db:"avg_tobs"`
}

// Empty reports whether the aggregate covered zero rows.
func (s TemperatureStats) Empty() bool {
	return s.Min == nil && s.Max == nil && s.Avg == nil
}

// TemperatureRange bounds an aggregate. End is optional.
type TemperatureRange struct {
	Start string
	End   *string
}

// PrecipitationEntry is a dated precipitation value. Precipitation is nil
// when the station reported no value.
//
// It is encoded as a single-key object {"<date>": <precipitation>} to stay
// compatible with existing consumers of /api/v1.0/precipitation.
type PrecipitationEntry struct {
	Date          string   `db:"date"`
	Precipitation *float64 `db:"prcp"`
}

// MarshalJSON encodes the entry as {"<date>": value}.
func (p PrecipitationEntry) MarshalJSON() ([]byte, error) {
	key, err := json.Marshal(p.Date)
	if err != nil {
		return nil, err
	}
	value := []byte("null")
	if p.Precipitation != nil {
		if value, err = json.Marshal(*p.Precipitation); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.Write(key)
	buf.WriteByte(':')
	buf.Write(value)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a single-key {"<date>": value} object.
func (p *PrecipitationEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("precipitation entry must have exactly one key, got %d", len(raw))
	}
	for date, value := range raw {
		p.Date = date
		p.Precipitation = value
	}
	return nil
}

// ParseDate parses a YYYY-MM-DD string. Field names the parameter for the
// returned ParseError.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, &ParseError{
			Field:   field,
			Value:   value,
			Message: fmt.Sprintf("invalid %s %q, expected YYYY-MM-DD", field, value),
		}
	}
	return t, nil
}

// FormatDate renders t in DateLayout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseError represents a malformed date parameter or field
type ParseError struct {
	Field   string
	Value   string
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}

// IsTransient returns false as parse errors are permanent
func (e *ParseError) IsTransient() bool {
	return false
}

// RawMeasurementRecord is one row of the measurements CSV export:
// station,date,prcp,tobs
type RawMeasurementRecord struct {
	Station       string
	Date          string
	Precipitation string // empty when not reported
	Tobs          string
}

// ToMeasurement validates the raw row and converts it to a Measurement.
func (r *RawMeasurementRecord) ToMeasurement() (*Measurement, error) {
	station := strings.TrimSpace(r.Station)
	if station == "" {
		return nil, &ParseError{Field: "station", Value: r.Station, Message: "station is required"}
	}

	date := strings.TrimSpace(r.Date)
	if _, err := ParseDate("date", date); err != nil {
		return nil, err
	}

	m := &Measurement{
		Date:    date,
		Station: station,
	}

	if prcp := strings.TrimSpace(r.Precipitation); prcp != "" {
		v, err := strconv.ParseFloat(prcp, 64)
		if err != nil {
			return nil, &ParseError{Field: "prcp", Value: r.Precipitation, Message: fmt.Sprintf("invalid precipitation %q", r.Precipitation)}
		}
		m.Precipitation = &v
	}

	tobs, err := strconv.ParseFloat(strings.TrimSpace(r.Tobs), 64)
	if err != nil {
		return nil, &ParseError{Field: "tobs", Value: r.Tobs, Message: fmt.Sprintf("invalid temperature %q", r.Tobs)}
	}
	m.Tobs = tobs

	return m, nil
}

// RawStationRecord is one row of the stations CSV export:
// station,name,latitude,longitude,elevation
type RawStationRecord struct {
	Station   string
	Name      string
	Latitude  string
	Longitude string
	Elevation string
}

// ToStation validates the raw row and converts it to a Station.
func (r *RawStationRecord) ToStation() (*Station, error) {
	code := strings.TrimSpace(r.Station)
	if code == "" {
		return nil, &ParseError{Field: "station", Value: r.Station, Message: "station is required"}
	}

	s := &Station{
		Station: code,
		Name:    strings.TrimSpace(r.Name),
	}

	for _, f := range []struct {
		name string
		raw  string
		dst  **float64
	}{
		{"latitude", r.Latitude, &s.Latitude},
		{"longitude", r.Longitude, &s.Longitude},
		{"elevation", r.Elevation, &s.Elevation},
	} {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &ParseError{Field: f.name, Value: f.raw, Message: fmt.Sprintf("invalid %s %q", f.name, f.raw)}
		}
		*f.dst = &v
	}

	return s, nil
}
