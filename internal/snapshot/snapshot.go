// Package snapshot encodes the usage snapshot document and writes it to disk.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jgoulah/gmpfetcher/pkg/models"
)

const indent = "  "

type document struct {
	GeneratedAt  string         `json:"generated_at"`
	LastAccessed *string        `json:"last_accessed"`
	Intervals    []intervalJSON `json:"intervals"`
	DailyTotals  []dailyJSON    `json:"daily_totals"`
}

type intervalJSON struct {
	Timestamp string  `json:"timestamp"`
	UsageKWh  float64 `json:"usage_kwh"`
	Date      string  `json:"date"`
}

type dailyJSON struct {
	Date     string  `json:"date"`
	TotalKWh float64 `json:"total_kwh"`
}

// Encode renders the snapshot as pretty-printed JSON with 2-space indentation.
// Empty interval and total lists are written as [] rather than null.
func Encode(s models.Snapshot) ([]byte, error) {
	doc := document{
		GeneratedAt: s.GeneratedAt.Format(time.RFC3339Nano),
		Intervals:   make([]intervalJSON, 0, len(s.Intervals)),
		DailyTotals: make([]dailyJSON, 0, len(s.DailyTotals)),
	}
	for _, iv := range s.Intervals {
		doc.Intervals = append(doc.Intervals, intervalJSON{
			Timestamp: iv.Timestamp.Format(time.RFC3339),
			UsageKWh:  iv.UsageKWh,
			Date:      iv.Date,
		})
	}
	for _, dt := range s.DailyTotals {
		doc.DailyTotals = append(doc.DailyTotals, dailyJSON{Date: dt.Date, TotalKWh: dt.TotalKWh})
	}

	data, err := json.MarshalIndent(doc, "", indent)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot document written by Encode.
func Decode(data []byte) (models.Snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}

	generated, err := time.Parse(time.RFC3339Nano, doc.GeneratedAt)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("parsing generated_at: %w", err)
	}

	s := models.Snapshot{GeneratedAt: generated}
	for _, iv := range doc.Intervals {
		ts, err := time.Parse(time.RFC3339, iv.Timestamp)
		if err != nil {
			return models.Snapshot{}, fmt.Errorf("parsing interval timestamp: %w", err)
		}
		s.Intervals = append(s.Intervals, models.UsageInterval{Timestamp: ts, UsageKWh: iv.UsageKWh, Date: iv.Date})
	}
	for _, dt := range doc.DailyTotals {
		s.DailyTotals = append(s.DailyTotals, models.DailyTotal{Date: dt.Date, TotalKWh: dt.TotalKWh})
	}
	return s, nil
}

// Write encodes the snapshot and replaces the file at path with it.
// It returns the number of bytes written.
func Write(path string, s models.Snapshot) (int, error) {
	data, err := Encode(s)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("creating output directory: %w", err)
	}

	if err := atomicWrite(path, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// atomicWrite writes data to a temporary file next to path and renames it into
// place, so readers never see a partial document and a failed write leaves the
// previous file untouched. Not atomic on Windows.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".gmp_usage-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove temporary file", "file", tmp.Name(), "error", err)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("could not write to temporary file: %w", err)
	}

	if err := tmp.Chmod(0644); err != nil {
		return fmt.Errorf("could not set file mode: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close temporary file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("could not rename temporary file: %w", err)
	}
	return nil
}
