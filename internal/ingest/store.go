// Package ingest owns the raw telemetry store: a sqlite table of sensor
// samples keyed by (timestamp, device), written last-write-wins. The store
// hands the pipeline a RawTable and makes no attempt to interpret the
// timestamp column; that is the normalizer's job.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/airsense/forecast/internal/pipeline"
	"github.com/airsense/forecast/pkg/metrics"
)

// Sample is one raw sensor reading as received. Channel values are
// nullable: a partial-sensor deployment reports only some columns.
type Sample struct {
	ID         uint   `gorm:"primaryKey"`
	Ts         string `gorm:"index:idx_ts_device,unique;not null"`
	DeviceID   string `gorm:"index:idx_ts_device,unique;default:''"`
	TempC      *float64
	RhPct      *float64
	TvocPpb    *float64
	Eco2Ppm    *float64
	DustUgm3   *float64
	ReceivedAt time.Time `gorm:"autoCreateTime"`
}

// channelFields maps channel names to Sample accessors, in canonical order.
var channelFields = []struct {
	name string
	get  func(*Sample) *float64
	set  func(*Sample, *float64)
}{
	{"temp_c", func(s *Sample) *float64 { return s.TempC }, func(s *Sample, v *float64) { s.TempC = v }},
	{"rh_pct", func(s *Sample) *float64 { return s.RhPct }, func(s *Sample, v *float64) { s.RhPct = v }},
	{"tvoc_ppb", func(s *Sample) *float64 { return s.TvocPpb }, func(s *Sample, v *float64) { s.TvocPpb = v }},
	{"eco2_ppm", func(s *Sample) *float64 { return s.Eco2Ppm }, func(s *Sample, v *float64) { s.Eco2Ppm = v }},
	{"dust_ugm3", func(s *Sample) *float64 { return s.DustUgm3 }, func(s *Sample, v *float64) { s.DustUgm3 = v }},
}

// Store wraps the gorm connection.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to the sqlite file (":memory:" for tests) and migrates the
// sample table.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&Sample{}); err != nil {
		return nil, fmt.Errorf("migrate sample table: %w", err)
	}
	return &Store{db: db, logger: logger.Named("ingest")}, nil
}

// Put upserts one sample. A re-published (ts, device) pair overwrites the
// earlier row: the collector's latest word is authoritative.
func (s *Store) Put(ctx context.Context, sample *Sample) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ts"}, {Name: "device_id"}},
		UpdateAll: true,
	}).Create(sample).Error
	if err != nil {
		return fmt.Errorf("upsert sample: %w", err)
	}
	metrics.SamplesIngested.WithLabelValues(sample.DeviceID).Inc()
	return nil
}

// Count returns the number of stored samples.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Sample{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return n, nil
}

// LoadTable reads every sample in insertion order and shapes it as the
// pipeline's raw input. Insertion order matters: it is the "source order"
// the resampler's last-write-wins dedup resolves against.
func (s *Store) LoadTable(ctx context.Context) (*pipeline.RawTable, error) {
	var samples []Sample
	if err := s.db.WithContext(ctx).Order("id asc").Find(&samples).Error; err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}

	table := &pipeline.RawTable{
		Timestamps: make([]string, len(samples)),
		Columns:    make(map[string][]float64, len(channelFields)),
	}
	for _, f := range channelFields {
		table.Columns[f.name] = make([]float64, len(samples))
	}
	for i := range samples {
		table.Timestamps[i] = samples[i].Ts
		for _, f := range channelFields {
			if v := f.get(&samples[i]); v != nil {
				table.Columns[f.name][i] = *v
			} else {
				table.Columns[f.name][i] = math.NaN()
			}
		}
	}
	return table, nil
}

// ImportCSV bulk-loads a CSV export with a header row. The ts column is
// required; channel columns are matched by name and missing cells stay
// NULL. Returns the number of imported rows.
func (s *Store) ImportCSV(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read csv header: %w", err)
	}

	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[name] = i
	}
	tsIdx, ok := colIdx["ts"]
	if !ok {
		return 0, fmt.Errorf("csv is missing the required ts column")
	}
	deviceIdx, hasDevice := colIdx["device_id"]

	imported := 0
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		sample := &Sample{Ts: record[tsIdx]}
		if hasDevice {
			sample.DeviceID = record[deviceIdx]
		}
		for _, field := range channelFields {
			idx, present := colIdx[field.name]
			if !present || idx >= len(record) || record[idx] == "" {
				continue
			}
			v, err := strconv.ParseFloat(record[idx], 64)
			if err != nil || math.IsNaN(v) {
				continue
			}
			field.set(sample, &v)
		}
		if err := s.Put(ctx, sample); err != nil {
			return imported, err
		}
		imported++
	}

	s.logger.Info("csv import complete", zap.String("path", path), zap.Int("rows", imported))
	return imported, nil
}
