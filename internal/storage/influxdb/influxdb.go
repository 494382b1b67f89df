// Package influxdb mirrors corrected readings into an InfluxDB 2.x bucket for
// dashboards.
package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/chrissnell/riverapi/internal/log"
	"github.com/chrissnell/riverapi/internal/storage"
	"github.com/chrissnell/riverapi/internal/types"
	"github.com/chrissnell/riverapi/pkg/config"
)

const measurement = "corrected_reading"

// Storage holds the connection to an InfluxDB storage backend
type Storage struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
}

// New sets up a new InfluxDB storage backend
func New(c *config.InfluxDBData) (*Storage, error) {
	if c == nil || c.URL == "" {
		return nil, fmt.Errorf("influxdb url is required")
	}

	client := influxdb2.NewClient(c.URL, c.Token)
	return &Storage{
		client:   client,
		writeAPI: client.WriteAPIBlocking(c.Org, c.Bucket),
		bucket:   c.Bucket,
	}, nil
}

// StartStorageEngine creates a goroutine loop to receive readings and send
// them off to InfluxDB
func (s *Storage) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.CorrectedReading {
	log.Info("starting InfluxDB storage engine...")
	readingChan := make(chan types.CorrectedReading, 10)
	wg.Add(1)
	go storage.ProcessReadings(ctx, wg, readingChan, s.StoreReading, "InfluxDB")
	return readingChan
}

// StoreReading writes one reading as a point
func (s *Storage) StoreReading(ctx context.Context, r types.CorrectedReading) error {
	if err := s.writeAPI.WritePoint(ctx, Point(r)); err != nil {
		return fmt.Errorf("could not write data point to InfluxDB: %w", err)
	}
	return nil
}

// Point converts a reading into an InfluxDB point. Readings without a
// corrected value carry only the raw field.
func Point(r types.CorrectedReading) *write.Point {
	tags := map[string]string{
		"station":   r.StationID.String(),
		"sensor":    r.SensorID.String(),
		"parameter": r.ParameterID.String(),
		"position":  strconv.Itoa(r.Position),
		"status":    r.Status,
	}

	fields := map[string]interface{}{
		"raw":             r.RawValue,
		"high_resolution": r.HighResolution,
	}
	if r.CorrectedValue != nil {
		fields["value"] = *r.CorrectedValue
	}

	return influxdb2.NewPoint(measurement, tags, fields, r.RecordedAt)
}

// CheckHealth implements storage.HealthChecker
func (s *Storage) CheckHealth(ctx context.Context) *storage.HealthData {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return storage.CreateHealthData(storage.StatusUnhealthy, "InfluxDB ping failed", err)
	}
	if !ok {
		return storage.CreateHealthData(storage.StatusUnhealthy, "InfluxDB not ready", nil)
	}
	return storage.CreateHealthData(storage.StatusHealthy, "InfluxDB operational", nil)
}

// Close flushes and closes the client
func (s *Storage) Close() {
	s.client.Close()
}
