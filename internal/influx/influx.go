// Package influx writes sensor readings to InfluxDB v2 so room
// conditions can be graphed alongside the display history.
package influx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/domain"

	"github.com/auralink/auralink-bridge/internal/config"
)

// Sink writes one point per reading with a blocking write API.
type Sink struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	bucket      string
	logger      *slog.Logger
}

// New creates a Sink from cfg. It does not contact the server; use
// [Sink.Health] to verify connectivity.
func New(cfg config.InfluxDBConfig, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Sink{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		bucket:      cfg.Bucket,
		logger:      logger.With("component", "influx", "bucket", cfg.Bucket),
	}
}

// WriteReading stores a reading tagged with its device.
func (s *Sink) WriteReading(ctx context.Context, device string, temperature, humidity float64, at time.Time) error {
	p := influxdb2.NewPoint(
		s.measurement,
		map[string]string{"device": device},
		map[string]any{
			"temperature": temperature,
			"humidity":    humidity,
		},
		at,
	)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write %s point to %s: %w", s.measurement, s.bucket, err)
	}
	s.logger.Debug("reading written", "device", device)
	return nil
}

// Health checks the server's health endpoint.
func (s *Sink) Health(ctx context.Context) error {
	h, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health: %w", err)
	}
	if h.Status != domain.HealthCheckStatusPass {
		msg := ""
		if h.Message != nil {
			msg = *h.Message
		}
		return fmt.Errorf("influxdb health %s: %s", h.Status, msg)
	}
	return nil
}

// Close releases the client's resources.
func (s *Sink) Close() {
	s.client.Close()
}
