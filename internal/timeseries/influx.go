package timeseries

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/septivank/irrigation-sync-worker/internal/automation"
	"github.com/septivank/irrigation-sync-worker/internal/db"
	"github.com/septivank/irrigation-sync-worker/internal/et"
	"github.com/septivank/irrigation-sync-worker/internal/ingest"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	MeasurementReading  = "reading"
	MeasurementET       = "et_estimate"
	MeasurementDecision = "irrigation_command"
)

// Config holds the InfluxDB settings
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Complete reports whether all settings needed to write are present
func (c Config) Complete() bool {
	return c.URL != "" && c.Token != "" && c.Org != "" && c.Bucket != ""
}

// Writer is the blocking write API of the influx client
type Writer interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Mirror copies readings, estimates and decisions into InfluxDB for dashboards.
// The relational store stays the source of truth.
type Mirror struct {
	writer Writer
	logger *zap.Logger
}

// NewMirror creates a mirror over an existing writer
func NewMirror(writer Writer, logger *zap.Logger) *Mirror {
	return &Mirror{writer: writer, logger: logger}
}

// NewInfluxMirror opens an influx client and closes it with the application.
// It returns nil when cfg is incomplete.
func NewInfluxMirror(lc fx.Lifecycle, cfg Config, logger *zap.Logger) *Mirror {
	if !cfg.Complete() {
		logger.Info("influx config incomplete, time series mirror disabled")
		return nil
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			client.Close()
			logger.Info("influx client closed")
			return nil
		},
	})

	logger.Info("time series mirror enabled",
		zap.String("org", cfg.Org),
		zap.String("bucket", cfg.Bucket),
	)
	return NewMirror(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), logger)
}

func systemTags(system db.System) map[string]string {
	return map[string]string{
		"system_id":   strconv.FormatInt(system.ID, 10),
		"system_name": system.Name,
	}
}

// WriteReadings mirrors freshly ingested readings, tagged with their kind
func (m *Mirror) WriteReadings(ctx context.Context, system db.System, readings []db.Reading, mapper ingest.Mapper) error {
	if len(readings) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(readings))
	for _, r := range readings {
		tags := systemTags(system)
		if mapping, ok := mapper.ByID(r.MappingID); ok {
			tags["kind"] = mapping.Kind
			tags["field"] = strconv.Itoa(mapping.FieldNumber)
		}
		points = append(points, influxdb2.NewPoint(MeasurementReading, tags,
			map[string]interface{}{"value": r.Value}, r.Timestamp))
	}

	if err := m.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to mirror readings: %w", err)
	}
	return nil
}

// WriteEstimate mirrors a stored ET estimate
func (m *Mirror) WriteEstimate(ctx context.Context, system db.System, strategy string, out et.Outcome, at time.Time) error {
	tags := systemTags(system)
	tags["strategy"] = strategy
	fields := map[string]interface{}{
		"et_mm_day": out.Value,
		"mean_temp": out.MeanTemp,
		"samples":   out.Samples,
	}

	if err := m.writer.WritePoint(ctx, influxdb2.NewPoint(MeasurementET, tags, fields, at)); err != nil {
		return fmt.Errorf("failed to mirror et estimate: %w", err)
	}
	return nil
}

// WriteDecision mirrors a decided command
func (m *Mirror) WriteDecision(ctx context.Context, system db.System, d automation.Decision) error {
	tags := systemTags(system)
	tags["command"] = string(d.Command)
	fields := map[string]interface{}{
		"soil_moisture": d.Moisture,
		"threshold":     d.Threshold,
		"on":            d.Command == db.CommandOn,
	}

	if err := m.writer.WritePoint(ctx, influxdb2.NewPoint(MeasurementDecision, tags, fields, d.DecidedAt)); err != nil {
		return fmt.Errorf("failed to mirror decision: %w", err)
	}
	return nil
}
