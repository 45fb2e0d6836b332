package automation

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/septivank/irrigation-sync-worker/internal/db"
	"go.uber.org/zap"
)

// DefaultTriggerParameter is the culture parameter holding the minimum soil moisture
const DefaultTriggerParameter = "umidade_minima_gatilho"

// Store is the persistence needed by the decision engine
type Store interface {
	CultureParameter(ctx context.Context, cultureID int64, name string) (float64, bool, error)
	FindMapping(ctx context.Context, systemID int64, kind string) (*db.Mapping, error)
	LatestReading(ctx context.Context, mappingID int64) (*db.Reading, error)
	ApplyDecision(ctx context.Context, systemID int64, cmd db.Command, event *db.Event) error
}

// Decision is the command written for a system in one evaluation
type Decision struct {
	SystemID  int64
	Command   db.Command
	Previous  db.Command
	Moisture  float64
	Threshold float64
	ReadingAt time.Time
	Event     *db.Event
	DecidedAt time.Time
}

// Changed reports whether the command differs from the one stored before the evaluation
func (d Decision) Changed() bool {
	return d.Command != d.Previous
}

// Engine evaluates the soil moisture threshold of each system
type Engine struct {
	triggerParam string
	now          func() time.Time
	logger       *zap.Logger
}

// NewEngine creates a new decision engine
func NewEngine(triggerParam string, logger *zap.Logger) *Engine {
	if triggerParam == "" {
		triggerParam = DefaultTriggerParameter
	}
	return &Engine{triggerParam: triggerParam, now: time.Now, logger: logger}
}

// WithClock overrides the time source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Reason formats the audit reason for an automatic start.
// Values keep their full precision; whole numbers get one decimal.
func Reason(moisture, threshold float64) string {
	return fmt.Sprintf("Umidade do solo (%s%%) abaixo do gatilho mínimo (%s%%)", formatPercent(moisture), formatPercent(threshold))
}

func formatPercent(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Evaluate decides the command of a system from its latest soil moisture reading.
// It returns nil when there is not enough configuration or data to decide; nothing is written in that case.
func (e *Engine) Evaluate(ctx context.Context, store Store, system db.System, logger *zap.Logger) (*Decision, error) {
	if logger == nil {
		logger = e.logger
	}

	if !system.HasCulture() {
		logger.Info("automation skipped: no culture selected")
		return nil, nil
	}

	threshold, ok, err := store.CultureParameter(ctx, *system.CultureID, e.triggerParam)
	if err != nil {
		return nil, fmt.Errorf("failed to load trigger parameter: %w", err)
	}
	if !ok {
		logger.Info("automation skipped: culture has no moisture trigger",
			zap.Int64("culture_id", *system.CultureID),
			zap.String("parameter", e.triggerParam),
		)
		return nil, nil
	}

	mapping, err := store.FindMapping(ctx, system.ID, db.KindSoilMoisture)
	if err != nil {
		return nil, fmt.Errorf("failed to load soil moisture mapping: %w", err)
	}
	if mapping == nil {
		logger.Info("automation skipped: soil moisture mapping not found")
		return nil, nil
	}

	reading, err := store.LatestReading(ctx, mapping.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest soil moisture: %w", err)
	}
	if reading == nil {
		logger.Info("automation skipped: no soil moisture readings")
		return nil, nil
	}

	now := e.now().UTC()
	decision := &Decision{
		SystemID:  system.ID,
		Command:   db.CommandOff,
		Previous:  system.CurrentCommand,
		Moisture:  reading.Value,
		Threshold: threshold,
		ReadingAt: reading.Timestamp,
		DecidedAt: now,
	}
	if reading.Value < threshold {
		decision.Command = db.CommandOn
	}

	var event *db.Event
	if decision.Command == db.CommandOn {
		event = &db.Event{
			SystemID:   system.ID,
			Action:     db.ActionAutoOn,
			Reason:     Reason(reading.Value, threshold),
			OccurredAt: now,
		}
	}

	if err := store.ApplyDecision(ctx, system.ID, decision.Command, event); err != nil {
		return nil, fmt.Errorf("failed to store decision: %w", err)
	}
	decision.Event = event

	logger.Info("automation decided",
		zap.String("command", string(decision.Command)),
		zap.String("previous", string(decision.Previous)),
		zap.Float64("moisture", decision.Moisture),
		zap.Float64("threshold", decision.Threshold),
	)

	return decision, nil
}
