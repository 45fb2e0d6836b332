package et

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/septivank/irrigation-sync-worker/internal/db"
	"go.uber.org/zap"
)

// Window is the trailing period of temperature readings used for the mean
const Window = 24 * time.Hour

// Store is the persistence needed by the estimator
type Store interface {
	FindMapping(ctx context.Context, systemID int64, kind string) (*db.Mapping, error)
	ReadingValuesSince(ctx context.Context, mappingID int64, since time.Time) ([]float64, error)
	AppendETEstimate(ctx context.Context, estimate db.ETEstimate) error
	ReplaceETEstimate(ctx context.Context, estimate db.ETEstimate) error
}

// Outcome describes what the estimator did for one system
type Outcome struct {
	Written    bool
	Value      float64
	MeanTemp   float64
	Samples    int
	SkipReason string
}

// Estimator computes and stores ET estimates with a configured strategy
type Estimator struct {
	strategy Strategy
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// NewEstimator creates a new estimator. The location decides the calendar month used by the strategy.
func NewEstimator(strategy Strategy, location *time.Location, logger *zap.Logger) *Estimator {
	if location == nil {
		location = time.UTC
	}
	return &Estimator{
		strategy: strategy,
		location: location,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock overrides the time source
func (e *Estimator) WithClock(now func() time.Time) *Estimator {
	e.now = now
	return e
}

// Strategy returns the configured strategy
func (e *Estimator) Strategy() Strategy {
	return e.strategy
}

// Mean returns the arithmetic mean of values, NaN for an empty slice
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Estimate computes the ET estimate of a system and persists it.
// Insufficient data or a non-finite result leaves stored estimates untouched.
func (e *Estimator) Estimate(ctx context.Context, store Store, systemID int64, logger *zap.Logger) (Outcome, error) {
	if logger == nil {
		logger = e.logger
	}
	logger = logger.With(zap.String("et_strategy", e.strategy.Name()))

	mapping, err := store.FindMapping(ctx, systemID, db.KindAirTemperature)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load temperature mapping: %w", err)
	}
	if mapping == nil {
		logger.Info("temperature mapping not found, et skipped")
		return Outcome{SkipReason: "no temperature mapping"}, nil
	}

	// the location only picks the calendar month; stored readings are UTC
	now := e.now().In(e.location)
	values, err := store.ReadingValuesSince(ctx, mapping.ID, now.UTC().Add(-Window))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load temperature readings: %w", err)
	}

	out := Outcome{Samples: len(values)}
	if len(values) < e.strategy.MinSamples() {
		logger.Info("insufficient temperature data, et skipped",
			zap.Int("samples", len(values)),
			zap.Int("min_samples", e.strategy.MinSamples()),
		)
		out.SkipReason = "insufficient samples"
		return out, nil
	}

	out.MeanTemp = Mean(values)
	if !finite(out.MeanTemp) {
		logger.Warn("non-finite mean temperature, et skipped", zap.Int("samples", len(values)))
		out.SkipReason = "non-finite mean"
		return out, nil
	}

	out.Value = e.strategy.Estimate(out.MeanTemp, now)
	if !finite(out.Value) {
		logger.Warn("non-finite et estimate, write suppressed", zap.Float64("mean_temp", out.MeanTemp))
		out.SkipReason = "non-finite estimate"
		return out, nil
	}

	estimate := db.ETEstimate{SystemID: systemID, Value: out.Value, ComputedAt: now.UTC()}
	switch e.strategy.Persistence() {
	case Replace:
		err = store.ReplaceETEstimate(ctx, estimate)
	default:
		err = store.AppendETEstimate(ctx, estimate)
	}
	if err != nil {
		return out, fmt.Errorf("failed to store et estimate: %w", err)
	}

	out.Written = true
	logger.Info("et estimate stored",
		zap.Float64("mean_temp", out.MeanTemp),
		zap.Int("samples", out.Samples),
		zap.Float64("et_mm_day", out.Value),
		zap.String("persistence", e.strategy.Persistence().String()),
	)

	return out, nil
}
