package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/irrigation-sync-worker/internal/automation"
	"github.com/septivank/irrigation-sync-worker/internal/db"
	"github.com/septivank/irrigation-sync-worker/internal/et"
	"github.com/septivank/irrigation-sync-worker/internal/feed"
	"github.com/septivank/irrigation-sync-worker/internal/ingest"
	"github.com/septivank/irrigation-sync-worker/internal/logging"
	"github.com/septivank/irrigation-sync-worker/internal/metrics"
	"github.com/septivank/irrigation-sync-worker/internal/repository"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when a run is triggered while another one is still running
var ErrRunInProgress = errors.New("sync run already in progress")

// Fetcher polls the telemetry feed of a channel
type Fetcher interface {
	Fetch(ctx context.Context, channelID, readKey string) ([]feed.Entry, error)
}

// Notifier pushes a decided command to a downstream consumer
type Notifier interface {
	Notify(ctx context.Context, system db.System, d automation.Decision) error
}

// Mirror copies run output to a secondary time series store
type Mirror interface {
	WriteReadings(ctx context.Context, system db.System, readings []db.Reading, mapper ingest.Mapper) error
	WriteEstimate(ctx context.Context, system db.System, strategy string, out et.Outcome, at time.Time) error
	WriteDecision(ctx context.Context, system db.System, d automation.Decision) error
}

// SystemFailure records why a system was abandoned in a run
type SystemFailure struct {
	SystemID int64  `json:"system_id"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
}

// DecisionSummary is the command written for a system in a run
type DecisionSummary struct {
	SystemID  int64   `json:"system_id"`
	Command   string  `json:"command"`
	Moisture  float64 `json:"soil_moisture"`
	Threshold float64 `json:"threshold"`
}

// RunReport summarizes one sync run
type RunReport struct {
	RunID            string            `json:"run_id"`
	StartedAt        time.Time         `json:"started_at"`
	FinishedAt       time.Time         `json:"finished_at"`
	Systems          int               `json:"systems"`
	Processed        int               `json:"processed"`
	Failed           int               `json:"failed"`
	ReadingsInserted int               `json:"readings_inserted"`
	EstimatesWritten int               `json:"estimates_written"`
	Decisions        []DecisionSummary `json:"decisions"`
	Failures         []SystemFailure   `json:"failures,omitempty"`
}

// Outcome classifies the run for metrics
func (r RunReport) Outcome() string {
	switch {
	case r.Failed == 0:
		return metrics.OutcomeSuccess
	case r.Processed > 0:
		return metrics.OutcomePartial
	default:
		return metrics.OutcomeFailed
	}
}

// stageError tags a per-system error with the step that produced it
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func atStage(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

// SyncService runs the poll, ingest, ET and automation pipeline over every configured system
type SyncService struct {
	provider  repository.Provider
	fetcher   Fetcher
	ingestor  *ingest.Ingestor
	estimator *et.Estimator
	engine    *automation.Engine
	metrics   *metrics.Metrics
	notifiers []Notifier
	mirror    Mirror
	logger    *zap.Logger

	running sync.Mutex
	now     func() time.Time
}

// NewSyncService creates a new sync service
func NewSyncService(
	provider repository.Provider,
	fetcher Fetcher,
	ingestor *ingest.Ingestor,
	estimator *et.Estimator,
	engine *automation.Engine,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		provider:  provider,
		fetcher:   fetcher,
		ingestor:  ingestor,
		estimator: estimator,
		engine:    engine,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// AddNotifier registers a command notifier
func (s *SyncService) AddNotifier(n Notifier) {
	s.notifiers = append(s.notifiers, n)
}

// SetMirror registers the time series mirror
func (s *SyncService) SetMirror(m Mirror) {
	s.mirror = m
}

// RunOnce performs one full sync run.
// It returns ErrRunInProgress without doing anything when another run holds the lock.
func (s *SyncService) RunOnce(ctx context.Context) (report RunReport, err error) {
	if !s.running.TryLock() {
		s.metrics.RunSkipped()
		s.logger.Info("sync run skipped: previous run still in progress")
		return RunReport{}, ErrRunInProgress
	}
	defer s.running.Unlock()

	report = RunReport{RunID: uuid.NewString(), StartedAt: s.now().UTC()}
	logger := logging.WithRunID(s.logger, report.RunID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("sync run panicked", zap.Any("panic", r))
			err = fmt.Errorf("sync run panicked: %v", r)
		}
		report.FinishedAt = s.now().UTC()
		elapsed := report.FinishedAt.Sub(report.StartedAt)
		if err != nil {
			s.metrics.ObserveRun(metrics.OutcomeFailed, elapsed)
			return
		}
		s.metrics.ObserveRun(report.Outcome(), elapsed)
		logger.Info("sync run finished",
			zap.Int("systems", report.Systems),
			zap.Int("processed", report.Processed),
			zap.Int("failed", report.Failed),
			zap.Int("readings_inserted", report.ReadingsInserted),
			zap.Int("estimates_written", report.EstimatesWritten),
			zap.Int("decisions", len(report.Decisions)),
			zap.Duration("elapsed", elapsed),
		)
	}()

	logger.Info("sync run started")

	session, err := s.provider.Acquire(ctx)
	if err != nil {
		logger.Error("failed to acquire store session", zap.Error(err))
		return report, fmt.Errorf("failed to acquire store session: %w", err)
	}
	defer session.Release()

	systems, err := session.ListSyncableSystems(ctx)
	if err != nil {
		logger.Error("failed to list systems", zap.Error(err))
		return report, fmt.Errorf("failed to list systems: %w", err)
	}
	report.Systems = len(systems)

	if len(systems) == 0 {
		logger.Info("no systems with channel credentials configured")
		return report, nil
	}

	for _, system := range systems {
		if err := ctx.Err(); err != nil {
			logger.Warn("sync run cancelled", zap.Error(err))
			return report, err
		}

		sysLogger := logging.WithSystem(logger, system)
		if err := s.processSystem(ctx, session, system, &report, sysLogger); err != nil {
			stage := metrics.StagePanic
			var se *stageError
			if errors.As(err, &se) {
				stage = se.stage
			}
			report.Failed++
			report.Failures = append(report.Failures, SystemFailure{SystemID: system.ID, Stage: stage, Error: err.Error()})
			s.metrics.SystemFailed(stage)
			sysLogger.Error("system processing failed", zap.String("stage", stage), zap.Error(err))
			continue
		}
		report.Processed++
	}

	return report, nil
}

func (s *SyncService) processSystem(ctx context.Context, session repository.Session, system db.System, report *RunReport, logger *zap.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = atStage(metrics.StagePanic, fmt.Errorf("panic: %v", r))
		}
	}()

	logger.Info("processing system", zap.String("channel_id", system.ChannelID))

	entries, err := s.fetcher.Fetch(ctx, system.ChannelID, system.ReadAPIKey)
	if err != nil {
		return atStage(metrics.StagePoll, err)
	}

	res, err := s.ingestor.Ingest(ctx, session, system.ID, entries, logger)
	if err != nil {
		return atStage(metrics.StageIngest, err)
	}
	report.ReadingsInserted += len(res.Readings)
	s.metrics.ReadingsIngested(len(res.Readings))
	if s.mirror != nil && len(res.Readings) > 0 {
		if err := s.mirror.WriteReadings(ctx, system, res.Readings, res.Mapper); err != nil {
			logger.Warn("failed to mirror readings", zap.Error(err))
		}
	}

	out, err := s.estimator.Estimate(ctx, session, system.ID, logger)
	if err != nil {
		return atStage(metrics.StageET, err)
	}
	if out.Written {
		report.EstimatesWritten++
		s.metrics.EstimateWritten()
		if s.mirror != nil {
			if err := s.mirror.WriteEstimate(ctx, system, s.estimator.Strategy().Name(), out, s.now()); err != nil {
				logger.Warn("failed to mirror et estimate", zap.Error(err))
			}
		}
	}

	decision, err := s.engine.Evaluate(ctx, session, system, logger)
	if err != nil {
		return atStage(metrics.StageAutomation, err)
	}
	if decision == nil {
		return nil
	}

	report.Decisions = append(report.Decisions, DecisionSummary{
		SystemID:  system.ID,
		Command:   string(decision.Command),
		Moisture:  decision.Moisture,
		Threshold: decision.Threshold,
	})
	s.metrics.CommandDecided(string(decision.Command))
	s.notify(ctx, system, *decision, logger)

	return nil
}

// notify fans the decision out; the stored command is authoritative so failures are only logged
func (s *SyncService) notify(ctx context.Context, system db.System, d automation.Decision, logger *zap.Logger) {
	for _, n := range s.notifiers {
		if err := n.Notify(ctx, system, d); err != nil {
			logger.Warn("failed to notify command", zap.String("command", string(d.Command)), zap.Error(err))
		}
	}
	if s.mirror != nil {
		if err := s.mirror.WriteDecision(ctx, system, d); err != nil {
			logger.Warn("failed to mirror decision", zap.Error(err))
		}
	}
}
