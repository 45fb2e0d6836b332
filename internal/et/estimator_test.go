package et_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/septivank/irrigation-sync-worker/internal/db"
	"github.com/septivank/irrigation-sync-worker/internal/et"
	"github.com/septivank/irrigation-sync-worker/internal/repository"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

type fixture struct {
	store   *repository.MemoryStore
	session repository.Session
	system  db.System
	temp    db.Mapping
}

func newFixture(t *testing.T, temps ...float64) fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	sys := store.AddSystem(db.System{Name: "Horta", ChannelID: "1", ReadAPIKey: "K"})
	temp := store.AddMapping(db.Mapping{SystemID: sys.ID, FieldNumber: 1, Kind: db.KindAirTemperature})
	for i, v := range temps {
		store.AddReading(db.Reading{MappingID: temp.ID, Value: v, Timestamp: fixedNow.Add(-time.Duration(i+1) * time.Hour)})
	}

	session, err := store.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(session.Release)

	return fixture{store: store, session: session, system: sys, temp: temp}
}

func newEstimator(s et.Strategy) *et.Estimator {
	return et.NewEstimator(s, time.UTC, zap.NewNop()).WithClock(clock)
}

func TestDailyRange_Formula(t *testing.T) {
	got := et.DailyRange{}.Estimate(20, fixedNow)
	want := 0.0135 * 0.16 * 37.8
	if !almostEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestMonthlyRadiation_UsesCalendarMonth(t *testing.T) {
	s := et.NewMonthlyRadiation()

	// March: Q0 = 13.6, 31 days
	monthly := s.Monthly(25, fixedNow)
	if !almostEqual(monthly, 0.01*25*13.6*31) {
		t.Errorf("unexpected monthly value %v", monthly)
	}
	if daily := s.Estimate(25, fixedNow); !almostEqual(daily, 3.4) {
		t.Errorf("expected 3.4 mm/day, got %v", daily)
	}

	feb := time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
	if monthly := s.Monthly(10, feb); !almostEqual(monthly, 0.01*10*15.1*29) {
		t.Errorf("expected leap-year february total, got %v", monthly)
	}
}

func TestEstimate_DailyRangeAppends(t *testing.T) {
	f := newFixture(t, 20, 22)
	est := newEstimator(et.DailyRange{})

	for i := 0; i < 2; i++ {
		out, err := est.Estimate(context.Background(), f.session, f.system.ID, nil)
		if err != nil {
			t.Fatalf("Estimate: %v", err)
		}
		if !out.Written {
			t.Fatalf("expected estimate to be written, skipped: %s", out.SkipReason)
		}
		if !almostEqual(out.MeanTemp, 21) {
			t.Errorf("expected mean 21, got %v", out.MeanTemp)
		}
	}

	if n := len(f.store.Estimates(f.system.ID)); n != 2 {
		t.Errorf("expected estimate history of 2, got %d", n)
	}
}

func TestEstimate_DailyRangeNeedsTwoSamples(t *testing.T) {
	f := newFixture(t, 20)
	est := newEstimator(et.DailyRange{})

	out, err := est.Estimate(context.Background(), f.session, f.system.ID, nil)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if out.Written {
		t.Fatal("expected no estimate with a single sample")
	}
	if n := len(f.store.Estimates(f.system.ID)); n != 0 {
		t.Errorf("expected no estimates, got %d", n)
	}
}

func TestEstimate_MonthlyRadiationReplaces(t *testing.T) {
	f := newFixture(t, 25)
	est := newEstimator(et.NewMonthlyRadiation())

	for i := 0; i < 3; i++ {
		if _, err := est.Estimate(context.Background(), f.session, f.system.ID, nil); err != nil {
			t.Fatalf("Estimate: %v", err)
		}
	}

	estimates := f.store.Estimates(f.system.ID)
	if len(estimates) != 1 {
		t.Fatalf("expected a single stored estimate, got %d", len(estimates))
	}
	if !almostEqual(estimates[0].Value, 3.4) {
		t.Errorf("expected 3.4, got %v", estimates[0].Value)
	}
}

func TestEstimate_SkippedRunKeepsPreviousEstimate(t *testing.T) {
	f := newFixture(t)
	session := f.session

	if err := session.AppendETEstimate(context.Background(), db.ETEstimate{SystemID: f.system.ID, Value: 4.2, ComputedAt: fixedNow.Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("seed estimate: %v", err)
	}

	// only a stale reading, outside the trailing window
	f.store.AddReading(db.Reading{MappingID: f.temp.ID, Value: 30, Timestamp: fixedNow.Add(-25 * time.Hour)})

	out, err := newEstimator(et.NewMonthlyRadiation()).Estimate(context.Background(), session, f.system.ID, nil)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if out.Written || out.Samples != 0 {
		t.Fatalf("expected skip with 0 samples, got %+v", out)
	}

	estimates := f.store.Estimates(f.system.ID)
	if len(estimates) != 1 || estimates[0].Value != 4.2 {
		t.Fatalf("previous estimate must survive a skipped run, got %+v", estimates)
	}
}

func TestEstimate_NonFiniteMeanIsNotWritten(t *testing.T) {
	f := newFixture(t, math.Inf(1), 20)

	out, err := newEstimator(et.DailyRange{}).Estimate(context.Background(), f.session, f.system.ID, nil)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if out.Written {
		t.Fatal("expected write to be suppressed")
	}
	if n := len(f.store.Estimates(f.system.ID)); n != 0 {
		t.Errorf("expected no estimates, got %d", n)
	}
}

func TestEstimate_NoTemperatureMapping(t *testing.T) {
	store := repository.NewMemoryStore()
	sys := store.AddSystem(db.System{Name: "Sem sensor", ChannelID: "2", ReadAPIKey: "K"})
	session, _ := store.Acquire(context.Background())
	defer session.Release()

	out, err := newEstimator(et.NewMonthlyRadiation()).Estimate(context.Background(), session, sys.ID, nil)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if out.Written || out.SkipReason == "" {
		t.Fatalf("expected skip, got %+v", out)
	}
}

func TestParseStrategy(t *testing.T) {
	s, err := et.ParseStrategy("daily-range")
	if err != nil || s.Persistence() != et.Append || s.MinSamples() != 2 {
		t.Fatalf("unexpected daily-range strategy %v, %v", s, err)
	}

	s, err = et.ParseStrategy("")
	if err != nil || s.Name() != et.StrategyMonthlyRadiation || s.Persistence() != et.Replace {
		t.Fatalf("expected monthly-radiation by default, got %v, %v", s, err)
	}

	if _, err := et.ParseStrategy("penman"); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

type sinceRecorder struct {
	et.Store
	since time.Time
}

func (r *sinceRecorder) ReadingValuesSince(ctx context.Context, mappingID int64, since time.Time) ([]float64, error) {
	r.since = since
	return r.Store.ReadingValuesSince(ctx, mappingID, since)
}

func TestEstimate_WindowBoundIsUTC(t *testing.T) {
	f := newFixture(t, 20, 22)
	rec := &sinceRecorder{Store: f.session}

	brt := time.FixedZone("BRT", -3*60*60)
	estimator := et.NewEstimator(et.DailyRange{}, brt, zap.NewNop()).WithClock(clock)

	if _, err := estimator.Estimate(context.Background(), rec, f.system.ID, nil); err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	if rec.since.Location() != time.UTC {
		t.Errorf("expected a UTC lower bound, got %v", rec.since.Location())
	}
	if want := fixedNow.Add(-24 * time.Hour); !rec.since.Equal(want) || rec.since.Hour() != want.Hour() {
		t.Errorf("expected lower bound %v, got %v", want, rec.since)
	}
}
