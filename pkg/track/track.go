// Package track implements the live position tracker: it subscribes to a
// stream of geographic positions, accumulates traveled distance incrementally,
// and derives elapsed time, energy expenditure, and pace on a fixed tick.
package track

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/balanceai/balance/pkg/core"
	"github.com/balanceai/balance/pkg/geo"
)

// Intensity is the configured effort tier for a tracking session.
type Intensity string

const (
	IntensityLow      Intensity = "Low"
	IntensityModerate Intensity = "Moderate"
	IntensityHigh     Intensity = "High"
)

// MET returns the metabolic-equivalent constant for the tier. Unknown tiers
// fall back to the moderate value.
func (i Intensity) MET() float64 {
	switch i {
	case IntensityLow:
		return 2.5
	case IntensityModerate:
		return 4.0
	case IntensityHigh:
		return 7.0
	default:
		return 4.0
	}
}

// Valid reports whether the tier is one of the known values.
func (i Intensity) Valid() bool {
	switch i {
	case IntensityLow, IntensityModerate, IntensityHigh:
		return true
	}
	return false
}

// Position is one sample from the position stream.
type Position struct {
	Lat  float64   `json:"lat"`
	Lon  float64   `json:"lon"`
	Time time.Time `json:"t"`
}

// Unsubscribe releases a position subscription. Safe to call more than once.
type Unsubscribe func()

// Source is a continuous position stream. Subscribe delivers samples to
// onPosition until unsubscribed; a stream failure is reported once through
// onError, after which no further positions arrive. Real GPS providers are
// expected to run with high accuracy and no cached fixes.
type Source interface {
	Subscribe(onPosition func(Position), onError func(error)) (Unsubscribe, error)
}

// Energy estimates expenditure in kcal from total elapsed time using the
// standard MET formula.
func Energy(weightKg float64, tier Intensity, elapsedSeconds int) float64 {
	return tier.MET() * weightKg * float64(elapsedSeconds) / 3600
}

// Pace returns minutes per kilometer, or 0 while no distance is covered.
func Pace(elapsedSeconds int, distanceKm float64) float64 {
	if distanceKm == 0 {
		return 0
	}
	return float64(elapsedSeconds) / 60 / distanceKm
}

// Stats is the observable tracker state for the rendering collaborator.
type Stats struct {
	Active         bool
	DistanceKm     float64
	ElapsedSeconds int
	Calories       float64
	PaceMinPerKm   float64
	Path           []Position
	Latest         *Position
	Err            error
}

// Config wires a Tracker to its collaborators. WeightKg and Tier are read
// once at Start and hold for the whole session.
type Config struct {
	Source   Source
	Tick     time.Duration // elapsed-time resolution, default 1s
	WeightKg float64       // default 70
	Tier     Intensity     // default Moderate
	Logger   *slog.Logger
}

// Tracker is one position-tracking session manager. At most one session is
// active per Tracker value; Start while active tears the old session down
// first.
type Tracker struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	active   bool
	err      error
	gen      int
	weightKg float64
	tier     Intensity
	elapsed  int
	distance float64
	path     []Position
	release  func() // unsubscribe + ticker stop, consumed once
}

// NewTracker creates an idle tracker.
func NewTracker(cfg Config) *Tracker {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.WeightKg <= 0 {
		cfg.WeightKg = 70
	}
	if !cfg.Tier.Valid() {
		cfg.Tier = IntensityModerate
	}
	return &Tracker{cfg: cfg, log: log}
}

// Start resets all accumulators, subscribes to the position stream, and
// begins the elapsed-time ticker. Weight and intensity are snapshotted here.
func (t *Tracker) Start(ctx context.Context) error {
	t.Stop()

	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.active = true
	t.err = nil
	t.elapsed = 0
	t.distance = 0
	t.path = nil
	t.weightKg = t.cfg.WeightKg
	t.tier = t.cfg.Tier
	t.mu.Unlock()

	unsub, err := t.cfg.Source.Subscribe(
		func(p Position) { t.onPosition(gen, p) },
		func(err error) { t.fail(gen, err) },
	)
	if err != nil {
		werr := core.NewPermissionError("position stream unavailable: " + err.Error())
		t.mu.Lock()
		if gen == t.gen {
			t.active = false
			t.err = werr
		}
		t.mu.Unlock()
		return werr
	}

	done := make(chan struct{})
	var once sync.Once

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		unsub()
		return nil
	}
	t.release = func() {
		once.Do(func() { close(done) })
		unsub()
	}
	t.mu.Unlock()

	go t.run(ctx, gen, done)
	t.log.Info("tracking started", "weight_kg", t.cfg.WeightKg, "intensity", t.cfg.Tier)
	return nil
}

func (t *Tracker) run(ctx context.Context, gen int, done <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			if gen == t.gen && t.active {
				t.elapsed++
			}
			t.mu.Unlock()
		case <-done:
			return
		case <-ctx.Done():
			t.teardown(gen, nil)
			return
		}
	}
}

// onPosition appends one sample and accumulates the leg distance from its
// predecessor. The total is never recomputed from the whole path.
func (t *Tracker) onPosition(gen int, p Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || !t.active {
		return
	}
	if n := len(t.path); n > 0 {
		prev := t.path[n-1]
		t.distance += geo.HaversineKm(prev.Lat, prev.Lon, p.Lat, p.Lon)
	}
	t.path = append(t.path, p)
}

func (t *Tracker) fail(gen int, err error) {
	t.teardown(gen, core.NewUnavailableError("position stream failed: "+err.Error()))
}

// Stop cancels the ticker and unsubscribes. Idempotent from any state.
func (t *Tracker) Stop() {
	t.teardown(-1, nil)
}

// teardown releases the subscription and ticker once. gen < 0 forces release
// of the current session; otherwise only the matching generation may act.
func (t *Tracker) teardown(gen int, err error) {
	t.mu.Lock()
	if gen >= 0 && gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.gen++
	t.active = false
	if err != nil {
		t.err = err
	}
	release := t.release
	t.release = nil
	t.mu.Unlock()

	if release != nil {
		release()
	}
	if err != nil {
		t.log.Warn("tracking ended", "err", err)
	}
}

// Snapshot returns a copy of the observable state. Derived metrics are
// computed from the current elapsed time on every read.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	path := make([]Position, len(t.path))
	copy(path, t.path)
	var latest *Position
	if n := len(path); n > 0 {
		latest = &path[n-1]
	}
	return Stats{
		Active:         t.active,
		DistanceKm:     t.distance,
		ElapsedSeconds: t.elapsed,
		Calories:       Energy(t.weightKg, t.tier, t.elapsed),
		PaceMinPerKm:   Pace(t.elapsed, t.distance),
		Path:           path,
		Latest:         latest,
		Err:            t.err,
	}
}

// Active reports whether a session is running.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
