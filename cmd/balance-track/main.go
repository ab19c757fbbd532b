// Command balance-track runs a tracking session over a position stream and
// prints live distance, pace, and energy figures.
//
// Positions come from a recorded NDJSON file (-replay) or from stdin
// (-follow), one {"lat":..,"lon":..,"t":".."} object per line. Weight and
// intensity come from the saved settings, overridable per run.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/balanceai/balance/internal/dotenv"
	"github.com/balanceai/balance/pkg/settings"
	"github.com/balanceai/balance/pkg/store"
	"github.com/balanceai/balance/pkg/track"
)

type options struct {
	replayPath string
	follow     bool
	interval   time.Duration
	weightKg   float64
	intensity  string
	save       bool
	debug      bool
}

func main() {
	if err := dotenv.LoadDefault(); err != nil {
		fmt.Fprintln(os.Stderr, "balance-track:", err)
		os.Exit(1)
	}

	var opt options
	flag.StringVar(&opt.replayPath, "replay", "", "NDJSON file with recorded positions")
	flag.BoolVar(&opt.follow, "follow", false, "read positions from stdin")
	flag.DurationVar(&opt.interval, "interval", time.Second, "replay pacing between samples")
	flag.Float64Var(&opt.weightKg, "weight", 0, "body weight in kg (overrides saved settings)")
	flag.StringVar(&opt.intensity, "intensity", "", "effort tier: Low, Moderate, High (overrides saved settings)")
	flag.BoolVar(&opt.save, "save", false, "persist the finished activity (needs BALANCE_DATABASE_URL)")
	flag.BoolVar(&opt.debug, "debug", false, "verbose logging")
	flag.Parse()

	if err := run(opt); err != nil {
		fmt.Fprintln(os.Stderr, "balance-track:", err)
		os.Exit(1)
	}
}

func run(opt options) error {
	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadSettings(opt)
	if err != nil {
		return err
	}

	var (
		source track.Source
		total  int // known sample count, 0 when unbounded
	)
	switch {
	case opt.replayPath != "":
		replay, err := track.LoadReplay(opt.replayPath, opt.interval)
		if err != nil {
			return err
		}
		source = replay
		total = replay.Len()
	case opt.follow:
		source = &stdinSource{r: os.Stdin}
	default:
		return fmt.Errorf("one of -replay or -follow is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := track.NewTracker(track.Config{
		Source:   source,
		WeightKg: cfg.WeightKg,
		Tier:     cfg.Intensity,
		Logger:   log,
	})
	startedAt := time.Now()
	if err := tracker.Start(ctx); err != nil {
		return err
	}
	defer tracker.Stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			stats := tracker.Snapshot()
			fmt.Printf("\relapsed %4ds  distance %6.2f km  pace %5.2f min/km  energy %6.1f kcal",
				stats.ElapsedSeconds, stats.DistanceKm, stats.PaceMinPerKm, stats.Calories)
			if stats.Err != nil {
				fmt.Println()
				return stats.Err
			}
			if total > 0 && len(stats.Path) >= total {
				break loop
			}
		}
	}
	fmt.Println()

	tracker.Stop()
	final := tracker.Snapshot()
	fmt.Printf("session over: %.2f km in %ds, ~%.0f kcal\n",
		final.DistanceKm, final.ElapsedSeconds, final.Calories)

	if opt.save {
		return persistActivity(log, startedAt, cfg, final)
	}
	return nil
}

// loadSettings reads the saved tracker settings and applies any per-run
// overrides, writing them back so the next run picks them up.
func loadSettings(opt options) (settings.Settings, error) {
	path, err := settings.DefaultPath()
	if err != nil {
		return settings.Settings{}, err
	}
	st := settings.NewStore(path)
	cfg, err := st.Load()
	if err != nil {
		return settings.Settings{}, err
	}

	changed := false
	if opt.weightKg > 0 {
		cfg.WeightKg = opt.weightKg
		changed = true
	}
	if opt.intensity != "" {
		cfg.Intensity = track.Intensity(opt.intensity)
		changed = true
	}
	if err := cfg.Validate(); err != nil {
		return settings.Settings{}, err
	}
	if changed {
		if err := st.Save(cfg); err != nil {
			return settings.Settings{}, err
		}
	}
	return cfg, nil
}

func persistActivity(log *slog.Logger, startedAt time.Time, cfg settings.Settings, stats track.Stats) error {
	url := os.Getenv("BALANCE_DATABASE_URL")
	if url == "" {
		return fmt.Errorf("-save requires BALANCE_DATABASE_URL")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := store.Open(ctx, url, log)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	activity := store.NewActivity(startedAt, cfg.WeightKg, cfg.Intensity, stats)
	if err := db.SaveActivity(ctx, activity); err != nil {
		return err
	}
	log.Info("activity saved", "id", activity.ID, "distance_km", activity.DistanceKm)
	return nil
}

// stdinSource streams positions from stdin, one JSON object per line.
type stdinSource struct {
	r io.Reader
}

func (s *stdinSource) Subscribe(onPosition func(track.Position), onError func(error)) (track.Unsubscribe, error) {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		sc := bufio.NewScanner(s.r)
		for sc.Scan() {
			select {
			case <-done:
				return
			default:
			}
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			var p track.Position
			if err := json.Unmarshal(line, &p); err != nil {
				if onError != nil {
					onError(fmt.Errorf("malformed position line: %w", err))
				}
				return
			}
			onPosition(p)
		}
		if err := sc.Err(); err != nil && onError != nil {
			onError(err)
		}
	}()
	return func() { once.Do(func() { close(done) }) }, nil
}
