// Command balance-voice runs a live voice conversation with the wellness
// assistant: microphone in, synthesized speech out, rolling transcript on
// stdout.
//
// By default it talks to the Gemini live API directly (GEMINI_API_KEY); with
// -relay it goes through a balance relay endpoint instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/balanceai/balance/internal/dotenv"
	"github.com/balanceai/balance/pkg/audio"
	"github.com/balanceai/balance/pkg/oracle"
	"github.com/balanceai/balance/pkg/oracle/gemini"
	"github.com/balanceai/balance/pkg/oracle/relay"
	"github.com/balanceai/balance/pkg/store"
	"github.com/balanceai/balance/pkg/voice"
	"github.com/balanceai/balance/pkg/voice/capture"
)

type options struct {
	relayURL   string
	model      string
	voiceName  string
	system     string
	ffplayPath string
	volume     int
	noSpeaker  bool
	duration   time.Duration
	debug      bool
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	if err := dotenv.LoadDefault(); err != nil {
		fmt.Fprintln(os.Stderr, "balance-voice:", err)
		os.Exit(1)
	}

	var opt options
	flag.StringVar(&opt.relayURL, "relay", envOr("BALANCE_RELAY_URL", ""), "relay websocket URL (default: direct Gemini)")
	flag.StringVar(&opt.model, "model", "", "live model override")
	flag.StringVar(&opt.voiceName, "voice", gemini.DefaultVoice, "synthesized voice name")
	flag.StringVar(&opt.system, "system", "", "system instruction")
	flag.StringVar(&opt.ffplayPath, "ffplay-path", "ffplay", "path to ffplay executable")
	flag.IntVar(&opt.volume, "volume", 80, "speaker volume 0-100")
	flag.BoolVar(&opt.noSpeaker, "no-speaker", false, "do not spawn ffplay; transcript only")
	flag.DurationVar(&opt.duration, "duration", 0, "stop after this long (0 = until interrupted)")
	flag.BoolVar(&opt.debug, "debug", false, "verbose logging")
	flag.Parse()

	if err := run(opt); err != nil {
		fmt.Fprintln(os.Stderr, "balance-voice:", err)
		os.Exit(1)
	}
}

func run(opt options) error {
	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if opt.model == "" {
		opt.model = gemini.LiveModel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer, err := buildDialer(ctx, opt, log)
	if err != nil {
		return err
	}

	var out pcmWriter = discardWriter{}
	if !opt.noSpeaker {
		speaker := newFFPlaySpeaker(opt.ffplayPath, audio.PlaybackSampleRate, opt.volume)
		if err := speaker.Start(); err != nil {
			return fmt.Errorf("start speaker: %w", err)
		}
		out = speaker
	}
	sink := newPipeSink(out, audio.PlaybackSampleRate)
	defer sink.Close()

	sess := voice.NewSession(voice.Config{
		Dialer:  dialer,
		Capture: &capture.Mic{},
		Sink:    sink,
		Live: oracle.LiveConfig{
			Model:  opt.model,
			Voice:  opt.voiceName,
			System: opt.system,
		},
		Logger: log,
	})
	if err := sess.Start(ctx); err != nil {
		return err
	}
	defer sess.Stop()

	fmt.Println("listening; press Ctrl-C to end the conversation")

	if opt.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opt.duration)
		defer cancel()
	}

	printed := 0
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			snap := sess.Snapshot()
			for _, turn := range snap.Transcript[printed:] {
				fmt.Printf("you:     %s\nbalance: %s\n\n", turn.User, turn.Model)
			}
			printed = len(snap.Transcript)
			if snap.State == voice.StateFailed {
				return snap.Err
			}
			if snap.State == voice.StateIdle {
				break loop
			}
		}
	}

	sess.Stop()
	return persistTranscript(log, sess.Snapshot())
}

func buildDialer(ctx context.Context, opt options, log *slog.Logger) (oracle.LiveDialer, error) {
	if opt.relayURL != "" {
		return &relay.Dialer{
			URL:    opt.relayURL,
			APIKey: os.Getenv("BALANCE_RELAY_TOKEN"),
			Logger: log,
		}, nil
	}
	client, err := gemini.New(ctx, gemini.Config{
		APIKey: os.Getenv("GEMINI_API_KEY"),
		Logger: log,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// persistTranscript saves the finished conversation when a database is
// configured, and is a no-op otherwise.
func persistTranscript(log *slog.Logger, snap voice.Snapshot) error {
	url := os.Getenv("BALANCE_DATABASE_URL")
	if url == "" || len(snap.Transcript) == 0 {
		return nil
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

	sessionID := uuid.New()
	turns := make([]store.TranscriptTurn, len(snap.Transcript))
	for i, turn := range snap.Transcript {
		turns[i] = store.TranscriptTurn{UserText: turn.User, ModelText: turn.Model}
	}
	if err := db.SaveTranscript(ctx, sessionID, turns); err != nil {
		return err
	}
	log.Info("transcript saved", "session_id", sessionID, "turns", len(turns))
	return nil
}
