// Package voice implements the realtime conversational-audio session: it
// frames microphone capture for the oracle's live endpoint, schedules the
// synthesized reply audio for gapless playback, and keeps the two-sided
// transcript, with deterministic teardown from any state.
package voice

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/balanceai/balance/pkg/audio"
	"github.com/balanceai/balance/pkg/core"
	"github.com/balanceai/balance/pkg/oracle"
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CaptureSource acquires the microphone and delivers fixed-size mono float
// frames to the callback until closed. The returned closer releases the
// device; closing twice must not error.
type CaptureSource interface {
	Open(onFrame func(samples []float32)) (io.Closer, error)
}

// Turn is one completed user/model exchange.
type Turn struct {
	User  string
	Model string
}

// Snapshot is the observable session state for the view layer.
type Snapshot struct {
	State      State
	Err        error
	Transcript []Turn
	Current    Turn
}

// Config wires a Session to its collaborators.
type Config struct {
	Dialer  oracle.LiveDialer
	Capture CaptureSource
	Sink    Sink
	Live    oracle.LiveConfig
	Logger  *slog.Logger
}

// Session is one live conversational-audio connection. At most one session is
// open per Session value; calling Start while one is connecting or active
// tears the previous one down first.
type Session struct {
	cfg Config
	log *slog.Logger

	mu         sync.Mutex
	state      State
	err        error
	gen        int
	transcript []Turn
	current    Turn
	sched      *Scheduler
	live       oracle.LiveSession
	td         *Teardown
}

// NewSession creates an idle session.
func NewSession(cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Live.InputSampleRate <= 0 {
		cfg.Live.InputSampleRate = audio.CaptureSampleRate
	}
	if cfg.Live.OutputSampleRate <= 0 {
		cfg.Live.OutputSampleRate = audio.PlaybackSampleRate
	}
	return &Session{cfg: cfg, log: log, state: StateIdle}
}

// Start begins an asynchronous connection. It acquires the microphone, then
// dials the oracle in the background; the session becomes Active only once
// the remote signals ready. An error here means nothing was left attached.
func (s *Session) Start(ctx context.Context) error {
	// A live predecessor must be fully torn down first.
	s.Stop()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = StateConnecting
	s.err = nil
	s.transcript = nil
	s.current = Turn{}
	s.td = &Teardown{}
	s.sched = NewScheduler(s.cfg.Sink, s.cfg.Live.OutputSampleRate)
	sched := s.sched
	s.td.Push("playback schedule", func() error {
		sched.Interrupt()
		return nil
	})
	td := s.td
	s.mu.Unlock()

	capture, err := s.cfg.Capture.Open(func(samples []float32) {
		s.sendFrame(gen, samples)
	})
	if err != nil {
		werr := core.NewPermissionError("microphone unavailable: " + err.Error())
		s.shutdown(gen, werr, StateFailed)
		return werr
	}
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		_ = capture.Close()
		return nil
	}
	td.Push("capture device", capture.Close)
	s.mu.Unlock()

	go s.dial(ctx, gen, td)
	return nil
}

func (s *Session) dial(ctx context.Context, gen int, td *Teardown) {
	live, err := s.cfg.Dialer.DialLive(ctx, s.cfg.Live, oracle.LiveCallbacks{
		OnReady: func() { s.onReady(gen) },
		OnMessage: func(frag oracle.Fragment) {
			s.onMessage(gen, frag)
		},
		OnError: func(err error) {
			s.shutdown(gen, core.NewOracleError("live session", err), StateFailed)
		},
		OnClose: func() { s.shutdown(gen, nil, StateIdle) },
	})
	if err != nil {
		s.shutdown(gen, core.NewOracleError("connect", err), StateFailed)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		_ = live.Close()
		return
	}
	s.live = live
	td.Push("oracle session", live.Close)
	s.mu.Unlock()
}

func (s *Session) onReady(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateConnecting {
		return
	}
	s.state = StateActive
	s.log.Info("voice session active", "model", s.cfg.Live.Model)
}

// sendFrame forwards one capture frame to the oracle, fire-and-forget. Frames
// arriving before the remote is ready are dropped; the capture side has no
// buffer beyond the frame in hand.
func (s *Session) sendFrame(gen int, samples []float32) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateActive || s.live == nil {
		s.mu.Unlock()
		return
	}
	live := s.live
	s.mu.Unlock()

	if err := live.SendAudio(audio.Float32ToPCM16LE(samples)); err != nil {
		s.log.Debug("dropping capture frame", "err", err)
	}
}

// onMessage processes one fragment from the oracle. Fields are independent:
// a malformed or missing field never aborts the rest of the message.
func (s *Session) onMessage(gen int, frag oracle.Fragment) {
	s.mu.Lock()
	if gen != s.gen || (s.state != StateActive && s.state != StateConnecting) {
		s.mu.Unlock()
		return
	}
	if frag.InputText != "" {
		s.current.User += frag.InputText
	}
	if frag.OutputText != "" {
		s.current.Model += frag.OutputText
	}
	if frag.TurnComplete {
		s.transcript = append(s.transcript, s.current)
		s.current = Turn{}
	}
	sched := s.sched
	s.mu.Unlock()

	if frag.Interrupted {
		sched.Interrupt()
	}
	if len(frag.Audio) > 0 {
		channels := audio.PCM16LEToFloat32(frag.Audio, audio.Channels)
		if _, err := sched.Schedule(channels[0]); err != nil {
			s.log.Debug("dropping audio segment", "err", err)
		}
	}
}

// Stop tears the session down and returns it to Idle. Idempotent; safe to
// call in any state, including before Start and concurrently with failures.
func (s *Session) Stop() {
	s.shutdown(-1, nil, StateIdle)
}

// shutdown runs the teardown stack once and settles into the final state.
// gen < 0 forces teardown of whatever session is current (explicit Stop);
// otherwise only the matching generation may act, so stale callbacks from a
// replaced session are inert.
func (s *Session) shutdown(gen int, err error, final State) {
	s.mu.Lock()
	if gen >= 0 && gen != s.gen {
		s.mu.Unlock()
		return
	}
	if s.state == StateIdle && s.td == nil {
		// Never started, or already fully torn down.
		s.mu.Unlock()
		return
	}
	s.gen++
	s.state = StateClosing
	if err != nil {
		s.err = err
	}
	td := s.td
	s.td = nil
	s.live = nil
	s.mu.Unlock()

	td.Run(s.log)

	s.mu.Lock()
	s.state = final
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("voice session ended", "err", err)
	}
}

// Snapshot returns a copy of the observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	transcript := make([]Turn, len(s.transcript))
	copy(transcript, s.transcript)
	return Snapshot{
		State:      s.state,
		Err:        s.err,
		Transcript: transcript,
		Current:    s.current,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that ended the last session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
