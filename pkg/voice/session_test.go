package voice

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/balanceai/balance/pkg/audio"
	"github.com/balanceai/balance/pkg/core"
	"github.com/balanceai/balance/pkg/oracle"
)

type fakeLive struct {
	mu     sync.Mutex
	sent   [][]byte
	closed int
}

func (l *fakeLive) SendAudio(pcm []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = append(l.sent, append([]byte(nil), pcm...))
	return nil
}

func (l *fakeLive) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

func (l *fakeLive) sentFrames() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

func (l *fakeLive) closeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeDialer struct {
	mu      sync.Mutex
	live    *fakeLive
	cb      oracle.LiveCallbacks
	dialErr error
	dialed  chan struct{}
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{live: &fakeLive{}, dialed: make(chan struct{}, 1)}
}

func (d *fakeDialer) DialLive(_ context.Context, _ oracle.LiveConfig, cb oracle.LiveCallbacks) (oracle.LiveSession, error) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
	d.dialed <- struct{}{}
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.live, nil
}

func (d *fakeDialer) callbacks(t *testing.T) oracle.LiveCallbacks {
	t.Helper()
	select {
	case <-d.dialed:
	case <-time.After(time.Second):
		t.Fatalf("dial never happened")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cb
}

type fakeCapture struct {
	mu      sync.Mutex
	onFrame func([]float32)
	closed  int
	openErr error
}

type fakeCaptureStream struct{ c *fakeCapture }

func (s *fakeCaptureStream) Close() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.closed++
	return nil
}

func (c *fakeCapture) Open(onFrame func([]float32)) (io.Closer, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.mu.Lock()
	c.onFrame = onFrame
	c.mu.Unlock()
	return &fakeCaptureStream{c: c}, nil
}

func (c *fakeCapture) deliver(samples []float32) {
	c.mu.Lock()
	fn := c.onFrame
	c.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

func (c *fakeCapture) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func newTestSession(d *fakeDialer, c *fakeCapture) (*Session, *fakeSink) {
	sink := &fakeSink{}
	return NewSession(Config{
		Dialer:  d,
		Capture: c,
		Sink:    sink,
		Live:    oracle.LiveConfig{Model: "gemini-2.5-flash-native-audio"},
	}), sink
}

func startActive(t *testing.T, s *Session, d *fakeDialer) oracle.LiveCallbacks {
	t.Helper()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cb := d.callbacks(t)
	cb.OnReady()
	waitFor(t, func() bool { return s.State() == StateActive })
	return cb
}

func TestSessionStopWithoutStartIsIdle(t *testing.T) {
	s, _ := newTestSession(newFakeDialer(), &fakeCapture{})
	s.Stop()
	s.Stop()
	if got := s.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
	if s.Err() != nil {
		t.Fatalf("Err = %v, want nil", s.Err())
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	d := newFakeDialer()
	c := &fakeCapture{}
	s, _ := newTestSession(d, c)
	startActive(t, s, d)

	s.Stop()
	s.Stop()

	if got := s.State(); got != StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
	if d.live.closeCount() != 1 {
		t.Fatalf("live closed %d times, want 1", d.live.closeCount())
	}
	if c.closeCount() != 1 {
		t.Fatalf("capture closed %d times, want 1", c.closeCount())
	}
}

func TestSessionCaptureFramesAreForwardedAsPCM16(t *testing.T) {
	d := newFakeDialer()
	c := &fakeCapture{}
	s, _ := newTestSession(d, c)
	startActive(t, s, d)
	defer s.Stop()

	// The dial goroutine may still be registering the live session; frames
	// delivered before that are dropped, so keep delivering until one lands.
	frame := make([]float32, audio.CaptureFrameSamples)
	waitFor(t, func() bool {
		c.deliver(frame)
		return d.live.sentFrames() >= 1
	})

	d.live.mu.Lock()
	got := len(d.live.sent[0])
	d.live.mu.Unlock()
	if got != audio.CaptureFrameSamples*2 {
		t.Fatalf("sent %d bytes, want %d", got, audio.CaptureFrameSamples*2)
	}
}

func TestSessionDropsFramesBeforeReady(t *testing.T) {
	d := newFakeDialer()
	c := &fakeCapture{}
	s, _ := newTestSession(d, c)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	d.callbacks(t) // connected but not ready

	c.deliver(make([]float32, 16))
	time.Sleep(10 * time.Millisecond)
	if d.live.sentFrames() != 0 {
		t.Fatalf("frames sent while connecting, want 0")
	}
	s.Stop()
}

func TestSessionTranscriptTurnBoundary(t *testing.T) {
	d := newFakeDialer()
	s, _ := newTestSession(d, &fakeCapture{})
	cb := startActive(t, s, d)
	defer s.Stop()

	cb.OnMessage(oracle.Fragment{InputText: "hel"})
	cb.OnMessage(oracle.Fragment{OutputText: "Hi "})
	cb.OnMessage(oracle.Fragment{InputText: "lo"})
	cb.OnMessage(oracle.Fragment{OutputText: "there"})

	snap := s.Snapshot()
	if snap.Current.User != "hello" || snap.Current.Model != "Hi there" {
		t.Fatalf("in-progress turn = %+v", snap.Current)
	}
	if len(snap.Transcript) != 0 {
		t.Fatalf("transcript flushed early: %+v", snap.Transcript)
	}

	cb.OnMessage(oracle.Fragment{TurnComplete: true})

	snap = s.Snapshot()
	if len(snap.Transcript) != 1 {
		t.Fatalf("transcript len = %d, want 1", len(snap.Transcript))
	}
	if snap.Transcript[0].User != "hello" || snap.Transcript[0].Model != "Hi there" {
		t.Fatalf("flushed turn = %+v", snap.Transcript[0])
	}
	if snap.Current.User != "" || snap.Current.Model != "" {
		t.Fatalf("accumulator not reset: %+v", snap.Current)
	}
}

func TestSessionSchedulesInboundAudioGapless(t *testing.T) {
	d := newFakeDialer()
	s, sink := newTestSession(d, &fakeCapture{})
	cb := startActive(t, s, d)
	defer s.Stop()

	for _, ms := range []int{500, 300, 700} {
		n := audio.PlaybackSampleRate * ms / 1000
		cb.OnMessage(oracle.Fragment{Audio: make([]byte, n*2)})
	}

	starts := sink.starts()
	if len(starts) != 3 {
		t.Fatalf("scheduled %d segments, want 3", len(starts))
	}
	want := []time.Duration{0, 500 * time.Millisecond, 800 * time.Millisecond}
	for i := range want {
		if starts[i] != want[i] {
			t.Fatalf("segment %d start = %v, want %v", i, starts[i], want[i])
		}
	}
}

func TestSessionInterruptedFragmentStopsPlayback(t *testing.T) {
	d := newFakeDialer()
	s, sink := newTestSession(d, &fakeCapture{})
	cb := startActive(t, s, d)
	defer s.Stop()

	cb.OnMessage(oracle.Fragment{Audio: make([]byte, audio.PlaybackSampleRate*2)}) // 1s
	cb.OnMessage(oracle.Fragment{Interrupted: true})

	if !sink.plays[0].stopped {
		t.Fatalf("pending playback not stopped on interruption")
	}
	// A fragment can carry interruption and audio together; the audio path
	// must still work afterwards, scheduling relative to now.
	sink.advance(300 * time.Millisecond)
	cb.OnMessage(oracle.Fragment{Audio: make([]byte, 960)})
	if got := sink.plays[1].start; got != 300*time.Millisecond {
		t.Fatalf("post-interrupt start = %v, want 300ms", got)
	}
}

func TestSessionCaptureFailureLeavesNothingAttached(t *testing.T) {
	d := newFakeDialer()
	c := &fakeCapture{openErr: errors.New("device busy")}
	s, _ := newTestSession(d, c)

	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("Start succeeded with failing capture")
	}
	if got := s.State(); got != StateFailed {
		t.Fatalf("state = %v, want failed", got)
	}
	if !core.IsType(s.Err(), core.ErrPermission) {
		t.Fatalf("Err = %v, want permission error", s.Err())
	}

	s.Stop()
	if got := s.State(); got != StateIdle {
		t.Fatalf("state after Stop = %v, want idle", got)
	}
}

func TestSessionDialFailureTearsDownCapture(t *testing.T) {
	d := newFakeDialer()
	d.dialErr = errors.New("dns failure")
	c := &fakeCapture{}
	s, _ := newTestSession(d, c)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return s.State() == StateFailed })
	if c.closeCount() != 1 {
		t.Fatalf("capture closed %d times, want 1", c.closeCount())
	}
	if !core.IsType(s.Err(), core.ErrOracle) {
		t.Fatalf("Err = %v, want oracle error", s.Err())
	}
}

func TestSessionRemoteCloseActsLikeStop(t *testing.T) {
	d := newFakeDialer()
	c := &fakeCapture{}
	s, _ := newTestSession(d, c)
	cb := startActive(t, s, d)

	cb.OnClose()

	waitFor(t, func() bool { return s.State() == StateIdle })
	if c.closeCount() != 1 {
		t.Fatalf("capture closed %d times, want 1", c.closeCount())
	}
}

// blockingLive mirrors the Close contract of the websocket and native
// backends: Close does not return until the read goroutine has signalled
// done, and the read goroutine signals done before delivering its terminal
// callback.
type blockingLive struct {
	mu     sync.Mutex
	closed int
	done   chan struct{}
}

func newBlockingLive() *blockingLive {
	return &blockingLive{done: make(chan struct{})}
}

func (l *blockingLive) SendAudio([]byte) error { return nil }

func (l *blockingLive) Close() error {
	l.mu.Lock()
	l.closed++
	l.mu.Unlock()
	<-l.done
	return nil
}

func (l *blockingLive) closeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type blockingDialer struct {
	live   *blockingLive
	dialed chan oracle.LiveCallbacks
}

func (d *blockingDialer) DialLive(_ context.Context, _ oracle.LiveConfig, cb oracle.LiveCallbacks) (oracle.LiveSession, error) {
	d.dialed <- cb
	return d.live, nil
}

func TestSessionRemoteCloseWithBlockingCloseConverges(t *testing.T) {
	live := newBlockingLive()
	d := &blockingDialer{live: live, dialed: make(chan oracle.LiveCallbacks, 1)}
	c := &fakeCapture{}
	s := NewSession(Config{
		Dialer:  d,
		Capture: c,
		Sink:    &fakeSink{},
		Live:    oracle.LiveConfig{Model: "gemini-2.5-flash-native-audio"},
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var cb oracle.LiveCallbacks
	select {
	case cb = <-d.dialed:
	case <-time.After(time.Second):
		t.Fatalf("dial never happened")
	}
	cb.OnReady()
	waitFor(t, func() bool { return s.State() == StateActive })

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		close(live.done)
		cb.OnClose()
	}()

	waitFor(t, func() bool { return s.State() == StateIdle })
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatalf("OnClose never returned")
	}
	if live.closeCount() != 1 {
		t.Fatalf("live closed %d times, want 1", live.closeCount())
	}
	if c.closeCount() != 1 {
		t.Fatalf("capture closed %d times, want 1", c.closeCount())
	}
}

func TestSessionStaleCallbacksAreInertAfterRestart(t *testing.T) {
	d := newFakeDialer()
	s, _ := newTestSession(d, &fakeCapture{})
	oldCB := startActive(t, s, d)

	// Restarting tears the first session down and starts a new generation.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	newCB := d.callbacks(t)
	newCB.OnReady()
	waitFor(t, func() bool { return s.State() == StateActive })

	oldCB.OnMessage(oracle.Fragment{OutputText: "stale"})
	oldCB.OnError(errors.New("stale error"))

	snap := s.Snapshot()
	if snap.State != StateActive {
		t.Fatalf("stale error killed the new session: %v", snap.State)
	}
	if snap.Current.Model != "" {
		t.Fatalf("stale fragment reached the new session: %+v", snap.Current)
	}
	s.Stop()
}
