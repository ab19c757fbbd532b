package voice

import (
	"sync"
	"time"

	"github.com/balanceai/balance/pkg/audio"
)

// Sink is the playback surface segments are scheduled onto. Implementations
// own their playback clock; time.Duration values are positions on that clock,
// starting at zero when the sink is created.
type Sink interface {
	// Now returns the sink's current playback clock position.
	Now() time.Duration
	// Play schedules mono float samples to start at the given clock position
	// and returns a handle for the in-flight segment. The sink must not block
	// until the start time.
	Play(samples []float32, at time.Duration) (Playing, error)
}

// Playing is one scheduled segment.
type Playing interface {
	// Stop halts the segment immediately (hard cut, no fade).
	Stop()
	// Done is closed when the segment finishes, naturally or via Stop.
	Done() <-chan struct{}
}

// Scheduler assigns start times to incoming audio segments so that playback
// is gapless and in order: each segment starts exactly where the previous one
// ends, or at "now" when the queue has drained. Correctness rests on the
// monotonic schedule clock, not on segment arrival times.
type Scheduler struct {
	sink       Sink
	sampleRate int

	mu      sync.Mutex
	next    time.Duration
	pending map[Playing]struct{}
}

// NewScheduler creates a scheduler over the given sink. sampleRate is the
// playback rate of the scheduled samples.
func NewScheduler(sink Sink, sampleRate int) *Scheduler {
	if sampleRate <= 0 {
		sampleRate = audio.PlaybackSampleRate
	}
	return &Scheduler{
		sink:       sink,
		sampleRate: sampleRate,
		pending:    make(map[Playing]struct{}),
	}
}

// Schedule queues one segment for playback and returns its assigned start
// position. The schedule clock advances by the segment's duration; the whole
// computation is atomic so interleaved callers cannot tear it.
func (s *Scheduler) Schedule(samples []float32) (time.Duration, error) {
	if s == nil || len(samples) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.next
	if now := s.sink.Now(); now > start {
		start = now
	}
	handle, err := s.sink.Play(samples, start)
	if err != nil {
		return 0, err
	}
	s.next = start + audio.SampleDuration(len(samples), s.sampleRate)
	s.pending[handle] = struct{}{}
	go s.reap(handle)
	return start, nil
}

func (s *Scheduler) reap(handle Playing) {
	<-handle.Done()
	s.mu.Lock()
	delete(s.pending, handle)
	s.mu.Unlock()
}

// Interrupt hard-stops every pending segment and rewinds the schedule clock
// to zero, so the next segment schedules relative to "now" instead of a stale
// future position. This is the barge-in path.
func (s *Scheduler) Interrupt() {
	if s == nil {
		return
	}
	s.mu.Lock()
	pending := make([]Playing, 0, len(s.pending))
	for handle := range s.pending {
		pending = append(pending, handle)
	}
	s.pending = make(map[Playing]struct{})
	s.next = 0
	s.mu.Unlock()

	for _, handle := range pending {
		handle.Stop()
	}
}

// Pending returns the number of in-flight segments.
func (s *Scheduler) Pending() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// NextStart exposes the schedule clock, for observation.
func (s *Scheduler) NextStart() time.Duration {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
