package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/balanceai/balance/pkg/audio"
	"github.com/balanceai/balance/pkg/voice"
)

// ffplaySpeaker pipes raw PCM16LE into an ffplay child process. Restart drops
// whatever ffplay has buffered, which is the hard cut the barge-in path needs.
type ffplaySpeaker struct {
	path       string
	sampleRate int
	volume     int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func newFFPlaySpeaker(path string, sampleRate, volume int) *ffplaySpeaker {
	return &ffplaySpeaker{path: path, sampleRate: sampleRate, volume: volume}
}

func (s *ffplaySpeaker) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *ffplaySpeaker) startLocked() error {
	if s.cmd != nil && s.cmd.Process != nil {
		return nil
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-volume", fmt.Sprintf("%d", s.volume),
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", "mono",
		"-ar", fmt.Sprintf("%d", s.sampleRate),
		"-i", "-",
	}
	cmd := exec.Command(s.path, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL can pick a silent dummy backend on macOS.
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return err
	}
	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.mu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
	}(cmd)
	return nil
}

func (s *ffplaySpeaker) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.startLocked(); err != nil {
		return err
	}
	_, err := s.stdin.Write(p)
	return err
}

// Restart kills the child so its buffered audio is dropped.
func (s *ffplaySpeaker) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
	_ = s.startLocked()
}

func (s *ffplaySpeaker) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
}

func (s *ffplaySpeaker) killLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
}

// writer delivers PCM bytes for one playback pipeline. The discard writer
// stands in when -no-speaker is set.
type pcmWriter interface {
	Write(p []byte) error
	Restart()
	Close()
}

type discardWriter struct{}

func (discardWriter) Write([]byte) error { return nil }
func (discardWriter) Restart()           {}
func (discardWriter) Close()             {}

// pipeSink adapts a pcmWriter to the session's playback sink. Segments are
// written in schedule order by one writer goroutine; the pipe's backpressure
// provides the pacing.
type pipeSink struct {
	out        pcmWriter
	sampleRate int
	epoch      time.Time
	queue      chan *pipeSegment
	closeOnce  sync.Once
}

type pipeSegment struct {
	samples []float32
	at      time.Duration
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (p *pipeSegment) Stop() { p.once.Do(func() { close(p.stop) }) }

func (p *pipeSegment) Done() <-chan struct{} { return p.done }

func newPipeSink(out pcmWriter, sampleRate int) *pipeSink {
	s := &pipeSink{
		out:        out,
		sampleRate: sampleRate,
		epoch:      time.Now(),
		queue:      make(chan *pipeSegment, 256),
	}
	go s.run()
	return s
}

func (s *pipeSink) Now() time.Duration { return time.Since(s.epoch) }

func (s *pipeSink) Play(samples []float32, at time.Duration) (voice.Playing, error) {
	seg := &pipeSegment{
		samples: samples,
		at:      at,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.queue <- seg
	return seg, nil
}

func (s *pipeSink) run() {
	for seg := range s.queue {
		s.play(seg)
	}
}

func (s *pipeSink) play(seg *pipeSegment) {
	defer close(seg.done)
	if wait := seg.at - s.Now(); wait > 0 {
		select {
		case <-time.After(wait):
		case <-seg.stop:
			return
		}
	}
	pcm := audio.Float32ToPCM16LE(seg.samples)
	// 100 ms chunks so a stop lands quickly mid-segment.
	chunk := s.sampleRate / 10 * audio.BytesPerSample
	for off := 0; off < len(pcm); off += chunk {
		select {
		case <-seg.stop:
			s.out.Restart()
			return
		default:
		}
		end := off + chunk
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := s.out.Write(pcm[off:end]); err != nil {
			return
		}
	}
}

func (s *pipeSink) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
		s.out.Close()
	})
}
