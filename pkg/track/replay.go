package track

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/balanceai/balance/pkg/core"
)

// Replay is a Source that feeds recorded positions, one JSON object per line
// ({"lat":..,"lon":..,"t":"..."}). It stands in for a live GPS provider in
// tests and offline runs.
type Replay struct {
	positions []Position
	interval  time.Duration
}

// NewReplay wraps an in-memory path. interval is the delay between emitted
// samples; zero emits as fast as the subscriber consumes.
func NewReplay(positions []Position, interval time.Duration) *Replay {
	return &Replay{positions: positions, interval: interval}
}

// LoadReplay reads a recorded path from an NDJSON file.
func LoadReplay(path string, interval time.Duration) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.NewInvalidRequestError("open replay file: "+err.Error(), "path")
	}
	defer f.Close()
	positions, err := readPositions(f)
	if err != nil {
		return nil, err
	}
	return NewReplay(positions, interval), nil
}

func readPositions(r io.Reader) ([]Position, error) {
	var out []Position
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var p Position
		if err := json.Unmarshal(line, &p); err != nil {
			return nil, core.NewInvalidRequestError("malformed position line: "+err.Error(), "line")
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, core.NewInvalidRequestError("read replay: "+err.Error(), "path")
	}
	return out, nil
}

// Len returns the number of recorded samples.
func (r *Replay) Len() int { return len(r.positions) }

// Subscribe emits the recorded path on a background goroutine. The stream
// ends silently after the last sample; unsubscribing stops emission.
func (r *Replay) Subscribe(onPosition func(Position), onError func(error)) (Unsubscribe, error) {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		for _, p := range r.positions {
			if r.interval > 0 {
				select {
				case <-time.After(r.interval):
				case <-done:
					return
				}
			} else {
				select {
				case <-done:
					return
				default:
				}
			}
			onPosition(p)
		}
	}()
	return func() { once.Do(func() { close(done) }) }, nil
}
