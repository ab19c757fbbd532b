package track

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/balanceai/balance/pkg/core"
)

func TestReplayDeliversRecordedPath(t *testing.T) {
	want := []Position{at(0, 0), at(0, 1), at(1, 1)}
	r := NewReplay(want, 0)

	var mu sync.Mutex
	var got []Position
	unsub, err := r.Subscribe(func(p Position) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	})
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i].Lat != want[i].Lat || got[i].Lon != want[i].Lon {
			t.Fatalf("position %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReplayUnsubscribeStopsEmission(t *testing.T) {
	path := make([]Position, 1000)
	r := NewReplay(path, time.Millisecond)

	var mu sync.Mutex
	count := 0
	unsub, err := r.Subscribe(func(Position) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 2
	})
	unsub()
	unsub() // double release must not panic

	mu.Lock()
	settled := count
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	final := count
	mu.Unlock()
	if final > settled+1 {
		t.Fatalf("emission continued after unsubscribe: %d -> %d", settled, final)
	}
}

func TestLoadReplayParsesNDJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "walk.ndjson")
	data := `{"lat":-6.2,"lon":106.8,"t":"2026-08-28T07:00:00Z"}
{"lat":-6.21,"lon":106.81,"t":"2026-08-28T07:00:05Z"}

{"lat":-6.22,"lon":106.82,"t":"2026-08-28T07:00:10Z"}
`
	if err := os.WriteFile(file, []byte(data), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	r, err := LoadReplay(file, 0)
	if err != nil {
		t.Fatalf("LoadReplay: %v", err)
	}
	if len(r.positions) != 3 {
		t.Fatalf("loaded %d positions, want 3", len(r.positions))
	}
	if r.positions[1].Lat != -6.21 {
		t.Fatalf("positions[1].Lat = %v, want -6.21", r.positions[1].Lat)
	}
}

func TestLoadReplayRejectsMalformedLine(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.ndjson")
	if err := os.WriteFile(file, []byte("{\"lat\":1,\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	_, err := LoadReplay(file, 0)
	if !core.IsType(err, core.ErrInvalidRequest) {
		t.Fatalf("err = %v, want invalid request", err)
	}
}

func TestLoadReplayMissingFile(t *testing.T) {
	_, err := LoadReplay(filepath.Join(t.TempDir(), "nope.ndjson"), 0)
	if !core.IsType(err, core.ErrInvalidRequest) {
		t.Fatalf("err = %v, want invalid request", err)
	}
}
