package voice

import (
	"log/slog"
	"sync"
)

// Teardown collects release functions for acquired resources and runs them in
// reverse acquisition order, exactly once. Releases that fail are logged and
// do not stop the rest of the stack, so closing an already-closed resource is
// harmless.
type Teardown struct {
	mu    sync.Mutex
	ran   bool
	steps []teardownStep
}

type teardownStep struct {
	name    string
	release func() error
}

// Push registers a release function for a newly acquired resource.
// Pushing after Run is a no-op; the caller already missed the teardown.
func (t *Teardown) Push(name string, release func() error) {
	if t == nil || release == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ran {
		return
	}
	t.steps = append(t.steps, teardownStep{name: name, release: release})
}

// Run releases everything in LIFO order. Safe to call multiple times.
func (t *Teardown) Run(log *slog.Logger) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.ran {
		t.mu.Unlock()
		return
	}
	t.ran = true
	steps := t.steps
	t.steps = nil
	t.mu.Unlock()

	if log == nil {
		log = slog.Default()
	}
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i].release(); err != nil {
			log.Debug("teardown release failed", "resource", steps[i].name, "err", err)
		}
	}
}
