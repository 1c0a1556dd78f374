package session

import (
	"context"
	"slices"
	"sync"
	"time"
)

// WarmUpGroup holds a fixed number of sessions at the end of their
// initialization until all of them are up, so that benchmarks do not
// measure one session decoding while others are still being created. It
// also records how long each session took to initialize.
type WarmUpGroup struct {
	n     int
	ready chan struct{}

	mu    sync.Mutex
	times []time.Duration
}

// NewWarmUpGroup returns a group releasing once n sessions have arrived. A
// group of n < 1 never blocks.
func NewWarmUpGroup(n int) *WarmUpGroup {
	g := &WarmUpGroup{n: n, ready: make(chan struct{})}
	if n < 1 {
		close(g.ready)
	}
	return g
}

// Arrive records the initialization time of one session and waits for the
// rest of the group or for ctx.
func (g *WarmUpGroup) Arrive(ctx context.Context, initTime time.Duration) error {
	g.mu.Lock()
	g.times = append(g.times, initTime)
	if len(g.times) == g.n {
		close(g.ready)
	}
	g.mu.Unlock()

	select {
	case <-g.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed once every session has arrived.
func (g *WarmUpGroup) Ready() <-chan struct{} { return g.ready }

// InitTimes returns the recorded initialization times in arrival order.
func (g *WarmUpGroup) InitTimes() []time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.times)
}
