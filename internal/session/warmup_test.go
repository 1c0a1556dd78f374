package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestWarmUpGroup_ReleasesTogether(t *testing.T) {
	t.Parallel()
	fx := newFixture()
	g := NewWarmUpGroup(3)
	cfg := DefaultConfig()
	cfg.WarmUp = g

	sources := []string{"a.ts", "b.ts", "hevc.ts"}
	sessions := make([]*Coordinator, len(sources))
	var eg errgroup.Group
	for i, src := range sources {
		eg.Go(func() error {
			c, err := New(context.Background(), src, fx.open, fx.factory, cfg, discard())
			sessions[i] = c
			return err
		})
	}

	done := make(chan error, 1)
	go func() { done <- eg.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sessions did not warm up")
	}
	for _, c := range sessions {
		c.Close()
	}

	select {
	case <-g.Ready():
	default:
		t.Error("Ready not closed")
	}
	if got := len(g.InitTimes()); got != 3 {
		t.Errorf("InitTimes has %d entries, want 3", got)
	}
}

func TestWarmUpGroup_ContextCancel(t *testing.T) {
	t.Parallel()
	g := NewWarmUpGroup(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Arrive(ctx, time.Millisecond); !errors.Is(err, context.Canceled) {
		t.Errorf("Arrive err = %v, want context.Canceled", err)
	}
}

func TestWarmUpGroup_Disabled(t *testing.T) {
	t.Parallel()
	g := NewWarmUpGroup(0)
	if err := g.Arrive(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Arrive err = %v", err)
	}
}

func TestNew_WarmUpCancelClosesSession(t *testing.T) {
	t.Parallel()
	fx := newFixture()
	cfg := DefaultConfig()
	cfg.WarmUp = NewWarmUpGroup(2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := New(ctx, "a.ts", fx.open, fx.factory, cfg, discard()); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if !fx.opened[0].Closed() {
		t.Error("demuxer left open")
	}
	if got := fx.decoders[0].closes.Load(); got != 1 {
		t.Errorf("decoder closed %d times, want 1", got)
	}
}
