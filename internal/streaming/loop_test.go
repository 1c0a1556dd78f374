package streaming

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/zsiec/vseek/internal/emudec"
	"github.com/zsiec/vseek/internal/framechan"
	"github.com/zsiec/vseek/internal/media"
	"github.com/zsiec/vseek/internal/synth"
)

var errBroken = errors.New("broken pipe")

func newLoop(t *testing.T, s synth.Stream, capacity int) (*Loop, *synth.Demuxer, *emudec.Decoder) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dmx := synth.NewDemuxer(s)
	dec, err := emudec.New(media.DecoderConfig{
		Key:          s.CacheKey(),
		MaxWidth:     s.Width,
		MaxHeight:    s.Height,
		ReorderDepth: 2,
	}, log)
	if err != nil {
		t.Fatalf("emudec.New: %v", err)
	}
	return New(dmx, dec, capacity, log), dmx, dec
}

func endWithin(t *testing.T, l *Loop, d time.Duration) error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- l.End() }()
	select {
	case err := <-errc:
		return err
	case <-time.After(d):
		t.Fatal("End did not return")
		return nil
	}
}

func TestLoop_StreamsInDisplayOrder(t *testing.T) {
	t.Parallel()
	s := synth.Default(45, 15)
	l, _, dec := newLoop(t, s, 4)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var got []int64
	for {
		batch, err := l.PopBatch(4)
		if err != nil {
			t.Fatalf("PopBatch: %v", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, f := range batch {
			if !f.Locked {
				t.Fatal("streamed frame not locked")
			}
			got = append(got, f.PTS)
		}
	}
	if len(got) != s.Frames {
		t.Fatalf("got %d frames, want %d", len(got), s.Frames)
	}
	for i, pts := range got {
		if want := s.PTS(i); pts != want {
			t.Fatalf("frame %d: PTS = %d, want %d", i, pts, want)
		}
	}

	if err := endWithin(t, l, 2*time.Second); err != nil {
		t.Fatalf("End: %v", err)
	}
	if n := dec.LockedFrames(); n != 0 {
		t.Errorf("LockedFrames = %d, want 0", n)
	}
	if st := l.Stats(); st.Pushed != int64(s.Frames) || st.Popped != int64(s.Frames) {
		t.Errorf("Stats = %+v, want %d pushed and popped", st, s.Frames)
	}
}

func TestLoop_EndUnblocksProducer(t *testing.T) {
	t.Parallel()
	s := synth.Default(300, 30)
	l, _, dec := newLoop(t, s, 2)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	batch, err := l.PopBatch(2)
	if err != nil || len(batch) != 2 {
		t.Fatalf("PopBatch = %d frames, %v", len(batch), err)
	}

	// Let the producer fill the channel and block.
	deadline := time.Now().Add(2 * time.Second)
	for l.Buffered() < l.Capacity() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := endWithin(t, l, 2*time.Second); err != nil {
		t.Fatalf("End: %v", err)
	}
	if l.Running() {
		t.Error("Running = true after End")
	}
	if n := dec.LockedFrames(); n != 0 {
		t.Errorf("LockedFrames = %d, want 0", n)
	}
	if st := l.Stats(); st.Pushed >= int64(s.Frames) {
		t.Errorf("Pushed = %d, producer was not stopped early", st.Pushed)
	}
}

func TestLoop_Restart(t *testing.T) {
	t.Parallel()
	s := synth.Default(30, 10)
	l, dmx, _ := newLoop(t, s, 4)
	for range 2 {
		if err := dmx.Seek(0); err != nil {
			t.Fatal(err)
		}
		if err := l.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		batch, err := l.PopBatch(3)
		if err != nil {
			t.Fatal(err)
		}
		if len(batch) != 3 || batch[0].PTS != s.PTS(0) {
			t.Fatalf("first batch = %+v", batch)
		}
		if err := endWithin(t, l, 2*time.Second); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoop_StartTwice(t *testing.T) {
	t.Parallel()
	l, _, _ := newLoop(t, synth.Default(10, 5), 4)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := l.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start err = %v, want ErrRunning", err)
	}
	if err := endWithin(t, l, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := l.PopBatch(1); !errors.Is(err, ErrNotRunning) {
		t.Errorf("PopBatch after End err = %v, want ErrNotRunning", err)
	}
}

func TestLoop_BatchTooLarge(t *testing.T) {
	t.Parallel()
	l, _, _ := newLoop(t, synth.Default(10, 5), 4)
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := l.PopBatch(5); !errors.Is(err, framechan.ErrBatchTooLarge) {
		t.Errorf("PopBatch(5) err = %v, want ErrBatchTooLarge", err)
	}
	if err := endWithin(t, l, 2*time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestLoop_DemuxError(t *testing.T) {
	t.Parallel()
	l, dmx, _ := newLoop(t, synth.Default(10, 5), 4)
	dmx.DemuxErr = errBroken
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	batch, err := l.PopBatch(1)
	if len(batch) != 0 || !errors.Is(err, errBroken) {
		t.Errorf("PopBatch = %d frames, %v; want %v", len(batch), err, errBroken)
	}
	if err := endWithin(t, l, 2*time.Second); !errors.Is(err, errBroken) {
		t.Errorf("End err = %v, want %v", err, errBroken)
	}
}

func TestLoop_ContextCancel(t *testing.T) {
	t.Parallel()
	l, _, dec := newLoop(t, synth.Default(300, 30), 8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	batch, err := l.PopBatch(8)
	if err != nil || len(batch) != 0 {
		t.Fatalf("PopBatch = %d frames, %v; want none", len(batch), err)
	}
	if err := endWithin(t, l, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if n := dec.LockedFrames(); n != 0 {
		t.Errorf("LockedFrames = %d, want 0", n)
	}
}
