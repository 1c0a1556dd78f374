package emudec

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/zsiec/vseek/internal/media"
	"github.com/zsiec/vseek/internal/synth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDecoder(t *testing.T, s synth.Stream, surfaces int) *Decoder {
	t.Helper()
	d, err := New(media.DecoderConfig{
		Key:          s.CacheKey(),
		MaxWidth:     s.Width,
		MaxHeight:    s.Height,
		Surfaces:     surfaces,
		ReorderDepth: 2,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

// drain decodes every packet and collects the output PTS in order.
func drain(t *testing.T, d *Decoder, pkts []media.Packet, locked bool) []int64 {
	t.Helper()
	var out []int64
	fetch := func(n int) {
		for range n {
			var f media.DecodedFrame
			var err error
			if locked {
				f, err = d.GetLockedFrame()
			} else {
				f, err = d.GetFrame()
			}
			if err != nil {
				t.Fatalf("get frame: %v", err)
			}
			out = append(out, f.PTS)
		}
	}
	for _, p := range pkts {
		n, err := d.Decode(p.Data, media.FlagTimestamp, p.PTS)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		fetch(n)
	}
	n, err := d.Decode(nil, media.FlagEndOfStream, 0)
	if err != nil {
		t.Fatalf("Decode(EOS): %v", err)
	}
	fetch(n)
	return out
}

func TestDecoder_OutputsDisplayOrder(t *testing.T) {
	t.Parallel()
	for _, codec := range []media.Codec{media.CodecH264, media.CodecH265} {
		s := synth.Default(40, 12)
		s.Codec = codec
		d := newTestDecoder(t, s, 0)

		got := drain(t, d, s.Packets(), false)
		if len(got) != s.Frames {
			t.Fatalf("%s: got %d frames, want %d", codec, len(got), s.Frames)
		}
		for i, pts := range got {
			if want := s.PTS(i); pts != want {
				t.Fatalf("%s: frame %d PTS = %d, want %d", codec, i, pts, want)
			}
		}
	}
}

func TestDecoder_SkipsUntilSequenceHeader(t *testing.T) {
	t.Parallel()
	s := synth.Default(12, 6)
	d := newTestDecoder(t, s, 0)
	pkts := s.Packets()

	// Start mid GOP: packets 1..5 carry no SPS and are dropped.
	got := drain(t, d, pkts[1:], false)
	if len(got) != 6 {
		t.Fatalf("got %d frames, want 6", len(got))
	}
	if got[0] != s.PTS(6) {
		t.Errorf("first PTS = %d, want %d", got[0], s.PTS(6))
	}
	if st := d.Stats(); st.Skipped != 5 {
		t.Errorf("Skipped = %d, want 5", st.Skipped)
	}
}

func TestDecoder_DiscontinuityFlushes(t *testing.T) {
	t.Parallel()
	s := synth.Default(6, 6)
	d := newTestDecoder(t, s, 0)
	pkts := s.Packets()

	for _, p := range pkts[:2] {
		n, err := d.Decode(p.Data, media.FlagTimestamp, p.PTS)
		if err != nil || n != 0 {
			t.Fatalf("Decode = %d, %v; want 0", n, err)
		}
	}
	n, err := d.Decode(nil, media.FlagDiscontinuity, 0)
	if err != nil || n != 2 {
		t.Fatalf("Decode(discontinuity) = %d, %v; want 2", n, err)
	}
	if got := d.State(); got != StateAwaitingDisplay {
		t.Errorf("State = %v, want %v", got, StateAwaitingDisplay)
	}
}

func TestDecoder_UnfetchedFramesAreDropped(t *testing.T) {
	t.Parallel()
	s := synth.Default(6, 6)
	d := newTestDecoder(t, s, 0)
	pkts := s.Packets()

	for _, p := range pkts[:3] {
		if _, err := d.Decode(p.Data, media.FlagTimestamp, p.PTS); err != nil {
			t.Fatal(err)
		}
	}
	// One picture is ready and never fetched.
	if _, err := d.Decode(pkts[3].Data, media.FlagTimestamp, pkts[3].PTS); err != nil {
		t.Fatal(err)
	}
	f, err := d.GetFrame()
	if err != nil {
		t.Fatal(err)
	}
	if f.PTS != s.PTS(1) {
		t.Errorf("PTS = %d, want %d", f.PTS, s.PTS(1))
	}
	if _, err := d.GetFrame(); !errors.Is(err, ErrNoFrame) {
		t.Errorf("err = %v, want ErrNoFrame", err)
	}
	if st := d.Stats(); st.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", st.Dropped)
	}
}

func TestDecoder_LockedFrames(t *testing.T) {
	t.Parallel()
	s := synth.Default(10, 5)
	d := newTestDecoder(t, s, 0)

	var handles []media.FrameHandle
	for _, p := range s.Packets() {
		n, err := d.Decode(p.Data, media.FlagTimestamp, p.PTS)
		if err != nil {
			t.Fatal(err)
		}
		for range n {
			f, err := d.GetLockedFrame()
			if err != nil {
				t.Fatal(err)
			}
			if !f.Locked {
				t.Error("frame not locked")
			}
			f.Wait()
			handles = append(handles, f.Handle)
		}
	}
	if got := d.LockedFrames(); got != len(handles) {
		t.Fatalf("LockedFrames = %d, want %d", got, len(handles))
	}
	for _, h := range handles {
		d.UnlockFrame(h)
		d.UnlockFrame(h)
	}
	if got := d.LockedFrames(); got != 0 {
		t.Errorf("LockedFrames = %d, want 0", got)
	}
}

func TestDecoder_SurfaceLimit(t *testing.T) {
	t.Parallel()
	s := synth.Default(12, 12)
	d, err := New(media.DecoderConfig{
		Key:          s.CacheKey(),
		MaxWidth:     s.Width,
		MaxHeight:    s.Height,
		Surfaces:     2,
		ReorderDepth: 3,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pkts := s.Packets()
	for _, p := range pkts[:2] {
		if _, err := d.Decode(p.Data, media.FlagTimestamp, p.PTS); err != nil {
			t.Fatalf("Decode: %v", err)
		}
	}
	if _, err := d.Decode(pkts[2].Data, media.FlagTimestamp, pkts[2].PTS); !errors.Is(err, ErrNoSurface) {
		t.Fatalf("err = %v, want ErrNoSurface", err)
	}
}

func TestDecoder_LockedFramesDoNotUseSurfaces(t *testing.T) {
	t.Parallel()
	s := synth.Default(40, 40)
	d := newTestDecoder(t, s, 4)

	got := drain(t, d, s.Packets(), true)
	if len(got) != 40 {
		t.Fatalf("got %d frames, want 40", len(got))
	}
	if n := d.LockedFrames(); n != 40 {
		t.Errorf("LockedFrames() = %d, want 40", n)
	}
}

func TestDecoder_Capacity(t *testing.T) {
	t.Parallel()
	big := synth.Default(6, 6)
	big.Width, big.Height = 640, 480
	d := newTestDecoder(t, synth.Default(6, 6), 0)

	p := big.Packets()[0]
	if _, err := d.Decode(p.Data, media.FlagTimestamp, p.PTS); !errors.Is(err, ErrExceedsCapacity) {
		t.Errorf("Decode err = %v, want ErrExceedsCapacity", err)
	}
	if err := d.Reconfigure(640, 480); !errors.Is(err, ErrExceedsCapacity) {
		t.Errorf("Reconfigure err = %v, want ErrExceedsCapacity", err)
	}
}

func TestDecoder_ReconfigureResets(t *testing.T) {
	t.Parallel()
	s := synth.Default(6, 6)
	d := newTestDecoder(t, s, 0)
	for _, p := range s.Packets()[:2] {
		if _, err := d.Decode(p.Data, media.FlagTimestamp, p.PTS); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.Reconfigure(160, 120); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if got := d.State(); got != StateAwaitingSequence {
		t.Errorf("State = %v, want %v", got, StateAwaitingSequence)
	}
	if n, err := d.Decode(nil, media.FlagEndOfStream, 0); err != nil || n != 0 {
		t.Errorf("Decode(EOS) = %d, %v; want 0", n, err)
	}
}

func TestDecoder_Close(t *testing.T) {
	t.Parallel()
	d := newTestDecoder(t, synth.Default(6, 6), 0)
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if !d.Closed() {
		t.Error("Closed = false")
	}
	if _, err := d.Decode(nil, 0, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Decode err = %v, want ErrClosed", err)
	}
	if err := d.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close err = %v, want ErrClosed", err)
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	t.Parallel()
	if _, err := New(media.DecoderConfig{Key: synth.Default(1, 1).CacheKey()}, nil); err == nil {
		t.Error("zero capacity accepted")
	}
	if _, err := New(media.DecoderConfig{MaxWidth: 1, MaxHeight: 1, ReorderDepth: 2}, nil); err == nil {
		t.Error("unknown codec accepted")
	}
	key := synth.Default(1, 1).CacheKey()
	for _, depth := range []int{0, -1} {
		if _, err := New(media.DecoderConfig{Key: key, MaxWidth: 1, MaxHeight: 1, ReorderDepth: depth}, nil); err == nil {
			t.Errorf("reorder depth %d accepted", depth)
		}
	}
}
