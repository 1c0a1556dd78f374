package synth

import (
	"errors"
	"io"
	"testing"

	"github.com/zsiec/vseek/internal/media"
)

func TestStream_DecodeOrder(t *testing.T) {
	t.Parallel()
	got := Default(8, 6).DecodeOrder()
	want := []int{0, 2, 1, 4, 3, 5, 6, 7}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, f := range got {
		if f.Display != want[i] {
			t.Errorf("frame %d: display %d, want %d", i, f.Display, want[i])
		}
		if f.Key != (i == 0 || i == 6) {
			t.Errorf("frame %d: key = %v", i, f.Key)
		}
	}
}

func TestStream_PacketsCarryDisplayIndex(t *testing.T) {
	t.Parallel()
	for _, codec := range []media.Codec{media.CodecH264, media.CodecH265} {
		s := Default(300, 30)
		s.Codec = codec
		for i, p := range s.Packets() {
			d := DisplayIndex(p.Data)
			if p.PTS != s.PTS(d) {
				t.Fatalf("%s packet %d: display %d has PTS %d, want %d", codec, i, d, p.PTS, s.PTS(d))
			}
			if p.DTS > p.PTS {
				t.Fatalf("%s packet %d: DTS %d after PTS %d", codec, i, p.DTS, p.PTS)
			}
		}
	}
}

func TestEscapeRBSP(t *testing.T) {
	t.Parallel()
	got := escapeRBSP([]byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x05})
	want := []byte{0x00, 0x00, 0x03, 0x01, 0x00, 0x00, 0x03, 0x00, 0x05}
	if string(got) != string(want) {
		t.Errorf("escapeRBSP = %x, want %x", got, want)
	}
}

func TestDemuxer_SeekAndDemux(t *testing.T) {
	t.Parallel()
	d := NewDemuxer(Default(20, 6))

	k, err := d.NearestKeyFrameIndex(9)
	if err != nil || k != 6 {
		t.Fatalf("NearestKeyFrameIndex(9) = %d, %v; want 6", k, err)
	}
	if err := d.Seek(9); err != nil {
		t.Fatal(err)
	}
	p, err := d.Demux()
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsKeyframe || DisplayIndex(p.Data) != 6 {
		t.Errorf("after Seek(9): key=%v display=%d; want key frame 6", p.IsKeyframe, DisplayIndex(p.Data))
	}
	if d.Seeks() != 1 || d.Demuxed() != 1 {
		t.Errorf("Seeks=%d Demuxed=%d, want 1, 1", d.Seeks(), d.Demuxed())
	}

	d.Holes[3] = true
	if _, err := d.NearestKeyFrameIndex(3); !errors.Is(err, media.ErrInvalidIndex) {
		t.Errorf("hole error = %v, want ErrInvalidIndex", err)
	}
	if _, err := d.NearestKeyFrameIndex(20); !errors.Is(err, media.ErrInvalidIndex) {
		t.Errorf("out of range error = %v, want ErrInvalidIndex", err)
	}
}

func TestDemuxer_EOFAfter(t *testing.T) {
	t.Parallel()
	d := NewDemuxer(Default(10, 5))
	d.EOFAfter = 3
	for range 3 {
		if _, err := d.Demux(); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := d.Demux(); !errors.Is(err, io.EOF) {
		t.Errorf("error = %v, want io.EOF", err)
	}
}
