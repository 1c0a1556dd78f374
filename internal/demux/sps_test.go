package demux

import (
	"testing"

	"github.com/zsiec/vseek/internal/media"
	"github.com/zsiec/vseek/internal/synth"
)

func TestParseSPS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		codec    media.Codec
		w, h     int
		chroma   media.ChromaFormat
		bitDepth int
	}{
		{"h264 1080p", media.CodecH264, 1920, 1080, media.Chroma420, 8},
		{"h264 720p 10bit", media.CodecH264, 1280, 720, media.Chroma420, 10},
		{"h264 422", media.CodecH264, 720, 576, media.Chroma422, 10},
		{"h264 444", media.CodecH264, 640, 480, media.Chroma444, 8},
		{"hevc 4k", media.CodecH265, 3840, 2160, media.Chroma420, 10},
		{"hevc 444 12bit", media.CodecH265, 1920, 1080, media.Chroma444, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var nal []byte
			if tt.codec == media.CodecH265 {
				nal = synth.HEVCSPS(tt.w, tt.h, tt.chroma, tt.bitDepth)
			} else {
				nal = synth.H264SPS(tt.w, tt.h, tt.chroma, tt.bitDepth)
			}
			if !isSPS(nalType(nal[0], tt.codec), tt.codec) {
				t.Fatalf("NAL type %d not recognized as SPS", nalType(nal[0], tt.codec))
			}
			sps, err := ParseSPS(nal, tt.codec)
			if err != nil {
				t.Fatal(err)
			}
			if sps.Width != tt.w || sps.Height != tt.h {
				t.Errorf("size = %dx%d, want %dx%d", sps.Width, sps.Height, tt.w, tt.h)
			}
			if sps.Chroma != tt.chroma {
				t.Errorf("chroma = %v, want %v", sps.Chroma, tt.chroma)
			}
			if sps.BitDepth != tt.bitDepth {
				t.Errorf("bit depth = %d, want %d", sps.BitDepth, tt.bitDepth)
			}
		})
	}
}

func TestParseSPS_Truncated(t *testing.T) {
	t.Parallel()
	nal := synth.H264SPS(1920, 1080, media.Chroma420, 8)
	if _, err := ParseSPS(nal[:5], media.CodecH264); err == nil {
		t.Error("truncated SPS parsed without error")
	}
	if _, err := ParseSPS([]byte{0x42, 0x01}, media.CodecH265); err == nil {
		t.Error("empty HEVC SPS parsed without error")
	}
}

func TestSplitAnnexB(t *testing.T) {
	t.Parallel()
	data := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0xAA,
		0x00, 0x00, 0x01, 0x68, 0xBB,
		0x00, 0x00, 0x01, 0x65, 0xCC, 0xDD,
	}
	units := splitAnnexB(data, media.CodecH264)
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3", len(units))
	}
	want := []struct {
		typ byte
		n   int
	}{{7, 2}, {8, 2}, {5, 3}}
	for i, u := range units {
		if u.typ != want[i].typ || len(u.data) != want[i].n {
			t.Errorf("unit %d: type %d len %d, want type %d len %d", i, u.typ, len(u.data), want[i].typ, want[i].n)
		}
	}
	if !isRandomAccess(units[2].typ, media.CodecH264) {
		t.Error("IDR not recognized as random access")
	}
}

func TestUnescapeRBSP(t *testing.T) {
	t.Parallel()
	got := unescapeRBSP([]byte{0x00, 0x00, 0x03, 0x01, 0x00, 0x00, 0x03, 0x00, 0x05})
	want := []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x05}
	if string(got) != string(want) {
		t.Errorf("unescapeRBSP = %x, want %x", got, want)
	}
}
