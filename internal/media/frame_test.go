package media

import (
	"testing"
	"time"
)

func TestPixelFormat_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		f    PixelFormat
		want string
	}{
		{PixelFormatNV12, "nv12"},
		{PixelFormatP016, "p016"},
		{PixelFormatYUV444, "yuv444"},
		{PixelFormatYUV444P16, "yuv444p16"},
		{PixelFormat(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestCacheKey_OutputFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		key  CacheKey
		want PixelFormat
	}{
		{CacheKey{BitDepth: 8, Codec: CodecH264, Chroma: Chroma420}, PixelFormatNV12},
		{CacheKey{BitDepth: 10, Codec: CodecH265, Chroma: Chroma420}, PixelFormatP016},
		{CacheKey{BitDepth: 8, Codec: CodecH265, Chroma: Chroma444}, PixelFormatYUV444},
		{CacheKey{BitDepth: 12, Codec: CodecH265, Chroma: Chroma444}, PixelFormatYUV444P16},
	}
	for _, tt := range tests {
		t.Run(tt.key.String(), func(t *testing.T) {
			t.Parallel()
			if got := tt.key.OutputFormat(); got != tt.want {
				t.Errorf("OutputFormat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCacheKey_Comparable(t *testing.T) {
	t.Parallel()
	m := map[CacheKey]int{}
	m[CacheKey{8, CodecH264, Chroma420}] = 1
	m[CacheKey{8, CodecH264, Chroma420}] = 2
	if len(m) != 1 {
		t.Errorf("len = %d, want 1", len(m))
	}
}

func TestStreamMetadata_FrameDuration(t *testing.T) {
	t.Parallel()
	md := StreamMetadata{FPS: 30, Duration: time.Second}
	if got := md.FrameDuration(); got != 3000 {
		t.Errorf("FrameDuration() = %d, want 3000", got)
	}
	if got := (StreamMetadata{}).FrameDuration(); got != 0 {
		t.Errorf("FrameDuration() = %d, want 0", got)
	}
}

func TestDecodedFrame_Wait(t *testing.T) {
	t.Parallel()
	done := make(chan struct{})
	f := DecodedFrame{Done: done}
	go close(done)

	finished := make(chan struct{})
	go func() {
		f.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Done closed")
	}
	DecodedFrame{}.Wait()
}
