package media

import (
	"fmt"
	"time"
)

// Codec identifies the compressed video format of a stream.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecH264
	CodecH265
)

func (c Codec) String() string {
	switch c {
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	default:
		return "unknown"
	}
}

// ChromaFormat is the chroma subsampling of a stream, numbered as in the
// H.264/H.265 chroma_format_idc field.
type ChromaFormat int

const (
	ChromaMonochrome ChromaFormat = iota
	Chroma420
	Chroma422
	Chroma444
)

func (c ChromaFormat) String() string {
	switch c {
	case ChromaMonochrome:
		return "4:0:0"
	case Chroma420:
		return "4:2:0"
	case Chroma422:
		return "4:2:2"
	case Chroma444:
		return "4:4:4"
	default:
		return "unknown"
	}
}

// CacheKey selects a decoder instance. Two sources with equal keys can share
// a decoder, possibly after a resize.
type CacheKey struct {
	BitDepth int
	Codec    Codec
	Chroma   ChromaFormat
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s/%s/%dbit", k.Codec, k.Chroma, k.BitDepth)
}

// OutputFormat is the surface format a decoder for this key produces.
func (k CacheKey) OutputFormat() PixelFormat {
	switch {
	case k.Chroma == Chroma444 && k.BitDepth > 8:
		return PixelFormatYUV444P16
	case k.Chroma == Chroma444:
		return PixelFormatYUV444
	case k.BitDepth > 8:
		return PixelFormatP016
	default:
		return PixelFormatNV12
	}
}

// StreamMetadata describes a source as a whole.
type StreamMetadata struct {
	Width     int
	Height    int
	NumFrames int
	FPS       float64
	Duration  time.Duration
	Bitrate   int64
	CodecName string
}

// FrameDuration is the nominal display time of one frame in 90 kHz ticks, or
// zero when the frame rate is unknown.
func (m StreamMetadata) FrameDuration() int64 {
	if m.FPS <= 0 {
		return 0
	}
	return int64(90000/m.FPS + 0.5)
}
