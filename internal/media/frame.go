// Package media defines the types shared by every stage of the seek engine:
// compressed packets coming out of a demuxer, decoded pictures coming out of
// a decoder, and the collaborator interfaces that produce them.
package media

import "errors"

// Defaults shared by the session, its frame channel and the seeker.
const (
	DefaultBufferCapacity = 8
	DefaultCacheCapacity  = 4
	DefaultSeekLookahead  = 4
)

// ErrInvalidIndex reports a frame index with no entry in the source's index
// table. Callers skip the index rather than abort the request.
var ErrInvalidIndex = errors.New("media: invalid frame index")

// FrameHandle identifies a decoder output surface. It is only meaningful to
// the decoder that produced it.
type FrameHandle uint64

// PixelFormat is the layout of a decoded surface.
type PixelFormat int

const (
	PixelFormatNV12 PixelFormat = iota
	PixelFormatP016
	PixelFormatYUV444
	PixelFormatYUV444P16
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatP016:
		return "p016"
	case PixelFormatYUV444:
		return "yuv444"
	case PixelFormatYUV444P16:
		return "yuv444p16"
	default:
		return "unknown"
	}
}

// Packet is one compressed access unit in decode order. PTS and DTS are in
// 90 kHz ticks. Pos is the byte offset of the unit in its source, or -1 when
// the source is not file backed.
type Packet struct {
	Data       []byte
	PTS        int64
	DTS        int64
	Duration   int64
	Pos        int64
	IsKeyframe bool
}

// Empty reports whether the packet carries no payload. An empty packet sent
// to a decoder flushes it.
func (p Packet) Empty() bool { return len(p.Data) == 0 }

// DecodedFrame is a picture produced by a decoder. A locked frame stays valid
// until the caller passes its Handle to Decoder.UnlockFrame; a floating frame
// may be reused by the decoder on its next Decode call. Done is closed once
// the picture is complete.
type DecodedFrame struct {
	PTS    int64
	Handle FrameHandle
	Format PixelFormat
	Width  int
	Height int
	Locked bool
	Done   <-chan struct{}
}

// Wait blocks until the frame is complete.
func (f DecodedFrame) Wait() {
	if f.Done != nil {
		<-f.Done
	}
}
