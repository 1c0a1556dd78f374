// Package synth generates GOP-structured video streams without any real
// picture content. A Stream can be served directly as a media.Demuxer or
// muxed into an MPEG transport stream; both carry the same access units, so
// anything learned from one holds for the other.
package synth

import (
	"github.com/zsiec/vseek/internal/media"
)

// Frame is one access unit of a generated stream, in decode order.
type Frame struct {
	Display int // display order index
	Key     bool
}

// Stream describes a generated stream. Each GOP opens with an IDR picture
// carrying the SPS, followed by P pictures each preceded in decode order by
// the B picture displayed just before it.
type Stream struct {
	Frames        int
	GOP           int
	Codec         media.Codec
	Width         int
	Height        int
	Chroma        media.ChromaFormat
	BitDepth      int
	FrameDuration int64 // 90 kHz ticks
	// PayloadSize is the approximate slice size in bytes.
	PayloadSize int
}

// Default returns a 30 fps 8-bit 4:2:0 H.264 stream description.
func Default(frames, gop int) Stream {
	return Stream{
		Frames:        frames,
		GOP:           gop,
		Codec:         media.CodecH264,
		Width:         320,
		Height:        240,
		Chroma:        media.Chroma420,
		BitDepth:      8,
		FrameDuration: 3000,
		PayloadSize:   256,
	}
}

// CacheKey is the decoder selector matching the stream parameters.
func (s Stream) CacheKey() media.CacheKey {
	return media.CacheKey{BitDepth: s.BitDepth, Codec: s.Codec, Chroma: s.Chroma}
}

// Metadata describes the stream as a demuxer would.
func (s Stream) Metadata() media.StreamMetadata {
	md := media.StreamMetadata{
		Width:     s.Width,
		Height:    s.Height,
		NumFrames: s.Frames,
		CodecName: s.Codec.String(),
	}
	if s.FrameDuration > 0 {
		md.FPS = 90000 / float64(s.FrameDuration)
	}
	return md
}

// DecodeOrder lays out the frames of the stream in decode order.
func (s Stream) DecodeOrder() []Frame {
	gop := max(s.GOP, 1)
	out := make([]Frame, 0, s.Frames)
	for base := 0; base < s.Frames; base += gop {
		end := min(base+gop, s.Frames)
		out = append(out, Frame{Display: base, Key: true})
		for i := base + 1; i < end; i += 2 {
			if i+1 < end {
				out = append(out, Frame{Display: i + 1})
			}
			out = append(out, Frame{Display: i})
		}
	}
	return out
}

// PTS returns the presentation timestamp of the frame displayed at index
// display. Timestamps start two frame durations in so DTS stays positive.
func (s Stream) PTS(display int) int64 {
	return int64(display+2) * s.FrameDuration
}

// Packets returns every access unit of the stream in decode order.
func (s Stream) Packets() []media.Packet {
	order := s.DecodeOrder()
	pkts := make([]media.Packet, len(order))
	for i, f := range order {
		pkts[i] = media.Packet{
			Data:       s.accessUnit(f),
			PTS:        s.PTS(f.Display),
			DTS:        int64(i+1) * s.FrameDuration,
			Duration:   s.FrameDuration,
			Pos:        -1,
			IsKeyframe: f.Key,
		}
	}
	return pkts
}

// accessUnit builds the Annex-B payload of one frame. The slice payload
// encodes the display index and never contains a zero byte.
func (s Stream) accessUnit(f Frame) []byte {
	var au []byte
	startCode := []byte{0x00, 0x00, 0x00, 0x01}
	if f.Key {
		au = append(au, startCode...)
		au = append(au, s.SPS()...)
	}

	var header []byte
	switch {
	case s.Codec == media.CodecH265 && f.Key:
		header = []byte{0x26, 0x01} // IDR_W_RADL
	case s.Codec == media.CodecH265:
		header = []byte{0x02, 0x01} // TRAIL_R
	case f.Key:
		header = []byte{0x65}
	default:
		header = []byte{0x41}
	}
	au = append(au, startCode...)
	au = append(au, header...)
	au = append(au, 0x88, 0x80|byte(f.Display>>7&0x7F), 0x80|byte(f.Display&0x7F))
	for i := range max(s.PayloadSize-3, 0) + f.Display%5*17 {
		au = append(au, 0x40|byte(i&0x3F))
	}
	return au
}

// SPS returns the sequence parameter set of the stream.
func (s Stream) SPS() []byte {
	if s.Codec == media.CodecH265 {
		return HEVCSPS(s.Width, s.Height, s.Chroma, s.BitDepth)
	}
	return H264SPS(s.Width, s.Height, s.Chroma, s.BitDepth)
}

// DisplayIndex recovers the display index from an access unit built by this
// package, or -1.
func DisplayIndex(au []byte) int {
	slice := -1
	for i := 0; i+2 < len(au); i++ {
		if au[i] == 0 && au[i+1] == 0 && au[i+2] == 1 {
			slice = i + 3
		}
	}
	if slice < 0 || slice >= len(au) {
		return -1
	}
	off := slice + 2
	if au[slice] == 0x65 || au[slice] == 0x41 {
		off = slice + 1
	}
	if off+2 >= len(au) || au[off] != 0x88 {
		return -1
	}
	return int(au[off+1]&0x7F)<<7 | int(au[off+2]&0x7F)
}
