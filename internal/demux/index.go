package demux

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/zsiec/vseek/internal/media"
)

// Entry locates one access unit. Entries are kept in decode order, so an
// entry's position in Index.Entries is its frame index.
type Entry struct {
	Pos int64 `json:"pos"`
	PTS int64 `json:"pts"`
	DTS int64 `json:"dts"`
}

// Index is the result of scanning a stream: where every access unit lives,
// which units are key frames and the parameters of the video sequence.
type Index struct {
	VideoPID uint16             `json:"video_pid"`
	Codec    media.Codec        `json:"codec"`
	Width    int                `json:"width"`
	Height   int                `json:"height"`
	BitDepth int                `json:"bit_depth"`
	Chroma   media.ChromaFormat `json:"chroma"`
	Size     int64              `json:"size"`
	Entries  []Entry            `json:"entries"`

	keys *roaring.Bitmap
}

// NewIndex returns an empty index for the given video stream.
func NewIndex(pid uint16, codec media.Codec) *Index {
	return &Index{VideoPID: pid, Codec: codec, keys: roaring.New()}
}

// Append records the next access unit in decode order.
func (idx *Index) Append(e Entry, key bool) {
	if key {
		idx.keys.Add(uint32(len(idx.Entries)))
	}
	idx.Entries = append(idx.Entries, e)
}

// Len returns the number of access units.
func (idx *Index) Len() int { return len(idx.Entries) }

// IsKeyFrame reports whether frame i is a key frame.
func (idx *Index) IsKeyFrame(i int) bool {
	return i >= 0 && i < len(idx.Entries) && idx.keys.Contains(uint32(i))
}

// KeyFrames returns the number of key frames.
func (idx *Index) KeyFrames() int { return int(idx.keys.GetCardinality()) }

// NearestKeyFrame returns the last key frame at or before i. Indices outside
// the stream or before its first key frame have no usable entry.
func (idx *Index) NearestKeyFrame(i int) (int, error) {
	if i < 0 || i >= len(idx.Entries) {
		return 0, fmt.Errorf("%w: %d not in [0,%d)", media.ErrInvalidIndex, i, len(idx.Entries))
	}
	rank := idx.keys.Rank(uint32(i)) // key frames <= i
	if rank == 0 {
		return 0, fmt.Errorf("%w: %d precedes the first key frame", media.ErrInvalidIndex, i)
	}
	k, err := idx.keys.Select(uint32(rank - 1))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", media.ErrInvalidIndex, err)
	}
	return int(k), nil
}

// FrameDuration estimates the display interval in 90 kHz ticks from the
// presentation time span of the stream.
func (idx *Index) FrameDuration() int64 {
	if len(idx.Entries) < 2 {
		return 0
	}
	var lo, hi int64 = math.MaxInt64, math.MinInt64
	for _, e := range idx.Entries {
		lo, hi = min(lo, e.PTS), max(hi, e.PTS)
	}
	if hi <= lo {
		return 0
	}
	return (hi - lo) / int64(len(idx.Entries)-1)
}

// Metadata summarizes the indexed stream.
func (idx *Index) Metadata() media.StreamMetadata {
	md := media.StreamMetadata{
		Width:     idx.Width,
		Height:    idx.Height,
		NumFrames: len(idx.Entries),
		CodecName: idx.Codec.String(),
	}
	if d := idx.FrameDuration(); d > 0 {
		md.FPS = 90000 / float64(d)
		ticks := d * int64(len(idx.Entries))
		md.Duration = time.Duration(ticks/90000)*time.Second + time.Duration(ticks%90000)*time.Second/90000
		if secs := md.Duration.Seconds(); secs > 0 {
			md.Bitrate = int64(float64(idx.Size*8) / secs)
		}
	}
	return md
}

// CacheKey is the decoder selector for the indexed stream.
func (idx *Index) CacheKey() media.CacheKey {
	return media.CacheKey{BitDepth: idx.BitDepth, Codec: idx.Codec, Chroma: idx.Chroma}
}

// indexJSON carries the key frame bitmap in roaring's portable format.
type indexJSON struct {
	*indexFields
	Keys []byte `json:"keys"`
}

type indexFields Index

// MarshalJSON implements json.Marshaler.
func (idx *Index) MarshalJSON() ([]byte, error) {
	keys, err := idx.keys.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("demux: encode key frames: %w", err)
	}
	return json.Marshal(indexJSON{indexFields: (*indexFields)(idx), Keys: keys})
}

// UnmarshalJSON implements json.Unmarshaler.
func (idx *Index) UnmarshalJSON(data []byte) error {
	aux := indexJSON{indexFields: (*indexFields)(idx)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	idx.keys = roaring.New()
	if len(aux.Keys) > 0 {
		if err := idx.keys.UnmarshalBinary(aux.Keys); err != nil {
			return fmt.Errorf("demux: decode key frames: %w", err)
		}
	}
	if n := idx.keys.GetCardinality(); n > 0 && int(idx.keys.Maximum()) >= len(idx.Entries) {
		return fmt.Errorf("demux: key frame %d beyond %d entries", idx.keys.Maximum(), len(idx.Entries))
	}
	return nil
}
