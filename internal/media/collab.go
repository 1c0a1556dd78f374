package media

// DecodeFlag modifies a single Decoder.Decode call.
type DecodeFlag uint8

const (
	// FlagTimestamp marks the pts argument as valid.
	FlagTimestamp DecodeFlag = 1 << iota
	// FlagDiscontinuity tells the decoder the next packet does not follow the
	// previous one. Pictures still held for reordering are emitted.
	FlagDiscontinuity
	// FlagEndOfStream drains every picture the decoder still holds.
	FlagEndOfStream
)

// Demuxer supplies compressed packets in decode order together with the
// index table needed for random access.
type Demuxer interface {
	// Demux returns the next packet, or io.EOF once the source is exhausted.
	Demux() (Packet, error)
	// Seek positions the demuxer on the key frame at or before frameIndex.
	Seek(frameIndex int) error
	// NearestKeyFrameIndex returns the key frame at or before target, or
	// ErrInvalidIndex when target has no index entry.
	NearestKeyFrameIndex(target int) (int, error)
	StreamMetadata() StreamMetadata
	CacheKey() CacheKey
	IsSeekable() bool
	Close() error
}

// Decoder turns packets into pictures. Decode returns how many pictures
// became available; each is then fetched with GetFrame (floating) or
// GetLockedFrame (locked). Pictures not fetched before the next Decode are
// lost. UnlockFrame must be safe to call concurrently with Decode.
type Decoder interface {
	Decode(data []byte, flags DecodeFlag, pts int64) (int, error)
	GetFrame() (DecodedFrame, error)
	GetLockedFrame() (DecodedFrame, error)
	UnlockFrame(h FrameHandle)
	MaxWidth() int
	MaxHeight() int
	OutputFormat() PixelFormat
	// Reconfigure prepares the decoder for a new source of the given size,
	// dropping any held pictures. It fails when the size exceeds the
	// capacity the decoder was created with.
	Reconfigure(width, height int) error
	Close() error
}

// DecoderConfig sizes a new decoder.
type DecoderConfig struct {
	Key          CacheKey
	MaxWidth     int
	MaxHeight    int
	Surfaces     int
	ReorderDepth int
}

// DecoderFactory creates decoders for the session's decoder cache.
type DecoderFactory func(cfg DecoderConfig) (Decoder, error)
