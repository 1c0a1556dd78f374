package demux

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/zsiec/vseek/internal/media"
	"github.com/zsiec/vseek/internal/mpegts"
)

// FileDemuxer serves the access units of an indexed stream. It implements
// media.Demuxer; reads go straight to the byte offsets recorded in the
// index, so seeking costs nothing beyond moving a cursor.
type FileDemuxer struct {
	r      io.ReaderAt
	closer io.Closer
	idx    *Index
	md     media.StreamMetadata
	log    *slog.Logger

	cursor int

	ptsOnce sync.Once
	sorted  []int64
}

// NewFileDemuxer wraps r, which must hold the stream idx was built from. If
// r is an io.Closer it is closed by Close.
func NewFileDemuxer(r io.ReaderAt, idx *Index, log *slog.Logger) *FileDemuxer {
	if log == nil {
		log = slog.Default()
	}
	d := &FileDemuxer{
		r:   r,
		idx: idx,
		md:  idx.Metadata(),
		log: log.With("component", "demuxer"),
	}
	if c, ok := r.(io.Closer); ok {
		d.closer = c
	}
	return d
}

// Index returns the index backing the demuxer.
func (d *FileDemuxer) Index() *Index { return d.idx }

// Demux returns the access unit at the cursor and advances it.
func (d *FileDemuxer) Demux() (media.Packet, error) {
	if d.cursor >= d.idx.Len() {
		return media.Packet{}, io.EOF
	}
	i := d.cursor
	e := d.idx.Entries[i]
	pes, err := mpegts.ReadPESAt(d.r, e.Pos, d.idx.VideoPID)
	if err != nil {
		return media.Packet{}, fmt.Errorf("demux: frame %d at %d: %w", i, e.Pos, err)
	}
	d.cursor++
	return media.Packet{
		Data:       pes.Data,
		PTS:        e.PTS,
		DTS:        e.DTS,
		Duration:   d.md.FrameDuration(),
		Pos:        e.Pos,
		IsKeyframe: d.idx.IsKeyFrame(i),
	}, nil
}

// Seek moves the cursor to the key frame at or before frameIndex. Seeking
// to zero always rewinds, even when the stream does not open on a key
// frame.
func (d *FileDemuxer) Seek(frameIndex int) error {
	k, err := d.idx.NearestKeyFrame(frameIndex)
	if err != nil {
		if frameIndex == 0 {
			d.cursor = 0
			return nil
		}
		return err
	}
	d.log.Debug("seek", "target", frameIndex, "keyFrame", k)
	d.cursor = k
	return nil
}

func (d *FileDemuxer) NearestKeyFrameIndex(target int) (int, error) {
	return d.idx.NearestKeyFrame(target)
}

func (d *FileDemuxer) StreamMetadata() media.StreamMetadata { return d.md }

func (d *FileDemuxer) CacheKey() media.CacheKey { return d.idx.CacheKey() }

// IsSeekable reports whether the stream has at least one key frame to seek
// to.
func (d *FileDemuxer) IsSeekable() bool { return d.idx.KeyFrames() > 0 }

// TimeToIndex maps a presentation time in seconds from the start of the
// stream to the index of the frame displayed at that time.
func (d *FileDemuxer) TimeToIndex(seconds float64) int {
	d.ptsOnce.Do(func() {
		d.sorted = make([]int64, d.idx.Len())
		for i, e := range d.idx.Entries {
			d.sorted[i] = e.PTS
		}
		slices.Sort(d.sorted)
	})
	if len(d.sorted) == 0 || seconds <= 0 {
		return 0
	}
	target := d.sorted[0] + int64(seconds*90000+0.5)
	i, found := slices.BinarySearch(d.sorted, target)
	if !found && i > 0 {
		i--
	}
	return min(i, len(d.sorted)-1)
}

func (d *FileDemuxer) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
