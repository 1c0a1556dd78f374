package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/vseek/internal/media"
	"github.com/zsiec/vseek/internal/mpegts"
)

// ErrNoVideo is returned when a stream carries no H.264 or H.265 access
// units.
var ErrNoVideo = errors.New("demux: no video stream")

// Scan reads r to the end and indexes the first video stream of the first
// program that declares one.
func Scan(ctx context.Context, r io.Reader, log *slog.Logger) (*Index, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "scan")

	tr := mpegts.NewReader(ctx, r)
	var (
		idx     *Index
		haveSPS bool
	)
	for {
		u, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("demux: scan: %w", err)
		}

		if u.PMT != nil && idx == nil {
			for _, es := range u.PMT.Streams {
				codec := codecFor(es.Type)
				if codec == media.CodecUnknown {
					continue
				}
				idx = NewIndex(es.PID, codec)
				log.Info("found video PID", "pid", es.PID, "codec", codec)
				break
			}
			continue
		}
		if idx == nil || u.PES == nil || u.PID != idx.VideoPID || len(u.PES.Data) == 0 {
			continue
		}

		key := false
		for _, nal := range splitAnnexB(u.PES.Data, idx.Codec) {
			if isRandomAccess(nal.typ, idx.Codec) {
				key = true
			}
			if !haveSPS && isSPS(nal.typ, idx.Codec) {
				sps, err := ParseSPS(nal.data, idx.Codec)
				if err != nil {
					log.Warn("unparseable SPS", "pos", u.Pos, "error", err)
					continue
				}
				idx.Width, idx.Height = sps.Width, sps.Height
				idx.BitDepth, idx.Chroma = sps.BitDepth, sps.Chroma
				haveSPS = true
				log.Debug("parsed SPS", "width", sps.Width, "height", sps.Height,
					"bitDepth", sps.BitDepth, "chroma", sps.Chroma)
			}
		}

		e := Entry{Pos: u.Pos, PTS: u.PES.PTS, DTS: u.PES.DTS}
		if !u.PES.HasPTS && idx.Len() > 0 {
			prev := idx.Entries[idx.Len()-1]
			e.PTS, e.DTS = prev.PTS, prev.DTS
		}
		idx.Append(e, key)
	}

	if idx == nil || idx.Len() == 0 {
		return nil, ErrNoVideo
	}
	if !haveSPS {
		log.Warn("no SPS found, assuming 8-bit 4:2:0")
		idx.BitDepth, idx.Chroma = 8, media.Chroma420
	}
	idx.Size = tr.Offset()
	log.Info("indexed stream", "frames", idx.Len(), "keyFrames", idx.KeyFrames(),
		"width", idx.Width, "height", idx.Height)
	return idx, nil
}

func codecFor(t mpegts.StreamType) media.Codec {
	switch t {
	case mpegts.StreamTypeH264:
		return media.CodecH264
	case mpegts.StreamTypeH265:
		return media.CodecH265
	default:
		return media.CodecUnknown
	}
}
