package synth

import (
	"fmt"
	"io"

	"github.com/zsiec/vseek/internal/media"
	"github.com/zsiec/vseek/internal/mpegts"
)

// PIDs used by WriteTS.
const (
	PMTPID   = 0x1000
	VideoPID = 0x100
	AudioPID = 0x101
)

// WriteTS muxes s into an MPEG transport stream with one program holding the
// video and a silent AAC track. PAT and PMT are repeated before every key
// frame. It returns the byte offset of every video access unit in decode
// order.
func WriteTS(w io.Writer, s Stream) ([]int64, error) {
	tw := mpegts.NewWriter(w)
	videoType := mpegts.StreamTypeH264
	if s.Codec == media.CodecH265 {
		videoType = mpegts.StreamTypeH265
	}
	pmt := mpegts.PMT{
		ProgramNumber: 1,
		PCRPID:        VideoPID,
		Streams: []mpegts.ElementaryStream{
			{PID: VideoPID, Type: videoType},
			{PID: AudioPID, Type: mpegts.StreamTypeAAC},
		},
	}

	silence := []byte{0xFF, 0xF1, 0x50, 0x80, 0x01, 0x7F, 0xFC, 0x21}
	pkts := s.Packets()
	offsets := make([]int64, 0, len(pkts))
	for _, p := range pkts {
		if p.IsKeyframe {
			if err := tw.WritePAT(1, PMTPID); err != nil {
				return nil, err
			}
			if err := tw.WritePMT(PMTPID, pmt); err != nil {
				return nil, err
			}
		}
		pos, err := tw.WritePES(VideoPID, 0xE0, p.PTS, p.DTS, p.Data, p.IsKeyframe)
		if err != nil {
			return nil, fmt.Errorf("synth: video: %w", err)
		}
		offsets = append(offsets, pos)
		if _, err := tw.WritePES(AudioPID, 0xC0, p.DTS, p.DTS, silence, false); err != nil {
			return nil, fmt.Errorf("synth: audio: %w", err)
		}
	}
	return offsets, nil
}
