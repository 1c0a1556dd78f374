// Package seek maps frame indices onto a GOP-structured stream. A Seeker
// decides per target whether a physical seek to the enclosing key frame is
// cheaper than decoding forward, keeps the pictures decoded past the last
// target so that they can be served later without touching the decoder, and
// manages the lock on every picture it hands out.
package seek

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/zsiec/vseek/internal/media"
)

// Result is the outcome of one Resolve call. Frames[i] is the picture of
// Indices[i]; indices that could not be resolved are listed in Skipped.
// A short result without Skipped entries means the stream ended.
type Result struct {
	Frames  []media.DecodedFrame
	Indices []int
	Skipped []int
}

// Stats counts seeker activity.
type Stats struct {
	Seeks     int64 // physical demuxer seeks
	Decoded   int64 // pictures returned by the decoder
	Discarded int64 // duplicate or pre-key pictures
	Pending   int64 // targets served from the pending queue
}

// Seeker resolves frame indices against a demuxer and decoder pair. It is
// not safe for concurrent use.
//
// Frames returned by Resolve are locked and remain valid until the next
// Resolve, ClearState or Reset.
type Seeker struct {
	log       *slog.Logger
	dmx       media.Demuxer
	dec       media.Decoder
	lookahead int

	prev           int // last resolved target, -1 when none
	framesDecoded  int // frame index following the last decoded picture
	discontinuity  bool
	targetPTS      int64
	seen           map[int64]struct{}
	eos            bool
	backwards      bool
	seekToIndexSet bool

	pending []media.DecodedFrame // pictures decoded past the last target
	targets []media.DecodedFrame // pictures returned by the last Resolve
	holds   map[media.FrameHandle]int

	seeks     atomic.Int64
	decoded   atomic.Int64
	discarded atomic.Int64
	served    atomic.Int64
}

// New returns a Seeker over dmx and dec. A lookahead below 1 uses
// media.DefaultSeekLookahead.
func New(dmx media.Demuxer, dec media.Decoder, lookahead int, log *slog.Logger) *Seeker {
	if lookahead < 1 {
		lookahead = media.DefaultSeekLookahead
	}
	if log == nil {
		log = slog.Default()
	}
	return &Seeker{
		log:       log.With("component", "seeker"),
		dmx:       dmx,
		dec:       dec,
		lookahead: lookahead,
		prev:      -1,
		seen:      make(map[int64]struct{}),
		holds:     make(map[media.FrameHandle]int),
	}
}

// Lookahead returns the forward distance, in frames, below which decoding
// through a GOP boundary is preferred over seeking.
func (s *Seeker) Lookahead() int { return s.lookahead }

// ShouldSeek reports whether reaching target from prev needs a physical
// seek. It fails with media.ErrInvalidIndex when either index has no key
// frame.
func (s *Seeker) ShouldSeek(prev, target int) (bool, error) {
	key, err := s.dmx.NearestKeyFrameIndex(target)
	if err != nil {
		return false, err
	}
	if prev == -1 {
		return true, nil
	}
	prevKey, err := s.dmx.NearestKeyFrameIndex(prev)
	if err != nil {
		return false, err
	}
	if prevKey == key {
		return false, nil
	}
	return key-prev >= s.lookahead, nil
}

// Resolve decodes the pictures of indices, in order. Indices without an
// index entry are skipped; collaborator errors abort the batch and are
// returned together with the frames resolved so far.
func (s *Seeker) Resolve(indices []int) (Result, error) {
	s.releaseAll(s.targets)
	s.targets = s.targets[:0]

	var res Result
	for _, target := range indices {
		f, ok, err := s.resolve(target)
		if errors.Is(err, media.ErrInvalidIndex) {
			s.log.Warn("skipping frame without index entry", "index", target, "error", err)
			res.Skipped = append(res.Skipped, target)
			continue
		}
		if err != nil {
			return res, err
		}
		if !ok {
			continue
		}
		s.targets = append(s.targets, f)
		res.Frames = append(res.Frames, f)
		res.Indices = append(res.Indices, target)
		s.prev = target
	}
	return res, nil
}

func (s *Seeker) resolve(target int) (media.DecodedFrame, bool, error) {
	seek, err := s.ShouldSeek(s.prev, target)
	if err != nil {
		return media.DecodedFrame{}, false, err
	}
	if !seek && target < s.framesDecoded {
		if f, ok := s.fromPending(target); ok {
			return f, true, nil
		}
		seek = true
	}
	// prev may have been moved by SeekToIndex without the decoder following.
	if !seek && target >= s.framesDecoded {
		key, err := s.dmx.NearestKeyFrameIndex(target)
		if err != nil {
			return media.DecodedFrame{}, false, err
		}
		seek = key-s.framesDecoded >= s.lookahead
	}
	if seek {
		if err := s.seek(target); err != nil {
			return media.DecodedFrame{}, false, err
		}
	} else {
		s.discontinuity = false
	}
	if target >= s.framesDecoded {
		s.releaseAll(s.pending)
		s.pending = s.pending[:0]
	}
	return s.decodeUntil(target)
}

// fromPending serves target from the pictures retained past the last
// target. The pending window covers [framesDecoded-len(pending), framesDecoded).
func (s *Seeker) fromPending(target int) (media.DecodedFrame, bool) {
	i := len(s.pending) - (s.framesDecoded - target)
	if i < 0 || i >= len(s.pending) {
		return media.DecodedFrame{}, false
	}
	f := s.pending[i]
	s.hold(f)
	s.served.Add(1)
	return f, true
}

func (s *Seeker) seek(target int) error {
	key, err := s.dmx.NearestKeyFrameIndex(target)
	if err != nil {
		return err
	}
	if err := s.dmx.Seek(target); err != nil {
		return fmt.Errorf("seek: demuxer seek to %d: %w", target, err)
	}
	s.seeks.Add(1)
	s.log.Debug("seek", "target", target, "key", key, "prev", s.prev)
	s.framesDecoded = key
	s.discontinuity = true
	s.releaseAll(s.pending)
	s.pending = s.pending[:0]
	clear(s.seen)
	return nil
}

// decodeUntil demuxes and decodes until the picture of target comes out or
// the stream ends.
func (s *Seeker) decodeUntil(target int) (media.DecodedFrame, bool, error) {
	remaining := target - s.framesDecoded
	for {
		pkt, err := s.dmx.Demux()
		switch {
		case errors.Is(err, io.EOF):
			pkt = media.Packet{}
		case err != nil:
			return media.DecodedFrame{}, false, fmt.Errorf("seek: demux: %w", err)
		}

		if s.discontinuity {
			if pkt.IsKeyframe {
				s.targetPTS = pkt.PTS
			}
			if err := s.flush(media.FlagDiscontinuity); err != nil {
				return media.DecodedFrame{}, false, err
			}
			s.releaseAll(s.pending)
			s.pending = s.pending[:0]
			s.discontinuity = false
		}

		flags := media.FlagTimestamp
		if pkt.Empty() {
			flags = media.FlagEndOfStream
			s.eos = true
		}
		n, err := s.dec.Decode(pkt.Data, flags, pkt.PTS)
		if err != nil {
			return media.DecodedFrame{}, false, fmt.Errorf("seek: decode: %w", err)
		}
		s.decoded.Add(int64(n))

		var (
			found media.DecodedFrame
			ok    bool
		)
		for range n {
			f, err := s.dec.GetLockedFrame()
			if err != nil {
				return media.DecodedFrame{}, false, fmt.Errorf("seek: get frame: %w", err)
			}
			if !s.accept(f) {
				s.dec.UnlockFrame(f.Handle)
				s.discarded.Add(1)
				continue
			}
			s.framesDecoded++
			switch {
			case ok:
				s.pending = append(s.pending, f)
				s.hold(f)
			case remaining == 0:
				found, ok = f, true
				s.hold(f)
			default:
				s.dec.UnlockFrame(f.Handle)
				remaining--
			}
		}
		if ok {
			return found, true, nil
		}
		if pkt.Empty() {
			s.log.Debug("end of stream before target", "target", target, "decoded", s.framesDecoded)
			return media.DecodedFrame{}, false, nil
		}
	}
}

// accept filters out pictures already seen since the last seek and
// pictures preceding the key frame the decoder was positioned on.
func (s *Seeker) accept(f media.DecodedFrame) bool {
	if _, dup := s.seen[f.PTS]; dup {
		return false
	}
	s.seen[f.PTS] = struct{}{}
	return f.PTS >= s.targetPTS
}

// flush pushes an empty packet with flags through the decoder and drops
// its output as floating frames.
func (s *Seeker) flush(flags media.DecodeFlag) error {
	n, err := s.dec.Decode(nil, flags, 0)
	if err != nil {
		return fmt.Errorf("seek: flush: %w", err)
	}
	for range n {
		if _, err := s.dec.GetFrame(); err != nil {
			return fmt.Errorf("seek: flush: %w", err)
		}
	}
	return nil
}

func (s *Seeker) hold(f media.DecodedFrame) {
	s.holds[f.Handle]++
}

func (s *Seeker) releaseAll(frames []media.DecodedFrame) {
	for _, f := range frames {
		n, ok := s.holds[f.Handle]
		if !ok {
			continue
		}
		if n > 1 {
			s.holds[f.Handle] = n - 1
			continue
		}
		delete(s.holds, f.Handle)
		s.dec.UnlockFrame(f.Handle)
	}
}

// ResolveNextBatch resolves the n indices following the last target, or
// starting at the index set by SeekToIndex. Indices outside the stream are
// dropped.
func (s *Seeker) ResolveNextBatch(n int) (Result, error) {
	start := s.prev + 1
	if s.seekToIndexSet {
		start = s.prev
		s.seekToIndexSet = false
	}
	numFrames := s.dmx.StreamMetadata().NumFrames
	indices := make([]int, 0, max(n, 0))
	for i := start; i < start+n; i++ {
		if i < 0 || i >= numFrames {
			s.log.Warn("index out of range", "index", i, "frames", numFrames)
			continue
		}
		indices = append(indices, i)
	}
	return s.Resolve(indices)
}

// SeekToIndex makes the next ResolveNextBatch start at index.
func (s *Seeker) SeekToIndex(index int) {
	s.prev = index
	s.seekToIndexSet = true
}

// IsSeekBackwards reports whether target lies at or before the last
// resolved target.
func (s *Seeker) IsSeekBackwards(target int) bool {
	s.backwards = s.prev != -1 && target <= s.prev
	return s.backwards
}

// ClearState unlocks every retained picture, forgets the seek history and
// rewinds the demuxer. When the stream had ended, or forceEOS is set, the
// decoder is drained with an end of stream packet.
func (s *Seeker) ClearState(forceEOS bool) error {
	s.releaseAll(s.targets)
	s.releaseAll(s.pending)
	s.targets, s.pending = s.targets[:0], s.pending[:0]
	clear(s.holds)
	clear(s.seen)
	s.prev = -1
	s.framesDecoded = 0
	s.targetPTS = 0
	s.discontinuity = false
	s.seekToIndexSet = false

	var errs []error
	if err := s.dmx.Seek(0); err != nil {
		errs = append(errs, fmt.Errorf("seek: rewind: %w", err))
	}
	if s.eos || forceEOS {
		if err := s.flush(media.FlagEndOfStream); err != nil {
			errs = append(errs, err)
		}
		s.eos = false
	}
	return errors.Join(errs...)
}

// Reset points the seeker at a new demuxer and decoder pair. Callers run
// ClearState on the old pair first.
func (s *Seeker) Reset(dmx media.Demuxer, dec media.Decoder) {
	s.dmx, s.dec = dmx, dec
	s.targets, s.pending = s.targets[:0], s.pending[:0]
	clear(s.holds)
	clear(s.seen)
	s.prev = -1
	s.framesDecoded = 0
	s.targetPTS = 0
	s.discontinuity = false
	s.seekToIndexSet = false
	s.eos = false
}

// IndexFromTime converts a presentation time in seconds to a frame index
// using the stream frame rate.
func (s *Seeker) IndexFromTime(seconds float64) int {
	md := s.dmx.StreamMetadata()
	if md.FPS <= 0 || seconds <= 0 {
		return 0
	}
	return int(math.Floor(seconds*md.FPS + 1e-9))
}

// PendingFrames returns the pictures retained past the last target.
func (s *Seeker) PendingFrames() []media.DecodedFrame {
	return append([]media.DecodedFrame(nil), s.pending...)
}

// EOSReached reports whether the demuxer ran out of packets.
func (s *Seeker) EOSReached() bool { return s.eos }

// Previous returns the last resolved target, or -1.
func (s *Seeker) Previous() int { return s.prev }

// HeldFrames returns how many distinct pictures the seeker keeps locked.
func (s *Seeker) HeldFrames() int { return len(s.holds) }

// Stats returns a snapshot of the seeker counters.
func (s *Seeker) Stats() Stats {
	return Stats{
		Seeks:     s.seeks.Load(),
		Decoded:   s.decoded.Load(),
		Discarded: s.discarded.Load(),
		Pending:   s.served.Load(),
	}
}
