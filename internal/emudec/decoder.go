// Package emudec emulates a hardware video decoder. It does no pixel work
// but reproduces the behaviour the seek engine depends on: pictures only
// come out once a sequence header has been seen, they are held in a reorder
// buffer and released in presentation order, a discontinuity or end of
// stream flushes that buffer, output frames are either locked until
// released or floating until the next decode call, and a decoder created
// for a maximum size refuses larger streams.
//
// Surfaces bounds the decode pool, the pictures still inside the decoder.
// Locked output frames live outside it and grow on demand.
package emudec

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/zsiec/vseek/internal/demux"
	"github.com/zsiec/vseek/internal/media"
)

var (
	ErrExceedsCapacity = errors.New("emudec: stream exceeds decoder capacity")
	ErrNoFrame         = errors.New("emudec: no frame available")
	ErrNoSurface       = errors.New("emudec: no free decode surface")
	ErrClosed          = errors.New("emudec: decoder closed")
)

// State is the decode state machine position.
type State int

const (
	// StateAwaitingSequence drops packets until one carries an SPS.
	StateAwaitingSequence State = iota
	// StateDecoding accepts packets.
	StateDecoding
	// StateAwaitingDisplay holds pictures the caller has not fetched yet.
	StateAwaitingDisplay
)

func (s State) String() string {
	switch s {
	case StateAwaitingSequence:
		return "awaiting-sequence"
	case StateDecoding:
		return "decoding"
	case StateAwaitingDisplay:
		return "awaiting-display"
	default:
		return "unknown"
	}
}

// done is closed: decoding is synchronous, so every picture is complete by
// the time it is handed out.
var done = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

type picture struct {
	pts    int64
	handle media.FrameHandle
}

// Stats counts decoder activity.
type Stats struct {
	Decoded  int64 // pictures accepted
	Output   int64 // pictures fetched by the caller
	Dropped  int64 // pictures never fetched
	Skipped  int64 // packets dropped before a sequence header
	Flushes  int64
	Reconfig int64
}

// Decoder implements media.Decoder.
type Decoder struct {
	cfg    media.DecoderConfig
	format media.PixelFormat
	log    *slog.Logger

	mu         sync.Mutex
	state      State
	width      int
	height     int
	reorder    []picture // ascending PTS
	ready      []picture
	locked     map[media.FrameHandle]struct{}
	nextHandle media.FrameHandle
	closed     bool
	stats      Stats
}

var _ media.Decoder = (*Decoder)(nil)

// New creates a decoder able to handle pictures up to cfg.MaxWidth x
// cfg.MaxHeight. Surfaces <= 0 means an unlimited decode pool. The reorder
// depth must be at least 1 so that B-frames come out in display order.
func New(cfg media.DecoderConfig, log *slog.Logger) (*Decoder, error) {
	if cfg.MaxWidth <= 0 || cfg.MaxHeight <= 0 {
		return nil, fmt.Errorf("emudec: invalid capacity %dx%d", cfg.MaxWidth, cfg.MaxHeight)
	}
	if cfg.Key.Codec == media.CodecUnknown {
		return nil, fmt.Errorf("emudec: unsupported codec %v", cfg.Key.Codec)
	}
	if cfg.ReorderDepth < 1 {
		return nil, fmt.Errorf("emudec: reorder depth must be at least 1, got %d", cfg.ReorderDepth)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{
		cfg:    cfg,
		format: cfg.Key.OutputFormat(),
		log:    log.With("component", "emudec", "key", cfg.Key.String()),
		locked: make(map[media.FrameHandle]struct{}),
	}, nil
}

// Factory returns a media.DecoderFactory building emulated decoders.
func Factory(log *slog.Logger) media.DecoderFactory {
	return func(cfg media.DecoderConfig) (media.Decoder, error) {
		return New(cfg, log)
	}
}

// Decode feeds one access unit. An empty data slice, FlagDiscontinuity or
// FlagEndOfStream flush the reorder buffer. It returns the number of
// pictures ready to fetch.
func (d *Decoder) Decode(data []byte, flags media.DecodeFlag, pts int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}

	if n := len(d.ready); n > 0 {
		d.stats.Dropped += int64(n)
		d.ready = d.ready[:0]
	}
	if d.state == StateAwaitingDisplay {
		d.state = StateDecoding
	}

	if len(data) == 0 || flags&(media.FlagDiscontinuity|media.FlagEndOfStream) != 0 {
		d.flush()
	}
	if len(data) > 0 {
		if err := d.decode(data, flags, pts); err != nil {
			return 0, err
		}
	}

	if len(d.ready) > 0 {
		d.state = StateAwaitingDisplay
	}
	return len(d.ready), nil
}

func (d *Decoder) decode(data []byte, flags media.DecodeFlag, pts int64) error {
	sps, found, err := demux.FindSPS(data, d.cfg.Key.Codec)
	if err != nil {
		return fmt.Errorf("emudec: %w", err)
	}
	if found {
		if sps.Width > d.cfg.MaxWidth || sps.Height > d.cfg.MaxHeight {
			return fmt.Errorf("%w: %dx%d > %dx%d", ErrExceedsCapacity,
				sps.Width, sps.Height, d.cfg.MaxWidth, d.cfg.MaxHeight)
		}
		if d.state == StateAwaitingSequence {
			d.log.Debug("sequence start", "width", sps.Width, "height", sps.Height)
		}
		d.width, d.height = sps.Width, sps.Height
		d.state = StateDecoding
	}
	if d.state == StateAwaitingSequence {
		d.stats.Skipped++
		return nil
	}

	if limit := d.cfg.Surfaces; limit > 0 && len(d.reorder) >= limit {
		return fmt.Errorf("%w: %d of %d in use", ErrNoSurface, len(d.reorder), limit)
	}
	if flags&media.FlagTimestamp == 0 {
		pts = 0
	}
	d.nextHandle++
	p := picture{pts: pts, handle: d.nextHandle}
	i, _ := slices.BinarySearchFunc(d.reorder, pts, func(q picture, t int64) int {
		if q.pts <= t {
			return -1
		}
		return 1
	})
	d.reorder = slices.Insert(d.reorder, i, p)
	d.stats.Decoded++

	for len(d.reorder) > d.cfg.ReorderDepth {
		d.ready = append(d.ready, d.reorder[0])
		d.reorder = d.reorder[1:]
	}
	return nil
}

func (d *Decoder) flush() {
	if len(d.reorder) == 0 {
		return
	}
	d.ready = append(d.ready, d.reorder...)
	d.reorder = d.reorder[:0]
	d.stats.Flushes++
}

// GetFrame returns the next ready picture as a floating frame.
func (d *Decoder) GetFrame() (media.DecodedFrame, error) {
	return d.next(false)
}

// GetLockedFrame returns the next ready picture locked until UnlockFrame.
func (d *Decoder) GetLockedFrame() (media.DecodedFrame, error) {
	return d.next(true)
}

func (d *Decoder) next(lock bool) (media.DecodedFrame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return media.DecodedFrame{}, ErrClosed
	}
	if len(d.ready) == 0 {
		return media.DecodedFrame{}, ErrNoFrame
	}
	p := d.ready[0]
	d.ready = d.ready[1:]
	if len(d.ready) == 0 {
		d.state = StateDecoding
	}
	if lock {
		d.locked[p.handle] = struct{}{}
	}
	d.stats.Output++
	return media.DecodedFrame{
		PTS:    p.pts,
		Handle: p.handle,
		Format: d.format,
		Width:  d.width,
		Height: d.height,
		Locked: lock,
		Done:   done,
	}, nil
}

// UnlockFrame releases a locked output frame. Unknown handles are ignored.
func (d *Decoder) UnlockFrame(h media.FrameHandle) {
	d.mu.Lock()
	delete(d.locked, h)
	d.mu.Unlock()
}

func (d *Decoder) MaxWidth() int  { return d.cfg.MaxWidth }
func (d *Decoder) MaxHeight() int { return d.cfg.MaxHeight }

func (d *Decoder) OutputFormat() media.PixelFormat { return d.format }

// Reconfigure prepares the decoder for a new source of width x height. Held
// pictures are dropped and the decoder waits for the next sequence header.
func (d *Decoder) Reconfigure(width, height int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if width > d.cfg.MaxWidth || height > d.cfg.MaxHeight {
		return fmt.Errorf("%w: %dx%d > %dx%d", ErrExceedsCapacity, width, height, d.cfg.MaxWidth, d.cfg.MaxHeight)
	}
	d.stats.Dropped += int64(len(d.reorder) + len(d.ready))
	d.reorder, d.ready = d.reorder[:0], d.ready[:0]
	d.width, d.height = width, height
	d.state = StateAwaitingSequence
	d.stats.Reconfig++
	d.log.Debug("reconfigured", "width", width, "height", height)
	return nil
}

func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.closed = true
	d.reorder, d.ready = nil, nil
	clear(d.locked)
	return nil
}

// State returns the current decode state.
func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LockedFrames returns how many output frames are locked by callers.
func (d *Decoder) LockedFrames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.locked)
}

// Stats returns a snapshot of the decoder counters.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Closed reports whether Close has been called.
func (d *Decoder) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
