// Package session ties a source, a cache of decoder instances, a seeker and
// an optional streaming loop into one random-access decode session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/vseek/internal/deccache"
	"github.com/zsiec/vseek/internal/media"
	"github.com/zsiec/vseek/internal/seek"
	"github.com/zsiec/vseek/internal/streaming"
)

var (
	ErrNotSeekable = errors.New("session: source is not seekable")
	ErrStreaming   = errors.New("session: streaming in progress")
	ErrClosed      = errors.New("session: closed")
)

// Opener opens a source for demuxing.
type Opener func(ctx context.Context, source string) (media.Demuxer, error)

// Config sizes a session.
type Config struct {
	CacheCapacity  int
	BufferCapacity int
	SeekLookahead  int
	// MaxWidth and MaxHeight are the minimum capacity of new decoders, so
	// that a later, larger source can reuse them.
	MaxWidth     int
	MaxHeight    int
	Surfaces     int
	ReorderDepth int
	// WarmUp, when set, holds New until every session of the group is up.
	WarmUp *WarmUpGroup
}

// DefaultConfig returns the defaults used when fields are left zero.
// Surfaces stays zero, an unlimited decode pool.
func DefaultConfig() Config {
	return Config{
		CacheCapacity:  media.DefaultCacheCapacity,
		BufferCapacity: media.DefaultBufferCapacity,
		SeekLookahead:  media.DefaultSeekLookahead,
		ReorderDepth:   2,
	}
}

// Stats counts session activity.
type Stats struct {
	Reconfigures     int
	DecodersCreated  int
	DecodersReused   int
	DecodersReplaced int
	DecodersEvicted  int
	CachedDecoders   int
}

// Coordinator is one decode session. Pull mode (GetFrame, GetFrames,
// GetBatch, SeekToIndex) and push mode (StartStreaming, PopBatch,
// StopStreaming) exclude each other. Pull calls and accessors are
// serialized internally, but PopBatch and StopStreaming must come from the
// single goroutine consuming the stream.
//
// The decoder cache owns every decoder. The coordinator only remembers the
// key of the active one.
type Coordinator struct {
	id         uuid.UUID
	log        *slog.Logger
	cfg        Config
	open       Opener
	newDecoder media.DecoderFactory

	mu        sync.Mutex
	source    string
	dmx       media.Demuxer
	decoders  *deccache.Cache[media.CacheKey, media.Decoder]
	activeKey media.CacheKey
	seeker    *seek.Seeker
	loop      *streaming.Loop
	initTime  time.Duration
	closed    bool
	stats     Stats
}

// New opens source and prepares a decoder for it.
func New(ctx context.Context, source string, open Opener, factory media.DecoderFactory, cfg Config, log *slog.Logger) (*Coordinator, error) {
	if log == nil {
		log = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BufferCapacity < 1 {
		cfg.BufferCapacity = def.BufferCapacity
	}
	if cfg.SeekLookahead < 1 {
		cfg.SeekLookahead = def.SeekLookahead
	}
	if cfg.ReorderDepth < 1 {
		cfg.ReorderDepth = def.ReorderDepth
	}

	id := uuid.New()
	log = log.With("session", id.String())
	c := &Coordinator{
		id:         id,
		log:        log.With("component", "session"),
		cfg:        cfg,
		open:       open,
		newDecoder: factory,
		decoders:   deccache.New[media.CacheKey, media.Decoder](cfg.CacheCapacity, log),
	}

	start := time.Now()
	dmx, dec, err := c.attach(ctx, source)
	if err != nil {
		return nil, err
	}
	c.initTime = time.Since(start)
	c.source = source
	c.dmx = dmx
	c.seeker = seek.New(dmx, dec, cfg.SeekLookahead, log)
	c.log.Info("session opened", "source", source, "key", c.activeKey.String(),
		"lookahead", c.seeker.Lookahead(), "init", c.initTime)

	if cfg.WarmUp != nil {
		if err := cfg.WarmUp.Arrive(ctx, c.initTime); err != nil {
			return nil, errors.Join(err, c.Close())
		}
	}
	return c, nil
}

// attach opens source and selects a decoder for it. On failure the current
// source and decoder stay in place.
func (c *Coordinator) attach(ctx context.Context, source string) (media.Demuxer, media.Decoder, error) {
	dmx, err := c.open(ctx, source)
	if err != nil {
		return nil, nil, fmt.Errorf("session: open %s: %w", source, err)
	}
	dec, err := c.decoderFor(dmx.CacheKey(), dmx.StreamMetadata())
	if err != nil {
		dmx.Close()
		return nil, nil, err
	}
	return dmx, dec, nil
}

// decoderFor returns a decoder for key able to handle md, reusing the cached
// instance when it is large enough.
func (c *Coordinator) decoderFor(key media.CacheKey, md media.StreamMetadata) (media.Decoder, error) {
	if dec, ok := c.decoders.Get(key); ok {
		if md.Width <= dec.MaxWidth() && md.Height <= dec.MaxHeight() {
			if err := dec.Reconfigure(md.Width, md.Height); err != nil {
				return nil, fmt.Errorf("session: reconfigure decoder: %w", err)
			}
			c.activeKey = key
			c.stats.DecodersReused++
			c.log.Debug("reusing cached decoder", "key", key.String())
			return dec, nil
		}
		larger, err := c.create(key, max(md.Width, dec.MaxWidth()), max(md.Height, dec.MaxHeight()))
		if err != nil {
			return nil, err
		}
		c.decoders.Put(key, larger)
		c.activeKey = key
		c.stats.DecodersReplaced++
		c.log.Debug("replaced cached decoder with a larger one", "key", key.String(),
			"max_width", larger.MaxWidth(), "max_height", larger.MaxHeight())
		if err := dec.Close(); err != nil {
			c.log.Warn("closing replaced decoder", "error", err)
		}
		return larger, nil
	}

	dec, err := c.create(key, max(md.Width, c.cfg.MaxWidth), max(md.Height, c.cfg.MaxHeight))
	if err != nil {
		return nil, err
	}
	if evicted, ok := c.decoders.Put(key, dec); ok {
		c.stats.DecodersEvicted++
		c.log.Debug("evicted least recently used decoder")
		if err := evicted.Close(); err != nil {
			c.log.Warn("closing evicted decoder", "error", err)
		}
	}
	c.activeKey = key
	return dec, nil
}

func (c *Coordinator) create(key media.CacheKey, width, height int) (media.Decoder, error) {
	dec, err := c.newDecoder(media.DecoderConfig{
		Key:          key,
		MaxWidth:     width,
		MaxHeight:    height,
		Surfaces:     c.cfg.Surfaces,
		ReorderDepth: c.cfg.ReorderDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("session: create decoder %s: %w", key, err)
	}
	c.stats.DecodersCreated++
	return dec, nil
}

// decoder returns the active decoder without touching its recency.
func (c *Coordinator) decoder() media.Decoder {
	dec, _ := c.decoders.Peek(c.activeKey)
	return dec
}

// Reconfigure switches the session to a new source, reusing a cached
// decoder when the stream parameters allow it.
func (c *Coordinator) Reconfigure(ctx context.Context, source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.reconfigure(ctx, source)
}

func (c *Coordinator) reconfigure(ctx context.Context, source string) error {
	var errs []error
	if err := c.stopStreaming(); err != nil {
		errs = append(errs, err)
	}
	if err := c.seeker.ClearState(true); err != nil {
		errs = append(errs, err)
	}

	start := time.Now()
	prevKey := c.activeKey
	dmx, dec, err := c.attach(ctx, source)
	if err != nil {
		c.activeKey = prevKey
		return errors.Join(append(errs, err)...)
	}
	if err := c.dmx.Close(); err != nil {
		c.log.Warn("closing previous source", "error", err)
	}
	c.dmx = dmx
	c.source = source
	c.seeker.Reset(dmx, dec)
	c.initTime = time.Since(start)
	c.stats.Reconfigures++
	c.log.Info("reconfigured", "source", source, "key", c.activeKey.String())
	if len(errs) > 0 {
		c.log.Warn("previous source did not shut down cleanly", "error", errors.Join(errs...))
	}
	return nil
}

// rewindIfBackwards reopens the current source when target lies at or
// before the last resolved index.
func (c *Coordinator) rewindIfBackwards(ctx context.Context, target int) error {
	if !c.seeker.IsSeekBackwards(target) {
		return nil
	}
	c.log.Debug("backward seek, reconfiguring", "target", target, "prev", c.seeker.Previous())
	return c.reconfigure(ctx, c.source)
}

func (c *Coordinator) pullReady() error {
	switch {
	case c.closed:
		return ErrClosed
	case c.loop != nil && c.loop.Running():
		return ErrStreaming
	case !c.dmx.IsSeekable():
		return ErrNotSeekable
	}
	return nil
}

// GetFrame returns the picture at index. It fails with media.ErrInvalidIndex
// when the index has no entry and io.EOF when the stream ends first.
func (c *Coordinator) GetFrame(ctx context.Context, index int) (media.DecodedFrame, error) {
	res, err := c.GetFrames(ctx, []int{index})
	if err != nil {
		return media.DecodedFrame{}, err
	}
	if len(res.Frames) == 0 {
		if len(res.Skipped) > 0 {
			return media.DecodedFrame{}, fmt.Errorf("session: frame %d: %w", index, media.ErrInvalidIndex)
		}
		return media.DecodedFrame{}, io.EOF
	}
	return res.Frames[0], nil
}

// GetFrames returns the pictures of indices in the order given. The frames
// stay locked until the next pull call.
func (c *Coordinator) GetFrames(ctx context.Context, indices []int) (seek.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.pullReady(); err != nil {
		return seek.Result{}, err
	}
	if len(indices) > 0 {
		if err := c.rewindIfBackwards(ctx, slices.Min(indices)); err != nil {
			return seek.Result{}, err
		}
	}
	res, err := c.seeker.Resolve(indices)
	if err != nil {
		return res, fmt.Errorf("session: %w", err)
	}
	return res, nil
}

// GetBatch returns the next n pictures after the last resolved index.
func (c *Coordinator) GetBatch(n int) (seek.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.pullReady(); err != nil {
		return seek.Result{}, err
	}
	res, err := c.seeker.ResolveNextBatch(n)
	if err != nil {
		return res, fmt.Errorf("session: %w", err)
	}
	return res, nil
}

// SeekToIndex makes the next GetBatch start at index.
func (c *Coordinator) SeekToIndex(ctx context.Context, index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.pullReady(); err != nil {
		return err
	}
	if n := c.dmx.StreamMetadata().NumFrames; index < 0 || (n > 0 && index >= n) {
		return fmt.Errorf("session: seek to %d of %d frames: %w", index, n, media.ErrInvalidIndex)
	}
	if err := c.rewindIfBackwards(ctx, index); err != nil {
		return err
	}
	c.seeker.SeekToIndex(index)
	return nil
}

// StartStreaming rewinds the source and starts the background decode loop.
func (c *Coordinator) StartStreaming(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.loop != nil && c.loop.Running() {
		return ErrStreaming
	}
	// Pull mode may have left pictures in the decoder's reorder buffer.
	if err := c.seeker.ClearState(true); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	c.loop = streaming.New(c.dmx, c.decoder(), c.cfg.BufferCapacity, c.log)
	return c.loop.Start(ctx)
}

// PopBatch returns the next n streamed pictures, unlocking the previous
// batch. An empty batch means the stream ended.
func (c *Coordinator) PopBatch(n int) ([]media.DecodedFrame, error) {
	c.mu.Lock()
	loop := c.loop
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if loop == nil {
		return nil, streaming.ErrNotRunning
	}
	return loop.PopBatch(n)
}

// StopStreaming ends the decode loop and rewinds the source for pull mode.
func (c *Coordinator) StopStreaming() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.stopStreaming()
}

func (c *Coordinator) stopStreaming() error {
	if c.loop == nil || !c.loop.Running() {
		return nil
	}
	err := c.loop.End()
	if cerr := c.seeker.ClearState(false); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

// StreamMetadata describes the current source.
func (c *Coordinator) StreamMetadata() media.StreamMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dmx.StreamMetadata()
}

type timeIndexer interface {
	TimeToIndex(seconds float64) int
}

// IndexFromTime returns the index of the frame shown at seconds. Demuxers
// with a timestamp table answer exactly; others are estimated from the frame
// rate.
func (c *Coordinator) IndexFromTime(seconds float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ti, ok := c.dmx.(timeIndexer); ok {
		return ti.TimeToIndex(seconds)
	}
	return c.seeker.IndexFromTime(seconds)
}

// SessionInitTime returns how long opening the current source took.
func (c *Coordinator) SessionInitTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initTime
}

// ID identifies the session in logs.
func (c *Coordinator) ID() uuid.UUID { return c.id }

// Source returns the current source name.
func (c *Coordinator) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Stats returns a snapshot of the session counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.CachedDecoders = c.decoders.Len()
	return st
}

// Close stops streaming, releases every frame and closes the source and all
// cached decoders. Each decoder is closed exactly once.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if err := c.stopStreaming(); err != nil {
		errs = append(errs, err)
	}
	if c.seeker != nil {
		if err := c.seeker.ClearState(false); err != nil {
			errs = append(errs, err)
		}
	}
	if c.dmx != nil {
		if err := c.dmx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close source: %w", err))
		}
	}
	for {
		dec, ok := c.decoders.RemoveOne()
		if !ok {
			break
		}
		if err := dec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session: close decoder: %w", err))
		}
	}
	c.log.Info("session closed", "source", c.source)
	return errors.Join(errs...)
}
