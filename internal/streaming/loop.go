// Package streaming runs the push-mode decode loop: one goroutine demuxes,
// decodes and pushes locked pictures into a bounded frame channel while a
// single consumer pops them in batches.
//
// Shutdown is two-phase. End raises the stop flag, pops one slot so that a
// producer blocked on a full channel can observe it, joins the goroutine,
// unlocks whatever is still queued and finally rearms the channel for the
// next Start.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/zsiec/vseek/internal/framechan"
	"github.com/zsiec/vseek/internal/media"
)

var (
	ErrRunning    = errors.New("streaming: loop already running")
	ErrNotRunning = errors.New("streaming: loop not running")
)

// Stats counts loop activity.
type Stats struct {
	Packets  int64
	Pushed   int64
	Popped   int64
	Unlocked int64 // pictures released without reaching the consumer
}

// Loop owns the producer goroutine and the frame channel. Start, PopBatch
// and End must be called from one consumer goroutine.
type Loop struct {
	log *slog.Logger
	dmx media.Demuxer
	dec media.Decoder
	ch  *framechan.Channel[media.DecodedFrame]

	stop    atomic.Bool
	running atomic.Bool
	done    chan struct{}

	mu  sync.Mutex
	err error

	last []media.DecodedFrame

	packets  atomic.Int64
	pushed   atomic.Int64
	popped   atomic.Int64
	unlocked atomic.Int64
}

// New returns an idle loop buffering at most capacity pictures. A capacity
// below 1 is corrected to 1.
func New(dmx media.Demuxer, dec media.Decoder, capacity int, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		log: log.With("component", "streaming"),
		dmx: dmx,
		dec: dec,
		ch:  framechan.New[media.DecodedFrame](capacity),
	}
}

// Start launches the producer goroutine. Cancelling ctx stops it at the
// next packet boundary; End is still required to release queued frames.
func (l *Loop) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	l.mu.Lock()
	l.err = nil
	l.mu.Unlock()
	l.done = make(chan struct{})
	go l.run(ctx)
	return nil
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	defer l.ch.PushDone()

	consumed := false
	defer func() {
		if consumed {
			l.flush()
		}
	}()

	for !l.stop.Load() {
		if ctx.Err() != nil {
			l.log.Debug("context cancelled")
			return
		}
		pkt, err := l.dmx.Demux()
		switch {
		case errors.Is(err, io.EOF):
			pkt = media.Packet{}
		case err != nil:
			l.fail(fmt.Errorf("streaming: demux: %w", err))
			return
		}
		consumed = true
		l.packets.Add(1)

		flags := media.FlagTimestamp
		if pkt.Empty() {
			flags = media.FlagEndOfStream
		}
		n, err := l.dec.Decode(pkt.Data, flags, pkt.PTS)
		if err != nil {
			l.fail(fmt.Errorf("streaming: decode: %w", err))
			return
		}
		for range n {
			f, err := l.dec.GetLockedFrame()
			if err != nil {
				l.fail(fmt.Errorf("streaming: get frame: %w", err))
				return
			}
			if l.stop.Load() {
				l.dec.UnlockFrame(f.Handle)
				l.unlocked.Add(1)
				continue
			}
			l.ch.Push(f)
			l.pushed.Add(1)
		}
		if pkt.Empty() {
			l.log.Debug("end of stream", "packets", l.packets.Load(), "pushed", l.pushed.Load())
			return
		}
	}
}

// flush drains pictures still held by the decoder so that the next user
// starts clean.
func (l *Loop) flush() {
	n, err := l.dec.Decode(nil, media.FlagEndOfStream, 0)
	if err != nil {
		l.log.Warn("flush failed", "error", err)
		return
	}
	for range n {
		if _, err := l.dec.GetFrame(); err != nil {
			l.log.Warn("flush failed", "error", err)
			return
		}
	}
}

func (l *Loop) fail(err error) {
	l.log.Error("decode loop stopped", "error", err)
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// PopBatch unlocks the batch returned by the previous call and waits for n
// more pictures. Fewer are returned once the stream has ended, and an empty
// batch with a nil error means the loop is finished. n == 0 returns whatever
// is queued.
func (l *Loop) PopBatch(n int) ([]media.DecodedFrame, error) {
	if !l.running.Load() {
		return nil, ErrNotRunning
	}
	l.release(l.last)
	l.last = nil

	frames, err := l.ch.Pop(n)
	if err != nil {
		return nil, fmt.Errorf("streaming: %w", err)
	}
	l.popped.Add(int64(len(frames)))
	l.last = frames
	if len(frames) == 0 {
		return nil, l.Err()
	}
	return frames, nil
}

// End stops the producer and releases every picture it handed out. It is a
// no-op when the loop is not running.
func (l *Loop) End() error {
	if !l.running.Load() {
		return nil
	}
	l.stop.Store(true)

	// A producer blocked on a full channel needs one free slot to notice
	// the stop flag.
	unblocked, err := l.ch.Pop(1)
	if err != nil {
		return fmt.Errorf("streaming: %w", err)
	}
	<-l.done

	leftover, err := l.ch.Pop(0)
	if err != nil {
		return fmt.Errorf("streaming: %w", err)
	}
	l.release(l.last)
	l.release(unblocked)
	l.release(leftover)
	l.unlocked.Add(int64(len(unblocked) + len(leftover)))
	l.last = nil

	l.stop.Store(false)
	l.ch.Clear()
	l.running.Store(false)
	return l.Err()
}

func (l *Loop) release(frames []media.DecodedFrame) {
	for _, f := range frames {
		l.dec.UnlockFrame(f.Handle)
	}
}

// Err returns the error that stopped the producer, if any.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Running reports whether Start was called without a matching End.
func (l *Loop) Running() bool { return l.running.Load() }

// Buffered returns how many pictures wait in the channel.
func (l *Loop) Buffered() int { return l.ch.Len() }

// Capacity returns the channel capacity.
func (l *Loop) Capacity() int { return l.ch.Cap() }

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Packets:  l.packets.Load(),
		Pushed:   l.pushed.Load(),
		Popped:   l.popped.Load(),
		Unlocked: l.unlocked.Load(),
	}
}
