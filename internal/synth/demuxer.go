package synth

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/zsiec/vseek/internal/media"
)

// ErrClosed is returned by a closed Demuxer.
var ErrClosed = errors.New("synth: demuxer closed")

// Demuxer serves a Stream from memory and counts how it is driven.
type Demuxer struct {
	stream  Stream
	packets []media.Packet
	keys    []int // decode positions of key frames, ascending

	// Holes lists frame indices reported as missing from the index table.
	Holes map[int]bool
	// EOFAfter truncates the stream after that many packets when positive.
	EOFAfter int
	// Unseekable makes IsSeekable report false.
	Unseekable bool
	// DemuxErr, when set, is returned by Demux instead of a packet.
	DemuxErr error

	mu     sync.Mutex
	cursor int
	closed bool

	seeks   atomic.Int64
	demuxed atomic.Int64
}

// NewDemuxer returns a demuxer positioned at the start of s.
func NewDemuxer(s Stream) *Demuxer {
	d := &Demuxer{stream: s, packets: s.Packets(), Holes: map[int]bool{}}
	for i, p := range d.packets {
		if p.IsKeyframe {
			d.keys = append(d.keys, i)
		}
	}
	return d
}

// Stream returns the generated stream description.
func (d *Demuxer) Stream() Stream { return d.stream }

func (d *Demuxer) Demux() (media.Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return media.Packet{}, ErrClosed
	}
	if d.DemuxErr != nil {
		return media.Packet{}, d.DemuxErr
	}
	end := len(d.packets)
	if d.EOFAfter > 0 {
		end = min(end, d.EOFAfter)
	}
	if d.cursor >= end {
		return media.Packet{}, io.EOF
	}
	p := d.packets[d.cursor]
	d.cursor++
	d.demuxed.Add(1)
	return p, nil
}

func (d *Demuxer) Seek(frameIndex int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seeks.Add(1)
	if frameIndex == 0 {
		d.cursor = 0
		return nil
	}
	k, err := d.nearestKey(frameIndex)
	if err != nil {
		return err
	}
	d.cursor = k
	return nil
}

func (d *Demuxer) NearestKeyFrameIndex(target int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nearestKey(target)
}

func (d *Demuxer) nearestKey(target int) (int, error) {
	if target < 0 || target >= len(d.packets) || d.Holes[target] {
		return 0, fmt.Errorf("%w: %d", media.ErrInvalidIndex, target)
	}
	k := -1
	for _, pos := range d.keys {
		if pos > target {
			break
		}
		k = pos
	}
	if k < 0 {
		return 0, fmt.Errorf("%w: %d precedes the first key frame", media.ErrInvalidIndex, target)
	}
	return k, nil
}

func (d *Demuxer) StreamMetadata() media.StreamMetadata { return d.stream.Metadata() }

func (d *Demuxer) CacheKey() media.CacheKey { return d.stream.CacheKey() }

func (d *Demuxer) IsSeekable() bool { return !d.Unseekable && len(d.keys) > 0 }

func (d *Demuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Seeks returns how many times Seek was called.
func (d *Demuxer) Seeks() int { return int(d.seeks.Load()) }

// Demuxed returns how many packets have been handed out.
func (d *Demuxer) Demuxed() int { return int(d.demuxed.Load()) }

// Closed reports whether Close was called.
func (d *Demuxer) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// ResetCounters zeroes the Seek and Demux counters.
func (d *Demuxer) ResetCounters() {
	d.seeks.Store(0)
	d.demuxed.Store(0)
}
