package mpegts

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNoUnitStart is returned by ReadPESAt when the packet at the requested
// offset does not start a unit on the requested PID.
var ErrNoUnitStart = errors.New("mpegts: no unit start at offset")

// Reader walks a transport stream sequentially and returns its PAT, PMT and
// PES units in stream order.
type Reader struct {
	ctx   context.Context
	r     io.Reader
	buf   []byte
	pos   int64
	pool  *pool
	pmt   pidSet
	queue []*Unit
	eof   bool
}

// NewReader returns a Reader consuming r from its current position, which
// is taken to be offset zero.
func NewReader(ctx context.Context, r io.Reader) *Reader {
	pmt := pidSet{}
	return &Reader{
		ctx:  ctx,
		r:    r,
		buf:  make([]byte, PacketSize),
		pool: newPool(pmt),
		pmt:  pmt,
	}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int64 { return r.pos }

// Next returns the next unit, or io.EOF once the stream and every partially
// buffered unit have been consumed. Corrupt packets and sections are
// skipped.
func (r *Reader) Next() (*Unit, error) {
	for {
		if len(r.queue) > 0 {
			u := r.queue[0]
			r.queue = r.queue[1:]
			return u, nil
		}
		if r.eof {
			return nil, io.EOF
		}
		if err := r.ctx.Err(); err != nil {
			return nil, err
		}

		pos := r.pos
		if _, err := io.ReadFull(r.r, r.buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				r.eof = true
				for _, packets := range r.pool.dump() {
					r.enqueue(packets)
				}
				continue
			}
			return nil, fmt.Errorf("mpegts: read at %d: %w", pos, err)
		}
		r.pos += PacketSize

		pkt, err := parsePacket(r.buf, pos)
		if err != nil {
			continue
		}
		if done := r.pool.add(pkt); done != nil {
			r.enqueue(done)
		}
	}
}

func (r *Reader) enqueue(packets []*Packet) {
	units, err := r.parse(packets)
	if err != nil {
		return
	}
	for _, u := range units {
		if u.PAT != nil {
			for _, p := range u.PAT.Programs {
				r.pmt[p.PMTPID] = struct{}{}
			}
		}
	}
	r.queue = append(r.queue, units...)
}

func (r *Reader) parse(packets []*Packet) ([]*Unit, error) {
	first := packets[0]
	pid := first.Header.PID
	payload := joinPayloads(packets)
	if len(payload) == 0 {
		return nil, nil
	}
	if r.pmt.isPSI(pid) {
		return parsePSI(payload, pid, first.Pos)
	}
	if !isPESPayload(payload) {
		return nil, nil
	}
	pes, err := parsePES(payload)
	if err != nil {
		return nil, err
	}
	return []*Unit{{PID: pid, Pos: first.Pos, PES: pes}}, nil
}

// readChunk is how many transport packets ReadPESAt fetches per read.
const readChunk = 64

// ReadPESAt reassembles the PES packet on pid whose first transport packet
// starts at pos. Packets of other PIDs are skipped; the unit ends at the
// next unit start on pid or at the end of the stream.
func ReadPESAt(r io.ReaderAt, pos int64, pid uint16) (*PES, error) {
	buf := make([]byte, readChunk*PacketSize)
	var payload []byte
	started := false
	var lastCC uint8

	for off := pos; ; {
		n, err := r.ReadAt(buf, off)
		n -= n % PacketSize
		for i := 0; i < n; i += PacketSize {
			pkt, perr := parsePacket(buf[i:i+PacketSize], off+int64(i))
			if perr != nil {
				if !started {
					return nil, perr
				}
				continue
			}
			h := pkt.Header
			if h.PID != pid {
				if !started {
					return nil, fmt.Errorf("%w %d: pid 0x%X", ErrNoUnitStart, pos, h.PID)
				}
				continue
			}
			if !h.HasPayload || h.TransportErrorIndicator {
				continue
			}
			if !started {
				if !h.PayloadUnitStartIndicator {
					return nil, fmt.Errorf("%w %d", ErrNoUnitStart, pos)
				}
				started = true
			} else {
				if h.PayloadUnitStartIndicator {
					return parsePES(payload)
				}
				if h.ContinuityCounter == lastCC && !h.DiscontinuityIndicator {
					continue // duplicate
				}
			}
			lastCC = h.ContinuityCounter
			payload = append(payload, pkt.Payload...)
		}
		off += int64(n)

		if err != nil {
			if errors.Is(err, io.EOF) {
				if !started {
					return nil, io.ErrUnexpectedEOF
				}
				return parsePES(payload)
			}
			return nil, fmt.Errorf("mpegts: read at %d: %w", off, err)
		}
	}
}
