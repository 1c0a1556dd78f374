package mpegts

import "slices"

const pidPAT = 0x0000

// pidSet records which PIDs carry PMT sections.
type pidSet map[uint16]struct{}

func (s pidSet) has(pid uint16) bool {
	_, ok := s[pid]
	return ok
}

func (s pidSet) isPSI(pid uint16) bool {
	return pid == pidPAT || s.has(pid)
}

// accumulator buffers the packets of one PID until a unit is complete.
type accumulator struct {
	pid     uint16
	packets []*Packet
	pmt     pidSet
}

// add buffers p and returns the packets of a completed unit, if any.
func (a *accumulator) add(p *Packet) []*Packet {
	if p.Header.TransportErrorIndicator {
		a.packets = nil
		return nil
	}
	if !p.Header.HasPayload {
		return nil
	}

	if n := len(a.packets); n > 0 && !p.Header.DiscontinuityIndicator {
		prev := a.packets[n-1].Header.ContinuityCounter
		if p.Header.ContinuityCounter != (prev+1)&0x0F {
			if p.Header.ContinuityCounter == prev {
				return nil // duplicate
			}
			// Lost packets: the buffered unit is unusable.
			a.packets = nil
		}
	}

	var done []*Packet
	if p.Header.PayloadUnitStartIndicator && len(a.packets) > 0 {
		done = a.packets
		a.packets = nil
	}
	if len(a.packets) == 0 && !p.Header.PayloadUnitStartIndicator {
		// Continuation of a unit whose start was never seen.
		return done
	}
	a.packets = append(a.packets, p)

	if done == nil && a.pmt.isPSI(a.pid) && sectionsComplete(a.packets) {
		done = a.packets
		a.packets = nil
	}
	return done
}

func (a *accumulator) flush() []*Packet {
	done := a.packets
	a.packets = nil
	return done
}

// sectionsComplete reports whether the concatenated payloads hold every
// section that was started.
func sectionsComplete(packets []*Packet) bool {
	payload := joinPayloads(packets)
	if len(payload) < 1 {
		return false
	}
	offset := 1 + int(payload[0])
	if offset >= len(payload) {
		return false
	}
	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return true
		}
		if offset+3 > len(payload) {
			return false
		}
		if payload[offset+1]&0x80 == 0 {
			return true // padding, not a section header
		}
		n := 3 + (int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2]))
		if offset+n > len(payload) {
			return false
		}
		offset += n
	}
	return true
}

func joinPayloads(packets []*Packet) []byte {
	var out []byte
	for _, p := range packets {
		out = append(out, p.Payload...)
	}
	return out
}

// pool routes packets to per-PID accumulators.
type pool struct {
	accs map[uint16]*accumulator
	pmt  pidSet
}

func newPool(pmt pidSet) *pool {
	return &pool{accs: make(map[uint16]*accumulator), pmt: pmt}
}

func (p *pool) add(pkt *Packet) []*Packet {
	pid := pkt.Header.PID
	acc, ok := p.accs[pid]
	if !ok {
		acc = &accumulator{pid: pid, pmt: p.pmt}
		p.accs[pid] = acc
	}
	return acc.add(pkt)
}

// dump returns every partially buffered unit, PAT first, then by position.
func (p *pool) dump() [][]*Packet {
	var all [][]*Packet
	for _, acc := range p.accs {
		if packets := acc.flush(); len(packets) > 0 {
			all = append(all, packets)
		}
	}
	slices.SortFunc(all, func(a, b []*Packet) int {
		pa, pb := a[0].Header.PID == pidPAT, b[0].Header.PID == pidPAT
		switch {
		case pa && !pb:
			return -1
		case pb && !pa:
			return 1
		}
		return int(a[0].Pos - b[0].Pos)
	})
	return all
}
