package mpegts

import "fmt"

const (
	// PacketSize is the size of a transport packet.
	PacketSize = 188
	syncByte   = 0x47
)

func parsePacket(buf []byte, pos int64) (*Packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X at %d", buf[0], pos)
	}

	p := &Packet{Pos: pos}
	h := &p.Header
	h.TransportErrorIndicator = buf[1]&0x80 != 0
	h.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	h.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	h.HasAdaptationField = buf[3]&0x20 != 0
	h.HasPayload = buf[3]&0x10 != 0
	h.ContinuityCounter = buf[3] & 0x0F

	offset := 4
	if h.HasAdaptationField {
		afLen := int(buf[offset])
		if afLen > 0 {
			h.DiscontinuityIndicator = buf[offset+1]&0x80 != 0
			h.RandomAccessIndicator = buf[offset+1]&0x40 != 0
		}
		offset = min(offset+1+afLen, PacketSize)
	}

	if h.HasPayload && offset < PacketSize {
		p.Payload = make([]byte, PacketSize-offset)
		copy(p.Payload, buf[offset:])
	}
	return p, nil
}
