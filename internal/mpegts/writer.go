package mpegts

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Writer muxes PSI tables and PES packets into 188-byte transport packets,
// keeping a continuity counter per PID.
type Writer struct {
	w   io.Writer
	cc  map[uint16]uint8
	pos int64
	pkt [PacketSize]byte
}

// NewWriter returns a Writer emitting packets to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, cc: make(map[uint16]uint8)}
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int64 { return w.pos }

// WritePAT writes a single-program PAT.
func (w *Writer) WritePAT(programNumber, pmtPID uint16) error {
	body := make([]byte, 4)
	binary.BigEndian.PutUint16(body, programNumber)
	binary.BigEndian.PutUint16(body[2:], 0xE000|pmtPID)
	_, err := w.writeUnit(pidPAT, psiPayload(section(tableIDPAT, 1, body)), false)
	return err
}

// WritePMT writes a PMT for one program.
func (w *Writer) WritePMT(pmtPID uint16, pmt PMT) error {
	body := make([]byte, 4, 4+5*len(pmt.Streams))
	binary.BigEndian.PutUint16(body, 0xE000|pmt.PCRPID)
	binary.BigEndian.PutUint16(body[2:], 0xF000) // no program descriptors
	for _, es := range pmt.Streams {
		body = append(body, byte(es.Type), 0xE0|byte(es.PID>>8)&0x1F, byte(es.PID), 0xF0, 0x00)
	}
	_, err := w.writeUnit(pmtPID, psiPayload(section(tableIDPMT, pmt.ProgramNumber, body)), false)
	return err
}

// WritePES packetizes one PES packet carrying data on pid and returns the
// offset of its first transport packet. A DTS equal to the PTS is omitted.
// keyframe sets the random access indicator.
func (w *Writer) WritePES(pid uint16, streamID uint8, pts, dts int64, data []byte, keyframe bool) (int64, error) {
	var ts []byte
	flags := byte(0x80) // PTS only
	if dts != pts {
		flags = 0xC0
		ts = append(encodeTimestamp(0x3, pts), encodeTimestamp(0x1, dts)...)
	} else {
		ts = encodeTimestamp(0x2, pts)
	}

	pes := make([]byte, 0, 9+len(ts)+len(data))
	pes = append(pes, 0x00, 0x00, 0x01, streamID, 0x00, 0x00, 0x80, flags, byte(len(ts)))
	pes = append(pes, ts...)
	pes = append(pes, data...)
	if n := len(pes) - 6; n <= 0xFFFF && streamID&0xF0 != 0xE0 {
		binary.BigEndian.PutUint16(pes[4:], uint16(n))
	}
	return w.writeUnit(pid, pes, keyframe)
}

// section wraps body in a long-form PSI section with version 0 and CRC32.
func section(tableID uint8, idExt uint16, body []byte) []byte {
	length := 5 + len(body) + 4
	s := make([]byte, 0, 3+length)
	s = append(s, tableID, 0xB0|byte(length>>8)&0x0F, byte(length))
	s = append(s, byte(idExt>>8), byte(idExt), 0xC1, 0x00, 0x00)
	s = append(s, body...)
	return binary.BigEndian.AppendUint32(s, CRC32(s))
}

// psiPayload prefixes a section with a zero pointer field.
func psiPayload(s []byte) []byte {
	return append([]byte{0x00}, s...)
}

// writeUnit splits data over transport packets on pid, padding the last one
// with adaptation field stuffing.
func (w *Writer) writeUnit(pid uint16, data []byte, keyframe bool) (int64, error) {
	start := w.pos

	for first := true; first || len(data) > 0; first = false {
		p := w.pkt[:]
		clear(p)
		p[0] = syncByte
		p[1] = byte(pid>>8) & 0x1F
		p[2] = byte(pid)
		if first {
			p[1] |= 0x40
		}
		cc := w.cc[pid]
		w.cc[pid] = (cc + 1) & 0x0F
		p[3] = 0x10 | cc

		header := 4
		room := PacketSize - header
		needAF := first && keyframe
		if len(data) < room || needAF {
			// Adaptation field: length byte, flags byte, stuffing.
			afLen := 1
			if len(data) < room-2 {
				afLen = room - 1 - len(data)
			}
			p[3] |= 0x20
			p[4] = byte(afLen)
			if afLen > 0 {
				if needAF {
					p[5] = 0x40
				}
				for i := 6; i < 5+afLen; i++ {
					p[i] = 0xFF
				}
			}
			header = 5 + afLen
		}
		n := copy(p[header:], data)
		data = data[n:]

		if _, err := w.w.Write(p); err != nil {
			return start, fmt.Errorf("mpegts: write: %w", err)
		}
		w.pos += PacketSize
	}
	return start, nil
}
