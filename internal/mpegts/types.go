// Package mpegts reads and writes MPEG transport streams. The Reader walks a
// stream sequentially, discovering programs from the PAT and PMT and
// reassembling PES packets; every unit it returns carries the byte offset of
// its first transport packet so callers can come back to it later with
// ReadPESAt. The Writer produces the same structure and is used to build
// synthetic streams.
package mpegts

// StreamType is the PMT stream_type of an elementary stream.
type StreamType uint8

const (
	StreamTypeAAC  StreamType = 0x0F
	StreamTypeH264 StreamType = 0x1B
	StreamTypeH265 StreamType = 0x24
)

// IsVideo reports whether the stream type carries H.264 or H.265 video.
func (t StreamType) IsVideo() bool {
	return t == StreamTypeH264 || t == StreamTypeH265
}

// Packet is one parsed 188-byte transport packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
	Pos     int64
}

// PacketHeader holds the transport packet header fields the reader uses.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
}

// Unit is one logical unit of a stream. Exactly one of PAT, PMT or PES is
// set. Pos is the offset of the first transport packet of the unit.
type Unit struct {
	PID uint16
	Pos int64
	PAT *PAT
	PMT *PMT
	PES *PES
}

// PAT is a parsed Program Association Table.
type PAT struct {
	Programs []Program
}

// Program maps a program number to the PID carrying its PMT.
type Program struct {
	Number uint16
	PMTPID uint16
}

// PMT is a parsed Program Map Table.
type PMT struct {
	ProgramNumber uint16
	PCRPID        uint16
	Streams       []ElementaryStream
}

// ElementaryStream is one PMT entry.
type ElementaryStream struct {
	PID  uint16
	Type StreamType
}

// PES is a reassembled packetized elementary stream packet. PTS and DTS are
// 33-bit 90 kHz values; DTS equals PTS when the header carries no DTS.
type PES struct {
	StreamID uint8
	HasPTS   bool
	PTS      int64
	DTS      int64
	Data     []byte
}
