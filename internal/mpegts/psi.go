package mpegts

import "fmt"

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// parsePSI walks every section in a PSI payload starting with its pointer
// field.
func parsePSI(payload []byte, pid uint16, pos int64) ([]*Unit, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("mpegts: PSI payload too short")
	}
	offset := 1 + int(payload[0])
	if offset >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field out of range")
	}

	var units []*Unit
	for offset+3 <= len(payload) {
		tableID := payload[offset]
		if tableID == 0xFF || payload[offset+1]&0x80 == 0 {
			break // stuffing or padding
		}
		end := offset + 3 + (int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2]))
		if end > len(payload) {
			break
		}
		section := payload[offset:end]
		offset = end

		switch tableID {
		case tableIDPAT:
			pat, err := parsePAT(section)
			if err != nil {
				return units, err
			}
			units = append(units, &Unit{PID: pid, Pos: pos, PAT: pat})
		case tableIDPMT:
			pmt, err := parsePMT(section)
			if err != nil {
				return units, err
			}
			units = append(units, &Unit{PID: pid, Pos: pos, PMT: pmt})
		}
	}
	return units, nil
}

// parsePAT decodes a PAT section: 8 header bytes, 4-byte program entries,
// CRC32.
func parsePAT(section []byte) (*PAT, error) {
	if err := verifyCRC32(section); err != nil {
		return nil, fmt.Errorf("mpegts: PAT: %w", err)
	}
	if len(section) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}

	pat := &PAT{}
	for i := 8; i+4 <= len(section)-4; i += 4 {
		number := uint16(section[i])<<8 | uint16(section[i+1])
		if number == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, Program{
			Number: number,
			PMTPID: uint16(section[i+2]&0x1F)<<8 | uint16(section[i+3]),
		})
	}
	return pat, nil
}

// parsePMT decodes a PMT section: 12 header bytes, program descriptors,
// 5-byte stream entries with their descriptors, CRC32.
func parsePMT(section []byte) (*PMT, error) {
	if err := verifyCRC32(section); err != nil {
		return nil, fmt.Errorf("mpegts: PMT: %w", err)
	}
	if len(section) < 16 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}

	pmt := &PMT{
		ProgramNumber: uint16(section[3])<<8 | uint16(section[4]),
		PCRPID:        uint16(section[8]&0x1F)<<8 | uint16(section[9]),
	}
	offset := 12 + (int(section[10]&0x0F)<<8 | int(section[11]))
	for offset+5 <= len(section)-4 {
		pmt.Streams = append(pmt.Streams, ElementaryStream{
			Type: StreamType(section[offset]),
			PID:  uint16(section[offset+1]&0x1F)<<8 | uint16(section[offset+2]),
		})
		offset += 5 + (int(section[offset+3]&0x0F)<<8 | int(section[offset+4]))
	}
	return pmt, nil
}
