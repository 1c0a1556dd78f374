package demux

import "github.com/zsiec/vseek/internal/media"

// H.264 NAL unit types (ITU-T H.264 Table 7-1).
const (
	nalH264IDR = 5
	nalH264SPS = 7
)

// H.265 NAL unit types (ITU-T H.265 Table 7-1).
const (
	nalHEVCBlaWLP = 16
	nalHEVCCraNut = 21
	nalHEVCSPS    = 33
)

// nalUnit is one NAL unit without its start code.
type nalUnit struct {
	typ  byte
	data []byte
}

// splitAnnexB cuts an Annex-B byte stream at its 3- and 4-byte start codes.
func splitAnnexB(data []byte, codec media.Codec) []nalUnit {
	var starts, ends []int
	for i := 0; i+2 < len(data); {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			end := i
			if end > 0 && data[end-1] == 0 {
				end--
			}
			ends = append(ends, end)
			starts = append(starts, i+3)
			i += 3
			continue
		}
		i++
	}
	if len(starts) == 0 {
		return nil
	}
	ends = append(ends[1:], len(data))

	minLen := 1
	if codec == media.CodecH265 {
		minLen = 2
	}
	var units []nalUnit
	for i, s := range starts {
		if ends[i]-s < minLen {
			continue
		}
		nal := data[s:ends[i]]
		units = append(units, nalUnit{typ: nalType(nal[0], codec), data: nal})
	}
	return units
}

func nalType(header byte, codec media.Codec) byte {
	if codec == media.CodecH265 {
		return header >> 1 & 0x3F
	}
	return header & 0x1F
}

func isRandomAccess(typ byte, codec media.Codec) bool {
	if codec == media.CodecH265 {
		return typ >= nalHEVCBlaWLP && typ <= nalHEVCCraNut
	}
	return typ == nalH264IDR
}

func isSPS(typ byte, codec media.Codec) bool {
	if codec == media.CodecH265 {
		return typ == nalHEVCSPS
	}
	return typ == nalH264SPS
}

// SPS carries the sequence parameters that select and size a decoder.
type SPS struct {
	Width    int
	Height   int
	Profile  uint8
	Level    uint8
	Chroma   media.ChromaFormat
	BitDepth int
}

// ParseSPS parses an SPS NAL unit, header included, of the given codec.
func ParseSPS(nal []byte, codec media.Codec) (SPS, error) {
	if codec == media.CodecH265 {
		return parseHEVCSPS(nal)
	}
	return parseH264SPS(nal)
}

// FindSPS parses the first SPS carried by an Annex-B access unit. found is
// false when the unit holds no SPS.
func FindSPS(au []byte, codec media.Codec) (sps SPS, found bool, err error) {
	for _, nal := range splitAnnexB(au, codec) {
		if isSPS(nal.typ, codec) {
			sps, err = ParseSPS(nal.data, codec)
			return sps, true, err
		}
	}
	return SPS{}, false, nil
}
