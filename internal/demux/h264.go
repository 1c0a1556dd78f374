package demux

import (
	"fmt"

	"github.com/zsiec/vseek/internal/media"
)

// highProfiles carry chroma_format_idc and bit depth in the SPS.
var highProfiles = map[uint]bool{
	100: true, 110: true, 122: true, 244: true, 44: true, 83: true,
	86: true, 118: true, 128: true, 138: true, 139: true, 134: true,
}

// parseH264SPS reads an H.264 SPS up to the frame cropping fields.
func parseH264SPS(nal []byte) (SPS, error) {
	if len(nal) < 4 {
		return SPS{}, errTruncated
	}
	br := newBitReader(unescapeRBSP(nal[1:]))

	profile, _ := br.readBits(8)
	_ = br.skipBits(8) // constraint flags
	level, _ := br.readBits(8)
	if err := br.skipUE(1); err != nil { // seq_parameter_set_id
		return SPS{}, fmt.Errorf("demux: h264 sps: %w", err)
	}

	sps := SPS{Profile: uint8(profile), Level: uint8(level), Chroma: media.Chroma420, BitDepth: 8}
	chromaIdc := uint(1)
	separatePlanes := false
	if highProfiles[profile] {
		var err error
		if chromaIdc, err = br.readUE(); err != nil {
			return SPS{}, fmt.Errorf("demux: h264 sps: %w", err)
		}
		if chromaIdc == 3 {
			separatePlanes, _ = br.readFlag()
		}
		depth, err := br.readUE() // bit_depth_luma_minus8
		if err != nil {
			return SPS{}, fmt.Errorf("demux: h264 sps: %w", err)
		}
		sps.Chroma = media.ChromaFormat(chromaIdc)
		sps.BitDepth = 8 + int(depth)
		_ = br.skipUE(1)   // bit_depth_chroma_minus8
		_ = br.skipBits(1) // qpprime_y_zero_transform_bypass_flag
		if err := skipScalingMatrix(br, chromaIdc); err != nil {
			return SPS{}, fmt.Errorf("demux: h264 sps: %w", err)
		}
	}

	_ = br.skipUE(1) // log2_max_frame_num_minus4
	pocType, err := br.readUE()
	if err != nil {
		return SPS{}, fmt.Errorf("demux: h264 sps: %w", err)
	}
	switch pocType {
	case 0:
		_ = br.skipUE(1)
	case 1:
		_ = br.skipBits(1)
		_, _ = br.readSE()
		_, _ = br.readSE()
		n, err := br.readUE()
		if err != nil {
			return SPS{}, fmt.Errorf("demux: h264 sps: %w", err)
		}
		for range n {
			if _, err := br.readSE(); err != nil {
				return SPS{}, fmt.Errorf("demux: h264 sps: %w", err)
			}
		}
	}
	_ = br.skipUE(1)   // max_num_ref_frames
	_ = br.skipBits(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs, _ := br.readUE()
	heightUnits, _ := br.readUE()
	frameMbsOnly, _ := br.readBit()
	if frameMbsOnly == 0 {
		_ = br.skipBits(1) // mb_adaptive_frame_field_flag
	}
	_ = br.skipBits(1) // direct_8x8_inference_flag

	var cropL, cropR, cropT, cropB uint
	cropping, err := br.readFlag()
	if err != nil {
		return SPS{}, fmt.Errorf("demux: h264 sps: %w", err)
	}
	if cropping {
		cropL, _ = br.readUE()
		cropR, _ = br.readUE()
		cropT, _ = br.readUE()
		if cropB, err = br.readUE(); err != nil {
			return SPS{}, fmt.Errorf("demux: h264 sps: %w", err)
		}
	}

	subW, subH := uint(1), uint(1)
	if !separatePlanes {
		switch chromaIdc {
		case 1:
			subW, subH = 2, 2
		case 2:
			subW, subH = 2, 1
		}
	}
	sps.Width = int((widthMbs+1)*16 - subW*(cropL+cropR))
	sps.Height = int((heightUnits+1)*16*(2-frameMbsOnly) - subH*(2-frameMbsOnly)*(cropT+cropB))
	return sps, nil
}

func skipScalingMatrix(br *bitReader, chromaIdc uint) error {
	present, err := br.readFlag()
	if err != nil || !present {
		return err
	}
	lists := 8
	if chromaIdc == 3 {
		lists = 12
	}
	for i := range lists {
		listPresent, err := br.readFlag()
		if err != nil {
			return err
		}
		if !listPresent {
			continue
		}
		size := 16
		if i >= 6 {
			size = 64
		}
		last, next := 8, 8
		for range size {
			if next != 0 {
				delta, err := br.readSE()
				if err != nil {
					return err
				}
				next = (last + delta + 256) % 256
			}
			if next != 0 {
				last = next
			}
		}
	}
	return nil
}
