package demux

import (
	"fmt"

	"github.com/zsiec/vseek/internal/media"
)

// parseHEVCSPS reads an H.265 SPS up to bit_depth_chroma_minus8.
func parseHEVCSPS(nal []byte) (SPS, error) {
	if len(nal) < 4 {
		return SPS{}, errTruncated
	}
	br := newBitReader(unescapeRBSP(nal[2:]))

	_ = br.skipBits(4) // sps_video_parameter_set_id
	subLayers, _ := br.readBits(3)
	_ = br.skipBits(1) // sps_temporal_id_nesting_flag

	var sps SPS
	if err := parseProfileTierLevel(br, &sps, subLayers); err != nil {
		return SPS{}, fmt.Errorf("demux: hevc sps: %w", err)
	}
	_ = br.skipUE(1) // sps_seq_parameter_set_id

	chromaIdc, err := br.readUE()
	if err != nil {
		return SPS{}, fmt.Errorf("demux: hevc sps: %w", err)
	}
	if chromaIdc == 3 {
		_ = br.skipBits(1) // separate_colour_plane_flag
	}
	sps.Chroma = media.ChromaFormat(chromaIdc)

	width, _ := br.readUE()
	height, _ := br.readUE()
	window, err := br.readFlag()
	if err != nil {
		return SPS{}, fmt.Errorf("demux: hevc sps: %w", err)
	}
	sps.Width, sps.Height = int(width), int(height)
	if window {
		l, _ := br.readUE()
		r, _ := br.readUE()
		t, _ := br.readUE()
		b, err := br.readUE()
		if err != nil {
			return SPS{}, fmt.Errorf("demux: hevc sps: %w", err)
		}
		subW, subH := uint(1), uint(1)
		switch chromaIdc {
		case 1:
			subW, subH = 2, 2
		case 2:
			subW = 2
		}
		sps.Width -= int((l + r) * subW)
		sps.Height -= int((t + b) * subH)
	}

	depth, err := br.readUE() // bit_depth_luma_minus8
	if err != nil {
		return SPS{}, fmt.Errorf("demux: hevc sps: %w", err)
	}
	sps.BitDepth = 8 + int(depth)
	return sps, nil
}

// parseProfileTierLevel reads general_profile_idc and general_level_idc and
// skips the sub-layer fields.
func parseProfileTierLevel(br *bitReader, sps *SPS, subLayers uint) error {
	_ = br.skipBits(3) // profile_space, tier_flag
	profile, _ := br.readBits(5)
	_ = br.skipBits(32 + 48) // compatibility and constraint flags
	level, err := br.readBits(8)
	if err != nil {
		return err
	}
	sps.Profile, sps.Level = uint8(profile), uint8(level)

	if subLayers == 0 {
		return nil
	}
	var profilePresent, levelPresent [8]bool
	for i := range subLayers {
		profilePresent[i], _ = br.readFlag()
		levelPresent[i], _ = br.readFlag()
	}
	if err := br.skipBits(2 * int(8-subLayers)); err != nil {
		return err
	}
	for i := range subLayers {
		if profilePresent[i] {
			if err := br.skipBits(88); err != nil {
				return err
			}
		}
		if levelPresent[i] {
			if err := br.skipBits(8); err != nil {
				return err
			}
		}
	}
	return nil
}
