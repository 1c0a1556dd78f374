package synth

import "github.com/zsiec/vseek/internal/media"

// H264SPS encodes a High profile SPS NAL unit, header included, for a
// picture of width x height luma samples. Dimensions that are not
// macroblock aligned are expressed through frame cropping.
func H264SPS(width, height int, chroma media.ChromaFormat, bitDepth int) []byte {
	var w bitWriter
	profile := uint(100)
	if chroma > media.Chroma420 || bitDepth > 8 {
		profile = 244
	}
	w.writeBits(profile, 8)
	w.writeBits(0, 8)  // constraint flags
	w.writeBits(40, 8) // level 4.0
	w.writeUE(0)       // seq_parameter_set_id
	w.writeUE(uint(chroma))
	if chroma == media.Chroma444 {
		w.writeBit(0) // separate_colour_plane_flag
	}
	w.writeUE(uint(bitDepth - 8)) // luma
	w.writeUE(uint(bitDepth - 8)) // chroma
	w.writeBit(0)                 // qpprime_y_zero_transform_bypass_flag
	w.writeBit(0)                 // seq_scaling_matrix_present_flag
	w.writeUE(0)                  // log2_max_frame_num_minus4
	w.writeUE(0)                  // pic_order_cnt_type
	w.writeUE(2)                  // log2_max_pic_order_cnt_lsb_minus4
	w.writeUE(2)                  // max_num_ref_frames
	w.writeBit(0)                 // gaps_in_frame_num_value_allowed_flag

	mbW, mbH := (width+15)/16, (height+15)/16
	w.writeUE(uint(mbW - 1))
	w.writeUE(uint(mbH - 1))
	w.writeBit(1) // frame_mbs_only_flag
	w.writeBit(1) // direct_8x8_inference_flag

	subW, subH := 1, 1
	switch chroma {
	case media.Chroma420:
		subW, subH = 2, 2
	case media.Chroma422:
		subW = 2
	}
	cropR, cropB := (mbW*16-width)/subW, (mbH*16-height)/subH
	w.writeFlag(cropR > 0 || cropB > 0)
	if cropR > 0 || cropB > 0 {
		w.writeUE(0)
		w.writeUE(uint(cropR))
		w.writeUE(0)
		w.writeUE(uint(cropB))
	}
	w.writeBit(0) // vui_parameters_present_flag

	return append([]byte{0x67}, escapeRBSP(w.trailing())...)
}

// HEVCSPS encodes an H.265 SPS NAL unit, header included, up to the bit
// depth fields.
func HEVCSPS(width, height int, chroma media.ChromaFormat, bitDepth int) []byte {
	var w bitWriter
	w.writeBits(0, 4) // sps_video_parameter_set_id
	w.writeBits(0, 3) // sps_max_sub_layers_minus1
	w.writeBit(1)     // sps_temporal_id_nesting_flag

	profile := uint(1) // Main
	if bitDepth > 8 {
		profile = 2 // Main 10
	}
	if chroma != media.Chroma420 {
		profile = 4 // range extensions
	}
	w.writeBits(0, 2) // general_profile_space
	w.writeBit(0)     // general_tier_flag
	w.writeBits(profile, 5)
	w.writeBits(1<<(31-profile), 32) // general_profile_compatibility_flags
	w.writeBits(0x9, 4)              // progressive, interlaced, non-packed, frame-only
	w.writeBits(0, 44)
	w.writeBits(120, 8) // level 4.0

	w.writeUE(0) // sps_seq_parameter_set_id
	w.writeUE(uint(chroma))
	if chroma == media.Chroma444 {
		w.writeBit(0)
	}
	w.writeUE(uint(width))
	w.writeUE(uint(height))
	w.writeBit(0) // conformance_window_flag
	w.writeUE(uint(bitDepth - 8))
	w.writeUE(uint(bitDepth - 8))

	return append([]byte{0x42, 0x01}, escapeRBSP(w.trailing())...)
}
