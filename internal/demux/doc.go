// Package demux turns an MPEG transport stream file into a random-access
// source of H.264 or H.265 access units.
//
// A single sequential pass ([Scan]) records where every access unit lives
// and which of them are key frames; the resulting [Index] backs the
// [FileDemuxer], which reads units by byte offset and can position itself on
// the key frame preceding any frame index. Codec parameters needed to pick a
// decoder (dimensions, chroma format, bit depth) come from the SPS.
package demux
