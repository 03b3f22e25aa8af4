package core

// VRT header word fields programmed into the DSP receive chain.
const (
	VRTPacketTypeIFDataWithSID uint32 = 0x10000000
	VRTHasTrailer              uint32 = 0x04000000
	VRTTSIOther                uint32 = 0x00C00000
	VRTTSFSampleCount          uint32 = 0x00100000
	VRTPacketSizeMask          uint32 = 0x0000FFFF

	VRTHeaderWords  = 5 // header, stream id, integer ts, 2 fractional ts
	VRTTrailerWords = 1
)

// VRTHeader returns the header template for frames of itemsPerFrame samples.
// The size field counts header, payload and trailer words.
func VRTHeader(itemsPerFrame uint32) uint32 {
	return VRTPacketTypeIFDataWithSID |
		VRTHasTrailer |
		VRTTSIOther |
		VRTTSFSampleCount |
		(VRTHeaderWords+itemsPerFrame+VRTTrailerWords)&VRTPacketSizeMask
}

// VRTFrameWords extracts the size field of a header word.
func VRTFrameWords(h uint32) uint32 {
	return h & VRTPacketSizeMask
}
