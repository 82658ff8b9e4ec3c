package h264

// HEVC NAL unit types that start a random access point (BLA, IDR, CRA).
const (
	HEVCNALBlaWLP = 16
	HEVCNALCraNut = 21
)

// HEVCNALType extracts the type from the first byte of a 2-byte HEVC NAL
// header.
func HEVCNALType(firstByte byte) byte {
	return (firstByte >> 1) & 0x3F
}

// ContainsHEVCIRAP reports whether an HEVC access unit carries an intra
// random access point picture. Start codes are the same as in H.264, so
// ParseAnnexB finds the units; only the header layout differs.
func ContainsHEVCIRAP(au []byte) bool {
	for _, u := range ParseAnnexB(au) {
		t := HEVCNALType(u.Data[0])
		if t >= HEVCNALBlaWLP && t <= HEVCNALCraNut {
			return true
		}
	}
	return false
}
