// Package h264 splits H.264 and HEVC Annex B byte streams into NAL units.
package h264

// NAL unit types from ITU-T H.264 Table 7-1.
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// NALUnit is one NAL unit without its start code.
type NALUnit struct {
	Type byte
	Data []byte // includes the NAL header byte
}

// ParseAnnexB returns the NAL units of an Annex B stream. Both 3-byte and
// 4-byte start codes are recognized. The returned Data slices alias data.
func ParseAnnexB(data []byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type span struct{ scStart, dataStart int }
	var spans []span
	for i := 0; i < n-2; {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				spans = append(spans, span{i, i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				spans = append(spans, span{i, i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	units := make([]NALUnit, 0, len(spans))
	for idx, sp := range spans {
		end := n
		if idx+1 < len(spans) {
			end = spans[idx+1].scStart
		}
		if sp.dataStart >= end {
			continue
		}
		nal := data[sp.dataStart:end]
		units = append(units, NALUnit{Type: nal[0] & 0x1F, Data: nal})
	}
	return units
}

// ContainsIDR reports whether an access unit carries an IDR slice.
func ContainsIDR(au []byte) bool {
	for _, u := range ParseAnnexB(au) {
		if u.Type == NALTypeIDR {
			return true
		}
	}
	return false
}
