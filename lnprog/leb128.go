package lnprog

// LEB128 helpers with the truncating semantics of the state machine: seven-bit
// groups are accumulated only while the shift is below 31, extra continuation
// groups are consumed and discarded, and unsigned results keep 28 bits.
// Overlong encodings therefore wrap silently instead of trapping.

const lebShiftLimit = 31

// DecodeULEB128 decodes an unsigned LEB128 value from the start of b.
// It returns the value, the number of bytes consumed, and false when b ends
// before a terminating group.
func DecodeULEB128(b []byte) (uint32, int, bool) {
	var result uint32
	var shift uint
	for i, c := range b {
		if shift < lebShiftLimit {
			result |= uint32(c&0x7f) << shift
			shift += 7
		}
		if c&0x80 == 0 {
			return result & AddressMask, i + 1, true
		}
	}
	return result & AddressMask, len(b), false
}

// DecodeSLEB128 decodes a signed LEB128 value from the start of b.
func DecodeSLEB128(b []byte) (int32, int, bool) {
	var result uint32
	var shift uint
	var last byte
	for i, c := range b {
		if shift < lebShiftLimit {
			result |= uint32(c&0x7f) << shift
			shift += 7
			last = c
		}
		if c&0x80 == 0 {
			if shift < lebShiftLimit && last&0x40 != 0 {
				result |= 0xffffffff << shift
			}
			return int32(result), i + 1, true
		}
	}
	return int32(result), len(b), false
}

// AppendULEB128 appends the minimal unsigned LEB128 encoding of v.
func AppendULEB128(dst []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, c|0x80)
			continue
		}
		return append(dst, c)
	}
}

// AppendSLEB128 appends the minimal signed LEB128 encoding of v.
func AppendSLEB128(dst []byte, v int32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(dst, c)
		}
		dst = append(dst, c|0x80)
	}
}

// ULEB128Size returns the length of the minimal unsigned encoding of v.
func ULEB128Size(v uint32) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
