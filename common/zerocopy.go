package common

import "unsafe"

// ByteSliceToStringZeroCopy aliases the slice's backing array as a string.
// The caller must not mutate the slice afterwards - store keys rely on this
// when treemap keys are built from encoded byte keys.
func ByteSliceToStringZeroCopy(bs []byte) string {
	lbs := len(bs)
	if lbs == 0 {
		return ""
	}
	return unsafe.String(&bs[0], lbs)
}

func StringToByteSliceZeroCopy(str string) []byte {
	if str == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(str), len(str))
}
