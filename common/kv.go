package common

type KV struct {
	Key   []byte
	Value []byte
}

func CopyByteSlice(buff []byte) []byte {
	res := make([]byte, len(buff))
	copy(res, buff)
	return res
}

// IncBigEndianBytes returns the smallest byte slice greater than all slices
// prefixed with the input, treating it as a big-endian number.
func IncBigEndianBytes(bytes []byte) []byte {
	inced := CopyByteSlice(bytes)
	for i := len(inced) - 1; i >= 0; i-- {
		if inced[i] != 255 {
			inced[i]++
			return inced
		}
		inced[i] = 0
	}
	panic("cannot increment byte slice with all bytes 0xff")
}
