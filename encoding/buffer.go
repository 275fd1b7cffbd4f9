package encoding

import (
	"encoding/binary"
	"math"
)

func AppendUint64ToBufferLE(buffer []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buffer, v)
}

func AppendUint64ToBufferBE(buffer []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(buffer, v)
}

func AppendUint32ToBufferLE(buffer []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buffer, v)
}

func AppendFloat64ToBufferLE(buffer []byte, value float64) []byte {
	return AppendUint64ToBufferLE(buffer, math.Float64bits(value))
}

func AppendBoolToBuffer(buffer []byte, value bool) []byte {
	if value {
		return append(buffer, 1)
	}
	return append(buffer, 0)
}

func AppendStringToBufferLE(buffer []byte, value string) []byte {
	buffer = AppendUint32ToBufferLE(buffer, uint32(len(value)))
	return append(buffer, value...)
}

func AppendBytesToBufferLE(buffer []byte, value []byte) []byte {
	buffer = AppendUint32ToBufferLE(buffer, uint32(len(value)))
	return append(buffer, value...)
}

func ReadUint64FromBufferLE(buffer []byte, offset int) (uint64, int) {
	return binary.LittleEndian.Uint64(buffer[offset:]), offset + 8
}

func ReadUint64FromBufferBE(buffer []byte, offset int) (uint64, int) {
	return binary.BigEndian.Uint64(buffer[offset:]), offset + 8
}

func ReadUint32FromBufferLE(buffer []byte, offset int) (uint32, int) {
	return binary.LittleEndian.Uint32(buffer[offset:]), offset + 4
}

func ReadFloat64FromBufferLE(buffer []byte, offset int) (float64, int) {
	u, offset := ReadUint64FromBufferLE(buffer, offset)
	return math.Float64frombits(u), offset
}

func ReadBoolFromBuffer(buffer []byte, offset int) (bool, int) {
	return buffer[offset] == 1, offset + 1
}

func ReadStringFromBufferLE(buffer []byte, offset int) (string, int) {
	l, offset := ReadUint32FromBufferLE(buffer, offset)
	return string(buffer[offset : offset+int(l)]), offset + int(l)
}

func ReadBytesFromBufferLE(buffer []byte, offset int) ([]byte, int) {
	l, offset := ReadUint32FromBufferLE(buffer, offset)
	res := make([]byte, l)
	copy(res, buffer[offset:offset+int(l)])
	return res, offset + int(l)
}
