package encoding

import (
	"encoding/binary"
	"math"

	"github.com/apache/arrow/go/v11/arrow/decimal128"
	"github.com/matview-io/matview/common"
	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/types"
)

const (
	SignBitMask  uint64 = 1 << 63
	encGroupSize        = 8
	encMarker    byte   = 255
	encPad       byte   = 0
)

var stringKeyEncodingPads = make([]byte, encGroupSize)

// KeyEncodeRow appends the memcomparable encoding of the given row to buff.
// Each column is preceded by a null marker byte. The encoding sorts the same
// way the decoded values would, which the store relies on for range scans.
func KeyEncodeRow(buff []byte, row []any, columnTypes []types.ColumnType) ([]byte, error) {
	for i, colType := range columnTypes {
		val := row[i]
		if val == nil {
			buff = append(buff, 0)
			continue
		}
		buff = append(buff, 1)
		switch colType.ID() {
		case types.ColumnTypeIDInt:
			buff = KeyEncodeInt(buff, val.(int64))
		case types.ColumnTypeIDFloat:
			buff = KeyEncodeFloat(buff, val.(float64))
		case types.ColumnTypeIDBool:
			buff = AppendBoolToBuffer(buff, val.(bool))
		case types.ColumnTypeIDDecimal:
			buff = KeyEncodeDecimal(buff, val.(types.Decimal))
		case types.ColumnTypeIDString:
			buff = KeyEncodeString(buff, val.(string))
		case types.ColumnTypeIDBytes:
			buff = KeyEncodeBytes(buff, val.([]byte))
		case types.ColumnTypeIDTimestamp:
			buff = KeyEncodeTimestamp(buff, val.(types.Timestamp))
		default:
			return nil, errors.Errorf("column type %s cannot be used in a key", colType.String())
		}
	}
	return buff, nil
}

func DecodeKeyToSlice(buffer []byte, offset int, columnTypes []types.ColumnType) ([]any, int, error) {
	key := make([]any, len(columnTypes))
	for i, keyColType := range columnTypes {
		isNull := buffer[offset] == 0
		offset++
		if isNull {
			continue
		}
		switch keyColType.ID() {
		case types.ColumnTypeIDInt:
			key[i], offset = KeyDecodeInt(buffer, offset)
		case types.ColumnTypeIDFloat:
			key[i], offset = KeyDecodeFloat(buffer, offset)
		case types.ColumnTypeIDBool:
			key[i], offset = ReadBoolFromBuffer(buffer, offset)
		case types.ColumnTypeIDDecimal:
			decType := keyColType.(*types.DecimalType)
			var dec types.Decimal
			dec, offset = KeyDecodeDecimal(buffer, offset)
			dec.Precision = decType.Precision
			dec.Scale = decType.Scale
			key[i] = dec
		case types.ColumnTypeIDString:
			var err error
			key[i], offset, err = KeyDecodeString(buffer, offset)
			if err != nil {
				return nil, 0, err
			}
		case types.ColumnTypeIDBytes:
			var err error
			key[i], offset, err = KeyDecodeBytes(buffer, offset)
			if err != nil {
				return nil, 0, err
			}
		case types.ColumnTypeIDTimestamp:
			key[i], offset = KeyDecodeTimestamp(buffer, offset)
		default:
			return nil, 0, errors.Errorf("column type %s cannot be used in a key", keyColType.String())
		}
	}
	return key, offset, nil
}

func KeyEncodeInt(buffer []byte, val int64) []byte {
	uVal := uint64(val) ^ SignBitMask
	return AppendUint64ToBufferBE(buffer, uVal)
}

func KeyDecodeInt(buffer []byte, offset int) (int64, int) {
	u, offset := ReadUint64FromBufferBE(buffer, offset)
	return int64(u ^ SignBitMask), offset
}

func KeyEncodeFloat(buffer []byte, val float64) []byte {
	uVal := math.Float64bits(val)
	if val >= 0 {
		uVal |= SignBitMask
	} else {
		uVal = ^uVal
	}
	return AppendUint64ToBufferBE(buffer, uVal)
}

func KeyDecodeFloat(buffer []byte, offset int) (float64, int) {
	u, offset := ReadUint64FromBufferBE(buffer, offset)
	if u&SignBitMask == SignBitMask {
		u &= ^SignBitMask
	} else {
		u = ^u
	}
	return math.Float64frombits(u), offset
}

func KeyEncodeDecimal(buffer []byte, val types.Decimal) []byte {
	buffer = KeyEncodeInt(buffer, val.Num.HighBits())
	return AppendUint64ToBufferBE(buffer, val.Num.LowBits())
}

func KeyDecodeDecimal(buffer []byte, offset int) (types.Decimal, int) {
	var hi int64
	hi, offset = KeyDecodeInt(buffer, offset)
	var lo uint64
	lo, offset = ReadUint64FromBufferBE(buffer, offset)
	return types.Decimal{
		Num: decimal128.New(hi, lo),
	}, offset
}

func KeyEncodeBytes(buffer []byte, val []byte) []byte {
	return KeyEncodeString(buffer, common.ByteSliceToStringZeroCopy(val))
}

func KeyDecodeBytes(buffer []byte, offset int) ([]byte, int, error) {
	s, off, err := KeyDecodeString(buffer, offset)
	if err != nil {
		return nil, 0, err
	}
	if len(s) == 0 {
		return []byte{}, off, nil
	}
	return []byte(s), off, nil
}

func KeyEncodeTimestamp(buffer []byte, val types.Timestamp) []byte {
	return KeyEncodeInt(buffer, val.Val)
}

func KeyDecodeTimestamp(buffer []byte, offset int) (types.Timestamp, int) {
	v, off := KeyDecodeInt(buffer, offset)
	return types.NewTimestamp(v), off
}

/*
KeyEncodeString
A binary string is split into chunks of 8 bytes, each followed by a marker
byte saying how many significant bytes the chunk had. The final chunk is
right padded with zeros. This keeps the encoding memcomparable.
*/
func KeyEncodeString(buff []byte, val string) []byte {
	data := common.StringToByteSliceZeroCopy(val)
	dLen := len(data)
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			buff = append(buff, data[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			buff = append(buff, data[idx:]...)
			buff = append(buff, stringKeyEncodingPads[:padCount]...)
		}
		marker := encMarker - byte(padCount)
		buff = append(buff, marker)
	}
	return buff
}

func KeyDecodeString(buffer []byte, offset int) (string, int, error) {
	res := make([]byte, 0, len(buffer))
	if offset != 0 {
		buffer = buffer[offset:]
	}
	for {
		if len(buffer) < encGroupSize+1 {
			return "", 0, errors.New("insufficient bytes to decode value")
		}
		groupBytes := buffer[:encGroupSize+1]
		group := groupBytes[:encGroupSize]
		marker := groupBytes[encGroupSize]
		padCount := encMarker - marker
		if padCount > encGroupSize {
			return "", 0, errors.Errorf("invalid marker byte, group bytes %q", groupBytes)
		}
		realGroupSize := encGroupSize - padCount
		res = append(res, group[:realGroupSize]...)
		buffer = buffer[encGroupSize+1:]
		offset += encGroupSize + 1
		if padCount != 0 {
			for _, v := range group[realGroupSize:] {
				if v != encPad {
					return "", 0, errors.Errorf("invalid padding byte, group bytes %q", groupBytes)
				}
			}
			break
		}
	}
	return common.ByteSliceToStringZeroCopy(res), offset, nil
}

// EncodeEntryPrefix lays out [16 byte partition hash][8 byte slab id BE].
func EncodeEntryPrefix(partitionHash []byte, slabID uint64, capac int) []byte {
	keyBuff := make([]byte, 24, capac)
	copy(keyBuff, partitionHash)
	binary.BigEndian.PutUint64(keyBuff[16:], slabID)
	return keyBuff
}

// EncodeVersion appends the inverted version so higher versions of a key sort
// before lower ones when iterating.
func EncodeVersion(key []byte, version uint64) []byte {
	return AppendUint64ToBufferBE(key, math.MaxUint64-version)
}

func DecodeVersion(key []byte) uint64 {
	u, _ := ReadUint64FromBufferBE(key, len(key)-8)
	return math.MaxUint64 - u
}
