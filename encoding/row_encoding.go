package encoding

import (
	"github.com/apache/arrow/go/v11/arrow/decimal128"
	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/types"
)

// EncodeRowCols appends the value encoding of the row to buff. Unlike the key
// encoding this does not need to be memcomparable, so values are stored
// little-endian with a leading null marker byte per column.
func EncodeRowCols(buff []byte, row []any, columnTypes []types.ColumnType) ([]byte, error) {
	for i, colType := range columnTypes {
		var err error
		buff, err = EncodeRowCol(buff, row[i], colType)
		if err != nil {
			return nil, err
		}
	}
	return buff, nil
}

func EncodeRowCol(buff []byte, val any, colType types.ColumnType) ([]byte, error) {
	if val == nil {
		return append(buff, 0), nil
	}
	buff = append(buff, 1)
	switch colType.ID() {
	case types.ColumnTypeIDInt:
		buff = AppendUint64ToBufferLE(buff, uint64(val.(int64)))
	case types.ColumnTypeIDFloat:
		buff = AppendFloat64ToBufferLE(buff, val.(float64))
	case types.ColumnTypeIDBool:
		buff = AppendBoolToBuffer(buff, val.(bool))
	case types.ColumnTypeIDDecimal:
		dec := val.(types.Decimal)
		buff = AppendUint64ToBufferLE(buff, uint64(dec.Num.HighBits()))
		buff = AppendUint64ToBufferLE(buff, dec.Num.LowBits())
	case types.ColumnTypeIDString:
		buff = AppendStringToBufferLE(buff, val.(string))
	case types.ColumnTypeIDBytes:
		buff = AppendBytesToBufferLE(buff, val.([]byte))
	case types.ColumnTypeIDTimestamp:
		buff = AppendUint64ToBufferLE(buff, uint64(val.(types.Timestamp).Val))
	case types.ColumnTypeIDArray:
		elemType := colType.(*types.ArrayType).ElementType
		arr := val.([]any)
		buff = AppendUint32ToBufferLE(buff, uint32(len(arr)))
		for _, elem := range arr {
			var err error
			buff, err = EncodeRowCol(buff, elem, elemType)
			if err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.Errorf("unexpected column type %s", colType.String())
	}
	return buff, nil
}

func DecodeRowToSlice(buffer []byte, offset int, columnTypes []types.ColumnType) ([]any, int, error) {
	row := make([]any, len(columnTypes))
	for i, colType := range columnTypes {
		var err error
		row[i], offset, err = DecodeRowCol(buffer, offset, colType)
		if err != nil {
			return nil, 0, err
		}
	}
	return row, offset, nil
}

func DecodeRowCol(buffer []byte, offset int, colType types.ColumnType) (any, int, error) {
	if buffer[offset] == 0 {
		return nil, offset + 1, nil
	}
	offset++
	var val any
	switch colType.ID() {
	case types.ColumnTypeIDInt:
		var u uint64
		u, offset = ReadUint64FromBufferLE(buffer, offset)
		val = int64(u)
	case types.ColumnTypeIDFloat:
		val, offset = ReadFloat64FromBufferLE(buffer, offset)
	case types.ColumnTypeIDBool:
		val, offset = ReadBoolFromBuffer(buffer, offset)
	case types.ColumnTypeIDDecimal:
		decType := colType.(*types.DecimalType)
		var hi, lo uint64
		hi, offset = ReadUint64FromBufferLE(buffer, offset)
		lo, offset = ReadUint64FromBufferLE(buffer, offset)
		val = types.Decimal{
			Num:       decimal128.New(int64(hi), lo),
			Precision: decType.Precision,
			Scale:     decType.Scale,
		}
	case types.ColumnTypeIDString:
		val, offset = ReadStringFromBufferLE(buffer, offset)
	case types.ColumnTypeIDBytes:
		val, offset = ReadBytesFromBufferLE(buffer, offset)
	case types.ColumnTypeIDTimestamp:
		var u uint64
		u, offset = ReadUint64FromBufferLE(buffer, offset)
		val = types.NewTimestamp(int64(u))
	case types.ColumnTypeIDArray:
		elemType := colType.(*types.ArrayType).ElementType
		var l uint32
		l, offset = ReadUint32FromBufferLE(buffer, offset)
		arr := make([]any, l)
		for j := 0; j < int(l); j++ {
			var err error
			arr[j], offset, err = DecodeRowCol(buffer, offset, elemType)
			if err != nil {
				return nil, 0, err
			}
		}
		val = arr
	default:
		return nil, 0, errors.Errorf("unexpected column type %s", colType.String())
	}
	return val, offset, nil
}
