package encoding

import (
	"testing"

	"github.com/matview-io/matview/types"
	"github.com/stretchr/testify/require"
)

func TestEncodeRowColsRoundTrip(t *testing.T) {
	dec, err := types.NewDecimalFromString("-0.05", 10, 2)
	require.NoError(t, err)
	columnTypes := []types.ColumnType{
		types.ColumnTypeInt,
		types.ColumnTypeFloat,
		types.ColumnTypeBool,
		&types.DecimalType{Precision: 10, Scale: 2},
		types.ColumnTypeString,
		types.ColumnTypeBytes,
		types.ColumnTypeTimestamp,
	}
	row := []any{int64(-42), 1.5, false, dec, "hello", []byte{0, 1, 2}, types.NewTimestamp(99)}
	buff, err := EncodeRowCols(nil, row, columnTypes)
	require.NoError(t, err)
	decoded, offset, err := DecodeRowToSlice(buff, 0, columnTypes)
	require.NoError(t, err)
	require.Equal(t, len(buff), offset)
	require.Equal(t, row, decoded)
}

func TestEncodeRowColsNulls(t *testing.T) {
	columnTypes := []types.ColumnType{types.ColumnTypeInt, types.ColumnTypeString}
	buff, err := EncodeRowCols(nil, []any{nil, "x"}, columnTypes)
	require.NoError(t, err)
	decoded, _, err := DecodeRowToSlice(buff, 0, columnTypes)
	require.NoError(t, err)
	require.Equal(t, []any{nil, "x"}, decoded)
}

func TestEncodeArrayColumn(t *testing.T) {
	colType := &types.ArrayType{ElementType: types.ColumnTypeString}
	arr := []any{"a", nil, "c"}
	buff, err := EncodeRowCol(nil, arr, colType)
	require.NoError(t, err)
	decoded, _, err := DecodeRowCol(buff, 0, colType)
	require.NoError(t, err)
	require.Equal(t, arr, decoded)
}

func TestEncodeEmptyArrayStaysDistinctFromNull(t *testing.T) {
	colType := &types.ArrayType{ElementType: types.ColumnTypeInt}
	buff, err := EncodeRowCol(nil, []any{}, colType)
	require.NoError(t, err)
	decoded, _, err := DecodeRowCol(buff, 0, colType)
	require.NoError(t, err)
	require.NotNil(t, decoded)
	require.Equal(t, []any{}, decoded)

	buff, err = EncodeRowCol(nil, nil, colType)
	require.NoError(t, err)
	decoded, _, err = DecodeRowCol(buff, 0, colType)
	require.NoError(t, err)
	require.Nil(t, decoded)
}

func TestEncodeNestedArray(t *testing.T) {
	colType := &types.ArrayType{ElementType: &types.ArrayType{ElementType: types.ColumnTypeInt}}
	arr := []any{[]any{int64(1), int64(2)}, []any{}}
	buff, err := EncodeRowCol(nil, arr, colType)
	require.NoError(t, err)
	decoded, _, err := DecodeRowCol(buff, 0, colType)
	require.NoError(t, err)
	require.Equal(t, arr, decoded)
}
