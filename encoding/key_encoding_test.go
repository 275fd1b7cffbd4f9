package encoding

import (
	"bytes"
	"sort"
	"testing"

	"github.com/matview-io/matview/types"
	"github.com/stretchr/testify/require"
)

func TestKeyEncodeRowRoundTrip(t *testing.T) {
	columnTypes := []types.ColumnType{
		types.ColumnTypeInt,
		types.ColumnTypeFloat,
		types.ColumnTypeBool,
		types.ColumnTypeString,
		types.ColumnTypeBytes,
		types.ColumnTypeTimestamp,
	}
	row := []any{int64(-1234), 3.25, true, "quux", []byte("raw"), types.NewTimestamp(123456)}
	buff, err := KeyEncodeRow(nil, row, columnTypes)
	require.NoError(t, err)
	decoded, offset, err := DecodeKeyToSlice(buff, 0, columnTypes)
	require.NoError(t, err)
	require.Equal(t, len(buff), offset)
	require.Equal(t, row, decoded)
}

func TestKeyEncodeRowNullColumns(t *testing.T) {
	columnTypes := []types.ColumnType{types.ColumnTypeInt, types.ColumnTypeString}
	row := []any{nil, nil}
	buff, err := KeyEncodeRow(nil, row, columnTypes)
	require.NoError(t, err)
	decoded, _, err := DecodeKeyToSlice(buff, 0, columnTypes)
	require.NoError(t, err)
	require.Equal(t, []any{nil, nil}, decoded)
}

func TestKeyEncodeIntOrdering(t *testing.T) {
	vals := []int64{-9223372036854775808, -1000000, -1, 0, 1, 42, 1000000, 9223372036854775807}
	var encoded [][]byte
	for _, v := range vals {
		encoded = append(encoded, KeyEncodeInt(nil, v))
	}
	require.True(t, sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}))
	for i, v := range vals {
		dec, _ := KeyDecodeInt(encoded[i], 0)
		require.Equal(t, v, dec)
	}
}

func TestKeyEncodeFloatOrdering(t *testing.T) {
	vals := []float64{-1e10, -2.5, -0.001, 0, 0.001, 1.5, 2.5, 1e10}
	var encoded [][]byte
	for _, v := range vals {
		encoded = append(encoded, KeyEncodeFloat(nil, v))
	}
	require.True(t, sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}))
	for i, v := range vals {
		dec, _ := KeyDecodeFloat(encoded[i], 0)
		require.Equal(t, v, dec)
	}
}

func TestKeyEncodeStringOrdering(t *testing.T) {
	// Lengths straddle the 8 byte group size so the chunked encoding gets
	// exercised across group boundaries.
	vals := []string{"", "a", "aardvark", "aardvarks", "b", "bbbbbbbb", "bbbbbbbbb", "z"}
	var encoded [][]byte
	for _, v := range vals {
		encoded = append(encoded, KeyEncodeString(nil, v))
	}
	require.True(t, sort.SliceIsSorted(encoded, func(i, j int) bool {
		return bytes.Compare(encoded[i], encoded[j]) < 0
	}))
	for i, v := range vals {
		dec, _, err := KeyDecodeString(encoded[i], 0)
		require.NoError(t, err)
		require.Equal(t, v, dec)
	}
}

func TestKeyEncodeStringNoPrefixCollision(t *testing.T) {
	// "ab" followed by another key column must not compare as a prefix of
	// "abc" - the chunk terminator keeps them apart.
	short, err := KeyEncodeRow(nil, []any{"ab", int64(999)},
		[]types.ColumnType{types.ColumnTypeString, types.ColumnTypeInt})
	require.NoError(t, err)
	long, err := KeyEncodeRow(nil, []any{"abc", int64(0)},
		[]types.ColumnType{types.ColumnTypeString, types.ColumnTypeInt})
	require.NoError(t, err)
	require.Negative(t, bytes.Compare(short, long))
}

func TestKeyEncodeDecimalRoundTrip(t *testing.T) {
	dec, err := types.NewDecimalFromString("12345.6789", 20, 4)
	require.NoError(t, err)
	colTypes := []types.ColumnType{&types.DecimalType{Precision: 20, Scale: 4}}
	buff, err := KeyEncodeRow(nil, []any{dec}, colTypes)
	require.NoError(t, err)
	decoded, _, err := DecodeKeyToSlice(buff, 0, colTypes)
	require.NoError(t, err)
	require.Equal(t, dec, decoded[0])
}

func TestEncodeVersion(t *testing.T) {
	key := []byte("somekey")
	versioned := EncodeVersion(key, 37)
	require.Equal(t, len(key)+8, len(versioned))
	require.Equal(t, uint64(37), DecodeVersion(versioned))
}
