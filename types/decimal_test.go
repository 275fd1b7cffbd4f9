package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecimalFromString(t *testing.T) {
	dec, err := NewDecimalFromString("123.456", 10, 3)
	require.NoError(t, err)
	require.Equal(t, "123.456", dec.String())
	require.Equal(t, 123.456, dec.ToFloat64())

	_, err = NewDecimalFromString("not a number", 10, 3)
	require.Error(t, err)
}

func TestDecimalAddSubtract(t *testing.T) {
	d1, err := NewDecimalFromString("10.50", 10, 2)
	require.NoError(t, err)
	d2, err := NewDecimalFromString("0.25", 10, 2)
	require.NoError(t, err)

	sum, err := d1.Add(&d2)
	require.NoError(t, err)
	require.Equal(t, "10.75", sum.String())

	diff, err := sum.Subtract(&d2)
	require.NoError(t, err)
	require.True(t, diff.Equals(&d1))
}

func TestDecimalAddDifferentScales(t *testing.T) {
	d1, err := NewDecimalFromString("1.5", 10, 1)
	require.NoError(t, err)
	d2, err := NewDecimalFromString("0.25", 10, 2)
	require.NoError(t, err)
	// The result carries the receiver's scale; 0.25 rounds to 0.3 at scale 1.
	sum, err := d1.Add(&d2)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Scale)
	require.Equal(t, "1.8", sum.String())
}

func TestDecimalLess(t *testing.T) {
	d1, err := NewDecimalFromString("-5.00", 10, 2)
	require.NoError(t, err)
	d2, err := NewDecimalFromString("2.50", 10, 2)
	require.NoError(t, err)
	require.True(t, d1.Less(&d2))
	require.False(t, d2.Less(&d1))
	require.False(t, d1.Less(&d1))
}

func TestDecimalLessDifferentScales(t *testing.T) {
	d1, err := NewDecimalFromString("1.2", 10, 1)
	require.NoError(t, err)
	d2, err := NewDecimalFromString("1.25", 10, 2)
	require.NoError(t, err)
	require.True(t, d1.Less(&d2))
	require.False(t, d2.Less(&d1))
}

func TestDecimalFromInt64(t *testing.T) {
	dec := NewDecimalFromInt64(42, 10, 2)
	require.Equal(t, "42.00", dec.String())
}

func TestStringToColumnType(t *testing.T) {
	cases := []struct {
		input    string
		expected ColumnType
	}{
		{"int", ColumnTypeInt},
		{"BIGINT", ColumnTypeInt},
		{"integer", ColumnTypeInt},
		{"double", ColumnTypeFloat},
		{"BOOLEAN", ColumnTypeBool},
		{"VARCHAR", ColumnTypeString},
		{"string", ColumnTypeString},
		{"bytes", ColumnTypeBytes},
		{"TIMESTAMP", ColumnTypeTimestamp},
		{"DECIMAL(10, 2)", &DecimalType{Precision: 10, Scale: 2}},
		{"array<bigint>", &ArrayType{ElementType: ColumnTypeInt}},
		{"ARRAY<ARRAY<VARCHAR>>", &ArrayType{ElementType: &ArrayType{ElementType: ColumnTypeString}}},
	}
	for _, tc := range cases {
		colType, err := StringToColumnType(tc.input)
		require.NoError(t, err, tc.input)
		require.True(t, ColumnTypesEqual(tc.expected, colType), tc.input)
	}
}

func TestStringToColumnTypeErrors(t *testing.T) {
	for _, input := range []string{
		"wibble",
		"decimal(0, 0)",
		"decimal(39, 2)",
		"decimal(5, 6)",
		"decimal(5)",
		"array<wibble>",
	} {
		_, err := StringToColumnType(input)
		require.Error(t, err, input)
	}
}
