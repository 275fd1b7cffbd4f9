package sdata

import (
	"github.com/matview-io/matview/types"
)

// Row holds positional column values. Valid element types are int64, float64,
// bool, types.Decimal, string, []byte, types.Timestamp and []any for arrays.
// A nil element is a null column value.
type Row []any

func (r Row) IsNull(colIndex int) bool {
	return r[colIndex] == nil
}

// Record is one change flowing through the dataflow. A nil Value with a
// non-nil Key is a tombstone. Retraction marks the UNDO half of a table
// upsert after the grouping stage.
type Record struct {
	Key        Row
	Value      Row
	Offset     int64
	Partition  int
	Timestamp  types.Timestamp
	Retraction bool
}

func (r *Record) IsTombstone() bool {
	return r.Value == nil
}

func CopyRow(row Row) Row {
	if row == nil {
		return nil
	}
	res := make(Row, len(row))
	copy(res, row)
	return res
}
