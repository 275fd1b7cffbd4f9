package sdata

import (
	"strings"

	"github.com/matview-io/matview/types"
)

const OffsetColName = "offset"
const EventTimeColName = "event_time"

// Schema describes the ordered, typed columns of a row. Column values in a
// Row are positional, matching the schema order.
type Schema struct {
	columnNames []string
	columnTypes []types.ColumnType
	indexes     map[string]int
}

func NewSchema(columnNames []string, columnTypes []types.ColumnType) *Schema {
	if len(columnNames) != len(columnTypes) {
		panic("column names and types must have same length")
	}
	indexes := make(map[string]int, len(columnNames))
	for i, name := range columnNames {
		indexes[name] = i
	}
	return &Schema{
		columnNames: columnNames,
		columnTypes: columnTypes,
		indexes:     indexes,
	}
}

func (s *Schema) ColumnNames() []string {
	return s.columnNames
}

func (s *Schema) ColumnTypes() []types.ColumnType {
	return s.columnTypes
}

func (s *Schema) ColumnCount() int {
	return len(s.columnNames)
}

func (s *Schema) ColumnIndex(name string) (int, bool) {
	index, ok := s.indexes[name]
	return index, ok
}

func (s *Schema) ColumnType(name string) (types.ColumnType, bool) {
	index, ok := s.indexes[name]
	if !ok {
		return nil, false
	}
	return s.columnTypes[index], true
}

func (s *Schema) Equal(other *Schema) bool {
	if len(s.columnNames) != len(other.columnNames) {
		return false
	}
	for i, name := range s.columnNames {
		if name != other.columnNames[i] {
			return false
		}
		if !types.ColumnTypesEqual(s.columnTypes[i], other.columnTypes[i]) {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	var sb strings.Builder
	for i, name := range s.columnNames {
		sb.WriteString(name)
		sb.WriteString(":")
		sb.WriteString(s.columnTypes[i].String())
		if i != len(s.columnNames)-1 {
			sb.WriteString(", ")
		}
	}
	return sb.String()
}
