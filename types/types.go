package types

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matview-io/matview/errors"
)

type ColumnTypeID int

const (
	ColumnTypeIDInt = iota + 1
	ColumnTypeIDFloat
	ColumnTypeIDBool
	ColumnTypeIDDecimal
	ColumnTypeIDString
	ColumnTypeIDBytes
	ColumnTypeIDTimestamp
	ColumnTypeIDArray
)

type ColumnType interface {
	ID() ColumnTypeID
	String() string
}

var ColumnTypeInt = &nonParameterizedType{id: ColumnTypeIDInt}
var ColumnTypeFloat = &nonParameterizedType{id: ColumnTypeIDFloat}
var ColumnTypeBool = &nonParameterizedType{id: ColumnTypeIDBool}
var ColumnTypeString = &nonParameterizedType{id: ColumnTypeIDString}
var ColumnTypeBytes = &nonParameterizedType{id: ColumnTypeIDBytes}
var ColumnTypeTimestamp = &nonParameterizedType{id: ColumnTypeIDTimestamp}

type nonParameterizedType struct {
	id ColumnTypeID
}

func (n nonParameterizedType) ID() ColumnTypeID {
	return n.id
}

func (n nonParameterizedType) String() string {
	switch n.id {
	case ColumnTypeIDInt:
		return "int"
	case ColumnTypeIDFloat:
		return "float"
	case ColumnTypeIDBool:
		return "bool"
	case ColumnTypeIDString:
		return "string"
	case ColumnTypeIDBytes:
		return "bytes"
	case ColumnTypeIDTimestamp:
		return "timestamp"
	default:
		panic("unexpected type")
	}
}

type DecimalType struct {
	Precision int
	Scale     int
}

func (d *DecimalType) ID() ColumnTypeID {
	return ColumnTypeIDDecimal
}

func (d *DecimalType) String() string {
	return fmt.Sprintf("decimal(%d,%d)", d.Precision, d.Scale)
}

type ArrayType struct {
	ElementType ColumnType
}

func (a *ArrayType) ID() ColumnTypeID {
	return ColumnTypeIDArray
}

func (a *ArrayType) String() string {
	return fmt.Sprintf("array<%s>", a.ElementType.String())
}

func ColumnTypesEqual(ct1 ColumnType, ct2 ColumnType) bool {
	if ct1.ID() != ct2.ID() {
		return false
	}
	switch t1 := ct1.(type) {
	case *DecimalType:
		t2, ok := ct2.(*DecimalType)
		if !ok {
			return false
		}
		return t1.Scale == t2.Scale && t1.Precision == t2.Precision
	case *ArrayType:
		t2, ok := ct2.(*ArrayType)
		if !ok {
			return false
		}
		return ColumnTypesEqual(t1.ElementType, t2.ElementType)
	default:
		return true
	}
}

func ColumnTypesToString(columnTypes []ColumnType) string {
	var sb strings.Builder
	for i, ct := range columnTypes {
		sb.WriteString(ct.String())
		if i != len(columnTypes)-1 {
			sb.WriteString(",")
		}
	}
	return sb.String()
}

// StringToColumnType parses a textual type name. Both the native names
// (int, float, ...) and the SQL spellings used in statements (BIGINT,
// VARCHAR, ARRAY<...>, DECIMAL(p,s), ...) are accepted, case-insensitively.
func StringToColumnType(sColumnType string) (ColumnType, error) {
	s := strings.TrimSpace(strings.ToLower(sColumnType))
	switch s {
	case "int", "integer", "bigint":
		return ColumnTypeInt, nil
	case "float", "double", "double precision":
		return ColumnTypeFloat, nil
	case "bool", "boolean":
		return ColumnTypeBool, nil
	case "string", "varchar", "varchar(string)":
		return ColumnTypeString, nil
	case "bytes":
		return ColumnTypeBytes, nil
	case "timestamp":
		return ColumnTypeTimestamp, nil
	}
	if strings.HasPrefix(s, "decimal(") && strings.HasSuffix(s, ")") {
		return parseDecimalType(s)
	}
	if strings.HasPrefix(s, "array<") && strings.HasSuffix(s, ">") {
		elemType, err := StringToColumnType(s[6 : len(s)-1])
		if err != nil {
			return nil, err
		}
		return &ArrayType{ElementType: elemType}, nil
	}
	return nil, errors.NewTypeErrorf("invalid type '%s'", sColumnType)
}

func parseDecimalType(s string) (ColumnType, error) {
	rem := s[8 : len(s)-1]
	comIndex := strings.IndexRune(rem, ',')
	if comIndex == -1 {
		return nil, errors.NewTypeErrorf("invalid decimal type: %s", s)
	}
	sPrec := strings.TrimSpace(rem[:comIndex])
	sScale := strings.TrimSpace(rem[comIndex+1:])
	prec, err := strconv.Atoi(sPrec)
	if err != nil {
		return nil, errors.NewTypeErrorf("invalid decimal precision, not a valid integer: %s", sPrec)
	}
	if prec < 1 || prec > 38 {
		return nil, errors.NewTypeErrorf("invalid decimal precision, must be >= 1 and <= 38: %s", s)
	}
	scale, err := strconv.Atoi(sScale)
	if err != nil {
		return nil, errors.NewTypeErrorf("invalid decimal scale, not a valid integer: %s", sScale)
	}
	if scale < 0 || scale > 38 {
		return nil, errors.NewTypeErrorf("invalid decimal scale, must be >= 0 and <= 38: %s", s)
	}
	if scale > prec {
		return nil, errors.NewTypeErrorf("invalid decimal scale, cannot be > precision: %s", s)
	}
	return &DecimalType{Precision: prec, Scale: scale}, nil
}

type Timestamp struct {
	Val int64
}

func NewTimestamp(val int64) Timestamp {
	return Timestamp{Val: val}
}
