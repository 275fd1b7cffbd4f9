package codec

import (
	"strconv"
	"strings"

	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/sdata"
	"github.com/matview-io/matview/types"
)

// DelimitedCodec writes values comma separated in schema order. An empty
// field is a null. Arrays and bytes have no delimited representation.
type DelimitedCodec struct {
}

func (d *DelimitedCodec) Name() string {
	return "DELIMITED"
}

func (d *DelimitedCodec) EncodeRow(row sdata.Row, schema *sdata.Schema) ([]byte, error) {
	var sb strings.Builder
	for i, colType := range schema.ColumnTypes() {
		if i > 0 {
			sb.WriteString(",")
		}
		if row[i] == nil {
			continue
		}
		field, err := encodeField(row[i], colType)
		if err != nil {
			return nil, err
		}
		sb.WriteString(field)
	}
	return []byte(sb.String()), nil
}

func (d *DelimitedCodec) DecodeRow(payload []byte, schema *sdata.Schema) (sdata.Row, error) {
	fields := strings.Split(string(payload), ",")
	if len(fields) != schema.ColumnCount() {
		return nil, errors.NewMatViewErrorf(errors.SerializationError,
			"delimited payload has %d fields, schema has %d columns", len(fields), schema.ColumnCount())
	}
	row := make(sdata.Row, schema.ColumnCount())
	for i, colType := range schema.ColumnTypes() {
		field := strings.TrimSpace(fields[i])
		if field == "" {
			continue
		}
		val, err := decodeField(field, colType)
		if err != nil {
			return nil, err
		}
		row[i] = val
	}
	return row, nil
}

func (d *DelimitedCodec) EncodeKey(key sdata.Row, schema *sdata.Schema) ([]byte, error) {
	return d.EncodeRow(key, schema)
}

func (d *DelimitedCodec) DecodeKey(payload []byte, schema *sdata.Schema) (sdata.Row, error) {
	return d.DecodeRow(payload, schema)
}

func encodeField(val any, colType types.ColumnType) (string, error) {
	switch colType.ID() {
	case types.ColumnTypeIDInt:
		return strconv.FormatInt(val.(int64), 10), nil
	case types.ColumnTypeIDFloat:
		return strconv.FormatFloat(val.(float64), 'g', -1, 64), nil
	case types.ColumnTypeIDBool:
		return strconv.FormatBool(val.(bool)), nil
	case types.ColumnTypeIDString:
		return val.(string), nil
	case types.ColumnTypeIDTimestamp:
		return strconv.FormatInt(val.(types.Timestamp).Val, 10), nil
	case types.ColumnTypeIDDecimal:
		dec := val.(types.Decimal)
		return dec.String(), nil
	default:
		return "", errors.NewMatViewErrorf(errors.SerializationError,
			"column type %s has no delimited representation", colType.String())
	}
}

func decodeField(field string, colType types.ColumnType) (any, error) {
	var val any
	var err error
	switch colType.ID() {
	case types.ColumnTypeIDInt:
		val, err = strconv.ParseInt(field, 10, 64)
	case types.ColumnTypeIDFloat:
		val, err = strconv.ParseFloat(field, 64)
	case types.ColumnTypeIDBool:
		val, err = strconv.ParseBool(field)
	case types.ColumnTypeIDString:
		val = field
	case types.ColumnTypeIDTimestamp:
		var ms int64
		ms, err = strconv.ParseInt(field, 10, 64)
		val = types.NewTimestamp(ms)
	case types.ColumnTypeIDDecimal:
		decType := colType.(*types.DecimalType)
		val, err = types.NewDecimalFromString(field, decType.Precision, decType.Scale)
	default:
		return nil, errors.NewMatViewErrorf(errors.SerializationError,
			"column type %s has no delimited representation", colType.String())
	}
	if err != nil {
		return nil, errors.NewMatViewErrorf(errors.SerializationError,
			"cannot decode delimited field '%s' as %s", field, colType.String())
	}
	return val, nil
}
