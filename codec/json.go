package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/sdata"
	"github.com/matview-io/matview/types"
	"github.com/spf13/cast"
)

// JSONCodec maps rows to JSON objects keyed by column name. Numbers are
// decoded through json.Number so integer columns round-trip without float
// precision loss.
type JSONCodec struct {
}

func (j *JSONCodec) Name() string {
	return "JSON"
}

func (j *JSONCodec) EncodeRow(row sdata.Row, schema *sdata.Schema) ([]byte, error) {
	obj := make(map[string]any, schema.ColumnCount())
	for i, name := range schema.ColumnNames() {
		val, err := toJSONValue(row[i], schema.ColumnTypes()[i])
		if err != nil {
			return nil, err
		}
		obj[name] = val
	}
	return json.Marshal(obj)
}

func (j *JSONCodec) DecodeRow(payload []byte, schema *sdata.Schema) (sdata.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	obj := map[string]any{}
	if err := dec.Decode(&obj); err != nil {
		return nil, errors.NewMatViewErrorf(errors.SerializationError, "invalid JSON payload: %v", err)
	}
	row := make(sdata.Row, schema.ColumnCount())
	for i, name := range schema.ColumnNames() {
		raw, ok := obj[name]
		if !ok || raw == nil {
			continue
		}
		val, err := fromJSONValue(raw, schema.ColumnTypes()[i])
		if err != nil {
			return nil, err
		}
		row[i] = val
	}
	return row, nil
}

func (j *JSONCodec) EncodeKey(key sdata.Row, schema *sdata.Schema) ([]byte, error) {
	if schema.ColumnCount() == 1 {
		val, err := toJSONValue(key[0], schema.ColumnTypes()[0])
		if err != nil {
			return nil, err
		}
		return json.Marshal(val)
	}
	return j.EncodeRow(key, schema)
}

func (j *JSONCodec) DecodeKey(payload []byte, schema *sdata.Schema) (sdata.Row, error) {
	if schema.ColumnCount() != 1 {
		return j.DecodeRow(payload, schema)
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.NewMatViewErrorf(errors.SerializationError, "invalid JSON key payload: %v", err)
	}
	key := make(sdata.Row, 1)
	if raw == nil {
		return key, nil
	}
	val, err := fromJSONValue(raw, schema.ColumnTypes()[0])
	if err != nil {
		return nil, err
	}
	key[0] = val
	return key, nil
}

func toJSONValue(val any, colType types.ColumnType) (any, error) {
	if val == nil {
		return nil, nil
	}
	switch colType.ID() {
	case types.ColumnTypeIDInt, types.ColumnTypeIDFloat, types.ColumnTypeIDBool, types.ColumnTypeIDString:
		return val, nil
	case types.ColumnTypeIDBytes:
		return base64.StdEncoding.EncodeToString(val.([]byte)), nil
	case types.ColumnTypeIDTimestamp:
		return val.(types.Timestamp).Val, nil
	case types.ColumnTypeIDDecimal:
		dec := val.(types.Decimal)
		return dec.String(), nil
	case types.ColumnTypeIDArray:
		elemType := colType.(*types.ArrayType).ElementType
		arr := val.([]any)
		res := make([]any, len(arr))
		for i, elem := range arr {
			var err error
			res[i], err = toJSONValue(elem, elemType)
			if err != nil {
				return nil, err
			}
		}
		return res, nil
	default:
		return nil, errors.Errorf("unexpected column type %s", colType.String())
	}
}

func fromJSONValue(raw any, colType types.ColumnType) (any, error) {
	var val any
	var err error
	switch colType.ID() {
	case types.ColumnTypeIDInt:
		val, err = cast.ToInt64E(raw)
	case types.ColumnTypeIDFloat:
		val, err = cast.ToFloat64E(raw)
	case types.ColumnTypeIDBool:
		val, err = cast.ToBoolE(raw)
	case types.ColumnTypeIDString:
		val, err = cast.ToStringE(raw)
	case types.ColumnTypeIDBytes:
		var s string
		s, err = cast.ToStringE(raw)
		if err == nil {
			val, err = base64.StdEncoding.DecodeString(s)
		}
	case types.ColumnTypeIDTimestamp:
		var ms int64
		ms, err = cast.ToInt64E(raw)
		val = types.NewTimestamp(ms)
	case types.ColumnTypeIDDecimal:
		decType := colType.(*types.DecimalType)
		var s string
		s, err = cast.ToStringE(raw)
		if err == nil {
			val, err = types.NewDecimalFromString(s, decType.Precision, decType.Scale)
		}
	case types.ColumnTypeIDArray:
		arr, ok := raw.([]any)
		if !ok {
			return nil, errors.NewMatViewErrorf(errors.SerializationError, "expected JSON array for column type %s", colType.String())
		}
		elemType := colType.(*types.ArrayType).ElementType
		res := make([]any, len(arr))
		for i, elem := range arr {
			if elem == nil {
				continue
			}
			res[i], err = fromJSONValue(elem, elemType)
			if err != nil {
				return nil, err
			}
		}
		val = res
	default:
		return nil, errors.Errorf("unexpected column type %s", colType.String())
	}
	if err != nil {
		return nil, errors.NewMatViewErrorf(errors.SerializationError,
			"cannot decode JSON value %v as %s", raw, colType.String())
	}
	return val, nil
}
