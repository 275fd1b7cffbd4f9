package opers

import (
	"bytes"

	"github.com/matview-io/matview/encoding"
	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/types"
)

// AggFunc is one aggregate function variant. State is an opaque per-key
// accumulator: nil means the function has never seen a value for the key.
// Update folds one record in; Retract undoes a previously applied value when
// the source is a table and an upsert replaces an old row. Functions that
// cannot undo report SupportsRetraction false and are rejected at plan time
// for table sources.
type AggFunc interface {
	Name() string
	ReturnType(argType types.ColumnType) (types.ColumnType, error)
	SupportsRetraction() bool
	Update(state any, val any, offset int64) (any, error)
	Retract(state any, val any) (any, error)
	Extract(state any) any
	EncodeState(buff []byte, state any, argType types.ColumnType) ([]byte, error)
	DecodeState(buff []byte, offset int, argType types.ColumnType) (any, int, error)
}

var aggFuncsMap = map[string]AggFunc{
	"count":              &countAggFunc{},
	"sum":                &sumAggFunc{},
	"min":                &minAggFunc{},
	"max":                &maxAggFunc{},
	"latest_by_offset":   &latestByOffsetAggFunc{},
	"earliest_by_offset": &earliestByOffsetAggFunc{},
	"collect_list":       &collectListAggFunc{},
}

func GetAggFunc(name string) (AggFunc, error) {
	f, ok := aggFuncsMap[name]
	if !ok {
		return nil, errors.NewStatementErrorf("unknown aggregate function '%s'", name)
	}
	return f, nil
}

// offsetState is the accumulator for the *_by_offset functions: the value
// plus the offset it was observed at. Offsets on a repartitioned stream are
// the source offsets, which preserve per-source-partition order.
type offsetState struct {
	offset int64
	val    any
}

type latestByOffsetAggFunc struct{}

func (l *latestByOffsetAggFunc) Name() string {
	return "latest_by_offset"
}

func (l *latestByOffsetAggFunc) ReturnType(argType types.ColumnType) (types.ColumnType, error) {
	return argType, nil
}

func (l *latestByOffsetAggFunc) SupportsRetraction() bool {
	return true
}

func (l *latestByOffsetAggFunc) Update(state any, val any, offset int64) (any, error) {
	// A null input never replaces a previously captured value. The key still
	// gets an emission for this record - that happens above us.
	if val == nil {
		return state, nil
	}
	if state == nil {
		return &offsetState{offset: offset, val: val}, nil
	}
	os := state.(*offsetState)
	if offset >= os.offset {
		return &offsetState{offset: offset, val: val}, nil
	}
	return state, nil
}

func (l *latestByOffsetAggFunc) Retract(state any, _ any) (any, error) {
	// Retracting the current row of a table key clears the capture - the
	// following add re-establishes it from the new row.
	return nil, nil
}

func (l *latestByOffsetAggFunc) Extract(state any) any {
	if state == nil {
		return nil
	}
	return state.(*offsetState).val
}

func (l *latestByOffsetAggFunc) EncodeState(buff []byte, state any, argType types.ColumnType) ([]byte, error) {
	return encodeOffsetState(buff, state, argType)
}

func (l *latestByOffsetAggFunc) DecodeState(buff []byte, offset int, argType types.ColumnType) (any, int, error) {
	return decodeOffsetState(buff, offset, argType)
}

type earliestByOffsetAggFunc struct{}

func (e *earliestByOffsetAggFunc) Name() string {
	return "earliest_by_offset"
}

func (e *earliestByOffsetAggFunc) ReturnType(argType types.ColumnType) (types.ColumnType, error) {
	return argType, nil
}

func (e *earliestByOffsetAggFunc) SupportsRetraction() bool {
	return true
}

func (e *earliestByOffsetAggFunc) Update(state any, val any, offset int64) (any, error) {
	if val == nil {
		return state, nil
	}
	if state == nil || offset < state.(*offsetState).offset {
		return &offsetState{offset: offset, val: val}, nil
	}
	return state, nil
}

func (e *earliestByOffsetAggFunc) Retract(state any, _ any) (any, error) {
	return nil, nil
}

func (e *earliestByOffsetAggFunc) Extract(state any) any {
	if state == nil {
		return nil
	}
	return state.(*offsetState).val
}

func (e *earliestByOffsetAggFunc) EncodeState(buff []byte, state any, argType types.ColumnType) ([]byte, error) {
	return encodeOffsetState(buff, state, argType)
}

func (e *earliestByOffsetAggFunc) DecodeState(buff []byte, offset int, argType types.ColumnType) (any, int, error) {
	return decodeOffsetState(buff, offset, argType)
}

func encodeOffsetState(buff []byte, state any, argType types.ColumnType) ([]byte, error) {
	if state == nil {
		return append(buff, 0), nil
	}
	os := state.(*offsetState)
	buff = append(buff, 1)
	buff = encoding.AppendUint64ToBufferLE(buff, uint64(os.offset))
	return encoding.EncodeRowCol(buff, os.val, argType)
}

func decodeOffsetState(buff []byte, offset int, argType types.ColumnType) (any, int, error) {
	if buff[offset] == 0 {
		return nil, offset + 1, nil
	}
	offset++
	var u uint64
	u, offset = encoding.ReadUint64FromBufferLE(buff, offset)
	val, offset, err := encoding.DecodeRowCol(buff, offset, argType)
	if err != nil {
		return nil, 0, err
	}
	return &offsetState{offset: int64(u), val: val}, offset, nil
}

// collectListAggFunc accumulates every non-null value seen for the key, in
// arrival order, duplicates included. Retraction removes the first occurrence
// equal to the retracted value, leaving an empty (non-nil) list when the last
// element goes - that empty list is a legitimate emission.
type collectListAggFunc struct{}

func (c *collectListAggFunc) Name() string {
	return "collect_list"
}

func (c *collectListAggFunc) ReturnType(argType types.ColumnType) (types.ColumnType, error) {
	return &types.ArrayType{ElementType: argType}, nil
}

func (c *collectListAggFunc) SupportsRetraction() bool {
	return true
}

func (c *collectListAggFunc) Update(state any, val any, _ int64) (any, error) {
	if val == nil {
		if state == nil {
			return []any{}, nil
		}
		return state, nil
	}
	if state == nil {
		return []any{val}, nil
	}
	return append(state.([]any), val), nil
}

func (c *collectListAggFunc) Retract(state any, val any) (any, error) {
	if state == nil || val == nil {
		return state, nil
	}
	list := state.([]any)
	for i, elem := range list {
		if valuesEqual(elem, val) {
			res := make([]any, 0, len(list)-1)
			res = append(res, list[:i]...)
			return append(res, list[i+1:]...), nil
		}
	}
	return list, nil
}

func (c *collectListAggFunc) Extract(state any) any {
	return state
}

func (c *collectListAggFunc) EncodeState(buff []byte, state any, argType types.ColumnType) ([]byte, error) {
	return encoding.EncodeRowCol(buff, state, &types.ArrayType{ElementType: argType})
}

func (c *collectListAggFunc) DecodeState(buff []byte, offset int, argType types.ColumnType) (any, int, error) {
	return encoding.DecodeRowCol(buff, offset, &types.ArrayType{ElementType: argType})
}

type countAggFunc struct{}

func (c *countAggFunc) Name() string {
	return "count"
}

func (c *countAggFunc) ReturnType(_ types.ColumnType) (types.ColumnType, error) {
	return types.ColumnTypeInt, nil
}

func (c *countAggFunc) SupportsRetraction() bool {
	return true
}

func (c *countAggFunc) Update(state any, val any, _ int64) (any, error) {
	count := int64(0)
	if state != nil {
		count = state.(int64)
	}
	if val != nil {
		count++
	}
	return count, nil
}

func (c *countAggFunc) Retract(state any, val any) (any, error) {
	if state == nil || val == nil {
		return state, nil
	}
	count := state.(int64)
	if count > 0 {
		count--
	}
	return count, nil
}

func (c *countAggFunc) Extract(state any) any {
	if state == nil {
		return int64(0)
	}
	return state
}

func (c *countAggFunc) EncodeState(buff []byte, state any, _ types.ColumnType) ([]byte, error) {
	return encoding.EncodeRowCol(buff, state, types.ColumnTypeInt)
}

func (c *countAggFunc) DecodeState(buff []byte, offset int, _ types.ColumnType) (any, int, error) {
	return encoding.DecodeRowCol(buff, offset, types.ColumnTypeInt)
}

type sumAggFunc struct{}

func (s *sumAggFunc) Name() string {
	return "sum"
}

func (s *sumAggFunc) ReturnType(argType types.ColumnType) (types.ColumnType, error) {
	switch argType.ID() {
	case types.ColumnTypeIDInt, types.ColumnTypeIDFloat, types.ColumnTypeIDDecimal:
		return argType, nil
	default:
		return nil, errors.NewStatementErrorf("sum cannot be applied to type %s", argType.String())
	}
}

func (s *sumAggFunc) SupportsRetraction() bool {
	return true
}

func (s *sumAggFunc) Update(state any, val any, _ int64) (any, error) {
	if val == nil {
		return state, nil
	}
	if state == nil {
		return val, nil
	}
	switch curr := state.(type) {
	case int64:
		return curr + val.(int64), nil
	case float64:
		return curr + val.(float64), nil
	case types.Decimal:
		dec := val.(types.Decimal)
		return curr.Add(&dec)
	default:
		return nil, errors.Errorf("unexpected sum state type %T", state)
	}
}

func (s *sumAggFunc) Retract(state any, val any) (any, error) {
	if state == nil || val == nil {
		return state, nil
	}
	switch curr := state.(type) {
	case int64:
		return curr - val.(int64), nil
	case float64:
		return curr - val.(float64), nil
	case types.Decimal:
		dec := val.(types.Decimal)
		return curr.Subtract(&dec)
	default:
		return nil, errors.Errorf("unexpected sum state type %T", state)
	}
}

func (s *sumAggFunc) Extract(state any) any {
	return state
}

func (s *sumAggFunc) EncodeState(buff []byte, state any, argType types.ColumnType) ([]byte, error) {
	return encoding.EncodeRowCol(buff, state, argType)
}

func (s *sumAggFunc) DecodeState(buff []byte, offset int, argType types.ColumnType) (any, int, error) {
	return encoding.DecodeRowCol(buff, offset, argType)
}

type minAggFunc struct{}

func (m *minAggFunc) Name() string {
	return "min"
}

func (m *minAggFunc) ReturnType(argType types.ColumnType) (types.ColumnType, error) {
	return argType, nil
}

func (m *minAggFunc) SupportsRetraction() bool {
	// Removing the extremum would require rescanning every value ever seen.
	return false
}

func (m *minAggFunc) Update(state any, val any, _ int64) (any, error) {
	if val == nil {
		return state, nil
	}
	if state == nil {
		return val, nil
	}
	less, err := valueLess(val, state)
	if err != nil {
		return nil, err
	}
	if less {
		return val, nil
	}
	return state, nil
}

func (m *minAggFunc) Retract(_ any, _ any) (any, error) {
	return nil, errors.NewStatementErrorf("min cannot be retracted")
}

func (m *minAggFunc) Extract(state any) any {
	return state
}

func (m *minAggFunc) EncodeState(buff []byte, state any, argType types.ColumnType) ([]byte, error) {
	return encoding.EncodeRowCol(buff, state, argType)
}

func (m *minAggFunc) DecodeState(buff []byte, offset int, argType types.ColumnType) (any, int, error) {
	return encoding.DecodeRowCol(buff, offset, argType)
}

type maxAggFunc struct{}

func (m *maxAggFunc) Name() string {
	return "max"
}

func (m *maxAggFunc) ReturnType(argType types.ColumnType) (types.ColumnType, error) {
	return argType, nil
}

func (m *maxAggFunc) SupportsRetraction() bool {
	return false
}

func (m *maxAggFunc) Update(state any, val any, _ int64) (any, error) {
	if val == nil {
		return state, nil
	}
	if state == nil {
		return val, nil
	}
	less, err := valueLess(state, val)
	if err != nil {
		return nil, err
	}
	if less {
		return val, nil
	}
	return state, nil
}

func (m *maxAggFunc) Retract(_ any, _ any) (any, error) {
	return nil, errors.NewStatementErrorf("max cannot be retracted")
}

func (m *maxAggFunc) Extract(state any) any {
	return state
}

func (m *maxAggFunc) EncodeState(buff []byte, state any, argType types.ColumnType) ([]byte, error) {
	return encoding.EncodeRowCol(buff, state, argType)
}

func (m *maxAggFunc) DecodeState(buff []byte, offset int, argType types.ColumnType) (any, int, error) {
	return encoding.DecodeRowCol(buff, offset, argType)
}

func valueLess(a any, b any) (bool, error) {
	switch av := a.(type) {
	case int64:
		return av < b.(int64), nil
	case float64:
		return av < b.(float64), nil
	case string:
		return av < b.(string), nil
	case bool:
		return !av && b.(bool), nil
	case []byte:
		return bytes.Compare(av, b.([]byte)) < 0, nil
	case types.Timestamp:
		return av.Val < b.(types.Timestamp).Val, nil
	case types.Decimal:
		bd := b.(types.Decimal)
		return av.Less(&bd), nil
	default:
		return false, errors.Errorf("type %T has no ordering", a)
	}
}

func valuesEqual(a any, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case types.Decimal:
		bv, ok := b.(types.Decimal)
		return ok && av.Equals(&bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
