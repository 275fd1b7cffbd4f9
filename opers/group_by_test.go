package opers

import (
	"testing"

	"github.com/matview-io/matview/expr"
	"github.com/matview-io/matview/sdata"
	"github.com/matview-io/matview/types"
	"github.com/stretchr/testify/require"
)

func testSourceSchema(t *testing.T) (*OperatorSchema, []expr.Expression) {
	t.Helper()
	eventSchema := sdata.NewSchema([]string{"ID", "CAT", "F0"},
		[]types.ColumnType{types.ColumnTypeInt, types.ColumnTypeString, types.ColumnTypeInt})
	inSchema := &OperatorSchema{
		EventSchema: eventSchema,
		MappingID:   "q1.source",
		Partitions:  1,
	}
	factory := expr.NewFactory()
	groupExpr, err := factory.CreateExpression("CAT", eventSchema)
	require.NoError(t, err)
	return inSchema, []expr.Expression{groupExpr}
}

func TestGroupByStreamRekeys(t *testing.T) {
	inSchema, groupExprs := testSourceSchema(t)
	errorLog := NewProcessingErrorLog()
	oper := NewGroupByOperator("gb", inSchema, groupExprs, false,
		[]types.ColumnType{types.ColumnTypeInt}, 1, errorLog)
	capture := &captureOperator{schema: oper.OutSchema()}
	oper.AddDownStreamOperator(capture)
	execCtx := newTestExecContext(0)

	rec := &sdata.Record{
		Key:    sdata.Row{int64(0)},
		Value:  sdata.Row{int64(0), "x", int64(5)},
		Offset: 7,
	}
	require.NoError(t, oper.HandleRecord(rec, execCtx))
	require.Len(t, capture.records, 1)
	out := capture.records[0]
	require.Equal(t, sdata.Row{"x"}, out.Key)
	require.Equal(t, rec.Value, out.Value)
	require.Equal(t, int64(7), out.Offset)
	require.False(t, out.Retraction)
}

func TestGroupByFiltersNullKey(t *testing.T) {
	inSchema, groupExprs := testSourceSchema(t)
	errorLog := NewProcessingErrorLog()
	oper := NewGroupByOperator("gb", inSchema, groupExprs, false,
		[]types.ColumnType{types.ColumnTypeInt}, 1, errorLog)
	capture := &captureOperator{schema: oper.OutSchema()}
	oper.AddDownStreamOperator(capture)
	execCtx := newTestExecContext(0)

	rec := &sdata.Record{
		Key:   sdata.Row{int64(0)},
		Value: sdata.Row{int64(0), nil, int64(5)},
	}
	require.NoError(t, oper.HandleRecord(rec, execCtx))
	require.Empty(t, capture.records)
	require.Equal(t, int64(0), errorLog.FailedCount())
}

func TestGroupByStreamSkipsNullValue(t *testing.T) {
	inSchema, groupExprs := testSourceSchema(t)
	oper := NewGroupByOperator("gb", inSchema, groupExprs, false,
		[]types.ColumnType{types.ColumnTypeInt}, 1, NewProcessingErrorLog())
	capture := &captureOperator{schema: oper.OutSchema()}
	oper.AddDownStreamOperator(capture)
	execCtx := newTestExecContext(0)

	rec := &sdata.Record{Key: sdata.Row{int64(0)}}
	require.NoError(t, oper.HandleRecord(rec, execCtx))
	require.Empty(t, capture.records)
}

func TestGroupByTableUpsertEmitsRetractThenAdd(t *testing.T) {
	inSchema, groupExprs := testSourceSchema(t)
	oper := NewGroupByOperator("gb", inSchema, groupExprs, true,
		[]types.ColumnType{types.ColumnTypeInt}, 1, NewProcessingErrorLog())
	capture := &captureOperator{schema: oper.OutSchema()}
	oper.AddDownStreamOperator(capture)
	execCtx := newTestExecContext(0)

	first := &sdata.Record{
		Key:    sdata.Row{int64(0)},
		Value:  sdata.Row{int64(0), "x", int64(5)},
		Offset: 0,
	}
	handleAndCommit(t, oper, first, execCtx)
	require.Len(t, capture.records, 1)
	require.False(t, capture.records[0].Retraction)

	// Upsert of the same source key, moving it to another group.
	second := &sdata.Record{
		Key:    sdata.Row{int64(0)},
		Value:  sdata.Row{int64(0), "y", int64(7)},
		Offset: 1,
	}
	handleAndCommit(t, oper, second, execCtx)
	require.Len(t, capture.records, 3)
	retract := capture.records[1]
	require.True(t, retract.Retraction)
	require.Equal(t, sdata.Row{"x"}, retract.Key)
	require.Equal(t, sdata.Row{int64(0), "x", int64(5)}, retract.Value)
	add := capture.records[2]
	require.False(t, add.Retraction)
	require.Equal(t, sdata.Row{"y"}, add.Key)
	require.Equal(t, sdata.Row{int64(0), "y", int64(7)}, add.Value)
}

func TestGroupByTableTombstoneRetractsOldRow(t *testing.T) {
	inSchema, groupExprs := testSourceSchema(t)
	oper := NewGroupByOperator("gb", inSchema, groupExprs, true,
		[]types.ColumnType{types.ColumnTypeInt}, 1, NewProcessingErrorLog())
	capture := &captureOperator{schema: oper.OutSchema()}
	oper.AddDownStreamOperator(capture)
	execCtx := newTestExecContext(0)

	handleAndCommit(t, oper, &sdata.Record{
		Key:   sdata.Row{int64(0)},
		Value: sdata.Row{int64(0), "x", int64(5)},
	}, execCtx)
	handleAndCommit(t, oper, &sdata.Record{
		Key: sdata.Row{int64(0)},
	}, execCtx)
	require.Len(t, capture.records, 2)
	retract := capture.records[1]
	require.True(t, retract.Retraction)
	require.Equal(t, sdata.Row{"x"}, retract.Key)

	// A second delete of the same key has nothing to undo.
	handleAndCommit(t, oper, &sdata.Record{
		Key: sdata.Row{int64(0)},
	}, execCtx)
	require.Len(t, capture.records, 2)
}

func TestGroupByTableUpsertReplaysSamePairBeforeCommit(t *testing.T) {
	inSchema, groupExprs := testSourceSchema(t)
	oper := NewGroupByOperator("gb", inSchema, groupExprs, true,
		[]types.ColumnType{types.ColumnTypeInt}, 1, NewProcessingErrorLog())
	capture := &captureOperator{schema: oper.OutSchema()}
	oper.AddDownStreamOperator(capture)
	execCtx := newTestExecContext(0)

	handleAndCommit(t, oper, &sdata.Record{
		Key:    sdata.Row{int64(0)},
		Value:  sdata.Row{int64(0), "x", int64(5)},
		Offset: 0,
	}, execCtx)

	// The upsert is handled twice without an intervening commit, as happens
	// when a crash lands between the downstream sends and the offset commit.
	// Both passes must read the same old row and derive the same pair.
	upsert := &sdata.Record{
		Key:    sdata.Row{int64(0)},
		Value:  sdata.Row{int64(0), "y", int64(7)},
		Offset: 1,
	}
	require.NoError(t, oper.HandleRecord(upsert, execCtx))
	execCtx.st.DiscardPending()
	require.NoError(t, oper.HandleRecord(upsert, execCtx))

	require.Len(t, capture.records, 5)
	for _, idx := range []int{1, 3} {
		require.True(t, capture.records[idx].Retraction)
		require.Equal(t, sdata.Row{"x"}, capture.records[idx].Key)
		require.Equal(t, sdata.Row{int64(0), "x", int64(5)}, capture.records[idx].Value)
	}
	for _, idx := range []int{2, 4} {
		require.False(t, capture.records[idx].Retraction)
		require.Equal(t, sdata.Row{"y"}, capture.records[idx].Key)
	}
}

func TestGroupByTableDeleteOfUnknownKeyIsNoOp(t *testing.T) {
	inSchema, groupExprs := testSourceSchema(t)
	oper := NewGroupByOperator("gb", inSchema, groupExprs, true,
		[]types.ColumnType{types.ColumnTypeInt}, 1, NewProcessingErrorLog())
	capture := &captureOperator{schema: oper.OutSchema()}
	oper.AddDownStreamOperator(capture)
	execCtx := newTestExecContext(0)

	require.NoError(t, oper.HandleRecord(&sdata.Record{
		Key: sdata.Row{int64(42)},
	}, execCtx))
	require.Empty(t, capture.records)
}

func TestGroupByEvalErrorDropsRecord(t *testing.T) {
	inSchema, groupExprs := testSourceSchema(t)
	errorLog := NewProcessingErrorLog()
	oper := NewGroupByOperator("gb", inSchema, groupExprs, false,
		[]types.ColumnType{types.ColumnTypeInt}, 1, errorLog)
	capture := &captureOperator{schema: oper.OutSchema()}
	oper.AddDownStreamOperator(capture)
	execCtx := newTestExecContext(0)

	// Row too short for the CAT column reference.
	rec := &sdata.Record{
		Key:   sdata.Row{int64(0)},
		Value: sdata.Row{int64(0)},
	}
	require.NoError(t, oper.HandleRecord(rec, execCtx))
	require.Empty(t, capture.records)
	require.Equal(t, int64(1), errorLog.FailedCount())
}
