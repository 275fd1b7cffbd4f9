package opers

import (
	"sync"

	"github.com/matview-io/matview/common"
	"github.com/matview-io/matview/encoding"
	"github.com/matview-io/matview/expr"
	"github.com/matview-io/matview/logger"
	"github.com/matview-io/matview/sdata"
	"github.com/matview-io/matview/types"
)

// GroupByOperator rekeys records by the grouping expressions. Records where
// any grouping expression evaluates to null are filtered out. For table
// sources the operator materializes the latest row per source key so that an
// upsert can be decomposed into a retraction of the old row followed by an
// add of the new row, each rekeyed independently - the two halves can land
// on different grouping keys.
type GroupByOperator struct {
	BaseOperator
	name            string
	inSchema        *OperatorSchema
	outSchema       *OperatorSchema
	groupExprs      []expr.Expression
	tableSource     bool
	sourceKeyTypes  []types.ColumnType
	slabID          uint64
	errorLog        ProcessingErrorLog
	hashLock        sync.Mutex
	partitionHashes map[int][]byte
}

func NewGroupByOperator(name string, inSchema *OperatorSchema, groupExprs []expr.Expression,
	tableSource bool, sourceKeyTypes []types.ColumnType, slabID uint64,
	errorLog ProcessingErrorLog) *GroupByOperator {
	keyNames := make([]string, len(groupExprs))
	keyTypes := make([]types.ColumnType, len(groupExprs))
	for i, e := range groupExprs {
		keyNames[i] = e.String()
		keyTypes[i] = e.ResultType()
	}
	outSchema := inSchema.Copy()
	outSchema.KeySchema = sdata.NewSchema(keyNames, keyTypes)
	return &GroupByOperator{
		name:            name,
		inSchema:        inSchema,
		outSchema:       outSchema,
		groupExprs:      groupExprs,
		tableSource:     tableSource,
		sourceKeyTypes:  sourceKeyTypes,
		slabID:          slabID,
		errorLog:        errorLog,
		partitionHashes: map[int][]byte{},
	}
}

func (g *GroupByOperator) Name() string {
	return g.name
}

func (g *GroupByOperator) InSchema() *OperatorSchema {
	return g.inSchema
}

func (g *GroupByOperator) OutSchema() *OperatorSchema {
	return g.outSchema
}

func (g *GroupByOperator) Teardown() {
}

func (g *GroupByOperator) HandleRecord(rec *sdata.Record, execCtx StreamExecContext) error {
	if g.tableSource {
		return g.handleTableRecord(rec, execCtx)
	}
	if rec.IsTombstone() {
		// Streams have no delete semantics, a null value is skipped.
		return nil
	}
	return g.rekeyAndForward(rec, rec.Value, false, execCtx)
}

func (g *GroupByOperator) handleTableRecord(rec *sdata.Record, execCtx StreamExecContext) error {
	storeKey := g.materializeKey(rec, execCtx.PartitionID())
	oldBuff, err := execCtx.Get(storeKey)
	if err != nil {
		return err
	}
	var oldRow sdata.Row
	if oldBuff != nil {
		oldRow, _, err = encoding.DecodeRowToSlice(oldBuff, 0, g.inSchema.EventSchema.ColumnTypes())
		if err != nil {
			return err
		}
	}
	if rec.IsTombstone() {
		if oldRow == nil {
			// Delete of an unknown key, nothing to undo.
			return nil
		}
		execCtx.DeleteEntry(storeKey)
	} else {
		buff, err := encoding.EncodeRowCols(nil, rec.Value, g.inSchema.EventSchema.ColumnTypes())
		if err != nil {
			return err
		}
		execCtx.StoreEntry(common.KV{Key: storeKey, Value: buff})
	}
	// The staged row stays invisible until the processor commits it with the
	// input offset after the downstream sends succeed, so a replay re-reads
	// the same old row and re-derives the same retract/add pair.
	if oldRow != nil {
		if err := g.rekeyAndForward(rec, oldRow, true, execCtx); err != nil {
			return err
		}
	}
	if rec.IsTombstone() {
		return nil
	}
	return g.rekeyAndForward(rec, rec.Value, false, execCtx)
}

func (g *GroupByOperator) rekeyAndForward(rec *sdata.Record, row sdata.Row, retraction bool,
	execCtx StreamExecContext) error {
	key := make(sdata.Row, len(g.groupExprs))
	for i, e := range g.groupExprs {
		val, err := e.Eval(row)
		if err != nil {
			g.errorLog.RecordFailed(g.name, rec, err)
			return nil
		}
		if val == nil {
			if logger.DebugEnabled {
				logger.Debugf("operator %s filtered record at offset %d: grouping expression %s is null",
					g.name, rec.Offset, e.String())
			}
			return nil
		}
		key[i] = val
	}
	out := &sdata.Record{
		Key:        key,
		Value:      row,
		Offset:     rec.Offset,
		Partition:  rec.Partition,
		Timestamp:  rec.Timestamp,
		Retraction: retraction,
	}
	return g.SendRecordDownStream(out, execCtx)
}

func (g *GroupByOperator) materializeKey(rec *sdata.Record, partitionID int) []byte {
	g.hashLock.Lock()
	partitionHash, ok := g.partitionHashes[partitionID]
	if !ok {
		partitionHash = common.CalcPartitionHash(g.inSchema.MappingID, uint64(partitionID))
		g.partitionHashes[partitionID] = partitionHash
	}
	g.hashLock.Unlock()
	storeKey := encoding.EncodeEntryPrefix(partitionHash, g.slabID, 64)
	storeKey, err := encoding.KeyEncodeRow(storeKey, rec.Key, g.sourceKeyTypes)
	if err != nil {
		// Source key rows were decoded against the key schema, encoding them
		// back cannot fail.
		panic(err)
	}
	return storeKey
}
