package opers

import (
	"sync"

	"github.com/matview-io/matview/common"
	"github.com/matview-io/matview/encoding"
	"github.com/matview-io/matview/expr"
	"github.com/matview-io/matview/sdata"
	"github.com/matview-io/matview/types"
)

// AggFuncHolder binds one aggregate function invocation to its argument
// expression and output column name.
type AggFuncHolder struct {
	Func       AggFunc
	ArgExpr    expr.Expression
	OutputName string
}

// AggregateOperator maintains the per-key accumulators of a query and emits
// one output record for every record it receives. The accumulator entry is
// staged, not flushed: the processor commits it together with the input
// offset after the emission has succeeded, so a failed emission replays the
// record instead of leaving durable state with no matching output.
type AggregateOperator struct {
	BaseOperator
	name            string
	inSchema        *OperatorSchema
	outSchema       *OperatorSchema
	holders         []AggFuncHolder
	argTypes        []types.ColumnType
	slabID          uint64
	errorLog        ProcessingErrorLog
	hashLock        sync.Mutex
	partitionHashes map[int][]byte
}

func NewAggregateOperator(name string, inSchema *OperatorSchema, holders []AggFuncHolder,
	slabID uint64, errorLog ProcessingErrorLog) (*AggregateOperator, error) {
	keySchema := inSchema.KeySchema
	outNames := make([]string, 0, keySchema.ColumnCount()+len(holders))
	outTypes := make([]types.ColumnType, 0, keySchema.ColumnCount()+len(holders))
	outNames = append(outNames, keySchema.ColumnNames()...)
	outTypes = append(outTypes, keySchema.ColumnTypes()...)
	argTypes := make([]types.ColumnType, len(holders))
	for i, holder := range holders {
		argTypes[i] = holder.ArgExpr.ResultType()
		retType, err := holder.Func.ReturnType(argTypes[i])
		if err != nil {
			return nil, err
		}
		outNames = append(outNames, holder.OutputName)
		outTypes = append(outTypes, retType)
	}
	outSchema := inSchema.Copy()
	outSchema.EventSchema = sdata.NewSchema(outNames, outTypes)
	return &AggregateOperator{
		name:            name,
		inSchema:        inSchema,
		outSchema:       outSchema,
		holders:         holders,
		argTypes:        argTypes,
		slabID:          slabID,
		errorLog:        errorLog,
		partitionHashes: map[int][]byte{},
	}, nil
}

func (a *AggregateOperator) Name() string {
	return a.name
}

func (a *AggregateOperator) InSchema() *OperatorSchema {
	return a.inSchema
}

func (a *AggregateOperator) OutSchema() *OperatorSchema {
	return a.outSchema
}

func (a *AggregateOperator) Teardown() {
}

func (a *AggregateOperator) HandleRecord(rec *sdata.Record, execCtx StreamExecContext) error {
	storeKey, err := a.stateKey(rec.Key, execCtx.PartitionID())
	if err != nil {
		return err
	}
	stateBuff, err := execCtx.Get(storeKey)
	if err != nil {
		return err
	}
	states, err := a.decodeStates(stateBuff)
	if err != nil {
		return err
	}
	// Evaluate all arguments before touching any state so a failing record
	// leaves the accumulators untouched and emits nothing.
	argVals := make([]any, len(a.holders))
	for i, holder := range a.holders {
		argVals[i], err = holder.ArgExpr.Eval(rec.Value)
		if err != nil {
			a.errorLog.RecordFailed(a.name, rec, err)
			return nil
		}
	}
	for i, holder := range a.holders {
		if rec.Retraction {
			states[i], err = holder.Func.Retract(states[i], argVals[i])
		} else {
			states[i], err = holder.Func.Update(states[i], argVals[i], rec.Offset)
		}
		if err != nil {
			return err
		}
	}
	encoded, err := a.encodeStates(states)
	if err != nil {
		return err
	}
	execCtx.StoreEntry(common.KV{Key: storeKey, Value: encoded})
	outRow := make(sdata.Row, 0, len(rec.Key)+len(a.holders))
	outRow = append(outRow, rec.Key...)
	for i, holder := range a.holders {
		outRow = append(outRow, holder.Func.Extract(states[i]))
	}
	out := &sdata.Record{
		Key:       rec.Key,
		Value:     outRow,
		Offset:    rec.Offset,
		Partition: execCtx.PartitionID(),
		Timestamp: rec.Timestamp,
	}
	return a.SendRecordDownStream(out, execCtx)
}

func (a *AggregateOperator) stateKey(key sdata.Row, partitionID int) ([]byte, error) {
	a.hashLock.Lock()
	partitionHash, ok := a.partitionHashes[partitionID]
	if !ok {
		partitionHash = common.CalcPartitionHash(a.inSchema.MappingID, uint64(partitionID))
		a.partitionHashes[partitionID] = partitionHash
	}
	a.hashLock.Unlock()
	storeKey := encoding.EncodeEntryPrefix(partitionHash, a.slabID, 64)
	return encoding.KeyEncodeRow(storeKey, key, a.inSchema.KeySchema.ColumnTypes())
}

func (a *AggregateOperator) decodeStates(buff []byte) ([]any, error) {
	states := make([]any, len(a.holders))
	if buff == nil {
		return states, nil
	}
	offset := 0
	for i, holder := range a.holders {
		var err error
		states[i], offset, err = holder.Func.DecodeState(buff, offset, a.argTypes[i])
		if err != nil {
			return nil, err
		}
	}
	return states, nil
}

func (a *AggregateOperator) encodeStates(states []any) ([]byte, error) {
	var buff []byte
	for i, holder := range a.holders {
		var err error
		buff, err = holder.Func.EncodeState(buff, states[i], a.argTypes[i])
		if err != nil {
			return nil, err
		}
	}
	return buff, nil
}
