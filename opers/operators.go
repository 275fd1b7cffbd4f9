package opers

import (
	"sync"
	"sync/atomic"

	"github.com/matview-io/matview/common"
	"github.com/matview-io/matview/logger"
	"github.com/matview-io/matview/sdata"
)

// Operator is a node in the dataflow for one query. HandleRecord is invoked
// for every record that reaches the operator and must be called from a single
// goroutine per partition - operators keep per-partition state without
// locking on that basis.
type Operator interface {
	Name() string
	HandleRecord(rec *sdata.Record, execCtx StreamExecContext) error
	InSchema() *OperatorSchema
	OutSchema() *OperatorSchema
	AddDownStreamOperator(downstream Operator)
	GetDownStreamOperators() []Operator
	Teardown()
}

// OperatorSchema describes the records an operator consumes or produces.
// KeySchema is nil upstream of the grouping stage. MappingID scopes the
// partition hash used for store keys so different queries never collide in
// the same store.
type OperatorSchema struct {
	EventSchema *sdata.Schema
	KeySchema   *sdata.Schema
	MappingID   string
	Partitions  int
}

func (o *OperatorSchema) Copy() *OperatorSchema {
	cp := *o
	return &cp
}

// StreamExecContext gives an operator access to the state store of the
// partition the current record lives on. Writes are staged; the owning
// processor makes them durable, together with the record's input offset,
// once the record has fully flowed downstream.
type StreamExecContext interface {
	PartitionID() int
	Get(key []byte) ([]byte, error)
	StoreEntry(kv common.KV)
	DeleteEntry(key []byte)
}

// BaseOperator provides the downstream wiring shared by all operators.
type BaseOperator struct {
	lock        sync.Mutex
	downstreams []Operator
}

func (b *BaseOperator) AddDownStreamOperator(downstream Operator) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.downstreams = append(b.downstreams, downstream)
}

func (b *BaseOperator) GetDownStreamOperators() []Operator {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.downstreams
}

func (b *BaseOperator) SendRecordDownStream(rec *sdata.Record, execCtx StreamExecContext) error {
	for _, downstream := range b.GetDownStreamOperators() {
		if err := downstream.HandleRecord(rec, execCtx); err != nil {
			return err
		}
	}
	return nil
}

// ProcessingErrorLog receives records dropped because an expression failed to
// evaluate. Dropping instead of failing the partition keeps one bad record
// from wedging the query.
type ProcessingErrorLog interface {
	RecordFailed(operatorName string, rec *sdata.Record, err error)
	FailedCount() int64
}

func NewProcessingErrorLog() ProcessingErrorLog {
	return &processingErrorLog{}
}

type processingErrorLog struct {
	failedCount int64
}

func (p *processingErrorLog) RecordFailed(operatorName string, rec *sdata.Record, err error) {
	atomic.AddInt64(&p.failedCount, 1)
	logger.Warnf("operator %s dropped record at offset %d partition %d: %v",
		operatorName, rec.Offset, rec.Partition, err)
}

func (p *processingErrorLog) FailedCount() int64 {
	return atomic.LoadInt64(&p.failedCount)
}
