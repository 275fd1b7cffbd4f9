package opers

import (
	"testing"

	"github.com/matview-io/matview/common"
	"github.com/matview-io/matview/kafka"
	"github.com/matview-io/matview/sdata"
	"github.com/matview-io/matview/store"
	"github.com/stretchr/testify/require"
)

// testExecContext drives operators against a real partition store with no
// changelog behind it. Flush stands in for the commit the processor performs
// after a record has fully flowed downstream.
type testExecContext struct {
	st *store.PartitionStore
}

func newTestExecContext(partitionID int) *testExecContext {
	return &testExecContext{st: store.NewPartitionStore(partitionID, nil)}
}

func (t *testExecContext) PartitionID() int {
	return t.st.PartitionID()
}

func (t *testExecContext) Get(key []byte) ([]byte, error) {
	return t.st.Get(key)
}

func (t *testExecContext) StoreEntry(kv common.KV) {
	t.st.Put(kv)
}

func (t *testExecContext) DeleteEntry(key []byte) {
	t.st.Delete(key)
}

func (t *testExecContext) Flush() error {
	return t.st.Flush()
}

// handleAndCommit mimics one processor cycle: handle the record, then commit
// whatever it staged.
func handleAndCommit(t *testing.T, oper Operator, rec *sdata.Record, execCtx *testExecContext) {
	t.Helper()
	require.NoError(t, oper.HandleRecord(rec, execCtx))
	require.NoError(t, execCtx.Flush())
}

// captureOperator records everything sent downstream.
type captureOperator struct {
	BaseOperator
	schema  *OperatorSchema
	records []*sdata.Record
}

func (c *captureOperator) Name() string {
	return "capture"
}

func (c *captureOperator) HandleRecord(rec *sdata.Record, _ StreamExecContext) error {
	c.records = append(c.records, rec)
	return nil
}

func (c *captureOperator) InSchema() *OperatorSchema {
	return c.schema
}

func (c *captureOperator) OutSchema() *OperatorSchema {
	return c.schema
}

func (c *captureOperator) Teardown() {
}

// captureProducer collects produced messages in memory.
type captureProducer struct {
	messages []kafka.Message
}

func (c *captureProducer) SendMessages(messages []kafka.Message) error {
	c.messages = append(c.messages, messages...)
	return nil
}

func (c *captureProducer) Start() error {
	return nil
}

func (c *captureProducer) Stop() error {
	return nil
}
