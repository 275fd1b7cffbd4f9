package proc

import (
	"testing"
	"time"

	"github.com/matview-io/matview/common"
	"github.com/matview-io/matview/kafka"
	"github.com/matview-io/matview/opers"
	"github.com/matview-io/matview/sdata"
	"github.com/matview-io/matview/store"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type blockingProvider struct {
	ch      chan *kafka.Message
	stopped common.AtomicBool
}

func newBlockingProvider(messages ...*kafka.Message) *blockingProvider {
	ch := make(chan *kafka.Message, len(messages)+16)
	for _, msg := range messages {
		ch <- msg
	}
	return &blockingProvider{ch: ch}
}

func (b *blockingProvider) GetMessage(pollTimeout time.Duration) (*kafka.Message, error) {
	select {
	case msg := <-b.ch:
		return msg, nil
	case <-time.After(pollTimeout):
		return nil, nil
	}
}

func (b *blockingProvider) Start() error {
	return nil
}

func (b *blockingProvider) Stop() error {
	b.stopped.Set(true)
	return nil
}

// storingOperator writes each record's key and value into the store, in the
// way the aggregate stage does, without flushing itself.
type storingOperator struct {
	opers.BaseOperator
	records []*sdata.Record
	err     error
}

func (s *storingOperator) Name() string {
	return "storing"
}

func (s *storingOperator) HandleRecord(rec *sdata.Record, execCtx opers.StreamExecContext) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	execCtx.StoreEntry(common.KV{
		Key:   append([]byte("data-"), rec.Value[0].([]byte)...),
		Value: rec.Value[1].([]byte),
	})
	return nil
}

func (s *storingOperator) InSchema() *opers.OperatorSchema {
	return nil
}

func (s *storingOperator) OutSchema() *opers.OperatorSchema {
	return nil
}

func (s *storingOperator) Teardown() {
}

func rawDecoder(msg *kafka.Message) (*sdata.Record, error) {
	return &sdata.Record{
		Key:    sdata.Row{msg.Key},
		Value:  sdata.Row{msg.Key, msg.Value},
		Offset: msg.PartInfo.Offset,
	}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	start := time.Now()
	for !cond() {
		if time.Since(start) > 5*time.Second {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestProcessorCommitsOffsetWithStateWrites(t *testing.T) {
	st := store.NewPartitionStore(0, nil)
	oper := &storingOperator{}
	provider := newBlockingProvider(
		&kafka.Message{PartInfo: kafka.PartInfo{Offset: 0}, Key: []byte("k1"), Value: []byte("v1")},
		&kafka.Message{PartInfo: kafka.PartInfo{Offset: 1}, Key: []byte("k2"), Value: []byte("v2")},
	)
	p := NewProcessor("test", 0, "q1.source", st, oper, provider, rawDecoder,
		time.Millisecond, opers.NewProcessingErrorLog())
	require.NoError(t, p.Start())
	waitFor(t, func() bool { return st.WriteVersion() >= 2 })
	require.NoError(t, p.Stop())

	v, err := st.Get([]byte("data-k1"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	committed, err := CommittedOffset(st, "q1.source", 0)
	require.NoError(t, err)
	require.Equal(t, int64(2), committed)
	require.True(t, provider.stopped.Get())
}

func TestCommittedOffsetZeroWhenNothingStored(t *testing.T) {
	st := store.NewPartitionStore(0, nil)
	committed, err := CommittedOffset(st, "q1.source", 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), committed)
}

func TestCommittedOffsetIsPerPartition(t *testing.T) {
	st := store.NewPartitionStore(0, nil)
	oper := &storingOperator{}
	provider := newBlockingProvider(
		&kafka.Message{PartInfo: kafka.PartInfo{Offset: 4}, Key: []byte("k1"), Value: []byte("v1")},
	)
	p := NewProcessor("test", 0, "q1.source", st, oper, provider, rawDecoder,
		time.Millisecond, opers.NewProcessingErrorLog())
	require.NoError(t, p.Start())
	waitFor(t, func() bool { return st.WriteVersion() >= 1 })
	require.NoError(t, p.Stop())

	committed, err := CommittedOffset(st, "q1.source", 0)
	require.NoError(t, err)
	require.Equal(t, int64(5), committed)

	other, err := CommittedOffset(st, "q1.source", 1)
	require.NoError(t, err)
	require.Equal(t, int64(0), other)
}

func TestProcessorSkipsUndecodableMessages(t *testing.T) {
	st := store.NewPartitionStore(0, nil)
	oper := &storingOperator{}
	errorLog := opers.NewProcessingErrorLog()
	decoder := func(msg *kafka.Message) (*sdata.Record, error) {
		if string(msg.Value) == "bad" {
			return nil, errors.New("mangled payload")
		}
		return rawDecoder(msg)
	}
	provider := newBlockingProvider(
		&kafka.Message{PartInfo: kafka.PartInfo{Offset: 0}, Key: []byte("k1"), Value: []byte("bad")},
		&kafka.Message{PartInfo: kafka.PartInfo{Offset: 1}, Key: []byte("k2"), Value: []byte("v2")},
	)
	p := NewProcessor("test", 0, "q1.source", st, oper, provider, decoder,
		time.Millisecond, errorLog)
	require.NoError(t, p.Start())
	waitFor(t, func() bool { return errorLog.FailedCount() == 1 && st.WriteVersion() >= 1 })
	require.NoError(t, p.Stop())

	require.Len(t, oper.records, 1)
	require.Equal(t, sdata.Row{[]byte("k2")}, oper.records[0].Key)
	require.NoError(t, p.Failure())
}

// emitFailingOperator stages a state write and then fails, the shape the
// aggregate stage takes when its output produce fails after the accumulator
// update was staged.
type emitFailingOperator struct {
	opers.BaseOperator
}

func (e *emitFailingOperator) Name() string {
	return "emit-failing"
}

func (e *emitFailingOperator) HandleRecord(rec *sdata.Record, execCtx opers.StreamExecContext) error {
	execCtx.StoreEntry(common.KV{
		Key:   append([]byte("data-"), rec.Value[0].([]byte)...),
		Value: rec.Value[1].([]byte),
	})
	return errors.New("output produce failed")
}

func (e *emitFailingOperator) InSchema() *opers.OperatorSchema {
	return nil
}

func (e *emitFailingOperator) OutSchema() *opers.OperatorSchema {
	return nil
}

func (e *emitFailingOperator) Teardown() {
}

func TestProcessorFailedEmissionCommitsNothing(t *testing.T) {
	st := store.NewPartitionStore(0, nil)
	provider := newBlockingProvider(
		&kafka.Message{PartInfo: kafka.PartInfo{Offset: 0}, Key: []byte("k1"), Value: []byte("v1")},
	)
	p := NewProcessor("test", 0, "q1.source", st, &emitFailingOperator{}, provider, rawDecoder,
		time.Millisecond, opers.NewProcessingErrorLog())
	require.NoError(t, p.Start())
	waitFor(t, func() bool { return p.Failure() != nil })
	require.NoError(t, p.Stop())
	require.ErrorContains(t, p.Failure(), "output produce failed")

	// Neither the staged state nor the offset made it into the store, so a
	// restart replays the record whose output never went out.
	require.Equal(t, 0, st.EntryCount())
	committed, err := CommittedOffset(st, "q1.source", 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), committed)
}

func TestProcessorFailsFatallyOnOperatorError(t *testing.T) {
	st := store.NewPartitionStore(0, nil)
	oper := &storingOperator{err: errors.New("store broke")}
	provider := newBlockingProvider(
		&kafka.Message{PartInfo: kafka.PartInfo{Offset: 0}, Key: []byte("k1"), Value: []byte("v1")},
	)
	p := NewProcessor("test", 0, "q1.source", st, oper, provider, rawDecoder,
		time.Millisecond, opers.NewProcessingErrorLog())
	require.NoError(t, p.Start())
	waitFor(t, func() bool { return p.Failure() != nil })
	require.NoError(t, p.Stop())

	require.ErrorContains(t, p.Failure(), "store broke")
	// Nothing was committed for the failed record.
	committed, err := CommittedOffset(st, "q1.source", 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), committed)
}
