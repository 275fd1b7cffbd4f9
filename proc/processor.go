package proc

import (
	"sync"
	"time"

	"github.com/matview-io/matview/common"
	"github.com/matview-io/matview/encoding"
	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/kafka"
	log "github.com/matview-io/matview/logger"
	"github.com/matview-io/matview/opers"
	"github.com/matview-io/matview/sdata"
	"github.com/matview-io/matview/store"
)

// OffsetsSlabID is the reserved slab for committed input offsets. Query
// state slabs are allocated from 1 upwards.
const OffsetsSlabID = 0

// RecordDecoder turns a consumed message into a record. A decode failure is
// a data problem, not an engine problem: the processor sends it to the
// processing error log and skips the message.
type RecordDecoder func(msg *kafka.Message) (*sdata.Record, error)

// Processor owns one partition of one stage of a query: a single goroutine
// consuming that partition in order and driving the operator chain. All
// store access for the partition happens on this goroutine.
//
// The committed input offset is written into the store under the offsets
// slab as part of the same flush as the record's state updates, so a restart
// that rehydrates the store also learns exactly where to resume. That flush
// runs only after the record has flowed all the way downstream: a failed
// emission leaves state and offset uncommitted and the record is replayed,
// so persisted state never runs ahead of emitted output. The replay can
// re-emit output that already reached the topic - at-least-once emission is
// the cost of never losing one.
type Processor struct {
	name        string
	partitionID int
	st          *store.PartitionStore
	operator    opers.Operator
	provider    kafka.MessageProvider
	decoder     RecordDecoder
	pollTimeout time.Duration
	errorLog    opers.ProcessingErrorLog
	offsetKey   []byte
	stopping    common.AtomicBool
	stopWG      sync.WaitGroup
	lock        sync.Mutex
	failure     error
}

func NewProcessor(name string, partitionID int, mappingID string, st *store.PartitionStore,
	operator opers.Operator, provider kafka.MessageProvider, decoder RecordDecoder,
	pollTimeout time.Duration, errorLog opers.ProcessingErrorLog) *Processor {
	return &Processor{
		name:        name,
		partitionID: partitionID,
		st:          st,
		operator:    operator,
		provider:    provider,
		decoder:     decoder,
		pollTimeout: pollTimeout,
		errorLog:    errorLog,
		offsetKey:   offsetKeyFor(mappingID, partitionID),
	}
}

func offsetKeyFor(mappingID string, partitionID int) []byte {
	partitionHash := common.CalcPartitionHash(mappingID, uint64(partitionID))
	return encoding.EncodeEntryPrefix(partitionHash, OffsetsSlabID, 24)
}

// CommittedOffset returns the offset to resume consuming from, based on what
// the (possibly rehydrated) store recorded. Zero means consume from the
// start.
func CommittedOffset(st *store.PartitionStore, mappingID string, partitionID int) (int64, error) {
	buff, err := st.Get(offsetKeyFor(mappingID, partitionID))
	if err != nil {
		return 0, err
	}
	if buff == nil {
		return 0, nil
	}
	committed, _ := encoding.ReadUint64FromBufferLE(buff, 0)
	return int64(committed) + 1, nil
}

func (p *Processor) Start() error {
	if err := p.provider.Start(); err != nil {
		return errors.WithStack(err)
	}
	p.stopWG.Add(1)
	go p.runLoop()
	return nil
}

func (p *Processor) Stop() error {
	p.stopping.Set(true)
	p.stopWG.Wait()
	return p.provider.Stop()
}

// Failure returns the error that stopped the processor, if any.
func (p *Processor) Failure() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.failure
}

func (p *Processor) runLoop() {
	defer p.stopWG.Done()
	for !p.stopping.Get() {
		msg, err := p.provider.GetMessage(p.pollTimeout)
		if err != nil {
			p.fail(err)
			return
		}
		if msg == nil {
			continue
		}
		if err := p.handleMessage(msg); err != nil {
			p.fail(err)
			return
		}
	}
}

func (p *Processor) handleMessage(msg *kafka.Message) error {
	rec, err := p.decoder(msg)
	if err != nil {
		p.errorLog.RecordFailed(p.name, &sdata.Record{
			Offset:    msg.PartInfo.Offset,
			Partition: p.partitionID,
		}, err)
		return nil
	}
	execCtx := &recordExecContext{
		st:        p.st,
		offsetKey: p.offsetKey,
		offset:    msg.PartInfo.Offset,
	}
	if err := p.operator.HandleRecord(rec, execCtx); err != nil {
		p.st.DiscardPending()
		return err
	}
	return execCtx.Flush()
}

func (p *Processor) fail(err error) {
	p.lock.Lock()
	p.failure = err
	p.lock.Unlock()
	log.Errorf("processor %s partition %d failed: %v", p.name, p.partitionID, err)
}

// recordExecContext scopes store access to the record being processed. Flush
// stages the record's input offset alongside whatever the operator staged,
// so the offset commit and the state writes are one durable unit.
type recordExecContext struct {
	st        *store.PartitionStore
	offsetKey []byte
	offset    int64
}

func (c *recordExecContext) PartitionID() int {
	return c.st.PartitionID()
}

func (c *recordExecContext) Get(key []byte) ([]byte, error) {
	return c.st.Get(key)
}

func (c *recordExecContext) StoreEntry(kv common.KV) {
	c.st.Put(kv)
}

func (c *recordExecContext) DeleteEntry(key []byte) {
	c.st.Delete(key)
}

func (c *recordExecContext) Flush() error {
	c.st.Put(common.KV{
		Key:   c.offsetKey,
		Value: encoding.AppendUint64ToBufferLE(nil, uint64(c.offset)),
	})
	return c.st.Flush()
}
