package opers

import (
	"time"

	"github.com/matview-io/matview/common"
	"github.com/matview-io/matview/encoding"
	"github.com/matview-io/matview/kafka"
	"github.com/matview-io/matview/sdata"
	"github.com/matview-io/matview/types"
)

const retractionHeader = "retraction"

// RepartitionOperator terminates the source side of a query by writing the
// rekeyed records to an internal topic, partitioned by the hash of the
// encoded grouping key. Records with the same grouping key always land on
// the same partition in send order, so the retraction half of a table upsert
// is never overtaken by its add half.
type RepartitionOperator struct {
	BaseOperator
	name       string
	schema     *OperatorSchema
	topicName  string
	partitions int
	producer   kafka.MessageProducer
}

func NewRepartitionOperator(name string, schema *OperatorSchema, topicName string,
	partitions int, producer kafka.MessageProducer) *RepartitionOperator {
	return &RepartitionOperator{
		name:       name,
		schema:     schema,
		topicName:  topicName,
		partitions: partitions,
		producer:   producer,
	}
}

func (r *RepartitionOperator) Name() string {
	return r.name
}

func (r *RepartitionOperator) InSchema() *OperatorSchema {
	return r.schema
}

func (r *RepartitionOperator) OutSchema() *OperatorSchema {
	return r.schema
}

func (r *RepartitionOperator) TopicName() string {
	return r.topicName
}

func (r *RepartitionOperator) Teardown() {
	if err := r.producer.Stop(); err != nil {
		// Best effort on teardown.
		_ = err
	}
}

func (r *RepartitionOperator) HandleRecord(rec *sdata.Record, _ StreamExecContext) error {
	keyBuff, err := encoding.KeyEncodeRow(nil, rec.Key, r.schema.KeySchema.ColumnTypes())
	if err != nil {
		return err
	}
	valueBuff, err := encoding.EncodeRowCols(nil, rec.Value, r.schema.EventSchema.ColumnTypes())
	if err != nil {
		return err
	}
	partition := common.CalcPartition(common.DefaultHash(keyBuff), r.partitions)
	msg := kafka.Message{
		PartInfo: kafka.PartInfo{
			PartitionID: int32(partition),
		},
		TimeStamp: time.UnixMilli(rec.Timestamp.Val),
		Key:       keyBuff,
		Value:     valueBuff,
	}
	if rec.Retraction {
		msg.Headers = []kafka.MessageHeader{{Key: retractionHeader, Value: []byte{1}}}
	}
	return r.producer.SendMessages([]kafka.Message{msg})
}

// DecodeRepartitionedMessage turns a message read back off the repartition
// topic into the record the aggregate stage consumes. The record offset is
// the repartition partition offset - a per-partition monotone sequence that
// reflects arrival order at the aggregation.
func DecodeRepartitionedMessage(msg *kafka.Message, keyTypes []types.ColumnType,
	eventTypes []types.ColumnType) (*sdata.Record, error) {
	key, _, err := encoding.DecodeKeyToSlice(msg.Key, 0, keyTypes)
	if err != nil {
		return nil, err
	}
	value, _, err := encoding.DecodeRowToSlice(msg.Value, 0, eventTypes)
	if err != nil {
		return nil, err
	}
	_, retraction := msg.Header(retractionHeader)
	return &sdata.Record{
		Key:        key,
		Value:      value,
		Offset:     msg.PartInfo.Offset,
		Partition:  int(msg.PartInfo.PartitionID),
		Timestamp:  types.NewTimestamp(msg.TimeStamp.UnixMilli()),
		Retraction: retraction,
	}, nil
}
