package opers

import (
	"time"

	"github.com/matview-io/matview/codec"
	"github.com/matview-io/matview/kafka"
	"github.com/matview-io/matview/sdata"
)

// SinkOperator projects aggregate output rows onto the query's declared
// output columns and writes them to the output topic with the configured
// codec. Grouping columns form the message key; the remaining projections
// form the value. Every record handled produces exactly one message.
type SinkOperator struct {
	BaseOperator
	name         string
	inSchema     *OperatorSchema
	topicName    string
	cod          codec.Codec
	producer     kafka.MessageProducer
	keyIndexes   []int
	valueIndexes []int
	keySchema    *sdata.Schema
	valueSchema  *sdata.Schema
}

func NewSinkOperator(name string, inSchema *OperatorSchema, topicName string, cod codec.Codec,
	producer kafka.MessageProducer, keyIndexes []int, valueIndexes []int,
	keySchema *sdata.Schema, valueSchema *sdata.Schema) *SinkOperator {
	return &SinkOperator{
		name:         name,
		inSchema:     inSchema,
		topicName:    topicName,
		cod:          cod,
		producer:     producer,
		keyIndexes:   keyIndexes,
		valueIndexes: valueIndexes,
		keySchema:    keySchema,
		valueSchema:  valueSchema,
	}
}

func (s *SinkOperator) Name() string {
	return s.name
}

func (s *SinkOperator) InSchema() *OperatorSchema {
	return s.inSchema
}

func (s *SinkOperator) OutSchema() *OperatorSchema {
	return s.inSchema
}

func (s *SinkOperator) TopicName() string {
	return s.topicName
}

func (s *SinkOperator) KeySchema() *sdata.Schema {
	return s.keySchema
}

func (s *SinkOperator) ValueSchema() *sdata.Schema {
	return s.valueSchema
}

func (s *SinkOperator) Teardown() {
	if err := s.producer.Stop(); err != nil {
		_ = err
	}
}

func (s *SinkOperator) HandleRecord(rec *sdata.Record, _ StreamExecContext) error {
	key := make(sdata.Row, len(s.keyIndexes))
	for i, idx := range s.keyIndexes {
		key[i] = rec.Value[idx]
	}
	value := make(sdata.Row, len(s.valueIndexes))
	for i, idx := range s.valueIndexes {
		value[i] = rec.Value[idx]
	}
	keyBytes, err := s.cod.EncodeKey(key, s.keySchema)
	if err != nil {
		return err
	}
	valueBytes, err := s.cod.EncodeRow(value, s.valueSchema)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		PartInfo: kafka.PartInfo{
			PartitionID: -1,
		},
		TimeStamp: time.UnixMilli(rec.Timestamp.Val),
		Key:       keyBytes,
		Value:     valueBytes,
	}
	return s.producer.SendMessages([]kafka.Message{msg})
}
