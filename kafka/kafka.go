package kafka

import (
	"time"
)

type ClientFactory func(topicName string, props map[string]string) (MessageClient, error)

type MessageClient interface {
	NewMessageProvider(partitions []int, startOffsets []int64) (MessageProvider, error)
	NewMessageProducer(connectTimeout time.Duration, sendTimeout time.Duration) (MessageProducer, error)
	// HighWaterMark is the next offset to be produced to the partition.
	// Changelog replay is bounded by it, a poll timeout is not a reliable
	// end-of-log signal.
	HighWaterMark(partition int) (int64, error)
}

type MessageProvider interface {
	GetMessage(pollTimeout time.Duration) (*Message, error)
	Start() error
	Stop() error
}

type MessageProducer interface {
	SendMessages(messages []Message) error
	Start() error
	Stop() error
}

// Message is one record on a topic partition. A nil Value with a non nil Key
// is a tombstone. PartitionID -1 on send means route by key hash.
type Message struct {
	PartInfo  PartInfo
	TimeStamp time.Time
	Key       []byte
	Value     []byte
	Headers   []MessageHeader
}

type MessageHeader struct {
	Key   string
	Value []byte
}

type PartInfo struct {
	PartitionID int32
	Offset      int64
}

func (m *Message) Header(key string) ([]byte, bool) {
	for _, hdr := range m.Headers {
		if hdr.Key == key {
			return hdr.Value, true
		}
	}
	return nil, false
}
