package segment

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/kafka"
	log "github.com/matview-io/matview/logger"
	segkafka "github.com/segmentio/kafka-go"
)

// NewMessageClientFactory gives a kafka.ClientFactory backed by
// segmentio/kafka-go. Required prop: bootstrap.servers.
func NewMessageClientFactory() kafka.ClientFactory {
	return func(topicName string, props map[string]string) (kafka.MessageClient, error) {
		brokers, ok := props["bootstrap.servers"]
		if !ok {
			return nil, errors.Errorf("no 'bootstrap.servers' property provided for topic %s", topicName)
		}
		return &MessageClient{
			topicName: topicName,
			brokers:   strings.Split(brokers, ","),
		}, nil
	}
}

type MessageClient struct {
	topicName string
	brokers   []string
}

const highWaterMarkDialTimeout = 5 * time.Second

// HighWaterMark returns the next offset that will be produced to the
// partition, read from the partition leader.
func (c *MessageClient) HighWaterMark(partition int) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), highWaterMarkDialTimeout)
	defer cancel()
	conn, err := segkafka.DialLeader(ctx, "tcp", c.brokers[0], c.topicName, partition)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Warnf("failed to close kafka connection: %v", err)
		}
	}()
	offset, err := conn.ReadLastOffset()
	return offset, errors.WithStack(err)
}

func (c *MessageClient) NewMessageProvider(partitions []int, startOffsets []int64) (kafka.MessageProvider, error) {
	readers := make([]*segkafka.Reader, len(partitions))
	for i, partition := range partitions {
		readers[i] = segkafka.NewReader(segkafka.ReaderConfig{
			Brokers:   c.brokers,
			Topic:     c.topicName,
			Partition: partition,
			MinBytes:  1,
			MaxBytes:  10 * 1024 * 1024,
		})
		if startOffsets[i] > 0 {
			if err := readers[i].SetOffset(startOffsets[i]); err != nil {
				return nil, errors.WithStack(err)
			}
		}
	}
	return &MessageProvider{readers: readers}, nil
}

type MessageProvider struct {
	lock    sync.Mutex
	readers []*segkafka.Reader
	nextIdx int
	stopped bool
}

func (p *MessageProvider) GetMessage(pollTimeout time.Duration) (*kafka.Message, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.stopped {
		return nil, errors.New("message provider is stopped")
	}
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()
	// Round-robin over the partition readers so a quiet partition cannot
	// starve the others.
	for range p.readers {
		reader := p.readers[p.nextIdx]
		p.nextIdx = (p.nextIdx + 1) % len(p.readers)
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return nil, errors.WithStack(err)
		}
		return convertMessage(&msg), nil
	}
	return nil, nil
}

func (p *MessageProvider) Start() error {
	return nil
}

func (p *MessageProvider) Stop() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.stopped = true
	for _, reader := range p.readers {
		if err := reader.Close(); err != nil {
			log.Warnf("failed to close kafka reader: %v", err)
		}
	}
	return nil
}

func convertMessage(msg *segkafka.Message) *kafka.Message {
	headers := make([]kafka.MessageHeader, len(msg.Headers))
	for i, hdr := range msg.Headers {
		headers[i] = kafka.MessageHeader{Key: hdr.Key, Value: hdr.Value}
	}
	return &kafka.Message{
		PartInfo: kafka.PartInfo{
			PartitionID: int32(msg.Partition),
			Offset:      msg.Offset,
		},
		TimeStamp: msg.Time,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
	}
}

func (c *MessageClient) NewMessageProducer(connectTimeout time.Duration, sendTimeout time.Duration) (kafka.MessageProducer, error) {
	return &MessageProducer{
		addr:        segkafka.TCP(c.brokers...),
		topicName:   c.topicName,
		sendTimeout: sendTimeout,
		partitioned: map[int32]*segkafka.Writer{},
	}, nil
}

// MessageProducer routes messages with an explicit partition through a writer
// pinned to that partition, and everything else through a murmur2 keyed
// writer. Changelog appends carry the owning store's partition and must land
// exactly there - the store key is not the routing key, so hashing it would
// scatter the changelog and break replay.
type MessageProducer struct {
	addr        net.Addr
	topicName   string
	sendTimeout time.Duration
	lock        sync.Mutex
	keyed       *segkafka.Writer
	partitioned map[int32]*segkafka.Writer
}

func (p *MessageProducer) SendMessages(messages []kafka.Message) error {
	batches := map[int32][]segkafka.Message{}
	order := make([]int32, 0, 1)
	for _, msg := range messages {
		headers := make([]segkafka.Header, len(msg.Headers))
		for j, hdr := range msg.Headers {
			headers[j] = segkafka.Header{Key: hdr.Key, Value: hdr.Value}
		}
		partition := msg.PartInfo.PartitionID
		if partition < 0 {
			partition = -1
		}
		if _, ok := batches[partition]; !ok {
			order = append(order, partition)
		}
		batches[partition] = append(batches[partition], segkafka.Message{
			Key:     msg.Key,
			Value:   msg.Value,
			Time:    msg.TimeStamp,
			Headers: headers,
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.sendTimeout)
	defer cancel()
	for _, partition := range order {
		if err := p.writerFor(partition).WriteMessages(ctx, batches[partition]...); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

// writerFor returns the keyed writer for partition -1, otherwise a writer
// whose balancer pins every message to the given partition.
func (p *MessageProducer) writerFor(partition int32) *segkafka.Writer {
	p.lock.Lock()
	defer p.lock.Unlock()
	if partition < 0 {
		if p.keyed == nil {
			p.keyed = p.newWriter(&murmur2Balancer{})
		}
		return p.keyed
	}
	writer, ok := p.partitioned[partition]
	if !ok {
		writer = p.newWriter(staticBalancer{partition: int(partition)})
		p.partitioned[partition] = writer
	}
	return writer
}

func (p *MessageProducer) newWriter(balancer segkafka.Balancer) *segkafka.Writer {
	return &segkafka.Writer{
		Addr:         p.addr,
		Topic:        p.topicName,
		Balancer:     balancer,
		WriteTimeout: p.sendTimeout,
		BatchTimeout: time.Millisecond,
	}
}

func (p *MessageProducer) Start() error {
	return nil
}

func (p *MessageProducer) Stop() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	var firstErr error
	if p.keyed != nil {
		firstErr = p.keyed.Close()
	}
	for _, writer := range p.partitioned {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return errors.WithStack(firstErr)
}

// murmur2Balancer routes by the same key hash the engine uses for its own
// partition assignment, so externally produced and repartitioned records
// agree on ownership.
type murmur2Balancer struct {
}

func (b *murmur2Balancer) Balance(msg segkafka.Message, partitions ...int) int {
	if len(msg.Key) == 0 {
		return partitions[0]
	}
	h := segkafka.Murmur2Balancer{}
	return h.Balance(msg, partitions...)
}

// staticBalancer pins every message to one partition regardless of its key.
type staticBalancer struct {
	partition int
}

func (b staticBalancer) Balance(_ segkafka.Message, _ ...int) int {
	return b.partition
}
