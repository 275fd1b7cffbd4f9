package fake

import (
	"sync"
	"time"

	"github.com/matview-io/matview/common"
	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/kafka"
	log "github.com/matview-io/matview/logger"
)

// Kafka is an in-memory broker with fully retained partitions, used by the
// functional test harness and anywhere durable-log semantics need to be
// exercised without a real cluster. Retention is total, so changelog replay
// always sees the complete history.
type Kafka struct {
	topicLock sync.Mutex
	topics    sync.Map
}

func (f *Kafka) CreateTopic(name string, partitions int) (*Topic, error) {
	f.topicLock.Lock()
	defer f.topicLock.Unlock()
	if _, ok := f.getTopic(name); ok {
		return nil, errors.Errorf("topic with name %s already exists", name)
	}
	parts := make([]*Partition, partitions)
	for i := 0; i < partitions; i++ {
		parts[i] = &Partition{
			id: int32(i),
		}
	}
	topic := &Topic{
		Name:       name,
		partitions: parts,
	}
	f.topics.Store(name, topic)
	return topic, nil
}

// CreateTopicIfNotExists lets the fake broker stand in wherever internal
// topics are provisioned at plan time.
func (f *Kafka) CreateTopicIfNotExists(name string, partitions int) error {
	f.topicLock.Lock()
	defer f.topicLock.Unlock()
	if _, ok := f.getTopic(name); ok {
		return nil
	}
	parts := make([]*Partition, partitions)
	for i := 0; i < partitions; i++ {
		parts[i] = &Partition{
			id: int32(i),
		}
	}
	f.topics.Store(name, &Topic{
		Name:       name,
		partitions: parts,
	})
	return nil
}

func (f *Kafka) GetTopic(name string) (*Topic, bool) {
	return f.getTopic(name)
}

func (f *Kafka) DeleteTopic(name string) error {
	f.topicLock.Lock()
	defer f.topicLock.Unlock()
	if _, ok := f.getTopic(name); !ok {
		return errors.Errorf("no such topic %s", name)
	}
	f.topics.Delete(name)
	return nil
}

func (f *Kafka) GetTopicNames() []string {
	f.topicLock.Lock()
	defer f.topicLock.Unlock()
	var names []string
	f.topics.Range(func(key, _ interface{}) bool {
		names = append(names, key.(string))
		return true
	})
	return names
}

func (f *Kafka) getTopic(name string) (*Topic, bool) {
	t, ok := f.topics.Load(name)
	if !ok {
		return nil, false
	}
	return t.(*Topic), true
}

type Topic struct {
	Name       string
	partitions []*Partition
}

type Partition struct {
	lock     sync.Mutex
	id       int32
	messages []*kafka.Message
}

func (p *Partition) push(message *kafka.Message) {
	p.lock.Lock()
	defer p.lock.Unlock()
	message.PartInfo = kafka.PartInfo{
		PartitionID: p.id,
		Offset:      int64(len(p.messages)),
	}
	p.messages = append(p.messages, message)
}

func (t *Topic) PartitionCount() int {
	return len(t.partitions)
}

// Push routes by key hash when the message has no explicit partition.
func (t *Topic) Push(message *kafka.Message) error {
	partID := int(message.PartInfo.PartitionID)
	if partID < 0 {
		hash := common.DefaultHash(message.Key)
		partID = int(common.CalcPartition(hash, len(t.partitions)))
	}
	if partID >= len(t.partitions) {
		return errors.Errorf("partition %d out of range for topic %s with %d partitions",
			partID, t.Name, len(t.partitions))
	}
	t.partitions[partID].push(message)
	return nil
}

func (t *Topic) Messages(partitionID int) []*kafka.Message {
	part := t.partitions[partitionID]
	part.lock.Lock()
	defer part.lock.Unlock()
	msgs := make([]*kafka.Message, len(part.messages))
	copy(msgs, part.messages)
	return msgs
}

func (t *Topic) HighWaterMark(partitionID int) int64 {
	part := t.partitions[partitionID]
	part.lock.Lock()
	defer part.lock.Unlock()
	return int64(len(part.messages))
}

func (t *Topic) CreateSubscriber(partitionIDs []int, startOffsets []int64) (*Subscriber, error) {
	log.Debugf("creating fake kafka subscriber for partitions %v, offsets %v", partitionIDs, startOffsets)
	offsetsMap := map[int32]int64{}
	var partitions []*Partition
	for i, partitionID := range partitionIDs {
		var offset int64
		if startOffsets[i] != -1 {
			offset = startOffsets[i]
		}
		offsetsMap[int32(partitionID)] = offset
		partitions = append(partitions, t.partitions[partitionID])
	}
	return &Subscriber{
		topic:       t,
		nextOffsets: offsetsMap,
		partitions:  partitions,
	}, nil
}

type Subscriber struct {
	topic       *Topic
	partitions  []*Partition
	stopped     common.AtomicBool
	msgBuffer   []*kafka.Message
	nextOffsets map[int32]int64
}

func (c *Subscriber) GetMessage(pollTimeout time.Duration) (*kafka.Message, error) {
	if c.stopped.Get() {
		return nil, errors.New("subscriber is stopped")
	}
	start := time.Now()
	for {
		if len(c.msgBuffer) == 0 {
			for _, part := range c.partitions {
				offset := c.nextOffsets[part.id]
				part.lock.Lock()
				if len(part.messages) > int(offset) {
					msg := part.messages[offset]
					c.nextOffsets[part.id] = offset + 1
					c.msgBuffer = append(c.msgBuffer, msg)
				}
				part.lock.Unlock()
			}
		}
		if len(c.msgBuffer) != 0 {
			msg := c.msgBuffer[0]
			c.msgBuffer = c.msgBuffer[1:]
			return msg, nil
		}
		if time.Since(start) >= pollTimeout {
			return nil, nil
		}
		time.Sleep(1 * time.Millisecond)
	}
}

func (c *Subscriber) Unsubscribe() {
	c.stopped.Set(true)
}

func NewFakeMessageClientFactory(fk *Kafka) kafka.ClientFactory {
	return func(topicName string, props map[string]string) (kafka.MessageClient, error) {
		return &MessageClient{
			fk:        fk,
			topicName: topicName,
			props:     props,
		}, nil
	}
}

type MessageClient struct {
	fk        *Kafka
	topicName string
	props     map[string]string
}

func (c *MessageClient) HighWaterMark(partition int) (int64, error) {
	topic, ok := c.fk.GetTopic(c.topicName)
	if !ok {
		return 0, errors.Errorf("no such topic %s", c.topicName)
	}
	return topic.HighWaterMark(partition), nil
}

func (c *MessageClient) NewMessageProvider(partitions []int, offsets []int64) (kafka.MessageProvider, error) {
	topic, ok := c.fk.GetTopic(c.topicName)
	if !ok {
		return nil, errors.Errorf("no such topic %s", c.topicName)
	}
	return &MessageProvider{
		topic:        topic,
		partitionIDs: partitions,
		offsets:      offsets,
	}, nil
}

type MessageProvider struct {
	lock         sync.Mutex
	subscriber   *Subscriber
	topic        *Topic
	partitionIDs []int
	offsets      []int64
}

func (p *MessageProvider) GetMessage(pollTimeout time.Duration) (*kafka.Message, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.subscriber == nil {
		// Not started yet - benign, the consumer is started first
		return nil, nil
	}
	return p.subscriber.GetMessage(pollTimeout)
}

func (p *MessageProvider) Start() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	subscriber, err := p.topic.CreateSubscriber(p.partitionIDs, p.offsets)
	if err != nil {
		return errors.WithStack(err)
	}
	p.subscriber = subscriber
	return nil
}

func (p *MessageProvider) Stop() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.subscriber != nil {
		p.subscriber.Unsubscribe()
	}
	return nil
}

func (c *MessageClient) NewMessageProducer(_ time.Duration, _ time.Duration) (kafka.MessageProducer, error) {
	return &MessageProducer{
		fk:        c.fk,
		topicName: c.topicName,
	}, nil
}

type MessageProducer struct {
	fk        *Kafka
	topicName string
}

func (p *MessageProducer) SendMessages(messages []kafka.Message) error {
	topic, ok := p.fk.GetTopic(p.topicName)
	if !ok {
		return errors.Errorf("no such topic %s", p.topicName)
	}
	for i := range messages {
		if err := topic.Push(&messages[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *MessageProducer) Start() error {
	return nil
}

func (p *MessageProducer) Stop() error {
	return nil
}
