package segment

import (
	"context"

	"github.com/matview-io/matview/errors"
	segkafka "github.com/segmentio/kafka-go"
)

// TopicAdmin provisions internal topics on a real broker.
type TopicAdmin struct {
	client *segkafka.Client
}

func NewTopicAdmin(bootstrapServer string) *TopicAdmin {
	return &TopicAdmin{
		client: &segkafka.Client{
			Addr: segkafka.TCP(bootstrapServer),
		},
	}
}

func (a *TopicAdmin) CreateTopicIfNotExists(name string, partitions int) error {
	resp, err := a.client.CreateTopics(context.Background(), &segkafka.CreateTopicsRequest{
		Topics: []segkafka.TopicConfig{
			{
				Topic:             name,
				NumPartitions:     partitions,
				ReplicationFactor: 1,
			},
		},
	})
	if err != nil {
		return errors.WithStack(err)
	}
	if topicErr := resp.Errors[name]; topicErr != nil {
		if errors.Is(topicErr, segkafka.TopicAlreadyExists) {
			return nil
		}
		return errors.WithStack(topicErr)
	}
	return nil
}
