package planner

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/matview-io/matview/conf"
	"github.com/matview-io/matview/kafka"
	"github.com/matview-io/matview/kafka/fake"
	"github.com/matview-io/matview/parser"
	"github.com/stretchr/testify/require"
)

const restartTestSQL = `
	CREATE STREAM pageviews (ID BIGINT KEY, PAGE VARCHAR, DURATION DOUBLE)
	WITH (topic='pageviews', format='JSON', partitions='1');
	CREATE TABLE page_stats WITH (topic='page-stats') AS
	SELECT PAGE, count(*) AS CNT, sum(DURATION) AS TOTAL_DUR
	FROM pageviews GROUP BY PAGE;
`

func buildRestartTopology(t *testing.T, fk *fake.Kafka) *Topology {
	t.Helper()
	require.NoError(t, fk.CreateTopicIfNotExists("pageviews", 1))
	cfg := &conf.Config{Partitions: 1}
	cfg.ApplyDefaults()
	pl := NewPlanner(cfg, fake.NewFakeMessageClientFactory(fk), fk)
	statements, err := parser.ParseStatements(restartTestSQL)
	require.NoError(t, err)
	topology, err := pl.Build(statements)
	require.NoError(t, err)
	return topology
}

func pushPageview(t *testing.T, fk *fake.Kafka, id int, page string, duration float64) {
	t.Helper()
	topic, ok := fk.GetTopic("pageviews")
	require.True(t, ok)
	value, err := json.Marshal(map[string]any{"PAGE": page, "DURATION": duration})
	require.NoError(t, err)
	key, err := json.Marshal(id)
	require.NoError(t, err)
	require.NoError(t, topic.Push(&kafka.Message{
		PartInfo:  kafka.PartInfo{PartitionID: -1},
		TimeStamp: time.Now(),
		Key:       key,
		Value:     value,
	}))
}

func waitForOutputCount(t *testing.T, fk *fake.Kafka, topology *Topology, count int) []*kafka.Message {
	t.Helper()
	topic, ok := fk.GetTopic("page-stats")
	require.True(t, ok)
	start := time.Now()
	for {
		var messages []*kafka.Message
		for partition := 0; partition < topic.PartitionCount(); partition++ {
			messages = append(messages, topic.Messages(partition)...)
		}
		if len(messages) >= count {
			require.Len(t, messages, count)
			return messages
		}
		require.NoError(t, topology.Failure())
		if time.Since(start) > 10*time.Second {
			t.Fatalf("timed out waiting for %d output messages, have %d", count, len(messages))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func lastOutputValue(t *testing.T, messages []*kafka.Message) map[string]any {
	t.Helper()
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(messages[len(messages)-1].Value, &decoded))
	return decoded
}

// A restarted topology rebuilds its stores from the changelogs, resumes from
// the committed input offsets and converges on the same materialized values
// without emitting duplicates for already-processed records.
func TestTopologyRestartResumesWithoutDuplicates(t *testing.T) {
	fk := &fake.Kafka{}
	topology := buildRestartTopology(t, fk)
	require.NoError(t, topology.Start())

	pushPageview(t, fk, 1, "home", 1.5)
	pushPageview(t, fk, 2, "home", 2.5)
	messages := waitForOutputCount(t, fk, topology, 2)
	require.Equal(t, map[string]any{"CNT": float64(2), "TOTAL_DUR": 4.0}, lastOutputValue(t, messages))
	require.NoError(t, topology.Stop())

	restarted := buildRestartTopology(t, fk)
	require.NoError(t, restarted.Start())

	// Nothing new arrives: the restart must not re-emit for the two records
	// it already processed.
	time.Sleep(200 * time.Millisecond)
	waitForOutputCount(t, fk, restarted, 2)

	pushPageview(t, fk, 3, "home", 6.0)
	messages = waitForOutputCount(t, fk, restarted, 3)
	require.Equal(t, map[string]any{"CNT": float64(3), "TOTAL_DUR": 10.0}, lastOutputValue(t, messages))
	require.NoError(t, restarted.Stop())
}

func TestTopologyStartTwiceFails(t *testing.T) {
	fk := &fake.Kafka{}
	topology := buildRestartTopology(t, fk)
	require.NoError(t, topology.Start())
	require.Error(t, topology.Start())
	require.NoError(t, topology.Stop())
}

func TestTopologyStopBeforeStartIsNoOp(t *testing.T) {
	fk := &fake.Kafka{}
	topology := buildRestartTopology(t, fk)
	require.NoError(t, topology.Stop())
}
