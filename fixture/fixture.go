package fixture

import (
	"encoding/json"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/matview-io/matview/conf"
	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/kafka"
	"github.com/matview-io/matview/kafka/fake"
	"github.com/matview-io/matview/parser"
	"github.com/matview-io/matview/planner"
)

// TestCase is the JSON fixture format: statements to plan, records to feed
// into source topics, and the exact records expected on output topics.
// Expected outputs are compared per key in emission order - cross-key
// interleaving is not part of the contract.
type TestCase struct {
	Name       string        `json:"name"`
	Statements []string      `json:"statements"`
	Inputs     []TopicRecord `json:"inputs"`
	Outputs    []TopicRecord `json:"outputs"`
	// Format lists codec variants to run the same scenario against. The
	// statements use the {FORMAT} placeholder where the codec name goes.
	Format []string `json:"format,omitempty"`
}

// TopicRecord is one record on a topic. Key and Value are raw JSON; a null
// or absent value is a tombstone.
type TopicRecord struct {
	Topic     string          `json:"topic"`
	Key       json.RawMessage `json:"key"`
	Value     json.RawMessage `json:"value"`
	Timestamp *int64          `json:"timestamp,omitempty"`
}

func LoadFile(path string) (*TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	tc := &TestCase{}
	if err := json.Unmarshal(data, tc); err != nil {
		return nil, errors.Errorf("invalid fixture %s: %v", path, err)
	}
	return tc, nil
}

const outputWaitTimeout = 10 * time.Second

// Run executes the test case against an in-memory broker and fails if the
// output topics do not converge on the expected records. Cases declaring
// codec variants run once per variant.
func Run(tc *TestCase, cfg *conf.Config) error {
	if len(tc.Format) == 0 {
		return runVariant(tc, cfg, "")
	}
	for _, format := range tc.Format {
		if err := runVariant(tc, cfg, format); err != nil {
			return errors.Errorf("format variant '%s': %v", format, err)
		}
	}
	return nil
}

func runVariant(tc *TestCase, cfg *conf.Config, format string) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	fk := &fake.Kafka{}
	statementText := joinStatements(tc.Statements)
	if format != "" {
		statementText = strings.ReplaceAll(statementText, "{FORMAT}", format)
	}
	statements, err := parser.ParseStatements(statementText)
	if err != nil {
		return err
	}
	if err := createSourceTopics(fk, statements, cfg); err != nil {
		return err
	}
	pl := planner.NewPlanner(cfg, fake.NewFakeMessageClientFactory(fk), fk)
	topology, err := pl.Build(statements)
	if err != nil {
		return err
	}
	if err := topology.Start(); err != nil {
		return err
	}
	defer func() {
		_ = topology.Stop()
	}()
	if err := feedInputs(fk, tc.Inputs, format); err != nil {
		return err
	}
	return waitForOutputs(fk, topology, tc.Outputs, format)
}

func joinStatements(statements []string) string {
	var sb strings.Builder
	for _, statement := range statements {
		sb.WriteString(statement)
		if !strings.HasSuffix(strings.TrimSpace(statement), ";") {
			sb.WriteString(";")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func createSourceTopics(fk *fake.Kafka, statements []parser.Statement, cfg *conf.Config) error {
	for _, statement := range statements {
		desc, ok := statement.(*parser.CreateSourceDesc)
		if !ok {
			continue
		}
		topicName := desc.Props["topic"]
		if topicName == "" {
			topicName = desc.Name
		}
		partitions := cfg.Partitions
		if partsProp := desc.Props["partitions"]; partsProp != "" {
			parts, err := strconv.Atoi(partsProp)
			if err != nil {
				return errors.Errorf("source '%s': invalid partitions property: %v", desc.Name, err)
			}
			partitions = parts
		}
		if err := fk.CreateTopicIfNotExists(topicName, partitions); err != nil {
			return err
		}
	}
	return nil
}

func feedInputs(fk *fake.Kafka, inputs []TopicRecord, format string) error {
	baseTime := time.Now()
	for i, input := range inputs {
		topic, ok := fk.GetTopic(input.Topic)
		if !ok {
			return errors.Errorf("input references unknown topic '%s'", input.Topic)
		}
		timestamp := baseTime.Add(time.Duration(i) * time.Millisecond)
		if input.Timestamp != nil {
			timestamp = time.UnixMilli(*input.Timestamp)
		}
		msg := &kafka.Message{
			PartInfo: kafka.PartInfo{
				PartitionID: -1,
			},
			TimeStamp: timestamp,
			Key:       payloadBytes(input.Key, format),
			Value:     payloadBytes(input.Value, format),
		}
		if err := topic.Push(msg); err != nil {
			return err
		}
	}
	return nil
}

// rawBytes treats JSON null the same as an absent field: a tombstone.
func rawBytes(raw json.RawMessage) []byte {
	if raw == nil || string(raw) == "null" {
		return nil
	}
	return []byte(raw)
}

// payloadBytes converts the fixture's JSON representation of a payload into
// what goes on the wire. For non-JSON codecs a fixture string holds the
// payload text directly, so the JSON quoting is stripped.
func payloadBytes(raw json.RawMessage, format string) []byte {
	payload := rawBytes(raw)
	if payload == nil {
		return nil
	}
	if format != "" && format != "json" && payload[0] == '"' {
		var str string
		if err := json.Unmarshal(payload, &str); err == nil {
			return []byte(str)
		}
	}
	return payload
}

func waitForOutputs(fk *fake.Kafka, topology *planner.Topology, outputs []TopicRecord,
	format string) error {
	expectedCounts := map[string]int{}
	for _, output := range outputs {
		expectedCounts[output.Topic]++
	}
	deadline := time.Now().Add(outputWaitTimeout)
	for {
		if err := topology.Failure(); err != nil {
			return errors.Errorf("topology failed while waiting for outputs: %v", err)
		}
		done := true
		for topicName, expected := range expectedCounts {
			if countMessages(fk, topicName) < expected {
				done = false
				break
			}
		}
		if done {
			break
		}
		if time.Now().After(deadline) {
			return describeShortfall(fk, expectedCounts)
		}
		time.Sleep(5 * time.Millisecond)
	}
	for topicName, expected := range expectedCounts {
		if actual := countMessages(fk, topicName); actual != expected {
			return errors.Errorf("topic '%s': expected %d output records, got %d",
				topicName, expected, actual)
		}
	}
	return compareOutputs(fk, outputs, format)
}

func describeShortfall(fk *fake.Kafka, expectedCounts map[string]int) error {
	var parts []string
	for topicName, expected := range expectedCounts {
		parts = append(parts, topicName+": expected "+strconv.Itoa(expected)+
			" got "+strconv.Itoa(countMessages(fk, topicName)))
	}
	return errors.Errorf("timed out waiting for outputs (%s)", strings.Join(parts, ", "))
}

func countMessages(fk *fake.Kafka, topicName string) int {
	topic, ok := fk.GetTopic(topicName)
	if !ok {
		return 0
	}
	count := 0
	for partition := 0; partition < topic.PartitionCount(); partition++ {
		count += len(topic.Messages(partition))
	}
	return count
}

// compareOutputs checks per-key emission sequences. All records for one key
// land on one partition, so the per-partition order is the per-key order.
func compareOutputs(fk *fake.Kafka, outputs []TopicRecord, format string) error {
	expectedByKey := map[string][]any{}
	for _, output := range outputs {
		seqKey := output.Topic + "|" + canonicalJSON(payloadBytes(output.Key, format))
		expectedByKey[seqKey] = append(expectedByKey[seqKey],
			parseJSON(payloadBytes(output.Value, format)))
	}
	actualByKey := map[string][]any{}
	seenTopics := map[string]bool{}
	for _, output := range outputs {
		if seenTopics[output.Topic] {
			continue
		}
		seenTopics[output.Topic] = true
		topic, ok := fk.GetTopic(output.Topic)
		if !ok {
			return errors.Errorf("no such output topic '%s'", output.Topic)
		}
		for partition := 0; partition < topic.PartitionCount(); partition++ {
			for _, msg := range topic.Messages(partition) {
				seqKey := output.Topic + "|" + canonicalJSON(msg.Key)
				actualByKey[seqKey] = append(actualByKey[seqKey], parseJSON(msg.Value))
			}
		}
	}
	for seqKey, expected := range expectedByKey {
		actual := actualByKey[seqKey]
		if !reflect.DeepEqual(expected, actual) {
			return errors.Errorf("output mismatch for key %s:\n  expected: %s\n  actual:   %s",
				seqKey, renderJSON(expected), renderJSON(actual))
		}
	}
	for seqKey := range actualByKey {
		if _, ok := expectedByKey[seqKey]; !ok {
			return errors.Errorf("unexpected output records for key %s: %s",
				seqKey, renderJSON(actualByKey[seqKey]))
		}
	}
	return nil
}

// canonicalJSON normalizes a JSON document so formatting differences don't
// affect key identity.
func canonicalJSON(raw []byte) string {
	parsed := parseJSON(raw)
	if parsed == nil {
		return "null"
	}
	out, err := json.Marshal(parsed)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func parseJSON(raw []byte) any {
	if raw == nil {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw)
	}
	return parsed
}

func renderJSON(val any) string {
	out, err := json.Marshal(val)
	if err != nil {
		return "?"
	}
	return string(out)
}
