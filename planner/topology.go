package planner

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/matview-io/matview/conf"
	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/kafka"
	log "github.com/matview-io/matview/logger"
	"github.com/matview-io/matview/opers"
	"github.com/matview-io/matview/proc"
	"github.com/matview-io/matview/store"
)

// Topology is the runnable form of a set of statements: per query, one
// processor per source partition feeding grouping and repartitioning, and
// one processor per repartition partition feeding aggregation and the sink.
type Topology struct {
	cfg                *conf.Config
	clientFactory      kafka.ClientFactory
	queries            []*queryPlan
	producers          []kafka.MessageProducer
	errorLog           opers.ProcessingErrorLog
	lock               sync.Mutex
	started            bool
	runID              uuid.UUID
	processors         []*proc.Processor
	changelogProducers []kafka.MessageProducer
}

func newTopology(cfg *conf.Config, clientFactory kafka.ClientFactory, queries []*queryPlan,
	producers []kafka.MessageProducer, errorLog opers.ProcessingErrorLog) *Topology {
	return &Topology{
		cfg:           cfg,
		clientFactory: clientFactory,
		queries:       queries,
		producers:     producers,
		errorLog:      errorLog,
	}
}

func (t *Topology) Start() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.started {
		return errors.New("topology already started")
	}
	t.runID = uuid.New()
	for _, producer := range t.producers {
		if err := producer.Start(); err != nil {
			return err
		}
	}
	for _, query := range t.queries {
		for _, st := range []*stage{query.sourceStage, query.aggStage} {
			if err := t.startStage(st); err != nil {
				return err
			}
		}
		log.Infof("started query %s (run %s)", query.name, t.runID)
	}
	t.started = true
	return nil
}

// startStage builds one processor per partition of the stage's input topic.
// Each partition store is rehydrated from the stage changelog first, and
// consumption resumes from the offset the rehydrated store recorded.
func (t *Topology) startStage(st *stage) error {
	changelogClient, err := t.clientFactory(st.changelogTopic, t.cfg.ClientProps)
	if err != nil {
		return err
	}
	changelogProducer, err := changelogClient.NewMessageProducer(t.cfg.ConnectTimeout, t.cfg.SendTimeout)
	if err != nil {
		return err
	}
	if err := changelogProducer.Start(); err != nil {
		return err
	}
	t.changelogProducers = append(t.changelogProducers, changelogProducer)
	inputClient, err := t.clientFactory(st.inputTopic, t.cfg.ClientProps)
	if err != nil {
		return err
	}
	for partition := 0; partition < st.partitions; partition++ {
		partStore := store.NewPartitionStore(partition, changelogProducer)
		changelogProvider, err := changelogClient.NewMessageProvider([]int{partition}, []int64{0})
		if err != nil {
			return err
		}
		highWaterMark, err := changelogClient.HighWaterMark(partition)
		if err != nil {
			return err
		}
		if err := partStore.Rehydrate(changelogProvider, t.cfg.PollTimeout, highWaterMark); err != nil {
			return err
		}
		committed, err := proc.CommittedOffset(partStore, st.mappingID, partition)
		if err != nil {
			return err
		}
		provider, err := inputClient.NewMessageProvider([]int{partition}, []int64{committed})
		if err != nil {
			return err
		}
		processor := proc.NewProcessor(st.name, partition, st.mappingID, partStore, st.head,
			provider, st.decoder, t.cfg.PollTimeout, t.errorLog)
		if err := processor.Start(); err != nil {
			return err
		}
		t.processors = append(t.processors, processor)
	}
	return nil
}

func (t *Topology) Stop() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if !t.started {
		return nil
	}
	var firstErr error
	for _, processor := range t.processors {
		if err := processor.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, query := range t.queries {
		query.repartition.Teardown()
		query.sink.Teardown()
		query.groupBy.Teardown()
		query.aggregate.Teardown()
	}
	for _, producer := range t.changelogProducers {
		if err := producer.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.started = false
	return firstErr
}

// Failure returns the first processor failure, if any partition has died.
func (t *Topology) Failure() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	for _, processor := range t.processors {
		if err := processor.Failure(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topology) ErrorLog() opers.ProcessingErrorLog {
	return t.errorLog
}

// OutputTopic returns the output topic of the named query.
func (t *Topology) OutputTopic(queryName string) (string, bool) {
	for _, query := range t.queries {
		if query.name == queryName {
			return query.sink.TopicName(), true
		}
	}
	return "", false
}

// OutputSchemas returns the key and value schemas of the named query's
// output topic.
func (t *Topology) OutputSchemas(queryName string) (*opers.OperatorSchema, bool) {
	for _, query := range t.queries {
		if query.name == queryName {
			schema := query.sink.InSchema().Copy()
			return schema, true
		}
	}
	return nil, false
}

// Describe renders the dataflow of every query as text.
func (t *Topology) Describe() string {
	var sb strings.Builder
	for _, query := range t.queries {
		sb.WriteString("Query: " + query.name + "\n")
		sb.WriteString("  Sub-topology: 0\n")
		sb.WriteString("    Source: topic " + query.sourceStage.inputTopic + "\n")
		sb.WriteString("      --> " + query.groupBy.Name() + "\n")
		sb.WriteString("    GroupBy: " + query.groupBy.Name() + " [key: (" +
			strings.Join(query.groupBy.OutSchema().KeySchema.ColumnNames(), ", ") + ")]\n")
		sb.WriteString("      --> " + query.repartition.Name() + "\n")
		sb.WriteString("    Repartition: topic " + query.repartition.TopicName() + "\n")
		sb.WriteString("  Sub-topology: 1\n")
		sb.WriteString("    Source: topic " + query.aggStage.inputTopic + "\n")
		sb.WriteString("      --> " + query.aggregate.Name() + "\n")
		sb.WriteString("    Aggregate: " + query.aggregate.Name() + " [columns: (" +
			strings.Join(query.aggregate.OutSchema().EventSchema.ColumnNames(), ", ") + ")]\n")
		sb.WriteString("      --> " + query.sink.Name() + "\n")
		sb.WriteString("    Sink: topic " + query.sink.TopicName() + "\n")
	}
	return sb.String()
}
