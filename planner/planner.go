package planner

import (
	"strconv"

	"github.com/matview-io/matview/codec"
	"github.com/matview-io/matview/conf"
	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/expr"
	"github.com/matview-io/matview/kafka"
	"github.com/matview-io/matview/opers"
	"github.com/matview-io/matview/parser"
	"github.com/matview-io/matview/proc"
	"github.com/matview-io/matview/sdata"
	"github.com/matview-io/matview/types"
)

// Slabs used within a query's stores. Slab 0 is reserved for committed
// offsets.
const (
	MaterializeSlabID = 1
	AggregateSlabID   = 2
)

// TopicCreator creates the internal topics a query needs: the repartition
// topic and the changelog topics. Nil means they already exist.
type TopicCreator interface {
	CreateTopicIfNotExists(name string, partitions int) error
}

// Planner turns parsed statements into a runnable Topology. All static
// validation happens here: unknown sources, projections that aren't part of
// the GROUP BY, aggregate functions that can't undo on table sources.
type Planner struct {
	cfg           *conf.Config
	clientFactory kafka.ClientFactory
	topicCreator  TopicCreator
	exprFactory   *expr.Factory
}

func NewPlanner(cfg *conf.Config, clientFactory kafka.ClientFactory, topicCreator TopicCreator) *Planner {
	return &Planner{
		cfg:           cfg,
		clientFactory: clientFactory,
		topicCreator:  topicCreator,
		exprFactory:   expr.NewFactory(),
	}
}

type sourceInfo struct {
	desc       *parser.CreateSourceDesc
	topicName  string
	format     string
	partitions int
	keySchema  *sdata.Schema
	combined   *sdata.Schema
}

type queryPlan struct {
	name        string
	source      *sourceInfo
	groupBy     *opers.GroupByOperator
	repartition *opers.RepartitionOperator
	aggregate   *opers.AggregateOperator
	sink        *opers.SinkOperator
	sourceStage *stage
	aggStage    *stage
}

// stage is one sub-topology: an input topic consumed partition by partition,
// a changelog topic backing the partition stores, and the head of the
// operator chain the records are pushed through.
type stage struct {
	name           string
	mappingID      string
	inputTopic     string
	partitions     int
	changelogTopic string
	head           opers.Operator
	decoder        proc.RecordDecoder
}

func (p *Planner) Build(statements []parser.Statement) (*Topology, error) {
	sources := map[string]*sourceInfo{}
	var queries []*queryPlan
	errorLog := opers.NewProcessingErrorLog()
	var producers []kafka.MessageProducer
	for _, statement := range statements {
		switch desc := statement.(type) {
		case *parser.CreateSourceDesc:
			if _, exists := sources[desc.Name]; exists {
				return nil, errors.NewPlanBuildErrorf("source '%s' already defined", desc.Name)
			}
			sources[desc.Name] = p.buildSourceInfo(desc)
		case *parser.AggregateQueryDesc:
			query, queryProducers, err := p.buildQuery(desc, sources, errorLog)
			if err != nil {
				return nil, err
			}
			queries = append(queries, query)
			producers = append(producers, queryProducers...)
		default:
			return nil, errors.NewPlanBuildErrorf("unexpected statement type %T", statement)
		}
	}
	return newTopology(p.cfg, p.clientFactory, queries, producers, errorLog), nil
}

func (p *Planner) buildSourceInfo(desc *parser.CreateSourceDesc) *sourceInfo {
	topicName := desc.Props["topic"]
	if topicName == "" {
		topicName = desc.Name
	}
	format := desc.Props["format"]
	if format == "" {
		format = "json"
	}
	partitions := p.cfg.Partitions
	if partsProp := desc.Props["partitions"]; partsProp != "" {
		if parts, err := strconv.Atoi(partsProp); err == nil {
			partitions = parts
		}
	}
	keyNames, keyTypes := columnDefs(desc.KeyColumns())
	combinedNames := make([]string, 0, len(desc.Columns))
	combinedTypes := make([]types.ColumnType, 0, len(desc.Columns))
	combinedNames = append(combinedNames, keyNames...)
	combinedTypes = append(combinedTypes, keyTypes...)
	valueNames, valueTypes := columnDefs(desc.ValueColumns())
	combinedNames = append(combinedNames, valueNames...)
	combinedTypes = append(combinedTypes, valueTypes...)
	return &sourceInfo{
		desc:       desc,
		topicName:  topicName,
		format:     format,
		partitions: partitions,
		keySchema:  sdata.NewSchema(keyNames, keyTypes),
		combined:   sdata.NewSchema(combinedNames, combinedTypes),
	}
}

func columnDefs(cols []parser.ColumnDef) ([]string, []types.ColumnType) {
	names := make([]string, len(cols))
	colTypes := make([]types.ColumnType, len(cols))
	for i, col := range cols {
		names[i] = col.Name
		colTypes[i] = col.Type
	}
	return names, colTypes
}

func (p *Planner) buildQuery(desc *parser.AggregateQueryDesc, sources map[string]*sourceInfo,
	errorLog opers.ProcessingErrorLog) (*queryPlan, []kafka.MessageProducer, error) {
	src, ok := sources[desc.Source]
	if !ok {
		return nil, nil, errors.NewPlanBuildErrorf("query '%s': unknown source '%s'", desc.Name, desc.Source)
	}
	if len(desc.GroupByExprs) == 0 {
		return nil, nil, errors.NewPlanBuildErrorf("query '%s': GROUP BY is required", desc.Name)
	}
	groupExprs := make([]expr.Expression, len(desc.GroupByExprs))
	for i, exprStr := range desc.GroupByExprs {
		var err error
		groupExprs[i], err = p.exprFactory.CreateExpression(exprStr, src.combined)
		if err != nil {
			return nil, nil, err
		}
	}
	holders, keyIndexes, valueIndexes, keySchema, valueSchema, err :=
		p.resolveProjections(desc, src, groupExprs)
	if err != nil {
		return nil, nil, err
	}
	if src.desc.Table {
		for _, holder := range holders {
			if !holder.Func.SupportsRetraction() {
				return nil, nil, errors.NewStatementErrorf(
					"query '%s': aggregate function '%s' cannot be used on table source '%s'",
					desc.Name, holder.Func.Name(), desc.Source)
			}
		}
	}

	repartitionTopic := internalTopicName(desc.Name, "repartition")
	sourceChangelogTopic := internalTopicName(desc.Name, "changelog-source")
	aggChangelogTopic := internalTopicName(desc.Name, "changelog-aggregate")
	outputTopic := desc.Props["topic"]
	if outputTopic == "" {
		outputTopic = desc.Name
	}
	outputFormat := desc.Props["format"]
	if outputFormat == "" {
		outputFormat = src.format
	}
	outputCodec, err := codec.GetCodec(outputFormat)
	if err != nil {
		return nil, nil, err
	}
	if p.topicCreator != nil {
		for _, topic := range []struct {
			name       string
			partitions int
		}{
			{repartitionTopic, p.cfg.Partitions},
			{sourceChangelogTopic, src.partitions},
			{aggChangelogTopic, p.cfg.Partitions},
			{outputTopic, p.cfg.Partitions},
		} {
			if err := p.topicCreator.CreateTopicIfNotExists(topic.name, topic.partitions); err != nil {
				return nil, nil, err
			}
		}
	}

	repartitionProducer, err := p.createProducer(repartitionTopic)
	if err != nil {
		return nil, nil, err
	}
	sinkProducer, err := p.createProducer(outputTopic)
	if err != nil {
		return nil, nil, err
	}

	sourceMappingID := desc.Name + ".source"
	aggMappingID := desc.Name + ".aggregate"
	_, sourceKeyTypes := columnDefs(src.desc.KeyColumns())
	groupByOper := opers.NewGroupByOperator(desc.Name+"-groupby", &opers.OperatorSchema{
		EventSchema: src.combined,
		MappingID:   sourceMappingID,
		Partitions:  src.partitions,
	}, groupExprs, src.desc.Table, sourceKeyTypes, MaterializeSlabID, errorLog)
	repartitionOper := opers.NewRepartitionOperator(desc.Name+"-repartition",
		groupByOper.OutSchema(), repartitionTopic, p.cfg.Partitions, repartitionProducer)
	groupByOper.AddDownStreamOperator(repartitionOper)

	aggInSchema := &opers.OperatorSchema{
		EventSchema: src.combined,
		KeySchema:   groupByOper.OutSchema().KeySchema,
		MappingID:   aggMappingID,
		Partitions:  p.cfg.Partitions,
	}
	aggOper, err := opers.NewAggregateOperator(desc.Name+"-aggregate", aggInSchema, holders,
		AggregateSlabID, errorLog)
	if err != nil {
		return nil, nil, err
	}
	sinkOper := opers.NewSinkOperator(desc.Name+"-sink", aggOper.OutSchema(), outputTopic,
		outputCodec, sinkProducer, keyIndexes, valueIndexes, keySchema, valueSchema)
	aggOper.AddDownStreamOperator(sinkOper)

	sourceCodec, err := codec.GetCodec(src.format)
	if err != nil {
		return nil, nil, err
	}
	query := &queryPlan{
		name:        desc.Name,
		source:      src,
		groupBy:     groupByOper,
		repartition: repartitionOper,
		aggregate:   aggOper,
		sink:        sinkOper,
		sourceStage: &stage{
			name:           desc.Name + "-source",
			mappingID:      sourceMappingID,
			inputTopic:     src.topicName,
			partitions:     src.partitions,
			changelogTopic: sourceChangelogTopic,
			head:           groupByOper,
			decoder:        sourceRecordDecoder(sourceCodec, src.keySchema, src.combined),
		},
		aggStage: &stage{
			name:           desc.Name + "-aggregate",
			mappingID:      aggMappingID,
			inputTopic:     repartitionTopic,
			partitions:     p.cfg.Partitions,
			changelogTopic: aggChangelogTopic,
			head:           aggOper,
			decoder:        repartitionedRecordDecoder(aggInSchema),
		},
	}
	return query, []kafka.MessageProducer{repartitionProducer, sinkProducer}, nil
}

// resolveProjections validates the SELECT list and maps it onto the
// aggregate output row, which is laid out as the grouping key columns
// followed by one column per aggregate call.
func (p *Planner) resolveProjections(desc *parser.AggregateQueryDesc, src *sourceInfo,
	groupExprs []expr.Expression) ([]opers.AggFuncHolder, []int, []int, *sdata.Schema, *sdata.Schema, error) {
	keyCount := len(groupExprs)
	keyNames := make([]string, keyCount)
	keyTypes := make([]types.ColumnType, keyCount)
	keyIndexes := make([]int, 0, keyCount)
	var holders []opers.AggFuncHolder
	var valueIndexes []int
	var valueNames []string
	var valueTypes []types.ColumnType
	for _, item := range desc.Projections {
		if !item.IsAggregate() {
			groupIndex := -1
			for i, groupExpr := range desc.GroupByExprs {
				if groupExpr == item.Expr {
					groupIndex = i
					break
				}
			}
			if groupIndex == -1 {
				return nil, nil, nil, nil, nil, errors.NewStatementErrorf(
					"query '%s': non-aggregate projection '%s' must appear in the GROUP BY clause",
					desc.Name, item.Expr)
			}
			keyNames[groupIndex] = item.OutputName()
			keyTypes[groupIndex] = groupExprs[groupIndex].ResultType()
			keyIndexes = append(keyIndexes, groupIndex)
			continue
		}
		aggFunc, err := opers.GetAggFunc(item.AggFunc)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		argExpr, err := p.createArgExpression(item.AggArg, src.combined)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		retType, err := aggFunc.ReturnType(argExpr.ResultType())
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		valueIndexes = append(valueIndexes, keyCount+len(holders))
		valueNames = append(valueNames, item.OutputName())
		valueTypes = append(valueTypes, retType)
		holders = append(holders, opers.AggFuncHolder{
			Func:       aggFunc,
			ArgExpr:    argExpr,
			OutputName: item.OutputName(),
		})
	}
	if len(holders) == 0 {
		return nil, nil, nil, nil, nil, errors.NewStatementErrorf(
			"query '%s': SELECT list has no aggregate functions", desc.Name)
	}
	for i, name := range keyNames {
		if name == "" {
			return nil, nil, nil, nil, nil, errors.NewStatementErrorf(
				"query '%s': grouping expression '%s' must appear in the SELECT list",
				desc.Name, desc.GroupByExprs[i])
		}
	}
	return holders, keyIndexes, valueIndexes,
		sdata.NewSchema(keyNames, keyTypes),
		sdata.NewSchema(valueNames, valueTypes), nil
}

// createArgExpression resolves an aggregate argument. count(*) counts every
// record, expressed as a constant argument that is never null.
func (p *Planner) createArgExpression(argText string, schema *sdata.Schema) (expr.Expression, error) {
	if argText == "*" {
		return p.exprFactory.CreateExpressionWithType("1", schema, types.ColumnTypeInt)
	}
	return p.exprFactory.CreateExpression(argText, schema)
}

func (p *Planner) createProducer(topicName string) (kafka.MessageProducer, error) {
	client, err := p.clientFactory(topicName, p.cfg.ClientProps)
	if err != nil {
		return nil, err
	}
	return client.NewMessageProducer(p.cfg.ConnectTimeout, p.cfg.SendTimeout)
}

func internalTopicName(queryName string, suffix string) string {
	return "_matview." + queryName + "." + suffix
}

// sourceRecordDecoder decodes a source topic message into a record whose
// value row is the full source row: key columns first, then value columns.
// A null message value is a tombstone.
func sourceRecordDecoder(cod codec.Codec, keySchema *sdata.Schema,
	combined *sdata.Schema) proc.RecordDecoder {
	valueCount := combined.ColumnCount() - keySchema.ColumnCount()
	valueTypes := combined.ColumnTypes()[keySchema.ColumnCount():]
	valueNames := combined.ColumnNames()[keySchema.ColumnCount():]
	valueSchema := sdata.NewSchema(valueNames, valueTypes)
	return func(msg *kafka.Message) (*sdata.Record, error) {
		var key sdata.Row
		if keySchema.ColumnCount() > 0 {
			var err error
			key, err = cod.DecodeKey(msg.Key, keySchema)
			if err != nil {
				return nil, err
			}
		}
		rec := &sdata.Record{
			Key:       key,
			Offset:    msg.PartInfo.Offset,
			Partition: int(msg.PartInfo.PartitionID),
			Timestamp: types.NewTimestamp(msg.TimeStamp.UnixMilli()),
		}
		if msg.Value == nil {
			return rec, nil
		}
		value, err := cod.DecodeRow(msg.Value, valueSchema)
		if err != nil {
			return nil, err
		}
		combinedRow := make(sdata.Row, 0, combined.ColumnCount())
		combinedRow = append(combinedRow, key...)
		combinedRow = append(combinedRow, value[:valueCount]...)
		rec.Value = combinedRow
		return rec, nil
	}
}

func repartitionedRecordDecoder(aggInSchema *opers.OperatorSchema) proc.RecordDecoder {
	keyTypes := aggInSchema.KeySchema.ColumnTypes()
	eventTypes := aggInSchema.EventSchema.ColumnTypes()
	return func(msg *kafka.Message) (*sdata.Record, error) {
		return opers.DecodeRepartitionedMessage(msg, keyTypes, eventTypes)
	}
}
