package parser

import (
	"github.com/matview-io/matview/types"
)

// Statement is a parsed DDL statement. The parser handles the subset of
// statements the engine executes directly: source definitions and
// aggregating CREATE TABLE AS SELECT queries.
type Statement interface {
	StatementName() string
}

type ColumnDef struct {
	Name string
	Type types.ColumnType
	Key  bool
}

// CreateSourceDesc describes CREATE STREAM / CREATE TABLE over a topic.
// Table sources have changelog semantics: each record is an upsert of the
// latest row version for its key, and a null value is a delete.
type CreateSourceDesc struct {
	Table   bool
	Name    string
	Columns []ColumnDef
	Props   map[string]string
}

func (c *CreateSourceDesc) StatementName() string {
	return c.Name
}

func (c *CreateSourceDesc) KeyColumns() []ColumnDef {
	var keyCols []ColumnDef
	for _, col := range c.Columns {
		if col.Key {
			keyCols = append(keyCols, col)
		}
	}
	return keyCols
}

func (c *CreateSourceDesc) ValueColumns() []ColumnDef {
	var valueCols []ColumnDef
	for _, col := range c.Columns {
		if !col.Key {
			valueCols = append(valueCols, col)
		}
	}
	return valueCols
}

// SelectItemDesc is one projection in the SELECT list. For aggregate calls
// AggFunc holds the lower-cased function name and AggArg the raw argument
// expression text; for pass-through grouping columns both are empty and
// Expr holds the expression text.
type SelectItemDesc struct {
	Expr    string
	AggFunc string
	AggArg  string
	Alias   string
}

func (s *SelectItemDesc) IsAggregate() bool {
	return s.AggFunc != ""
}

func (s *SelectItemDesc) OutputName() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.Expr
}

// AggregateQueryDesc describes CREATE TABLE <name> AS SELECT ... FROM
// <source> GROUP BY <exprs>. Expression text is kept raw and resolved by the
// planner against the source schema.
type AggregateQueryDesc struct {
	Name         string
	Source       string
	Projections  []SelectItemDesc
	GroupByExprs []string
	Props        map[string]string
}

func (a *AggregateQueryDesc) StatementName() string {
	return a.Name
}

func (a *AggregateQueryDesc) AggregateItems() []SelectItemDesc {
	var items []SelectItemDesc
	for _, item := range a.Projections {
		if item.IsAggregate() {
			items = append(items, item)
		}
	}
	return items
}
