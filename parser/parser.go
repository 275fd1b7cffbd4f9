package parser

import (
	"strings"

	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/types"
)

// ParseStatements parses a script of semicolon separated statements.
func ParseStatements(input string) ([]Statement, error) {
	tokens, err := lexStatements(input)
	if err != nil {
		return nil, err
	}
	p := &parseContext{input: input, tokens: tokens}
	var statements []Statement
	for p.hasNext() {
		if p.peek().isPunct(";") {
			p.next()
			continue
		}
		statement, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		statements = append(statements, statement)
	}
	return statements, nil
}

type parseContext struct {
	input  string
	tokens []token
	pos    int
}

func (p *parseContext) hasNext() bool {
	return p.pos < len(p.tokens)
}

func (p *parseContext) peek() *token {
	if !p.hasNext() {
		return nil
	}
	return &p.tokens[p.pos]
}

func (p *parseContext) next() *token {
	tok := p.peek()
	if tok != nil {
		p.pos++
	}
	return tok
}

func (p *parseContext) expectKeyword(keyword string) error {
	tok := p.next()
	if tok == nil || !tok.isKeyword(keyword) {
		return p.errorAtTokenf(tok, "expected '%s'", keyword)
	}
	return nil
}

func (p *parseContext) expectPunct(punct string) error {
	tok := p.next()
	if tok == nil || !tok.isPunct(punct) {
		return p.errorAtTokenf(tok, "expected '%s'", punct)
	}
	return nil
}

func (p *parseContext) expectIdent() (string, error) {
	tok := p.next()
	if tok == nil || tok.tokenType != identTokenType {
		return "", p.errorAtTokenf(tok, "expected identifier")
	}
	return tok.value, nil
}

func (p *parseContext) errorAtTokenf(tok *token, msgFormat string, args ...interface{}) error {
	msg := errors.NewStatementErrorf(msgFormat, args...).Error()
	if tok == nil {
		return errors.NewParseError(msg + " but reached end of statement")
	}
	return errors.NewParseError(msg + " at '" + tok.value + "'")
}

func (p *parseContext) parseStatement() (Statement, error) {
	if err := p.expectKeyword("create"); err != nil {
		return nil, err
	}
	tok := p.next()
	var table bool
	switch {
	case tok != nil && tok.isKeyword("stream"):
	case tok != nil && tok.isKeyword("table"):
		table = true
	default:
		return nil, p.errorAtTokenf(tok, "expected 'stream' or 'table'")
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if p.hasNext() && (p.peek().isKeyword("as") || p.peek().isKeyword("with")) {
		if !table {
			return nil, errors.NewStatementErrorf("persistent aggregate queries must create a table, not a stream")
		}
		props, err := p.parseWithProps()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("as"); err != nil {
			return nil, err
		}
		return p.parseAggregateQuery(name, props)
	}
	return p.parseCreateSource(name, table)
}

func (p *parseContext) parseCreateSource(name string, table bool) (Statement, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var columns []ColumnDef
	for {
		colName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		colDef, err := p.parseColumnDef(colName)
		if err != nil {
			return nil, err
		}
		columns = append(columns, colDef)
		tok := p.next()
		if tok == nil {
			return nil, p.errorAtTokenf(nil, "expected ',' or ')'")
		}
		if tok.isPunct(")") {
			break
		}
		if !tok.isPunct(",") {
			return nil, p.errorAtTokenf(tok, "expected ',' or ')'")
		}
	}
	props, err := p.parseWithProps()
	if err != nil {
		return nil, err
	}
	if err := p.parseStatementEnd(); err != nil {
		return nil, err
	}
	if table {
		hasKey := false
		for _, col := range columns {
			if col.Key {
				hasKey = true
				break
			}
		}
		if !hasKey {
			return nil, errors.NewStatementErrorf("table '%s' must have at least one KEY column", name)
		}
	}
	return &CreateSourceDesc{
		Table:   table,
		Name:    name,
		Columns: columns,
		Props:   props,
	}, nil
}

// parseColumnDef consumes the type tokens for one column, handling
// parameterized types (decimal(p,s), array<...>) and a trailing KEY or
// PRIMARY KEY marker.
func (p *parseContext) parseColumnDef(colName string) (ColumnDef, error) {
	startTok := p.peek()
	if startTok == nil {
		return ColumnDef{}, p.errorAtTokenf(nil, "expected column type")
	}
	depth := 0
	endOffset := -1
	key := false
	for p.hasNext() {
		tok := p.peek()
		if depth == 0 && (tok.isPunct(",") || tok.isPunct(")")) {
			break
		}
		if depth == 0 && (tok.isKeyword("key") || tok.isKeyword("primary")) {
			if tok.isKeyword("primary") {
				p.next()
				if err := p.expectKeyword("key"); err != nil {
					return ColumnDef{}, err
				}
			} else {
				p.next()
			}
			key = true
			break
		}
		if tok.isPunct("(") || tok.isPunct("<") {
			depth++
		}
		if tok.isPunct(")") || tok.isPunct(">") {
			depth--
		}
		endOffset = tok.offset + len(tok.value)
		p.next()
	}
	if endOffset == -1 {
		return ColumnDef{}, p.errorAtTokenf(startTok, "expected column type")
	}
	typeStr := p.input[startTok.offset:endOffset]
	colType, err := types.StringToColumnType(typeStr)
	if err != nil {
		return ColumnDef{}, err
	}
	return ColumnDef{Name: colName, Type: colType, Key: key}, nil
}

func (p *parseContext) parseWithProps() (map[string]string, error) {
	props := map[string]string{}
	if !p.hasNext() || !p.peek().isKeyword("with") {
		return props, nil
	}
	p.next()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		propName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		tok := p.next()
		if tok == nil || tok.tokenType != stringTokenType {
			return nil, p.errorAtTokenf(tok, "expected quoted property value")
		}
		props[strings.ToLower(propName)] = unquote(tok.value)
		tok = p.next()
		if tok == nil {
			return nil, p.errorAtTokenf(nil, "expected ',' or ')'")
		}
		if tok.isPunct(")") {
			break
		}
		if !tok.isPunct(",") {
			return nil, p.errorAtTokenf(tok, "expected ',' or ')'")
		}
	}
	return props, nil
}

func (p *parseContext) parseAggregateQuery(name string, props map[string]string) (Statement, error) {
	if err := p.expectKeyword("select"); err != nil {
		return nil, err
	}
	var projections []SelectItemDesc
	for {
		item, last, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		projections = append(projections, item)
		if last {
			break
		}
	}
	source, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("group"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("by"); err != nil {
		return nil, err
	}
	groupByExprs, err := p.parseGroupByExprs()
	if err != nil {
		return nil, err
	}
	// EMIT CHANGES is accepted for compatibility - continuous emission is the
	// only mode the engine has.
	if p.hasNext() && p.peek().isKeyword("emit") {
		p.next()
		if err := p.expectKeyword("changes"); err != nil {
			return nil, err
		}
	}
	if err := p.parseStatementEnd(); err != nil {
		return nil, err
	}
	return &AggregateQueryDesc{
		Name:         name,
		Source:       source,
		Projections:  projections,
		GroupByExprs: groupByExprs,
		Props:        props,
	}, nil
}

// parseSelectItem captures one projection as raw expression text, splitting
// off a trailing AS alias and recognising the item as an aggregate call when
// the whole item is a single function invocation. Returns last=true when the
// item was terminated by FROM.
func (p *parseContext) parseSelectItem() (SelectItemDesc, bool, error) {
	startTok := p.peek()
	if startTok == nil {
		return SelectItemDesc{}, false, p.errorAtTokenf(nil, "expected select expression")
	}
	depth := 0
	endOffset := -1
	alias := ""
	last := false
	var itemTokens []token
	for {
		tok := p.peek()
		if tok == nil {
			return SelectItemDesc{}, false, p.errorAtTokenf(nil, "expected 'from'")
		}
		if depth == 0 && tok.isPunct(",") {
			p.next()
			break
		}
		if depth == 0 && tok.isKeyword("from") {
			p.next()
			last = true
			break
		}
		if depth == 0 && tok.isKeyword("as") {
			p.next()
			var err error
			alias, err = p.expectIdent()
			if err != nil {
				return SelectItemDesc{}, false, err
			}
			continue
		}
		if tok.isPunct("(") || tok.isPunct("[") {
			depth++
		}
		if tok.isPunct(")") || tok.isPunct("]") {
			depth--
		}
		itemTokens = append(itemTokens, *tok)
		endOffset = tok.offset + len(tok.value)
		p.next()
	}
	if len(itemTokens) == 0 {
		return SelectItemDesc{}, false, p.errorAtTokenf(startTok, "empty select expression")
	}
	exprStr := p.input[itemTokens[0].offset:endOffset]
	item := SelectItemDesc{Expr: exprStr, Alias: alias}
	// name(args) spanning the whole item is a candidate aggregate call - the
	// planner decides whether the name is a known aggregate function.
	if len(itemTokens) >= 3 && itemTokens[0].tokenType == identTokenType &&
		itemTokens[1].isPunct("(") && itemTokens[len(itemTokens)-1].isPunct(")") &&
		spansWholeItem(itemTokens) {
		item.AggFunc = strings.ToLower(itemTokens[0].value)
		argStart := itemTokens[2].offset
		argEnd := itemTokens[len(itemTokens)-1].offset
		item.AggArg = strings.TrimSpace(p.input[argStart:argEnd])
	}
	return item, last, nil
}

// spansWholeItem reports whether the opening parenthesis after the leading
// identifier closes at the final token, i.e. the item is f(...) rather than
// f(...) + g(...).
func spansWholeItem(itemTokens []token) bool {
	depth := 0
	for i := 1; i < len(itemTokens); i++ {
		if itemTokens[i].isPunct("(") || itemTokens[i].isPunct("[") {
			depth++
		}
		if itemTokens[i].isPunct(")") || itemTokens[i].isPunct("]") {
			depth--
			if depth == 0 {
				return i == len(itemTokens)-1
			}
		}
	}
	return false
}

func (p *parseContext) parseGroupByExprs() ([]string, error) {
	var exprs []string
	startTok := p.peek()
	if startTok == nil {
		return nil, p.errorAtTokenf(nil, "expected group by expression")
	}
	depth := 0
	endOffset := -1
	exprStart := startTok.offset
	for p.hasNext() {
		tok := p.peek()
		if depth == 0 && (tok.isPunct(";") || tok.isKeyword("emit")) {
			break
		}
		if depth == 0 && tok.isPunct(",") {
			exprs = append(exprs, strings.TrimSpace(p.input[exprStart:endOffset]))
			p.next()
			if !p.hasNext() {
				return nil, p.errorAtTokenf(nil, "expected group by expression")
			}
			exprStart = p.peek().offset
			continue
		}
		if tok.isPunct("(") || tok.isPunct("[") {
			depth++
		}
		if tok.isPunct(")") || tok.isPunct("]") {
			depth--
		}
		endOffset = tok.offset + len(tok.value)
		p.next()
	}
	if endOffset == -1 || endOffset <= exprStart {
		return nil, p.errorAtTokenf(nil, "expected group by expression")
	}
	exprs = append(exprs, strings.TrimSpace(p.input[exprStart:endOffset]))
	return exprs, nil
}

func (p *parseContext) parseStatementEnd() error {
	if !p.hasNext() {
		return nil
	}
	return p.expectPunct(";")
}

func unquote(s string) string {
	s = s[1 : len(s)-1]
	return strings.ReplaceAll(s, "''", "'")
}
