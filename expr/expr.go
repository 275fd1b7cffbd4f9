package expr

import (
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/checker"
	exprconf "github.com/expr-lang/expr/conf"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru"
	"github.com/matview-io/matview/errors"
	"github.com/matview-io/matview/sdata"
	"github.com/matview-io/matview/types"
	"github.com/spf13/cast"
)

// Expression evaluates against a single row. A nil result with a nil error is
// a null value - grouping stages use that to filter records out.
type Expression interface {
	Eval(row sdata.Row) (any, error)
	ResultType() types.ColumnType
	String() string
}

const compiledProgramCacheSize = 256

// Factory compiles textual expressions against a schema. Bare column
// references get a direct accessor; anything else is compiled to an
// expr-lang program, cached by (schema, expression) so repeated plan builds
// don't recompile.
type Factory struct {
	programs *lru.Cache
}

func NewFactory() *Factory {
	cache, err := lru.New(compiledProgramCacheSize)
	if err != nil {
		panic(err)
	}
	return &Factory{programs: cache}
}

func (f *Factory) CreateExpression(exprStr string, schema *sdata.Schema) (Expression, error) {
	if colIndex, ok := schema.ColumnIndex(exprStr); ok {
		return &ColumnExpression{
			name:     exprStr,
			colIndex: colIndex,
			colType:  schema.ColumnTypes()[colIndex],
		}, nil
	}
	// Expressions that aren't simple column references are evaluated by the
	// expr-lang engine. The result type is inferred by type-checking the
	// expression against the schema's column types, so a computed grouping
	// key such as F0 + 1 stays numeric. Anything the checker cannot resolve
	// falls back to string.
	return f.CreateExpressionWithType(exprStr, schema, inferResultType(exprStr, schema))
}

func inferResultType(exprStr string, schema *sdata.Schema) types.ColumnType {
	tree, err := parser.Parse(exprStr)
	if err != nil {
		// Compile will surface the parse error with position info.
		return types.ColumnTypeString
	}
	rt, err := checker.Check(tree, exprconf.New(checkerEnv(schema)))
	if err != nil || rt == nil {
		return types.ColumnTypeString
	}
	switch rt.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return types.ColumnTypeInt
	case reflect.Float32, reflect.Float64:
		return types.ColumnTypeFloat
	case reflect.Bool:
		return types.ColumnTypeBool
	case reflect.String:
		return types.ColumnTypeString
	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return types.ColumnTypeBytes
		}
	}
	return types.ColumnTypeString
}

// checkerEnv builds a typed environment for the checker with the same value
// types Eval passes at runtime: timestamps as millis, decimals as float64s.
func checkerEnv(schema *sdata.Schema) map[string]any {
	env := make(map[string]any, schema.ColumnCount())
	for i, name := range schema.ColumnNames() {
		switch schema.ColumnTypes()[i].ID() {
		case types.ColumnTypeIDInt, types.ColumnTypeIDTimestamp:
			env[name] = int64(0)
		case types.ColumnTypeIDFloat, types.ColumnTypeIDDecimal:
			env[name] = float64(0)
		case types.ColumnTypeIDBool:
			env[name] = false
		case types.ColumnTypeIDBytes:
			env[name] = []byte{}
		case types.ColumnTypeIDArray:
			env[name] = []any{}
		default:
			env[name] = ""
		}
	}
	return env
}

func (f *Factory) CreateExpressionWithType(exprStr string, schema *sdata.Schema,
	resultType types.ColumnType) (Expression, error) {
	if colIndex, ok := schema.ColumnIndex(exprStr); ok {
		return &ColumnExpression{
			name:     exprStr,
			colIndex: colIndex,
			colType:  schema.ColumnTypes()[colIndex],
		}, nil
	}
	cacheKey := schema.String() + "|" + exprStr
	var program *vm.Program
	if cached, ok := f.programs.Get(cacheKey); ok {
		program = cached.(*vm.Program)
	} else {
		var err error
		program, err = expr.Compile(exprStr, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, errors.NewPlanBuildErrorf("invalid expression '%s': %v", exprStr, err)
		}
		f.programs.Add(cacheKey, program)
	}
	return &ProgramExpression{
		exprStr:    exprStr,
		program:    program,
		schema:     schema,
		resultType: resultType,
	}, nil
}

type ColumnExpression struct {
	name     string
	colIndex int
	colType  types.ColumnType
}

func (c *ColumnExpression) Eval(row sdata.Row) (any, error) {
	if c.colIndex >= len(row) {
		return nil, errors.Errorf("column '%s' out of range for row with %d columns", c.name, len(row))
	}
	return row[c.colIndex], nil
}

func (c *ColumnExpression) ResultType() types.ColumnType {
	return c.colType
}

func (c *ColumnExpression) String() string {
	return c.name
}

type ProgramExpression struct {
	exprStr    string
	program    *vm.Program
	schema     *sdata.Schema
	resultType types.ColumnType
}

func (p *ProgramExpression) Eval(row sdata.Row) (any, error) {
	env := make(map[string]any, p.schema.ColumnCount())
	for i, name := range p.schema.ColumnNames() {
		env[name] = toNative(row[i])
	}
	res, err := vm.Run(p.program, env)
	if err != nil {
		return nil, errors.NewMatViewErrorf(errors.EvaluationError,
			"failed to evaluate expression '%s': %v", p.exprStr, err)
	}
	if res == nil {
		return nil, nil
	}
	return coerce(res, p.resultType)
}

func (p *ProgramExpression) ResultType() types.ColumnType {
	return p.resultType
}

func (p *ProgramExpression) String() string {
	return p.exprStr
}

// toNative unwraps engine value types into what the expression VM operates
// on. Timestamps become millis, decimals become float64s.
func toNative(val any) any {
	switch v := val.(type) {
	case types.Timestamp:
		return v.Val
	case types.Decimal:
		return v.ToFloat64()
	default:
		return val
	}
}

func coerce(val any, colType types.ColumnType) (any, error) {
	var res any
	var err error
	switch colType.ID() {
	case types.ColumnTypeIDInt:
		res, err = cast.ToInt64E(val)
	case types.ColumnTypeIDFloat:
		res, err = cast.ToFloat64E(val)
	case types.ColumnTypeIDBool:
		res, err = cast.ToBoolE(val)
	case types.ColumnTypeIDString:
		res, err = cast.ToStringE(val)
	case types.ColumnTypeIDBytes:
		switch b := val.(type) {
		case []byte:
			res = b
		case string:
			res = []byte(b)
		default:
			err = errors.Errorf("cannot convert %v to bytes", val)
		}
	case types.ColumnTypeIDTimestamp:
		var ms int64
		ms, err = cast.ToInt64E(val)
		res = types.NewTimestamp(ms)
	case types.ColumnTypeIDDecimal:
		decType := colType.(*types.DecimalType)
		var f float64
		f, err = cast.ToFloat64E(val)
		if err == nil {
			res, err = types.NewDecimalFromFloat64(f, decType.Precision, decType.Scale)
		}
	case types.ColumnTypeIDArray:
		arr, ok := val.([]any)
		if !ok {
			return nil, errors.Errorf("cannot convert %v to array", val)
		}
		elemType := colType.(*types.ArrayType).ElementType
		resArr := make([]any, len(arr))
		for i, elem := range arr {
			var cerr error
			resArr[i], cerr = coerce(elem, elemType)
			if cerr != nil {
				return nil, cerr
			}
		}
		res = resArr
	default:
		return nil, errors.Errorf("unexpected column type %s", colType.String())
	}
	if err != nil {
		return nil, errors.NewMatViewErrorf(errors.EvaluationError,
			"cannot convert value %v to type %s", val, colType.String())
	}
	return res, nil
}
