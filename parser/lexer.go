package parser

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/matview-io/matview/errors"
)

var lex = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `'(?:''|[^'])*'`},
	{Name: "Number", Pattern: `\d+(?:\.\d+)?`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Punct", Pattern: `<=|>=|<>|!=|->|[-+*/%(),;=<>\[\]\.]`},
	{Name: "Whitespace", Pattern: `[ \t\n\r]+`},
})

var whitespaceTokenType = lex.Symbols()["Whitespace"]
var identTokenType = lex.Symbols()["Ident"]
var stringTokenType = lex.Symbols()["String"]
var punctTokenType = lex.Symbols()["Punct"]

type token struct {
	tokenType lexer.TokenType
	value     string
	offset    int
}

func lexStatements(input string) ([]token, error) {
	l, err := lex.LexString("", input)
	if err != nil {
		return nil, errors.NewParseError(err.Error())
	}
	var tokens []token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, errors.NewParseError(err.Error())
		}
		if tok.EOF() {
			break
		}
		if tok.Type == whitespaceTokenType {
			continue
		}
		tokens = append(tokens, token{
			tokenType: tok.Type,
			value:     tok.Value,
			offset:    tok.Pos.Offset,
		})
	}
	return tokens, nil
}

func (t *token) isKeyword(keyword string) bool {
	return t.tokenType == identTokenType && strings.EqualFold(t.value, keyword)
}

func (t *token) isPunct(punct string) bool {
	return t.tokenType == punctTokenType && t.value == punct
}
