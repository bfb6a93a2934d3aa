package lexer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"trilox/internal/token"
)

func collect(src string) []token.Token {
	l := New(src)
	var toks []token.Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == token.EOF {
			break
		}
	}
	return toks
}

func TestNextTokenPunctuationAndOperators(t *testing.T) {
	toks := collect(`var x = 1 + 2 ^ 3 :[`)
	types := make([]token.TokenType, 0, len(toks))
	for _, tok := range toks {
		types = append(types, tok.Type)
	}
	require.Equal(t, []token.TokenType{
		token.VAR, token.IDENTIFIER, token.ASSIGN, token.NUMBER,
		token.PLUS, token.NUMBER, token.EXPONENTIAL, token.NUMBER,
		token.TABLE_OPEN, token.EOF,
	}, types)
}

func TestKeywordsAndLogicLiterals(t *testing.T) {
	toks := collect(`if unknown and true or false xor not`)
	require.Equal(t, token.IF, toks[0].Type)
	require.Equal(t, token.UNKNOWN_LIT, toks[1].Type)
	require.Equal(t, token.AND, toks[2].Type)
	require.Equal(t, token.TRUE_LIT, toks[3].Type)
	require.Equal(t, token.OR, toks[4].Type)
	require.Equal(t, token.FALSE_LIT, toks[5].Type)
	require.Equal(t, token.XOR, toks[6].Type)
	require.Equal(t, token.NOT, toks[7].Type)
}

func TestCommentsAreSkippedAndLineTracked(t *testing.T) {
	toks := collect("var x = 1 # comment\nvar y = 2")
	require.Equal(t, 1, toks[0].Line)
	var secondVarLine int
	for i, tok := range toks {
		if tok.Type == token.VAR && i > 0 {
			secondVarLine = tok.Line
		}
	}
	require.Equal(t, 2, secondVarLine)
}

func TestUnterminatedStringProducesErrorToken(t *testing.T) {
	toks := collect(`"unterminated`)
	require.Equal(t, token.ERROR, toks[0].Type)
}

func TestTableOpenVsColon(t *testing.T) {
	toks := collect(`x:[1] y:2`)
	require.Equal(t, token.TABLE_OPEN, toks[1].Type)
	require.Equal(t, token.COLON, toks[5].Type)
}
